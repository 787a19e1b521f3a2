package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/internal/recalibration"
	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/stack"
)

func newProfileCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage recalibration profiles",
		Long: `A recalibration profile is a named workspace that takes a rubric from
golden-set preparation through calibration to promotion:

  create -> prepare (label) -> split -> calibrate -> promote [-> rollback]

Only promote writes the active rubric.`,
	}
	cmd.AddCommand(
		newProfileCreateCmd(g),
		newProfilePrepareCmd(g),
		newProfileLabelsCmd(g),
		newProfileSplitCmd(g),
		newProfileCalibrateCmd(g),
		newProfilePromoteCmd(g),
		newProfileRollbackCmd(g),
		newProfileStatusCmd(g),
		newProfileHistoryCmd(g),
	)
	return cmd
}

// withManager runs fn with an open profile manager.
func withManager(ctx context.Context, g *globalOpts, fn func(*env, *recalibration.Manager) error) error {
	e, err := setup(g)
	if err != nil {
		return err
	}
	m, closeFn, err := e.manager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(e, m)
}

func newProfileCreateCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), g, func(_ *env, m *recalibration.Manager) error {
				p, err := m.Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Created profile %s\n", p.Slug)
				return nil
			})
		},
	}
}

func newProfilePrepareCmd(g *globalOpts) *cobra.Command {
	var (
		resultsPath string
		stackName   string
		opts        recalibration.PrepareOptions
	)
	cmd := &cobra.Command{
		Use:   "prepare <name>",
		Short: "Select a stratified golden set for expert labelling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := loadResults(resultsPath)
			if err != nil {
				return err
			}
			if stackName != "" {
				if opts.Stack, err = stack.ParseProfile(stackName); err != nil {
					return err
				}
			}
			return withManager(cmd.Context(), g, func(e *env, m *recalibration.Manager) error {
				if opts.SampleSize <= 0 {
					opts.SampleSize = e.cfg.Calibration.SampleSize
				}
				rows, err := m.Prepare(cmd.Context(), args[0], results, opts)
				if err != nil {
					return err
				}
				fmt.Printf("Selected %d repositories for labelling\n", len(rows))
				fmt.Printf("Label sheet: %s\n", m.Locate(args[0], "labels/golden_set.csv"))
				if opts.Autofill {
					fmt.Fprintln(os.Stderr, "Auto-filled scores are provisional and excluded from calibration until reviewed.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resultsPath, "results", "", "Score results JSON file (required)")
	cmd.Flags().IntVar(&opts.SampleSize, "sample-size", 0, "Golden-set size (default: config)")
	cmd.Flags().BoolVar(&opts.Autofill, "autofill", false, "Pre-fill provisional expert scores")
	cmd.Flags().StringVar(&stackName, "stack", "", "Only select repositories scored under this stack")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing label sheet")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}

func newProfileLabelsCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "labels <name> <sheet.csv>",
		Short: "Replace a profile's label sheet with a reviewed one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := calibration.LoadScaffold(args[1])
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), g, func(_ *env, m *recalibration.Manager) error {
				if err := m.PutLabels(cmd.Context(), args[0], rows); err != nil {
					return err
				}
				fmt.Printf("Stored %d labels\n", len(rows))
				return nil
			})
		},
	}
}

func newProfileSplitCmd(g *globalOpts) *cobra.Command {
	var (
		resultsPath       string
		includeAdditional bool
	)
	cmd := &cobra.Command{
		Use:   "split <name>",
		Short: "Split the label sheet into per-stack sheets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := loadResults(resultsPath)
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), g, func(_ *env, m *recalibration.Manager) error {
				sum, err := m.Split(cmd.Context(), args[0], results, includeAdditional)
				if err != nil {
					return err
				}
				return printJSON(sum)
			})
		},
	}
	cmd.Flags().StringVar(&resultsPath, "results", "", "Score results JSON file (required)")
	cmd.Flags().BoolVar(&includeAdditional, "include-additional", false, "Also write sheets for stacks outside the default groups")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}

func newProfileCalibrateCmd(g *globalOpts) *cobra.Command {
	var (
		resultsPath string
		rubric      string
		opts        recalibration.CalibrateOptions
	)
	cmd := &cobra.Command{
		Use:   "calibrate <name>",
		Short: "Tune the rubric against the profile's labels",
		Long: `Evaluates the base rubric against the profile's labels, tunes weights on
a training split, guards against overfitting on the held-out split and,
if the patch survives, writes the profile rubric and before/after reports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := loadResults(resultsPath)
			if err != nil {
				return err
			}
			return withManager(cmd.Context(), g, func(e *env, m *recalibration.Manager) error {
				base, err := e.rubric(rubric)
				if err != nil {
					return err
				}
				opts.Strict = opts.Strict || e.cfg.Classifier.Strict
				opts.AllowProvisional = opts.AllowProvisional || e.cfg.Calibration.AllowProvisional
				out, err := m.Calibrate(cmd.Context(), args[0], base, results, opts)
				if out != nil {
					printOutcome(out)
				}
				var amb *stack.AmbiguousStackError
				if errors.As(err, &amb) {
					fmt.Fprintln(os.Stderr, "Pass --stack with one of the candidates.")
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&resultsPath, "results", "", "Score results JSON file (required)")
	cmd.Flags().StringVar(&rubric, "rubric", "", "Base rubric (default: config or built-in)")
	cmd.Flags().StringVar(&opts.Stack, "stack", recalibration.StackAuto, "Stack to calibrate: auto, all or a profile")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Fail when labels span several stacks")
	cmd.Flags().BoolVar(&opts.AllowProvisional, "allow-provisional", false, "Include auto-filled labels")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}

func printOutcome(out *recalibration.Outcome) {
	fmt.Printf("Profile %s, stack %s (requested %s)\n", out.Profile, out.ResolvedStack, out.RequestedStack)
	fmt.Printf("  train %d, holdout %d\n", out.TrainSize, out.HoldoutSize)
	if out.Before != nil {
		fmt.Printf("  before: Spearman %s, MAE %.2f, quality %s\n", fmtOptional(out.Before.Spearman), out.Before.MAE, out.Before.Quality)
	}
	if out.After != nil {
		fmt.Printf("  after:  Spearman %s, MAE %.2f, quality %s\n", fmtOptional(out.After.Spearman), out.After.MAE, out.After.Quality)
	}
	if out.Suppressed != "" {
		fmt.Printf("  suppressed: %s\n", out.Suppressed)
	}
	if out.Patch != nil {
		fmt.Printf("  %d weight changes\n", len(out.Patch.Changes))
	}
	for name, loc := range out.Artifacts {
		fmt.Printf("  %-28s %s\n", name, loc)
	}
}

func newProfilePromoteCmd(g *globalOpts) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "promote <name>",
		Short: "Make the profile's calibrated rubric active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), g, func(e *env, m *recalibration.Manager) error {
				dest := firstNonEmpty(target, e.cfg.Scoring.Rubric)
				if dest == "" {
					return errors.New("no promotion target: pass --target or set scoring.rubric in the config")
				}
				promo, err := m.Promote(cmd.Context(), args[0], dest)
				if err != nil {
					return err
				}
				fmt.Printf("Promoted rubric %s to %s\n", promo.Version, promo.Target)
				if promo.BackupKey != "" {
					fmt.Printf("  previous rubric saved as %s\n", promo.BackupKey)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Active rubric path (default: scoring.rubric from config)")
	return cmd
}

func newProfileRollbackCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <name>",
		Short: "Undo the profile's most recent promotion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), g, func(_ *env, m *recalibration.Manager) error {
				promo, err := m.Rollback(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if promo.BackupKey == "" {
					fmt.Printf("Removed %s (it did not exist before promotion)\n", promo.Target)
				} else {
					fmt.Printf("Restored %s from %s\n", promo.Target, promo.BackupKey)
				}
				return nil
			})
		},
	}
}

func newProfileStatusCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show a profile's state and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), g, func(_ *env, m *recalibration.Manager) error {
				p, err := m.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func newProfileHistoryCmd(g *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "List the profile's promotions and rollbacks from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(g)
			if err != nil {
				return err
			}
			led, err := e.ledger()
			if err != nil {
				return err
			}
			defer led.Close()
			entries, err := led.History(cmd.Context(), recalibration.Slugify(args[0]), limit)
			if err != nil {
				return err
			}
			for _, en := range entries {
				fmt.Printf("%s  %-8s %-24s %s  %s\n",
					en.CreatedAt.Format("2006-01-02 15:04:05"), en.Action, en.RubricVersion, shortID(en.ID), en.Target)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
