package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/tuning"
)

func newTuneCmd(g *globalOpts) *cobra.Command {
	var opts tuneOpts

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Propose rubric weight changes from expert labels",
		Long: `Searches per-criterion weight multipliers that improve agreement with the
expert labels (Spearman first, MAE second) and writes the result as a patch.
The rubric itself is only rewritten when --apply-to is given. A patch that
makes held-out error worse than the tolerance is suppressed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTune(g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.resultsPath, "results", "", "Score results JSON file (required)")
	cmd.Flags().StringVar(&opts.labelsPath, "labels", "", "Label sheet CSV (required)")
	cmd.Flags().StringVar(&opts.rubric, "rubric", "", "Rubric to tune (default: config or built-in)")
	cmd.Flags().StringVar(&opts.patchPath, "out", "weight_patch.json", "Where to write the patch")
	cmd.Flags().StringVar(&opts.applyTo, "apply-to", "", "Also write the patched rubric to this path")
	cmd.Flags().StringVar(&opts.version, "version", "", "Version of the patched rubric (default: <base>+tuned)")
	cmd.Flags().BoolVar(&opts.allowProvisional, "allow-provisional", false, "Include auto-filled labels")
	_ = cmd.MarkFlagRequired("results")
	_ = cmd.MarkFlagRequired("labels")

	return cmd
}

type tuneOpts struct {
	resultsPath      string
	labelsPath       string
	rubric           string
	patchPath        string
	applyTo          string
	version          string
	allowProvisional bool
}

func runTune(g *globalOpts, opts tuneOpts) error {
	e, err := setup(g)
	if err != nil {
		return err
	}
	cfg, err := e.rubric(opts.rubric)
	if err != nil {
		return err
	}
	results, err := loadResults(opts.resultsPath)
	if err != nil {
		return err
	}
	labels, err := calibration.LoadLabels(opts.labelsPath)
	if err != nil {
		return err
	}

	samples := tuning.FromResults(results, labels, opts.allowProvisional || e.cfg.Calibration.AllowProvisional)
	train, holdout := tuning.SplitHoldout(samples, e.cfg.Tuning.HoldoutFraction)
	fmt.Fprintf(os.Stderr, "Tuning rubric %s on %d samples (%d held out)\n", cfg.Version, len(train), len(holdout))

	patch, err := tuning.New(e.cfg.Tuning).WithLogger(e.logger).Tune(cfg, train, holdout)
	var guard *tuning.OverfitGuardError
	if errors.As(err, &guard) {
		fmt.Fprintf(os.Stderr, "Held-out MAE %.2f -> %.2f exceeds tolerance %.2f; no patch written\n",
			guard.HoldoutBefore.MAE, guard.HoldoutAfter.MAE, guard.Tolerance)
		return err
	}
	if err != nil {
		return err
	}

	if err := patch.Save(opts.patchPath); err != nil {
		return err
	}
	printPatch(patch)
	fmt.Fprintf(os.Stderr, "Patch saved: %s\n", opts.patchPath)

	if opts.applyTo == "" {
		return nil
	}
	patched, err := patch.Apply(cfg)
	if err != nil {
		return err
	}
	patched.Version = firstNonEmpty(opts.version, cfg.Version+"+tuned")
	if err := scoring.SaveConfigAtomic(opts.applyTo, patched); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Patched rubric %s saved: %s\n", patched.Version, opts.applyTo)
	return nil
}

func printPatch(p *tuning.Patch) {
	fmt.Printf("In-sample: Spearman %s -> %s, MAE %.2f -> %.2f (%d iterations)\n",
		fmtOptional(p.InSample.Before.Spearman), fmtOptional(p.InSample.After.Spearman),
		p.InSample.Before.MAE, p.InSample.After.MAE, p.Iterations)
	if p.HoldOut != nil {
		fmt.Printf("Held-out:  Spearman %s -> %s, MAE %.2f -> %.2f\n",
			fmtOptional(p.HoldOut.Before.Spearman), fmtOptional(p.HoldOut.After.Spearman),
			p.HoldOut.Before.MAE, p.HoldOut.After.MAE)
	}
	if p.Empty() {
		fmt.Println("No weight changes.")
		return
	}
	fmt.Println("Weight changes:")
	for _, c := range p.Changes {
		fmt.Printf("  %-20s %-14s %.4f -> %.4f (x%.2f)\n", c.CriterionID, c.Block, c.OldWeight, c.NewWeight, c.Multiplier)
	}
}

func fmtOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
