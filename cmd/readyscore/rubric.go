package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/pkg/scoring"
)

func newRubricCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Inspect and validate scoring rubrics",
	}
	cmd.AddCommand(newRubricDefaultsCmd(), newRubricShowCmd(g), newRubricValidateCmd())
	return cmd
}

func newRubricDefaultsCmd() *cobra.Command {
	var (
		asJSON bool
		out    string
	)
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print or write the built-in rubric",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := scoring.DefaultConfig()
			if out != "" {
				if err := scoring.SaveConfigAtomic(out, cfg); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
				return nil
			}
			data, err := scoring.MarshalConfig(cfg, asJSON)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of YAML")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to file (format follows the extension)")
	return cmd
}

func newRubricShowCmd(g *globalOpts) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the active rubric",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(g)
			if err != nil {
				return err
			}
			flag := ""
			if len(args) == 1 {
				flag = args[0]
			}
			cfg, err := e.rubric(flag)
			if err != nil {
				return err
			}
			data, err := scoring.MarshalConfig(cfg, asJSON)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of YAML")
	return cmd
}

func newRubricValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rubric for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := scoring.LoadConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (version %s, %d blocks, %d criteria)\n",
				args[0], cfg.Version, len(cfg.Blocks), len(cfg.Criteria))
			return nil
		},
	}
}
