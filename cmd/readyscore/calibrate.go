package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/pkg/calibration"
)

func newCalibrateCmd(g *globalOpts) *cobra.Command {
	var opts calibrateOpts

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compare model scores against expert labels",
		Long: `Pairs a results file with a label sheet by repository id and reports
Pearson and Spearman correlation, absolute error bands and a per-stack
breakdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.resultsPath, "results", "", "Score results JSON file (required)")
	cmd.Flags().StringVar(&opts.labelsPath, "labels", "", "Label sheet CSV (required)")
	cmd.Flags().StringVar(&opts.reportPrefix, "report", "", "Also write <prefix>.json and <prefix>.txt")
	cmd.Flags().BoolVar(&opts.allowProvisional, "allow-provisional", false, "Include auto-filled labels")
	_ = cmd.MarkFlagRequired("results")
	_ = cmd.MarkFlagRequired("labels")

	return cmd
}

type calibrateOpts struct {
	resultsPath      string
	labelsPath       string
	reportPrefix     string
	allowProvisional bool
}

func runCalibrate(g *globalOpts, opts calibrateOpts) error {
	e, err := setup(g)
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

	copts := e.cfg.CalibrationOptions()
	copts.AllowProvisional = copts.AllowProvisional || opts.allowProvisional
	report, err := calibration.Evaluate(results, labels, copts)
	if err != nil {
		return err
	}

	if err := calibration.WriteSummary(os.Stdout, "Calibration report", report); err != nil {
		return err
	}
	if opts.reportPrefix != "" {
		if err := calibration.SaveReport(opts.reportPrefix, "Calibration report", report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Report saved: %s.json, %s.txt\n", opts.reportPrefix, opts.reportPrefix)
	}
	return nil
}
