// Package main provides the readyscore CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:   "readyscore",
		Short: "Production-readiness scoring for repositories",
		Long: `readyscore scores repositories for production readiness from collected
evidence, calibrates the rubric against expert labels, and manages
recalibration profiles from golden-set preparation through promotion.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file (default: discover .readyscore/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Verbose logging on stderr")

	rootCmd.AddCommand(
		newEvaluateCmd(g),
		newClassifyCmd(g),
		newCalibrateCmd(g),
		newTuneCmd(g),
		newProfileCmd(g),
		newRubricCmd(g),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
