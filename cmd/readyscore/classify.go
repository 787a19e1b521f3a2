package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/internal/discovery"
	"github.com/readyscore/readyscore/pkg/stack"
)

func newClassifyCmd(g *globalOpts) *cobra.Command {
	var opts classifyOpts

	cmd := &cobra.Command{
		Use:   "classify [dir]",
		Short: "Detect a repository's stack profile",
		Long: `Scans a checked-out repository (default: the current directory) for stack
signals and prints the matching profile with every candidate's coverage.
With --signals, pre-collected signals are read from a JSON file instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.dir = args[0]
			}
			return runClassify(g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.signalsPath, "signals", "", "Read signals from a JSON file instead of scanning")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail when the stack is ambiguous")
	cmd.Flags().StringVar(&opts.outputFmt, "output", "text", "Output format: text or json")

	return cmd
}

type classifyOpts struct {
	dir         string
	signalsPath string
	strict      bool
	outputFmt   string
}

func runClassify(g *globalOpts, opts classifyOpts) error {
	e, err := setup(g)
	if err != nil {
		return err
	}

	var sig stack.Signals
	if opts.signalsPath != "" {
		data, err := os.ReadFile(opts.signalsPath)
		if err != nil {
			return fmt.Errorf("reading signals: %w", err)
		}
		if err := json.Unmarshal(data, &sig); err != nil {
			return fmt.Errorf("parsing signals: %w", err)
		}
	} else {
		dir := firstNonEmpty(opts.dir, e.wd)
		sig, err = discovery.Scan(dir)
		if err != nil {
			return err
		}
	}

	cls, err := stack.NewClassifier(e.cfg.ClassifierOptions()).Classify(sig, opts.strict || e.cfg.Classifier.Strict)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cls)
	}
	fmt.Printf("Stack: %s\n", cls.Profile)
	if cls.Note != "" {
		fmt.Printf("  %s\n", cls.Note)
	}
	fmt.Println("Candidates:")
	for _, c := range cls.Candidates {
		fmt.Printf("  %-26s coverage %3.0f%%  signals %d\n", c.Profile, c.Coverage*100, c.Signals)
	}
	return nil
}
