package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
	"github.com/readyscore/readyscore/pkg/surface"
)

func newEvaluateCmd(g *globalOpts) *cobra.Command {
	var opts evaluateOpts

	cmd := &cobra.Command{
		Use:   "evaluate <repositories.json>",
		Short: "Score repositories from collected evidence",
		Long: `Scores every repository in a collector hand-off file (one object or an
array) against the active rubric. Stacks are classified from each
repository's signals unless forced. Results can be written to a file for
calibration and tuning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.input = args[0]
			return runEvaluate(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.rubric, "rubric", "", "Path to rubric file (default: config or built-in)")
	cmd.Flags().StringVar(&opts.stack, "stack", "auto", "Force a stack profile for every repository")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail repositories whose stack is ambiguous")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Parallel scoring workers (default: config)")
	cmd.Flags().StringVar(&opts.outputFmt, "output", "text", "Output format: text, json or checkrun")
	cmd.Flags().StringVar(&opts.resultsPath, "results-out", "", "Write all score results to this JSON file")

	return cmd
}

type evaluateOpts struct {
	input       string
	rubric      string
	stack       string
	strict      bool
	workers     int
	outputFmt   string
	resultsPath string
}

func runEvaluate(ctx context.Context, g *globalOpts, opts evaluateOpts) error {
	e, err := setup(g)
	if err != nil {
		return err
	}
	renderer, err := surface.ForFormat(opts.outputFmt)
	if err != nil {
		return err
	}
	cfg, err := e.rubric(opts.rubric)
	if err != nil {
		return err
	}
	engine, err := scoring.NewEngine(cfg, scoring.WithLogger(e.logger))
	if err != nil {
		return err
	}
	repos, err := evidence.LoadRepositories(opts.input)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		return fmt.Errorf("%s: no repositories", opts.input)
	}

	classifier := stack.NewClassifier(e.cfg.ClassifierOptions())
	strict := opts.strict || e.cfg.Classifier.Strict

	var (
		inputs []scoring.BatchInput
		failed int
	)
	for _, repo := range repos {
		requested := repo.Stack
		if opts.stack != "" && opts.stack != "auto" {
			requested = opts.stack
		}
		profile, err := classifier.Resolve(requested, repo.Signals, strict)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", repo.ID, err)
			failed++
			continue
		}
		inputs = append(inputs, scoring.BatchInput{RepositoryID: repo.ID, Profile: profile, Records: repo.Evidence})
	}

	workers := opts.workers
	if workers <= 0 {
		workers = e.cfg.Scoring.Workers
	}
	start := time.Now()
	items := engine.ScoreBatch(ctx, inputs, workers)
	fmt.Fprintf(os.Stderr, "Scored %d repositories with rubric %s in %s\n",
		len(inputs), cfg.Version, time.Since(start).Round(time.Millisecond))

	for _, it := range items {
		if it.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", it.RepositoryID, it.Err)
			failed++
			continue
		}
		if err := renderer.Render(os.Stdout, it.Result); err != nil {
			return fmt.Errorf("rendering: %w", err)
		}
	}

	if opts.resultsPath != "" {
		if err := scoring.WriteResults(opts.resultsPath, scoring.Results(items)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Results saved: %s\n", opts.resultsPath)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed", failed, len(repos))
	}
	return nil
}
