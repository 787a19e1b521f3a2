package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/internal/recalibration"
	"github.com/readyscore/readyscore/pkg/config"
	"github.com/readyscore/readyscore/pkg/scoring"
)

// env is what every command needs after flag parsing.
type env struct {
	cfg    *config.Config
	wd     string
	logger *slog.Logger
}

func setup(g *globalOpts) (*env, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	path := firstNonEmpty(g.configPath, config.FindConfigFile(wd))
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, wd: wd, logger: newLogger(g.verbose)}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// rubric loads the rubric named by the flag, falling back to the config
// file's rubric and then the built-in one.
func (e *env) rubric(flag string) (*scoring.Config, error) {
	path := firstNonEmpty(flag, e.cfg.Scoring.Rubric)
	if path == "" {
		return scoring.DefaultConfig(), nil
	}
	return scoring.LoadConfig(path)
}

// manager opens the profile store and ledger. The returned func closes
// the ledger.
func (e *env) manager(ctx context.Context) (*recalibration.Manager, func(), error) {
	p := e.cfg.Profiles
	store, err := recalibration.NewStore(ctx, recalibration.StorageConfig{
		Backend:   p.Backend,
		Dir:       e.cfg.ProfilesDir(e.wd),
		Bucket:    p.Bucket,
		Prefix:    p.Prefix,
		Region:    p.Region,
		Endpoint:  p.Endpoint,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, nil, err
	}

	led, err := e.ledger()
	if err != nil {
		return nil, nil, err
	}

	m := recalibration.NewManager(store,
		recalibration.WithLedger(led),
		recalibration.WithLogger(e.logger),
		recalibration.WithCalibrationOptions(e.cfg.CalibrationOptions()),
		recalibration.WithTuningOptions(e.cfg.Tuning),
		recalibration.WithWorkers(e.cfg.Scoring.Workers),
	)
	return m, func() { led.Close() }, nil
}

// ledger opens the promotion ledger, creating its directory if needed.
func (e *env) ledger() (*ledger.Store, error) {
	path := e.cfg.LedgerPath(e.wd)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}
	return ledger.Open(path)
}

func loadResults(path string) ([]*scoring.ScoreResult, error) {
	if path == "" {
		return nil, errors.New("--results is required")
	}
	return scoring.LoadResults(path)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
