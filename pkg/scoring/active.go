package scoring

import (
	"sync/atomic"
)

// ActiveConfig holds the rubric currently in force. Readers take a snapshot
// at the start of a run; Swap replaces the rubric atomically so no reader
// ever observes a partially updated config.
type ActiveConfig struct {
	current atomic.Pointer[Config]
}

// NewActiveConfig validates cfg and makes it active.
func NewActiveConfig(cfg *Config) (*ActiveConfig, error) {
	a := &ActiveConfig{}
	if err := a.Swap(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Snapshot returns the active rubric. Callers must treat it as read-only.
func (a *ActiveConfig) Snapshot() *Config {
	return a.current.Load()
}

// Swap validates cfg and installs a private copy of it.
func (a *ActiveConfig) Swap(cfg *Config) error {
	if cfg == nil {
		return &ConfigInconsistencyError{Reason: "nil config"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.current.Store(cfg.Clone())
	return nil
}

// Engine builds an engine over the current snapshot.
func (a *ActiveConfig) Engine(opts ...Option) (*Engine, error) {
	return NewEngine(a.Snapshot(), opts...)
}
