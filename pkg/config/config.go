// Package config handles loading and managing readyscore configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/stack"
	"github.com/readyscore/readyscore/pkg/tuning"
)

// DirName is the per-project configuration directory.
const DirName = ".readyscore"

// Config is the top-level configuration for readyscore.
type Config struct {
	Scoring     ScoringConfig     `yaml:"scoring"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Tuning      tuning.Options    `yaml:"tuning"`
	Profiles    ProfilesConfig    `yaml:"profiles"`
	Server      ServerConfig      `yaml:"server"`
}

// ScoringConfig selects the active rubric and how runs use it.
type ScoringConfig struct {
	// Rubric is the rubric file; empty means the built-in rubric.
	Rubric  string `yaml:"rubric"`
	Workers int    `yaml:"workers" validate:"gte=1,lte=256"`
}

// ClassifierConfig tunes stack classification.
type ClassifierConfig struct {
	Margin      float64 `yaml:"margin" validate:"gte=0,lte=1"`
	MinCoverage float64 `yaml:"min_coverage" validate:"gte=0,lte=1"`
	MinSignals  int     `yaml:"min_signals" validate:"gte=0"`
	// Strict fails on ambiguous stacks instead of breaking ties.
	Strict bool `yaml:"strict"`
}

// CalibrationConfig controls evaluation against expert labels.
type CalibrationConfig struct {
	MinSample        int  `yaml:"min_sample" validate:"gte=1"`
	MinStackSample   int  `yaml:"min_stack_sample" validate:"gte=1"`
	SampleSize       int  `yaml:"sample_size" validate:"gte=1"`
	AllowProvisional bool `yaml:"allow_provisional"`
}

// ServerConfig configures the daemon. Environment variables take
// precedence.
type ServerConfig struct {
	Port        string `yaml:"port" validate:"omitempty,numeric"`
	DatabaseURL string `yaml:"database_url"`
	APIKey      string `yaml:"api_key"`
}

// ProfilesConfig locates recalibration profile storage and the promotion
// ledger.
type ProfilesConfig struct {
	Backend  string `yaml:"backend" validate:"omitempty,oneof=local s3 gcs"`
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Ledger   string `yaml:"ledger"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	cls := stack.DefaultOptions()
	cal := calibration.DefaultOptions()
	return &Config{
		Scoring: ScoringConfig{Workers: 4},
		Classifier: ClassifierConfig{
			Margin:      cls.Margin,
			MinCoverage: cls.MinCoverage,
			MinSignals:  cls.MinSignals,
		},
		Calibration: CalibrationConfig{
			MinSample:      cal.MinSample,
			MinStackSample: cal.MinStackSample,
			SampleSize:     36,
		},
		Tuning:   tuning.DefaultOptions(),
		Profiles: ProfilesConfig{Backend: "local"},
		Server:   ServerConfig{Port: "8080"},
	}
}

// Load reads a config file from the given path.
// If the file does not exist, it returns the default config. Relative paths
// in the file are resolved against the project root that holds it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	if filepath.Base(base) == DirName {
		base = filepath.Dir(base)
	}
	cfg.Scoring.Rubric = resolve(base, cfg.Scoring.Rubric)
	cfg.Profiles.Dir = resolve(base, cfg.Profiles.Dir)
	cfg.Profiles.Ledger = resolve(base, cfg.Profiles.Ledger)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks field ranges and the tuner options.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	if b := c.Profiles.Backend; (b == "s3" || b == "gcs") && c.Profiles.Bucket == "" {
		return fmt.Errorf("invalid config: profiles backend %s requires a bucket", b)
	}
	if err := c.Tuning.Validate(); err != nil {
		return fmt.Errorf("invalid tuning config: %w", err)
	}
	return nil
}

// ClassifierOptions converts the classifier section.
func (c *Config) ClassifierOptions() stack.Options {
	return stack.Options{
		Margin:      c.Classifier.Margin,
		MinCoverage: c.Classifier.MinCoverage,
		MinSignals:  c.Classifier.MinSignals,
	}
}

// CalibrationOptions converts the calibration section.
func (c *Config) CalibrationOptions() calibration.Options {
	return calibration.Options{
		MinSample:        c.Calibration.MinSample,
		MinStackSample:   c.Calibration.MinStackSample,
		AllowProvisional: c.Calibration.AllowProvisional,
	}
}

// ProfilesDir returns the local profile directory, defaulting to the state
// directory of workspacePath.
func (c *Config) ProfilesDir(workspacePath string) string {
	if c.Profiles.Dir != "" {
		return c.Profiles.Dir
	}
	return filepath.Join(StateDir(workspacePath), "profiles")
}

// LedgerPath returns the promotion ledger database path, defaulting to the
// state directory of workspacePath.
func (c *Config) LedgerPath(workspacePath string) string {
	if c.Profiles.Ledger != "" {
		return c.Profiles.Ledger
	}
	return filepath.Join(StateDir(workspacePath), "ledger.db")
}

// FindConfigFile looks for .readyscore/config.yaml in the given directory
// and its parents, returning the path if found, or "" if not.
func FindConfigFile(dir string) string {
	for {
		candidate := filepath.Join(dir, DirName, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// FindProjectRoot walks up from dir looking for a .readyscore directory.
func FindProjectRoot(dir string) (string, error) {
	for {
		if fi, err := os.Stat(filepath.Join(dir, DirName)); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no readyscore project found (looked for %s/)", DirName)
}

// StateDir returns where profiles and the ledger live for a workspace:
// the project's .readyscore directory when there is one, otherwise a
// per-workspace cache directory.
func StateDir(workspacePath string) string {
	if root, err := FindProjectRoot(workspacePath); err == nil {
		return filepath.Join(root, DirName)
	}
	return CacheDir(workspacePath)
}

// CacheDir returns the cache directory for a given workspace path.
// Uses ~/.cache/readyscore/<repo-slug>/ to avoid polluting the repo.
func CacheDir(workspacePath string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cache", "readyscore", repoSlug(workspacePath))
}

// repoSlug creates a filesystem-safe identifier from a workspace path.
// Uses the last two path components (e.g., "user_myrepo" from "/home/user/myrepo").
func repoSlug(workspacePath string) string {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		abs = workspacePath
	}
	dir := filepath.Base(filepath.Dir(abs))
	base := filepath.Base(abs)
	return dir + "_" + base
}
