package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scoring.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Scoring.Workers)
	}
	if cfg.Classifier.Margin != 0.05 {
		t.Errorf("expected default margin 0.05, got %v", cfg.Classifier.Margin)
	}
	if cfg.Calibration.SampleSize != 36 {
		t.Errorf("expected default sample size 36, got %d", cfg.Calibration.SampleSize)
	}
	if cfg.Profiles.Backend != "local" {
		t.Errorf("expected local backend, got %q", cfg.Profiles.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(t *testing.T, cfg *Config, root string)
	}{
		{
			name: "valid YAML overrides defaults",
			yaml: `
scoring:
  rubric: rubrics/scoring_config.yaml
  workers: 8
classifier:
  strict: true
  margin: 0.1
calibration:
  allow_provisional: true
tuning:
  holdout_fraction: 0.2
profiles:
  dir: /var/lib/readyscore/profiles
server:
  port: "9090"
`,
			check: func(t *testing.T, cfg *Config, root string) {
				if cfg.Scoring.Workers != 8 {
					t.Errorf("expected workers 8, got %d", cfg.Scoring.Workers)
				}
				if want := filepath.Join(root, "rubrics", "scoring_config.yaml"); cfg.Scoring.Rubric != want {
					t.Errorf("rubric path = %q, want %q", cfg.Scoring.Rubric, want)
				}
				if cfg.Server.Port != "9090" {
					t.Errorf("port = %q", cfg.Server.Port)
				}
				if cfg.Profiles.Dir != "/var/lib/readyscore/profiles" {
					t.Errorf("absolute dir rewritten to %q", cfg.Profiles.Dir)
				}
				if !cfg.Classifier.Strict || cfg.Classifier.Margin != 0.1 {
					t.Errorf("classifier = %+v", cfg.Classifier)
				}
				if cfg.ClassifierOptions().MinCoverage != 0.5 {
					t.Errorf("unset min_coverage should keep its default")
				}
				if !cfg.CalibrationOptions().AllowProvisional {
					t.Error("expected AllowProvisional")
				}
				if cfg.Tuning.HoldoutFraction != 0.2 || cfg.Tuning.MaxMultiplier != 2.0 {
					t.Errorf("tuning = %+v", cfg.Tuning)
				}
			},
		},
		{
			name:    "invalid YAML returns error",
			yaml:    "{{invalid yaml",
			wantErr: "parsing config",
		},
		{
			name:    "out of range margin",
			yaml:    "classifier:\n  margin: 2\n",
			wantErr: "Margin",
		},
		{
			name:    "non-numeric port",
			yaml:    "server:\n  port: http\n",
			wantErr: "Port",
		},
		{
			name:    "unknown backend",
			yaml:    "profiles:\n  backend: ftp\n",
			wantErr: "Backend",
		},
		{
			name:    "bucket backend without bucket",
			yaml:    "profiles:\n  backend: s3\n",
			wantErr: "requires a bucket",
		},
		{
			name:    "tuning bounds exclude identity",
			yaml:    "tuning:\n  min_multiplier: 1.2\n",
			wantErr: "must include 1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, DirName)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatalf("write test config: %v", err)
			}

			cfg, err := Load(path)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, cfg, root)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scoring.Rubric != "" || cfg.Scoring.Workers != 4 || cfg.Server.Port != "8080" {
		t.Errorf("expected defaults, got %+v %+v", cfg.Scoring, cfg.Server)
	}
}

func TestFindConfigFileAndProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "services", "api")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(nested); got != "" {
		t.Errorf("expected no config file, got %q", got)
	}
	if _, err := FindProjectRoot(nested); err == nil {
		t.Error("expected error without a project directory")
	}

	cfgPath := filepath.Join(root, DirName, "config.yaml")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("scoring:\n  workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(nested); got != cfgPath {
		t.Errorf("FindConfigFile = %q, want %q", got, cfgPath)
	}
	got, err := FindProjectRoot(nested)
	if err != nil || got != root {
		t.Errorf("FindProjectRoot = %q, %v; want %q", got, err, root)
	}

	cfg := DefaultConfig()
	if want := filepath.Join(root, DirName, "profiles"); cfg.ProfilesDir(nested) != want {
		t.Errorf("ProfilesDir = %q, want %q", cfg.ProfilesDir(nested), want)
	}
	if want := filepath.Join(root, DirName, "ledger.db"); cfg.LedgerPath(nested) != want {
		t.Errorf("LedgerPath = %q, want %q", cfg.LedgerPath(nested), want)
	}
	cfg.Profiles.Ledger = "/srv/ledger.db"
	if cfg.LedgerPath(nested) != "/srv/ledger.db" {
		t.Errorf("explicit ledger path ignored")
	}
}

func TestCacheDirOutsideProject(t *testing.T) {
	workspace := "/home/alice/repos/myproject"
	dir := StateDir(workspace)
	if !strings.HasSuffix(dir, filepath.Join("readyscore", "repos_myproject")) {
		t.Errorf("StateDir = %q", dir)
	}
}

func TestRepoSlug(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "normal path",
			path: "/home/user/workspace/myrepo",
			want: "workspace_myrepo",
		},
		{
			name: "short path",
			path: "/myrepo",
			want: "/_myrepo",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := repoSlug(tc.path)
			if got != tc.want {
				t.Errorf("repoSlug(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}
