package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/readyscore/readyscore/pkg/scoring"
)

func TestEvaluateCmdFlags(t *testing.T) {
	cmd := newEvaluateCmd(&globalOpts{})
	f := cmd.Flags()

	outputFmt, _ := f.GetString("output")
	if outputFmt != "text" {
		t.Errorf("default output = %q, want text", outputFmt)
	}
	stackFlag, _ := f.GetString("stack")
	if stackFlag != "auto" {
		t.Errorf("default stack = %q, want auto", stackFlag)
	}

	for _, flag := range []string{"rubric", "stack", "strict", "workers", "output", "results-out"} {
		if f.Lookup(flag) == nil {
			t.Errorf("missing flag: %s", flag)
		}
	}
}

func TestTuneCmdFlags(t *testing.T) {
	cmd := newTuneCmd(&globalOpts{})
	f := cmd.Flags()

	out, _ := f.GetString("out")
	if out != "weight_patch.json" {
		t.Errorf("default out = %q, want weight_patch.json", out)
	}
	for _, flag := range []string{"results", "labels", "rubric", "out", "apply-to", "version", "allow-provisional"} {
		if f.Lookup(flag) == nil {
			t.Errorf("missing flag: %s", flag)
		}
	}
}

func TestProfileSubcommands(t *testing.T) {
	cmd := newProfileCmd(&globalOpts{})
	want := []string{"create", "prepare", "labels", "split", "calibrate", "promote", "rollback", "status", "history"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub == cmd {
			t.Errorf("missing subcommand: %s", name)
		}
	}

	cal, _, _ := cmd.Find([]string{"calibrate"})
	if s, _ := cal.Flags().GetString("stack"); s != "auto" {
		t.Errorf("calibrate default stack = %q, want auto", s)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"a", "b", "c"}, "a"},
		{[]string{"", "b", "c"}, "b"},
		{[]string{"", "", "c"}, "c"},
		{[]string{"", "", ""}, ""},
	}

	for _, tt := range tests {
		got := firstNonEmpty(tt.args...)
		if got != tt.want {
			t.Errorf("firstNonEmpty(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}

const cliRepos = `[
  {
    "repository_id": "org/api",
    "stack": "python_backend",
    "evidence": [
      {"criterion_id": "test_coverage", "raw_value": 0.8, "method": "measured", "confidence": 0.9}
    ]
  },
  {
    "repository_id": "org/web",
    "stack": "not-a-stack",
    "evidence": []
  }
]`

func TestEvaluateWritesResults(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "repos.json")
	if err := os.WriteFile(input, []byte(cliRepos), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "results.json")

	root := newRootCmd()
	root.SetArgs([]string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"evaluate", input, "--output", "json", "--results-out", out,
	})
	err := root.Execute()
	if err == nil || err.Error() != "1 of 2 repositories failed" {
		t.Fatalf("Execute error = %v, want one failure", err)
	}

	results, err := scoring.LoadResults(out)
	if err != nil {
		t.Fatalf("LoadResults: %v", err)
	}
	if len(results) != 1 || results[0].RepositoryID != "org/api" {
		t.Fatalf("results = %+v", results)
	}
}

func TestProfileCreateAndStatus(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".readyscore")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(cfgDir, "config.yaml")
	cfgYAML := "profiles:\n  dir: profiles\n  ledger: ledger.db\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, args := range [][]string{
		{"--config", cfgPath, "profile", "create", "Platform Team"},
		{"--config", cfgPath, "profile", "status", "platform-team"},
		{"--config", cfgPath, "profile", "history", "platform-team"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "profiles", "platform-team")); err != nil {
		t.Errorf("expected profile directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.db")); err != nil {
		t.Errorf("expected ledger database: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "profile", "rollback", "platform-team"})
	if err := root.Execute(); err == nil {
		t.Error("rollback without a promotion should fail")
	}
}

func TestRubricDefaultsAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubric.yaml")

	root := newRootCmd()
	root.SetArgs([]string{"rubric", "defaults", "-o", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	root = newRootCmd()
	root.SetArgs([]string{"rubric", "validate", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("version: x\nblocks: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root = newRootCmd()
	root.SetArgs([]string{"rubric", "validate", bad})
	if err := root.Execute(); err == nil {
		t.Error("expected validation error for a rubric without blocks")
	}
}
