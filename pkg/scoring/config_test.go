package scoring_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

func TestDefaultConfigInvariants(t *testing.T) {
	cfg := scoring.DefaultConfig()
	require.NoError(t, cfg.Validate())

	sum := 0.0
	for _, b := range cfg.Blocks {
		sum += b.MaxPoints
	}
	assert.InDelta(t, scoring.TotalPoints, sum, 1e-9)
	assert.Len(t, cfg.Criteria, 17)

	cc, ok := cfg.Criterion("code_complexity")
	require.True(t, ok)
	assert.False(t, cc.AppliesTo(stack.NodeFrontend))
	assert.False(t, cc.AppliesTo(stack.MixedUnknown))
	assert.True(t, cc.AppliesTo(stack.All))

	docker, _ := cfg.Criterion("docker")
	for _, p := range stack.Profiles() {
		assert.True(t, docker.AppliesTo(p), p)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*scoring.Config)
		wantBlock string
	}{
		{
			name:   "block maxima must total 50",
			mutate: func(c *scoring.Config) { c.Blocks[5].MaxPoints = 6 },
		},
		{
			name:      "weights must sum to one",
			mutate:    func(c *scoring.Config) { c.Criteria[len(c.Criteria)-1].Weight = 0.1 },
			wantBlock: scoring.BlockDevOps,
		},
		{
			name:      "criterion in undeclared block",
			mutate:    func(c *scoring.Config) { c.Criteria[0].Block = "performance" },
			wantBlock: "performance",
		},
		{
			name:      "duplicate criterion",
			mutate:    func(c *scoring.Config) { c.Criteria[1].ID = c.Criteria[0].ID },
			wantBlock: scoring.BlockCodeQuality,
		},
		{
			name:      "unknown stack",
			mutate:    func(c *scoring.Config) { c.Criteria[0].ApplicableStacks = []stack.Profile{"rust"} },
			wantBlock: scoring.BlockCodeQuality,
		},
		{
			name:   "unknown missing policy",
			mutate: func(c *scoring.Config) { c.MissingEvidence = "guess" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scoring.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cie *scoring.ConfigInconsistencyError
			require.True(t, errors.As(err, &cie), "got %v", err)
			assert.Equal(t, tt.wantBlock, cie.Block)
		})
	}
}

func TestNormalizeBlockAndClone(t *testing.T) {
	cfg := scoring.DefaultConfig()
	clone := cfg.Clone()

	for i := range clone.Criteria {
		if clone.Criteria[i].Block == scoring.BlockDevOps {
			clone.Criteria[i].Weight *= 3
		}
	}
	clone.Criteria[0].ApplicableStacks[0] = stack.All
	require.Error(t, clone.Validate())

	clone.NormalizeBlock(scoring.BlockDevOps)
	require.NoError(t, clone.Validate())

	assert.Equal(t, stack.PythonBackend, cfg.Criteria[0].ApplicableStacks[0], "clone must not share slices")
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadConfig(t *testing.T) {
	for _, name := range []string{"rubric.yaml", "rubric.json"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "nested", name)
			cfg := scoring.DefaultConfig()
			cfg.Version = "team-2"

			require.NoError(t, scoring.SaveConfigAtomic(path, cfg))

			loaded, err := scoring.LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary files must not be left behind")
		})
	}
}

func TestSaveConfigAtomicRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubric.yaml")
	cfg := scoring.DefaultConfig()
	cfg.Blocks[0].MaxPoints = 1

	require.Error(t, scoring.SaveConfigAtomic(path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadConfigOrDefault(t *testing.T) {
	cfg, err := scoring.LoadConfigOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultVersion, cfg.Version)

	cfg, err = scoring.LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultVersion, cfg.Version)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("blocks: [unterminated"), 0o644))
	_, err = scoring.LoadConfigOrDefault(bad)
	assert.Error(t, err)
}

func TestActiveConfigSwap(t *testing.T) {
	cfg := scoring.DefaultConfig()
	active, err := scoring.NewActiveConfig(cfg)
	require.NoError(t, err)

	cfg.Version = "mutated-after-install"
	assert.Equal(t, scoring.DefaultVersion, active.Snapshot().Version)

	broken := scoring.DefaultConfig()
	broken.Blocks = nil
	require.Error(t, active.Swap(broken))
	assert.Equal(t, scoring.DefaultVersion, active.Snapshot().Version)

	next := scoring.DefaultConfig()
	next.Version = "v2"
	require.NoError(t, active.Swap(next))

	e, err := active.Engine()
	require.NoError(t, err)
	res, err := e.Score("r", stack.All, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.ConfigVersion)
}

func TestResultsRoundTripAndEvidenceReconstruction(t *testing.T) {
	cfg := scoring.DefaultConfig()
	records := fullEvidence()
	records[0] = evidence.Known("test_coverage", evidence.Number(3), evidence.MethodMeasured, 0.9)
	records[1] = evidence.Unknown("code_complexity", "radon crashed")
	records = records[:len(records)-1]

	original := mustScore(t, records, stack.PythonBackend, cfg)
	original.RepositoryID = "acme/api"

	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, scoring.WriteResults(path, []*scoring.ScoreResult{original}))
	loaded, err := scoring.LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, original, loaded[0])

	rebuilt := scoring.EvidenceFromResult(loaded[0])
	assert.Len(t, rebuilt, len(records))

	rescored := mustScore(t, rebuilt, stack.PythonBackend, cfg)
	rescored.RepositoryID = "acme/api"
	assert.Equal(t, original, rescored)
}

func TestEvidenceReconstructionKeepsDemotions(t *testing.T) {
	cfg := scoring.DefaultConfig()
	records := []evidence.Record{
		evidence.Known("test_coverage", evidence.Number(0.9), evidence.MethodMeasured, 1.5),
		evidence.Known("type_hints", evidence.Number(0.6), evidence.Method("guess"), 0.8),
		evidence.Known("vulnerabilities", evidence.Number(0), evidence.MethodMeasured, 0.9),
	}

	original := mustScore(t, records, stack.PythonBackend, cfg)
	original.RepositoryID = "acme/api"

	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, scoring.WriteResults(path, []*scoring.ScoreResult{original}))
	loaded, err := scoring.LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rebuilt := scoring.EvidenceFromResult(loaded[0])
	require.Len(t, rebuilt, 3)
	assert.Equal(t, 1.5, rebuilt[0].Confidence)
	assert.Equal(t, evidence.Method("guess"), rebuilt[1].Method)

	rescored := mustScore(t, rebuilt, stack.PythonBackend, cfg)
	rescored.RepositoryID = "acme/api"
	assert.Equal(t, original, rescored)

	for _, id := range []string{"test_coverage", "type_hints"} {
		c, _ := rescored.Criterion(id)
		assert.Equal(t, evidence.StatusUnknown, c.Status, id)
		assert.Zero(t, c.PointsAwarded, id)
	}
	cq, _ := rescored.Block(scoring.BlockCodeQuality)
	assert.Zero(t, cq.Score)
}

func TestWriteResultsRejectsInvalid(t *testing.T) {
	res := mustScore(t, fullEvidence(), stack.PythonBackend, scoring.DefaultConfig())
	res.RepositoryID = "acme/api"
	bad := *res
	bad.DataCoveragePercent = 140

	path := filepath.Join(t.TempDir(), "results.json")
	err := scoring.WriteResults(path, []*scoring.ScoreResult{res, &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/api")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing may be written")
}
