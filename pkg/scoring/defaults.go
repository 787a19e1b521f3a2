package scoring

import (
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/stack"
)

// DefaultVersion identifies the built-in rubric.
const DefaultVersion = "builtin-1"

// Block identifiers of the built-in rubric.
const (
	BlockCodeQuality   = "code_quality"
	BlockSecurity      = "security"
	BlockMaintenance   = "maintenance"
	BlockArchitecture  = "architecture"
	BlockDocumentation = "documentation"
	BlockDevOps        = "devops"
)

var (
	// profiles with recognised language tooling
	toolable = []stack.Profile{
		stack.PythonBackend, stack.PythonFullstackReact, stack.PythonDjangoTemplates, stack.NodeFrontend,
	}
	// criteria that assume server-side code
	serverSide = []stack.Profile{
		stack.PythonBackend, stack.PythonFullstackReact, stack.PythonDjangoTemplates,
	}
)

// nominalTotal is the sum of the nominal block weights 15/10/10/10/10/5.
const nominalTotal = 60.0

// blockPoints scales a nominal block weight so the maxima sum to TotalPoints.
func blockPoints(nominal float64) float64 { return nominal * TotalPoints / nominalTotal }

func ratio() FunctionSpec { return FunctionSpec{Kind: KindRatio} }

func lowerBetter(steps ...Step) FunctionSpec {
	return FunctionSpec{Kind: KindSteps, Direction: LowerBetter, Domain: &Range{Min: 0, Max: 1e9}, Steps: steps}
}

func higherBetter(steps ...Step) FunctionSpec {
	return FunctionSpec{Kind: KindSteps, Direction: HigherBetter, Domain: &Range{Min: 0, Max: 1e9}, Steps: steps}
}

func categories(m map[string]float64) FunctionSpec {
	return FunctionSpec{Kind: KindCategorical, Categories: m}
}

// DefaultConfig returns the built-in rubric: 17 criteria across six blocks
// weighted 15/10/10/10/10/5, scaled to a 50 point total (12.5, 8.33 and
// 4.17 points). Weights within a block are proportional to each criterion's
// maximum points.
func DefaultConfig() *Config {
	cfg := &Config{
		Version:         DefaultVersion,
		CoverageFloor:   60,
		MissingEvidence: MissingExclude,
		CoreCriteria:    []string{"test_coverage", "code_complexity", "vulnerabilities"},
		LowConfidence:   0.65,
		Blocks: []Block{
			{ID: BlockCodeQuality, MaxPoints: blockPoints(15)},
			{ID: BlockSecurity, MaxPoints: blockPoints(10)},
			{ID: BlockMaintenance, MaxPoints: blockPoints(10)},
			{ID: BlockArchitecture, MaxPoints: blockPoints(10)},
			{ID: BlockDocumentation, MaxPoints: blockPoints(10)},
			{ID: BlockDevOps, MaxPoints: blockPoints(5)},
		},
		Criteria: []Criterion{
			// code_quality
			{ID: "test_coverage", Block: BlockCodeQuality, MaxPoints: 5, ApplicableStacks: toolable,
				Method: evidence.MethodMeasured, Function: ratio()},
			{ID: "code_complexity", Block: BlockCodeQuality, MaxPoints: 5, ApplicableStacks: serverSide,
				Method: evidence.MethodMeasured, Function: lowerBetter(
					Step{Threshold: 5, Points: 5}, Step{Threshold: 10, Points: 4},
					Step{Threshold: 15, Points: 2.5}, Step{Threshold: 20, Points: 1})},
			{ID: "type_hints", Block: BlockCodeQuality, MaxPoints: 5, ApplicableStacks: toolable,
				Method: evidence.MethodHeuristic, Function: ratio()},

			// security
			{ID: "vulnerabilities", Block: BlockSecurity, MaxPoints: 5, ApplicableStacks: toolable,
				Method: evidence.MethodMeasured, Function: lowerBetter(
					Step{Threshold: 0, Points: 5}, Step{Threshold: 2, Points: 3}, Step{Threshold: 5, Points: 1.5})},
			{ID: "dep_health", Block: BlockSecurity, MaxPoints: 3, ApplicableStacks: toolable,
				Method: evidence.MethodHeuristic, Function: ratio()},
			{ID: "security_scanning", Block: BlockSecurity, MaxPoints: 2, ApplicableStacks: toolable,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "basic": 1, "full": 2})},

			// maintenance
			{ID: "project_activity", Block: BlockMaintenance, MaxPoints: 5,
				Method: evidence.MethodMeasured, Function: lowerBetter(
					Step{Threshold: 30, Points: 5}, Step{Threshold: 90, Points: 4},
					Step{Threshold: 180, Points: 2.5}, Step{Threshold: 365, Points: 1})},
			{ID: "version_stability", Block: BlockMaintenance, MaxPoints: 3,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "prerelease": 1.5, "stable": 3})},
			{ID: "changelog", Block: BlockMaintenance, MaxPoints: 2,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "present": 1, "maintained": 2})},

			// architecture
			{ID: "docstrings", Block: BlockArchitecture, MaxPoints: 5, ApplicableStacks: serverSide,
				Method: evidence.MethodMeasured, Function: ratio()},
			{ID: "logging", Block: BlockArchitecture, MaxPoints: 3, ApplicableStacks: serverSide,
				Method: evidence.MethodHeuristic, Function: ratio()},
			{ID: "structure", Block: BlockArchitecture, MaxPoints: 2,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"flat": 0, "partial": 1, "layered": 2})},

			// documentation
			{ID: "readme", Block: BlockDocumentation, MaxPoints: 5,
				Method: evidence.MethodHeuristic, Function: higherBetter(
					Step{Threshold: 1, Points: 1}, Step{Threshold: 2, Points: 2}, Step{Threshold: 3, Points: 3},
					Step{Threshold: 4, Points: 4}, Step{Threshold: 5, Points: 5})},
			{ID: "api_docs", Block: BlockDocumentation, MaxPoints: 3, ApplicableStacks: serverSide,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "partial": 1.5, "complete": 3})},
			{ID: "getting_started", Block: BlockDocumentation, MaxPoints: 2,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "partial": 1, "complete": 2})},

			// devops
			{ID: "docker", Block: BlockDevOps, MaxPoints: 3,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "false": 0, "true": 2, "dockerfile": 2, "compose": 3})},
			{ID: "cicd", Block: BlockDevOps, MaxPoints: 2,
				Method: evidence.MethodHeuristic, Function: categories(map[string]float64{
					"none": 0, "false": 0, "true": 1, "basic": 1, "full": 2})},
		},
	}

	blockTotals := make(map[string]float64)
	for _, cr := range cfg.Criteria {
		blockTotals[cr.Block] += cr.MaxPoints
	}
	for i := range cfg.Criteria {
		cfg.Criteria[i].Weight = cfg.Criteria[i].MaxPoints / blockTotals[cfg.Criteria[i].Block]
		cfg.Criteria[i].ApplicableStacks = append([]stack.Profile(nil), cfg.Criteria[i].ApplicableStacks...)
	}
	return cfg
}
