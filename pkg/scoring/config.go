package scoring

import (
	"fmt"
	"math"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/stack"
)

// TotalPoints is the fixed sum of block maxima.
const TotalPoints = 50.0

const weightTolerance = 1e-6

// MissingPolicy decides how a rubric criterion with no evidence record is
// treated.
type MissingPolicy string

const (
	// MissingExclude reports the criterion as not applicable.
	MissingExclude MissingPolicy = "exclude"
	// MissingUnknown reports the criterion as unknown, counting against coverage.
	MissingUnknown MissingPolicy = "unknown"
)

// Config is the versioned scoring rubric. A Config in use by an Engine must
// not be mutated; use Clone to derive variants.
type Config struct {
	Version string `yaml:"version" json:"version"`
	// CoverageFloor is the data_coverage_percent below which a result is
	// flagged as a warning.
	CoverageFloor   float64       `yaml:"coverage_floor" json:"coverage_floor"`
	MissingEvidence MissingPolicy `yaml:"missing_evidence" json:"missing_evidence"`
	// CoreCriteria must be known for a result to be free of warnings.
	CoreCriteria []string `yaml:"core_criteria,omitempty" json:"core_criteria,omitempty"`
	// LowConfidence is the average confidence under which a warning is raised.
	LowConfidence float64     `yaml:"low_confidence_threshold" json:"low_confidence_threshold"`
	Blocks        []Block     `yaml:"blocks" json:"blocks"`
	Criteria      []Criterion `yaml:"criteria" json:"criteria"`
}

// Block is a named group of criteria with a fixed point maximum.
type Block struct {
	ID        string  `yaml:"id" json:"id"`
	MaxPoints float64 `yaml:"max_points" json:"max_points"`
}

// Criterion is one measurable aspect of the rubric.
type Criterion struct {
	ID        string  `yaml:"id" json:"id"`
	Block     string  `yaml:"block" json:"block"`
	MaxPoints float64 `yaml:"max_points" json:"max_points"`
	// Weight is the criterion's share within its block.
	Weight float64 `yaml:"weight" json:"weight"`
	// ApplicableStacks lists the profiles this criterion applies to. Empty or
	// containing "all" means every profile.
	ApplicableStacks []stack.Profile `yaml:"applicable_stacks,omitempty" json:"applicable_stacks,omitempty"`
	Method           evidence.Method `yaml:"method" json:"method"`
	Function         FunctionSpec    `yaml:"function" json:"function"`
}

// AppliesTo reports whether the criterion is applicable under profile p.
// The All override makes every criterion applicable.
func (c Criterion) AppliesTo(p stack.Profile) bool {
	if p == stack.All || len(c.ApplicableStacks) == 0 {
		return true
	}
	for _, s := range c.ApplicableStacks {
		if s == p || s == stack.All {
			return true
		}
	}
	return false
}

// ConfigInconsistencyError reports a rubric that cannot be scored with.
type ConfigInconsistencyError struct {
	Block  string
	Reason string
}

func (e *ConfigInconsistencyError) Error() string {
	if e.Block == "" {
		return "inconsistent scoring config: " + e.Reason
	}
	return fmt.Sprintf("inconsistent scoring config: block %s: %s", e.Block, e.Reason)
}

// Validate checks the structural invariants: block maxima sum to
// TotalPoints, every criterion belongs to a declared block, and weights
// within each block sum to 1.
func (c *Config) Validate() error {
	if len(c.Blocks) == 0 {
		return &ConfigInconsistencyError{Reason: "no blocks defined"}
	}

	blocks := make(map[string]bool, len(c.Blocks))
	sum := 0.0
	for _, b := range c.Blocks {
		if b.ID == "" {
			return &ConfigInconsistencyError{Reason: "block with empty id"}
		}
		if blocks[b.ID] {
			return &ConfigInconsistencyError{Block: b.ID, Reason: "declared twice"}
		}
		if b.MaxPoints <= 0 {
			return &ConfigInconsistencyError{Block: b.ID, Reason: "max_points must be positive"}
		}
		blocks[b.ID] = true
		sum += b.MaxPoints
	}
	if math.Abs(sum-TotalPoints) > weightTolerance {
		return &ConfigInconsistencyError{Reason: fmt.Sprintf("block maxima sum to %.2f, want %.0f", sum, TotalPoints)}
	}

	weights := make(map[string]float64, len(c.Blocks))
	seen := make(map[string]bool, len(c.Criteria))
	for _, cr := range c.Criteria {
		if cr.ID == "" {
			return &ConfigInconsistencyError{Block: cr.Block, Reason: "criterion with empty id"}
		}
		if seen[cr.ID] {
			return &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s declared twice", cr.ID)}
		}
		seen[cr.ID] = true
		if !blocks[cr.Block] {
			return &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s references an undeclared block", cr.ID)}
		}
		if cr.Weight < 0 {
			return &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s has a negative weight", cr.ID)}
		}
		if cr.MaxPoints <= 0 {
			return &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s max_points must be positive", cr.ID)}
		}
		for _, s := range cr.ApplicableStacks {
			if !s.Valid() {
				return &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s lists unknown stack %q", cr.ID, s)}
			}
		}
		weights[cr.Block] += cr.Weight
	}
	for _, b := range c.Blocks {
		w, ok := weights[b.ID]
		if !ok {
			continue
		}
		if math.Abs(w-1) > weightTolerance {
			return &ConfigInconsistencyError{Block: b.ID, Reason: fmt.Sprintf("weights sum to %.6f, want 1.0", w)}
		}
	}

	switch c.MissingEvidence {
	case "", MissingExclude, MissingUnknown:
	default:
		return &ConfigInconsistencyError{Reason: fmt.Sprintf("unknown missing_evidence policy %q", c.MissingEvidence)}
	}
	return nil
}

// Criterion returns the criterion with the given id.
func (c *Config) Criterion(id string) (Criterion, bool) {
	for _, cr := range c.Criteria {
		if cr.ID == id {
			return cr, true
		}
	}
	return Criterion{}, false
}

// BlockMax returns the maximum points of a block, or 0 if undeclared.
func (c *Config) BlockMax(id string) float64 {
	for _, b := range c.Blocks {
		if b.ID == id {
			return b.MaxPoints
		}
	}
	return 0
}

// NormalizeBlock rescales the weights of a block's criteria to sum to 1.
// A block whose weights are all zero is left untouched.
func (c *Config) NormalizeBlock(block string) {
	total := 0.0
	for _, cr := range c.Criteria {
		if cr.Block == block {
			total += cr.Weight
		}
	}
	if total == 0 {
		return
	}
	for i := range c.Criteria {
		if c.Criteria[i].Block == block {
			c.Criteria[i].Weight /= total
		}
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.CoreCriteria = append([]string(nil), c.CoreCriteria...)
	out.Blocks = append([]Block(nil), c.Blocks...)
	out.Criteria = make([]Criterion, len(c.Criteria))
	for i, cr := range c.Criteria {
		cr.ApplicableStacks = append([]stack.Profile(nil), cr.ApplicableStacks...)
		cr.Function = cr.Function.clone()
		out.Criteria[i] = cr
	}
	return &out
}

func (c *Config) missingPolicy() MissingPolicy {
	if c.MissingEvidence == "" {
		return MissingExclude
	}
	return c.MissingEvidence
}
