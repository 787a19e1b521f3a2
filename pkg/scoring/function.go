package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/readyscore/readyscore/pkg/evidence"
)

// Function maps a raw evidence value to points in [0, maxPoints].
// Values outside the function's domain return an *EvidenceGapError.
type Function interface {
	Points(v evidence.Value, maxPoints float64) (float64, error)
}

// EvidenceGapError describes a measurement that cannot be scored. The engine
// absorbs it by demoting the criterion to unknown.
type EvidenceGapError struct {
	CriterionID string
	Reason      string
}

func (e *EvidenceGapError) Error() string {
	if e.CriterionID == "" {
		return "evidence gap: " + e.Reason
	}
	return fmt.Sprintf("evidence gap for %s: %s", e.CriterionID, e.Reason)
}

func gapf(format string, args ...any) error {
	return &EvidenceGapError{Reason: fmt.Sprintf(format, args...)}
}

// FunctionKind selects a built-in scoring function.
type FunctionKind string

const (
	// KindRatio scales a number linearly across its domain.
	KindRatio FunctionKind = "ratio"
	// KindSteps awards points by threshold.
	KindSteps FunctionKind = "steps"
	// KindCategorical awards points per category label.
	KindCategorical FunctionKind = "categorical"
)

// Direction orders step thresholds.
type Direction string

const (
	HigherBetter Direction = "higher_better"
	LowerBetter  Direction = "lower_better"
)

// Range bounds the numeric domain of a function.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Step is one threshold of a KindSteps function.
type Step struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Points    float64 `yaml:"points" json:"points"`
}

// FunctionSpec is the serializable description of a scoring function.
type FunctionSpec struct {
	Kind       FunctionKind       `yaml:"kind" json:"kind"`
	Direction  Direction          `yaml:"direction,omitempty" json:"direction,omitempty"`
	Domain     *Range             `yaml:"domain,omitempty" json:"domain,omitempty"`
	Steps      []Step             `yaml:"steps,omitempty" json:"steps,omitempty"`
	Categories map[string]float64 `yaml:"categories,omitempty" json:"categories,omitempty"`
}

func (s FunctionSpec) clone() FunctionSpec {
	out := s
	if s.Domain != nil {
		d := *s.Domain
		out.Domain = &d
	}
	out.Steps = append([]Step(nil), s.Steps...)
	if s.Categories != nil {
		out.Categories = make(map[string]float64, len(s.Categories))
		for k, v := range s.Categories {
			out.Categories[k] = v
		}
	}
	return out
}

// BuildFunction turns a spec into a Function.
func BuildFunction(spec FunctionSpec) (Function, error) {
	switch spec.Kind {
	case KindRatio, "":
		d := Range{Min: 0, Max: 1}
		if spec.Domain != nil {
			d = *spec.Domain
		}
		if d.Max <= d.Min {
			return nil, fmt.Errorf("ratio domain [%g, %g] is empty", d.Min, d.Max)
		}
		return ratioFunc{domain: d}, nil

	case KindSteps:
		if len(spec.Steps) == 0 {
			return nil, fmt.Errorf("steps function without steps")
		}
		dir := spec.Direction
		if dir == "" {
			dir = HigherBetter
		}
		if dir != HigherBetter && dir != LowerBetter {
			return nil, fmt.Errorf("unknown direction %q", spec.Direction)
		}
		steps := append([]Step(nil), spec.Steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Threshold < steps[j].Threshold })
		return stepsFunc{direction: dir, domain: spec.Domain, steps: steps}, nil

	case KindCategorical:
		if len(spec.Categories) == 0 {
			return nil, fmt.Errorf("categorical function without categories")
		}
		return categoricalFunc{categories: spec.Categories}, nil
	}
	return nil, fmt.Errorf("unknown function kind %q", spec.Kind)
}

type ratioFunc struct {
	domain Range
}

func (f ratioFunc) Points(v evidence.Value, maxPoints float64) (float64, error) {
	x, ok := v.Number()
	if !ok {
		return 0, gapf("expected a number, got %q", v.String())
	}
	if math.IsNaN(x) || x < f.domain.Min || x > f.domain.Max {
		return 0, gapf("value %g outside [%g, %g]", x, f.domain.Min, f.domain.Max)
	}
	return (x - f.domain.Min) / (f.domain.Max - f.domain.Min) * maxPoints, nil
}

type stepsFunc struct {
	direction Direction
	domain    *Range
	steps     []Step
}

// Points for higher_better awards the best step whose threshold is reached;
// for lower_better, the first step whose threshold is not exceeded.
func (f stepsFunc) Points(v evidence.Value, maxPoints float64) (float64, error) {
	x, ok := v.Number()
	if !ok {
		return 0, gapf("expected a number, got %q", v.String())
	}
	if math.IsNaN(x) {
		return 0, gapf("value is NaN")
	}
	if f.domain != nil && (x < f.domain.Min || x > f.domain.Max) {
		return 0, gapf("value %g outside [%g, %g]", x, f.domain.Min, f.domain.Max)
	}

	pts := 0.0
	if f.direction == LowerBetter {
		for _, s := range f.steps {
			if x <= s.Threshold {
				pts = s.Points
				break
			}
		}
	} else {
		for _, s := range f.steps {
			if x >= s.Threshold {
				pts = s.Points
			}
		}
	}
	return clamp(pts, 0, maxPoints), nil
}

type categoricalFunc struct {
	categories map[string]float64
}

func (f categoricalFunc) Points(v evidence.Value, maxPoints float64) (float64, error) {
	c, ok := v.Category()
	if !ok {
		return 0, gapf("expected a category, got %q", v.String())
	}
	pts, ok := f.categories[c]
	if !ok {
		return 0, gapf("unrecognised category %q", c)
	}
	return clamp(pts, 0, maxPoints), nil
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
