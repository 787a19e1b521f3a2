package scoring

import (
	"errors"
	"testing"

	"github.com/readyscore/readyscore/pkg/evidence"
)

func TestRatioFunction(t *testing.T) {
	fn, err := BuildFunction(FunctionSpec{Kind: KindRatio, Domain: &Range{Min: 0, Max: 100}})
	if err != nil {
		t.Fatalf("BuildFunction: %v", err)
	}

	tests := []struct {
		name    string
		value   evidence.Value
		want    float64
		wantGap bool
	}{
		{"zero", evidence.Number(0), 0, false},
		{"midpoint", evidence.Number(50), 2.5, false},
		{"max", evidence.Number(100), 5, false},
		{"above domain", evidence.Number(101), 0, true},
		{"below domain", evidence.Number(-1), 0, true},
		{"category", evidence.Category("high"), 0, true},
		{"none", evidence.None(), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fn.Points(tt.value, 5)
			if tt.wantGap {
				var gap *EvidenceGapError
				if !errors.As(err, &gap) {
					t.Fatalf("expected EvidenceGapError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Points: %v", err)
			}
			if got != tt.want {
				t.Errorf("Points(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestStepsFunction(t *testing.T) {
	lower, err := BuildFunction(FunctionSpec{
		Kind:      KindSteps,
		Direction: LowerBetter,
		Domain:    &Range{Min: 0, Max: 1000},
		// deliberately unsorted
		Steps: []Step{{Threshold: 10, Points: 4}, {Threshold: 5, Points: 5}, {Threshold: 20, Points: 1}},
	})
	if err != nil {
		t.Fatalf("BuildFunction: %v", err)
	}
	higher, err := BuildFunction(FunctionSpec{
		Kind:  KindSteps,
		Steps: []Step{{Threshold: 1, Points: 1}, {Threshold: 3, Points: 3}, {Threshold: 5, Points: 9}},
	})
	if err != nil {
		t.Fatalf("BuildFunction: %v", err)
	}

	tests := []struct {
		name  string
		fn    Function
		value float64
		want  float64
	}{
		{"lower: best bracket", lower, 3, 5},
		{"lower: boundary is inclusive", lower, 10, 4},
		{"lower: last bracket", lower, 19, 1},
		{"lower: beyond all steps", lower, 500, 0},
		{"higher: below first step", higher, 0, 0},
		{"higher: between steps", higher, 4, 3},
		{"higher: clamped to max points", higher, 7, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn.Points(evidence.Number(tt.value), 5)
			if err != nil {
				t.Fatalf("Points: %v", err)
			}
			if got != tt.want {
				t.Errorf("Points(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	if _, err := lower.Points(evidence.Number(-2), 5); err == nil {
		t.Error("expected a gap for a negative count")
	}
}

func TestCategoricalFunction(t *testing.T) {
	fn, err := BuildFunction(FunctionSpec{Kind: KindCategorical, Categories: map[string]float64{"none": 0, "basic": 1, "full": 2}})
	if err != nil {
		t.Fatalf("BuildFunction: %v", err)
	}
	if got, _ := fn.Points(evidence.Category("full"), 2); got != 2 {
		t.Errorf("full = %v, want 2", got)
	}
	if _, err := fn.Points(evidence.Category("partial"), 2); err == nil {
		t.Error("expected a gap for an unrecognised category")
	}
	if _, err := fn.Points(evidence.Number(1), 2); err == nil {
		t.Error("expected a gap for a numeric value")
	}
}

func TestBuildFunctionErrors(t *testing.T) {
	specs := map[string]FunctionSpec{
		"unknown kind":        {Kind: "sigmoid"},
		"empty ratio domain":  {Kind: KindRatio, Domain: &Range{Min: 1, Max: 1}},
		"steps without steps": {Kind: KindSteps},
		"bad direction":       {Kind: KindSteps, Direction: "sideways", Steps: []Step{{Threshold: 1, Points: 1}}},
		"no categories":       {Kind: KindCategorical},
	}
	for name, spec := range specs {
		if _, err := BuildFunction(spec); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDefaultFunctionsBuild(t *testing.T) {
	for _, cr := range DefaultConfig().Criteria {
		if _, err := BuildFunction(cr.Function); err != nil {
			t.Errorf("criterion %s: %v", cr.ID, err)
		}
	}
}
