// Package calibration measures how well engine scores agree with expert
// labels. It never modifies a rubric.
package calibration

import (
	"fmt"
	"math"
	"sort"

	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// Quality is a coarse band derived from rank correlation.
type Quality string

const (
	QualityPoor     Quality = "poor"
	QualityModerate Quality = "moderate"
	QualityGood     Quality = "good"
)

// Stack breakdown statuses.
const (
	StackOK                 = "ok"
	StackInsufficientSample = "insufficient_sample"
)

// Thresholds behind the quality band and report warnings.
const (
	lowCorrelation  = 0.4
	goodCorrelation = 0.7
	highMAE         = 8.0
)

// Options control sample-size floors and provisional label handling.
type Options struct {
	// MinSample is the pair count under which the report warns that results
	// are only directional.
	MinSample int
	// MinStackSample is the pair count a stack needs for its own metrics.
	MinStackSample int
	// AllowProvisional includes auto-filled labels in the metrics.
	AllowProvisional bool
}

// DefaultOptions returns the evaluator defaults.
func DefaultOptions() Options {
	return Options{MinSample: 10, MinStackSample: 5}
}

// InsufficientSampleError reports too few labelled repositories to run a
// calibration step.
type InsufficientSampleError struct {
	Stage string
	Got   int
	Need  int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("insufficient sample for %s: %d labelled repositories, need %d", e.Stage, e.Got, e.Need)
}

// ErrorBands summarizes the absolute error distribution.
type ErrorBands struct {
	MAE float64 `json:"mae"`
	P50 float64 `json:"p50_abs_error"`
	P75 float64 `json:"p75_abs_error"`
	P90 float64 `json:"p90_abs_error"`
	Max float64 `json:"max_abs_error"`
}

// Pair is one repository matched between results and labels.
type Pair struct {
	RepositoryID string        `json:"repository_id"`
	Stack        stack.Profile `json:"stack"`
	ExpertScore  float64       `json:"expert_score"`
	ModelScore   float64       `json:"model_score"`
	// Delta is model minus expert.
	Delta       float64 `json:"delta"`
	Provisional bool    `json:"provisional,omitempty"`
}

// StackMetrics are the metrics restricted to one stack. Below the stack
// sample floor only the size and status are reported.
type StackMetrics struct {
	Stack      stack.Profile `json:"stack"`
	SampleSize int           `json:"sample_size"`
	Status     string        `json:"status"`
	Quality    Quality       `json:"quality_band,omitempty"`
	Pearson    *float64      `json:"pearson,omitempty"`
	Spearman   *float64      `json:"spearman,omitempty"`
	Errors     *ErrorBands   `json:"error_bands,omitempty"`
}

// Report is an immutable snapshot of one evaluator run.
type Report struct {
	SampleSize int `json:"sample_size"`
	// Pearson and Spearman are nil when undefined (fewer than two pairs or
	// no variance).
	Pearson             *float64       `json:"pearson"`
	Spearman            *float64       `json:"spearman"`
	MAE                 float64        `json:"mae"`
	P90Error            float64        `json:"p90_error"`
	Errors              ErrorBands     `json:"error_bands"`
	Quality             Quality        `json:"quality_band"`
	Warnings            []string       `json:"warnings"`
	Stacks              []StackMetrics `json:"stack_breakdown,omitempty"`
	Pairs               []Pair         `json:"pairs"`
	ExcludedProvisional int            `json:"excluded_provisional,omitempty"`
	// Unmatched lists labelled repositories with no score result.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Evaluate pairs results with labels by repository id and computes the
// agreement metrics. A pair's stack is the label's tag when present and the
// result's stack profile otherwise. When nothing can be paired an
// *InsufficientSampleError is returned; small but non-empty samples only
// produce a warning.
func Evaluate(results []*scoring.ScoreResult, labels []Label, opts Options) (*Report, error) {
	byID := make(map[string]*scoring.ScoreResult, len(results))
	for _, r := range results {
		if r == nil || r.RepositoryID == "" {
			continue
		}
		if _, dup := byID[r.RepositoryID]; !dup {
			byID[r.RepositoryID] = r
		}
	}

	sorted := append([]Label(nil), labels...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RepositoryID < sorted[j].RepositoryID })

	rep := &Report{Warnings: []string{}}
	seen := make(map[string]bool, len(sorted))
	provisionalUsed := 0
	for _, l := range sorted {
		if seen[l.RepositoryID] {
			continue
		}
		seen[l.RepositoryID] = true

		if l.Provisional() && !opts.AllowProvisional {
			rep.ExcludedProvisional++
			continue
		}
		res, ok := byID[l.RepositoryID]
		if !ok {
			rep.Unmatched = append(rep.Unmatched, l.RepositoryID)
			continue
		}
		p := Pair{
			RepositoryID: l.RepositoryID,
			Stack:        l.StackTag,
			ExpertScore:  l.ExpertScore,
			ModelScore:   res.TotalScore,
			Delta:        round(res.TotalScore-l.ExpertScore, 3),
			Provisional:  l.Provisional(),
		}
		if p.Stack == "" {
			p.Stack = res.StackProfile
		}
		if p.Provisional {
			provisionalUsed++
		}
		rep.Pairs = append(rep.Pairs, p)
	}

	rep.SampleSize = len(rep.Pairs)
	if rep.SampleSize == 0 {
		return nil, &InsufficientSampleError{Stage: "calibration", Got: 0, Need: max(1, opts.MinSample)}
	}

	m := measure(rep.Pairs)
	rep.Pearson, rep.Spearman = m.pearson, m.spearman
	rep.Errors = m.errors
	rep.MAE = m.errors.MAE
	rep.P90Error = m.errors.P90
	rep.Quality = m.quality
	rep.Stacks = breakdown(rep.Pairs, opts.MinStackSample)

	if rep.SampleSize < opts.MinSample {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("small sample size (%d < %d); calibration results are directionally useful only", rep.SampleSize, opts.MinSample))
	}
	switch {
	case rep.Spearman == nil:
		rep.Warnings = append(rep.Warnings, "unable to compute rank correlation (insufficient variance)")
	case *rep.Spearman < lowCorrelation:
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("low rank correlation (%.2f); thresholds and weights need review", *rep.Spearman))
	}
	if rep.MAE > highMAE {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("high absolute error (%.2f); score calibration is weak", rep.MAE))
	}
	if provisionalUsed > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d provisional labels included; metrics are not expert-validated", provisionalUsed))
	}
	if rep.ExcludedProvisional > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d provisional labels excluded", rep.ExcludedProvisional))
	}
	return rep, nil
}

type measurement struct {
	pearson  *float64
	spearman *float64
	errors   ErrorBands
	quality  Quality
}

func measure(pairs []Pair) measurement {
	expert := make([]float64, len(pairs))
	model := make([]float64, len(pairs))
	abs := make([]float64, len(pairs))
	for i, p := range pairs {
		expert[i] = p.ExpertScore
		model[i] = p.ModelScore
		abs[i] = math.Abs(p.ModelScore - p.ExpertScore)
	}
	sort.Float64s(abs)

	var m measurement
	if r, ok := Pearson(expert, model); ok {
		r = round(r, 4)
		m.pearson = &r
	}
	if r, ok := Spearman(expert, model); ok {
		r = round(r, 4)
		m.spearman = &r
	}
	m.errors = ErrorBands{
		MAE: round(MAE(expert, model), 4),
		P50: round(Percentile(abs, 0.50), 4),
		P75: round(Percentile(abs, 0.75), 4),
		P90: round(Percentile(abs, 0.90), 4),
		Max: round(abs[len(abs)-1], 4),
	}
	m.quality = QualityFor(m.spearman)
	return m
}

// QualityFor maps a rank correlation to a quality band. An undefined
// correlation is poor.
func QualityFor(spearman *float64) Quality {
	switch {
	case spearman == nil || *spearman < lowCorrelation:
		return QualityPoor
	case *spearman < goodCorrelation:
		return QualityModerate
	default:
		return QualityGood
	}
}

func breakdown(pairs []Pair, minStack int) []StackMetrics {
	groups := make(map[stack.Profile][]Pair)
	for _, p := range pairs {
		groups[p.Stack] = append(groups[p.Stack], p)
	}
	names := make([]stack.Profile, 0, len(groups))
	for s := range groups {
		names = append(names, s)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]StackMetrics, 0, len(names))
	for _, s := range names {
		g := groups[s]
		sm := StackMetrics{Stack: s, SampleSize: len(g), Status: StackInsufficientSample}
		if len(g) >= max(2, minStack) {
			m := measure(g)
			sm.Status = StackOK
			sm.Quality = m.quality
			sm.Pearson, sm.Spearman = m.pearson, m.spearman
			sm.Errors = &m.errors
		}
		out = append(out, sm)
	}
	return out
}
