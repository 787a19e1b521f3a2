// Package tuning proposes rubric weight changes that bring engine scores
// closer to expert labels. The search is a bounded, deterministic
// coordinate descent over per-criterion weight multipliers: identical inputs
// always yield an identical patch. Patches are never applied in place.
package tuning

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// undefinedSpearman ranks an undefined correlation below any real one.
const undefinedSpearman = -2.0

const eps = 1e-9

// Sample is one labelled repository with the evidence it was scored from.
type Sample struct {
	RepositoryID string
	Profile      stack.Profile
	Records      []evidence.Record
	ExpertScore  float64
}

// Options bound the search.
type Options struct {
	// MinMultiplier and MaxMultiplier bound each criterion's weight
	// multiplier relative to the base rubric.
	MinMultiplier float64 `yaml:"min_multiplier" json:"min_multiplier"`
	MaxMultiplier float64 `yaml:"max_multiplier" json:"max_multiplier"`
	// Step is the multiplier perturbation tried per coordinate.
	Step float64 `yaml:"step" json:"step"`
	// MaxIterations caps accepted steps. Zero scores the base rubric only
	// and yields an empty patch.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// MAETolerance is how far held-out MAE may rise before the patch is
	// suppressed.
	MAETolerance    float64 `yaml:"mae_tolerance" json:"mae_tolerance"`
	MinSamples      int     `yaml:"min_samples" json:"min_samples"`
	HoldoutFraction float64 `yaml:"holdout_fraction" json:"holdout_fraction"`
}

// DefaultOptions returns the tuner defaults.
func DefaultOptions() Options {
	return Options{
		MinMultiplier:   0.5,
		MaxMultiplier:   2.0,
		Step:            0.1,
		MaxIterations:   25,
		MAETolerance:    0.5,
		MinSamples:      5,
		HoldoutFraction: 0.25,
	}
}

// Validate checks that the options describe a usable search.
func (o Options) Validate() error {
	switch {
	case o.MinMultiplier <= 0 || o.MaxMultiplier < o.MinMultiplier:
		return fmt.Errorf("multiplier bounds [%.2f, %.2f] are invalid", o.MinMultiplier, o.MaxMultiplier)
	case o.MinMultiplier > 1 || o.MaxMultiplier < 1:
		return fmt.Errorf("multiplier bounds [%.2f, %.2f] must include 1", o.MinMultiplier, o.MaxMultiplier)
	case o.Step <= 0:
		return fmt.Errorf("step must be positive, got %.3f", o.Step)
	case o.MaxIterations < 0:
		return errors.New("max iterations must not be negative")
	case o.HoldoutFraction < 0 || o.HoldoutFraction >= 1:
		return fmt.Errorf("holdout fraction %.2f outside [0, 1)", o.HoldoutFraction)
	}
	return nil
}

// OverfitGuardError reports a patch suppressed because it made held-out
// error worse by more than the tolerance.
type OverfitGuardError struct {
	HoldoutBefore Metrics
	HoldoutAfter  Metrics
	Tolerance     float64
}

func (e *OverfitGuardError) Error() string {
	return fmt.Sprintf("patch suppressed: held-out MAE rose from %.2f to %.2f (tolerance %.2f)",
		e.HoldoutBefore.MAE, e.HoldoutAfter.MAE, e.Tolerance)
}

// Metrics are the objective values of one rubric on one sample set.
type Metrics struct {
	Spearman *float64 `json:"spearman"`
	MAE      float64  `json:"mae"`
	N        int      `json:"n"`
}

func (m Metrics) spearman() float64 {
	if m.Spearman == nil {
		return undefinedSpearman
	}
	return *m.Spearman
}

// better orders candidates by Spearman first and MAE second.
func (m Metrics) better(than Metrics) bool {
	a, b := m.spearman(), than.spearman()
	if a > b+eps {
		return true
	}
	if a < b-eps {
		return false
	}
	return m.MAE < than.MAE-eps
}

// Tuner runs the weight search.
type Tuner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Tuner. Zero multiplier bounds, step and minimum sample
// count fall back to the defaults. MaxIterations is taken as given.
func New(opts Options) *Tuner {
	def := DefaultOptions()
	if opts.MinMultiplier == 0 {
		opts.MinMultiplier = def.MinMultiplier
	}
	if opts.MaxMultiplier == 0 {
		opts.MaxMultiplier = def.MaxMultiplier
	}
	if opts.Step == 0 {
		opts.Step = def.Step
	}
	if opts.MinSamples == 0 {
		opts.MinSamples = def.MinSamples
	}
	return &Tuner{opts: opts, logger: slog.Default()}
}

// WithLogger sets the logger used for search progress.
func (t *Tuner) WithLogger(l *slog.Logger) *Tuner {
	t.logger = l
	return t
}

// Options returns the effective options.
func (t *Tuner) Options() Options { return t.opts }

// Tune searches for weight multipliers that improve agreement on train and
// returns the resulting patch. When holdout is non-empty the patch is
// suppressed with an *OverfitGuardError if it raises held-out MAE beyond the
// tolerance. Fewer than MinSamples training samples yield a
// *calibration.InsufficientSampleError.
func (t *Tuner) Tune(cfg *scoring.Config, train, holdout []Sample) (*Patch, error) {
	if err := t.opts.Validate(); err != nil {
		return nil, fmt.Errorf("tuning options: %w", err)
	}
	if len(train) < t.opts.MinSamples {
		return nil, &calibration.InsufficientSampleError{Stage: "tuning", Got: len(train), Need: t.opts.MinSamples}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, set := range [][]Sample{train, holdout} {
		for _, s := range set {
			if !s.Profile.Valid() {
				return nil, fmt.Errorf("sample %s: unknown stack profile %q", s.RepositoryID, s.Profile)
			}
		}
	}

	base := cfg.Clone()
	mult := make([]float64, len(base.Criteria))
	for i := range mult {
		mult[i] = 1
	}

	before, err := t.evaluate(base, mult, train)
	if err != nil {
		return nil, err
	}
	current := before

	iterations := 0
	for iterations < t.opts.MaxIterations {
		bestIdx, bestVal, bestMetrics := -1, 0.0, current
		for i := range base.Criteria {
			if base.Criteria[i].Weight == 0 {
				continue
			}
			for _, dir := range []float64{t.opts.Step, -t.opts.Step} {
				v := t.bound(mult[i] + dir)
				if v == mult[i] {
					continue
				}
				orig := mult[i]
				mult[i] = v
				m, err := t.evaluate(base, mult, train)
				mult[i] = orig
				if err != nil {
					return nil, err
				}
				if m.better(bestMetrics) {
					bestIdx, bestVal, bestMetrics = i, v, m
				}
			}
		}
		if bestIdx < 0 {
			break
		}
		mult[bestIdx] = bestVal
		current = bestMetrics
		iterations++
		t.logger.Debug("tuning step accepted",
			"iteration", iterations,
			"criterion_id", base.Criteria[bestIdx].ID,
			"multiplier", bestVal,
			"spearman", current.spearman(),
			"mae", current.MAE,
		)
	}

	tuned := candidate(base, mult)
	patch := &Patch{
		BaseVersion: base.Version,
		Iterations:  iterations,
		InSample:    Comparison{Before: before.rounded(), After: current.rounded()},
	}
	for i, cr := range base.Criteria {
		nw := round(tuned.Criteria[i].Weight, 6)
		if math.Abs(nw-cr.Weight) < 1e-6 {
			continue
		}
		patch.Changes = append(patch.Changes, WeightChange{
			CriterionID: cr.ID,
			Block:       cr.Block,
			Multiplier:  mult[i],
			OldWeight:   cr.Weight,
			NewWeight:   nw,
			Delta:       round(nw-cr.Weight, 6),
		})
	}

	if len(holdout) > 0 {
		hb, err := t.evaluate(base, ones(len(mult)), holdout)
		if err != nil {
			return nil, err
		}
		ha, err := t.evaluate(base, mult, holdout)
		if err != nil {
			return nil, err
		}
		patch.HoldOut = &Comparison{Before: hb.rounded(), After: ha.rounded()}
		if ha.MAE > hb.MAE+t.opts.MAETolerance {
			t.logger.Warn("tuning patch suppressed by overfit guard",
				"holdout_mae_before", hb.MAE,
				"holdout_mae_after", ha.MAE,
				"tolerance", t.opts.MAETolerance,
			)
			return nil, &OverfitGuardError{HoldoutBefore: hb.rounded(), HoldoutAfter: ha.rounded(), Tolerance: t.opts.MAETolerance}
		}
	}
	return patch, nil
}

func (t *Tuner) bound(v float64) float64 {
	v = round(v, 4)
	return math.Max(t.opts.MinMultiplier, math.Min(t.opts.MaxMultiplier, v))
}

// candidate derives a rubric with each weight scaled by its multiplier and
// blocks renormalized.
func candidate(base *scoring.Config, mult []float64) *scoring.Config {
	c := base.Clone()
	blocks := make(map[string]bool)
	for i := range c.Criteria {
		c.Criteria[i].Weight *= mult[i]
		blocks[c.Criteria[i].Block] = true
	}
	for _, b := range c.Blocks {
		if blocks[b.ID] {
			c.NormalizeBlock(b.ID)
		}
	}
	return c
}

func (t *Tuner) evaluate(base *scoring.Config, mult []float64, samples []Sample) (Metrics, error) {
	eng, err := scoring.NewEngine(candidate(base, mult), scoring.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		return Metrics{}, err
	}
	expert := make([]float64, len(samples))
	model := make([]float64, len(samples))
	for i, s := range samples {
		res, err := eng.Score(s.RepositoryID, s.Profile, s.Records)
		if err != nil {
			return Metrics{}, fmt.Errorf("scoring %s: %w", s.RepositoryID, err)
		}
		expert[i] = s.ExpertScore
		model[i] = res.TotalScore
	}
	m := Metrics{MAE: calibration.MAE(expert, model), N: len(samples)}
	if r, ok := calibration.Spearman(expert, model); ok {
		m.Spearman = &r
	}
	return m, nil
}

func (m Metrics) rounded() Metrics {
	out := Metrics{MAE: round(m.MAE, 4), N: m.N}
	if m.Spearman != nil {
		r := round(*m.Spearman, 4)
		out.Spearman = &r
	}
	return out
}

// FromResults pairs labels with score results by repository id and rebuilds
// each result's evidence. Provisional labels are skipped unless allowed.
// Samples are ordered by repository id.
func FromResults(results []*scoring.ScoreResult, labels []calibration.Label, allowProvisional bool) []Sample {
	byID := make(map[string]*scoring.ScoreResult, len(results))
	for _, r := range results {
		if r != nil && r.RepositoryID != "" {
			if _, dup := byID[r.RepositoryID]; !dup {
				byID[r.RepositoryID] = r
			}
		}
	}
	seen := make(map[string]bool, len(labels))
	var out []Sample
	for _, l := range labels {
		if seen[l.RepositoryID] || (l.Provisional() && !allowProvisional) {
			continue
		}
		res, ok := byID[l.RepositoryID]
		if !ok {
			continue
		}
		seen[l.RepositoryID] = true
		out = append(out, Sample{
			RepositoryID: l.RepositoryID,
			Profile:      res.StackProfile,
			Records:      scoring.EvidenceFromResult(res),
			ExpertScore:  l.ExpertScore,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryID < out[j].RepositoryID })
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
