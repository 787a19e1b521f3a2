package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/stack"
)

// Observer receives scoring telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveScore(res *ScoreResult, elapsed time.Duration)
	ObserveIgnored(criterionID, reason string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithFunction overrides the scoring function of one criterion.
func WithFunction(criterionID string, fn Function) Option {
	return func(e *Engine) { e.overrides[criterionID] = fn }
}

// Engine scores repositories against a fixed rubric. The rubric is captured
// at construction, so one Engine is a consistent snapshot for a whole batch.
// Engine is safe for concurrent use.
type Engine struct {
	cfg       *Config
	functions map[string]Function
	overrides map[string]Function
	logger    *slog.Logger
	observer  Observer
}

// NewEngine validates cfg and builds its scoring functions. The engine keeps
// its own copy of cfg.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scoring config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg.Clone(),
		functions: make(map[string]Function, len(cfg.Criteria)),
		overrides: make(map[string]Function),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, cr := range e.cfg.Criteria {
		if fn, ok := e.overrides[cr.ID]; ok {
			e.functions[cr.ID] = fn
			continue
		}
		fn, err := BuildFunction(cr.Function)
		if err != nil {
			return nil, &ConfigInconsistencyError{Block: cr.Block, Reason: fmt.Sprintf("criterion %s: %v", cr.ID, err)}
		}
		e.functions[cr.ID] = fn
	}
	return e, nil
}

// Config returns a copy of the engine's rubric.
func (e *Engine) Config() *Config {
	return e.cfg.Clone()
}

// Score evaluates one repository with a throwaway engine. It is a pure
// function of its inputs.
func Score(records []evidence.Record, profile stack.Profile, cfg *Config) (*ScoreResult, error) {
	e, err := NewEngine(cfg, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		return nil, err
	}
	return e.Score("", profile, records)
}

// criterionState is the per-criterion working record during a Score call.
type criterionState struct {
	res      CriterionResult
	supplied bool
	gated    bool
}

// Score evaluates one repository. Evidence problems never fail the call:
// unusable records are ignored or demoted to unknown with a note. The only
// error is an invalid stack profile.
func (e *Engine) Score(repositoryID string, profile stack.Profile, records []evidence.Record) (*ScoreResult, error) {
	start := time.Now()
	if !profile.Valid() {
		return nil, fmt.Errorf("invalid stack profile %q", profile)
	}

	res := &ScoreResult{
		RepositoryID:        repositoryID,
		StackProfile:        profile,
		ConfigVersion:       e.cfg.Version,
		DataQualityWarnings: []string{},
	}

	byID := make(map[string]evidence.Record, len(records))
	for _, r := range records {
		reason := ""
		if _, ok := e.functions[r.CriterionID]; !ok {
			reason = "criterion not in rubric"
		} else if _, dup := byID[r.CriterionID]; dup {
			reason = "duplicate evidence record"
		}
		if reason != "" {
			res.IgnoredEvidence = append(res.IgnoredEvidence, IgnoredEvidence{CriterionID: r.CriterionID, Reason: reason})
			e.logger.Warn("ignoring evidence", "repository_id", repositoryID, "criterion_id", r.CriterionID, "reason", reason)
			if e.observer != nil {
				e.observer.ObserveIgnored(r.CriterionID, reason)
			}
			continue
		}
		byID[r.CriterionID] = r
	}

	states := make([]criterionState, len(e.cfg.Criteria))
	for i, cr := range e.cfg.Criteria {
		rec, ok := byID[cr.ID]
		states[i] = e.resolve(repositoryID, cr, profile, rec, ok)
	}

	e.aggregate(res, states)
	res.DataQualityWarnings = e.qualityWarnings(res, states)
	if len(res.DataQualityWarnings) > 0 {
		res.DataQualityStatus = QualityWarning
	} else {
		res.DataQualityStatus = QualityOK
	}
	res.Category = CategoryFor(res.TotalScore, res.DataCoveragePercent)

	if e.observer != nil {
		e.observer.ObserveScore(res, time.Since(start))
	}
	return res, nil
}

// resolve applies stack gating, the missing-evidence policy and the scoring
// function to one criterion. Gating runs first and always wins.
func (e *Engine) resolve(repositoryID string, cr Criterion, profile stack.Profile, rec evidence.Record, supplied bool) criterionState {
	st := criterionState{
		supplied: supplied,
		res: CriterionResult{
			ID:        cr.ID,
			Block:     cr.Block,
			Method:    cr.Method,
			Weight:    cr.Weight,
			MaxPoints: cr.MaxPoints,
		},
	}
	if st.res.Method == "" {
		st.res.Method = evidence.MethodHeuristic
	}
	if supplied {
		st.res.ReportedStatus = rec.Status
		st.res.RawValue = rec.RawValue
		st.res.Confidence = clamp(rec.Confidence, 0, 1)
		st.res.Note = rec.Note
		if st.res.Confidence != rec.Confidence {
			reported := rec.Confidence
			st.res.ReportedConfidence = &reported
		}
		switch {
		case rec.Method.Valid():
			st.res.Method = rec.Method
		case rec.Method != "":
			st.res.ReportedMethod = rec.Method
		}
	}

	if !cr.AppliesTo(profile) {
		st.gated = true
		st.res.Status = evidence.StatusNotApplicable
		st.res.Note = fmt.Sprintf("not applicable to %s", profile)
		return st
	}

	if !supplied {
		st.res.Note = "no evidence supplied"
		if e.cfg.missingPolicy() == MissingUnknown {
			st.res.Status = evidence.StatusUnknown
		} else {
			st.res.Status = evidence.StatusNotApplicable
		}
		return st
	}

	if problem := rec.Check(); problem != "" {
		return e.demote(repositoryID, st, &EvidenceGapError{CriterionID: cr.ID, Reason: problem})
	}

	switch rec.Status {
	case evidence.StatusNotApplicable, evidence.StatusUnknown:
		st.res.Status = rec.Status
		return st
	}

	pts, err := e.functions[cr.ID].Points(rec.RawValue, cr.MaxPoints)
	if err != nil {
		var gap *EvidenceGapError
		if !errors.As(err, &gap) {
			gap = &EvidenceGapError{Reason: err.Error()}
		}
		gap.CriterionID = cr.ID
		return e.demote(repositoryID, st, gap)
	}
	st.res.Status = evidence.StatusKnown
	st.res.Points = clamp(pts, 0, cr.MaxPoints)
	return st
}

func (e *Engine) demote(repositoryID string, st criterionState, gap *EvidenceGapError) criterionState {
	e.logger.Debug("demoting evidence to unknown", "repository_id", repositoryID, "criterion_id", gap.CriterionID, "reason", gap.Reason)
	st.res.Status = evidence.StatusUnknown
	st.res.Points = 0
	st.res.Note = gap.Error()
	return st
}

// aggregate renormalizes weights over each block's applicable criteria and
// computes block scores, coverage and the total.
func (e *Engine) aggregate(res *ScoreResult, states []criterionState) {
	var total, maxScore, covWeighted, covWeight float64

	for _, b := range e.cfg.Blocks {
		br := BlockResult{ID: b.ID, MaxPoints: round2(b.MaxPoints)}

		var applicable, known float64
		for i := range states {
			c := &states[i].res
			if c.Block != b.ID {
				continue
			}
			switch c.Status {
			case evidence.StatusKnown:
				br.Known++
				known += c.Weight
				applicable += c.Weight
			case evidence.StatusUnknown:
				br.Unknown++
				applicable += c.Weight
			default:
				br.NotApplicable++
			}
		}

		score := 0.0
		for i := range states {
			c := &states[i].res
			if c.Block != b.ID || c.Status == evidence.StatusNotApplicable || applicable == 0 {
				continue
			}
			c.EffectiveWeight = c.Weight / applicable
			c.MaxContribution = round2(c.EffectiveWeight * b.MaxPoints)
			if c.Status == evidence.StatusKnown {
				awarded := (c.Points / c.MaxPoints) * c.EffectiveWeight * c.Confidence * b.MaxPoints
				score += awarded
				c.PointsAwarded = round2(awarded)
			}
			c.EffectiveWeight = round6(c.EffectiveWeight)
			c.Points = round2(c.Points)
		}

		if applicable > 0 {
			br.Participating = true
			cov := known / applicable * 100
			br.CoveragePercent = round2(cov)
			covWeighted += cov * b.MaxPoints
			covWeight += b.MaxPoints
			maxScore += b.MaxPoints
		}
		br.Score = round2(score)
		total += score
		res.Blocks = append(res.Blocks, br)
	}

	for _, st := range states {
		res.Criteria = append(res.Criteria, st.res)
	}
	res.TotalScore = round2(clamp(total, 0, TotalPoints))
	res.MaxScore = round2(maxScore)
	if covWeight > 0 {
		res.DataCoveragePercent = round2(covWeighted / covWeight)
	}
}

func (e *Engine) qualityWarnings(res *ScoreResult, states []criterionState) []string {
	warnings := []string{}

	cov := res.DataCoveragePercent
	switch {
	case cov < 40:
		warnings = append(warnings, fmt.Sprintf("critical: data coverage %.1f%% is below 40%%", cov))
	case cov < e.cfg.CoverageFloor:
		warnings = append(warnings, fmt.Sprintf("data coverage %.1f%% is below the %.0f%% floor", cov, e.cfg.CoverageFloor))
	}

	for _, b := range res.Blocks {
		if b.Participating && b.Known == 0 {
			warnings = append(warnings, fmt.Sprintf("block %s has no known criteria", b.ID))
		}
	}

	var missingCore []string
	for _, id := range e.cfg.CoreCriteria {
		for _, st := range states {
			if st.res.ID != id || st.gated {
				continue
			}
			if !st.supplied || st.res.Status == evidence.StatusUnknown {
				missingCore = append(missingCore, id)
			}
		}
	}
	if len(missingCore) > 0 {
		warnings = append(warnings, "missing core evidence: "+strings.Join(missingCore, ", "))
	}

	knownCount, confSum := 0, 0.0
	for _, st := range states {
		if st.res.Status == evidence.StatusKnown {
			knownCount++
			confSum += st.res.Confidence
		}
	}
	if knownCount == 0 {
		warnings = append(warnings, "no measurable criteria")
	} else if avg := confSum / float64(knownCount); e.cfg.LowConfidence > 0 && avg < e.cfg.LowConfidence {
		warnings = append(warnings, fmt.Sprintf("average confidence %.2f is below %.2f", avg, e.cfg.LowConfidence))
	}
	return warnings
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }
