package recalibration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
	"github.com/readyscore/readyscore/pkg/tuning"
)

// Stack selection modes accepted by CalibrateOptions.Stack besides an
// explicit profile.
const (
	StackAuto = "auto"
	StackAll  = "all"
)

// CalibrateOptions control one calibration run.
type CalibrateOptions struct {
	// Stack is "auto", "all" or a profile name. Auto uses the single stack
	// present in the labels; with several, strict mode fails and non-strict
	// mode picks the most frequent.
	Stack            string
	Strict           bool
	AllowProvisional bool
}

// Outcome is the result of Calibrate. On a suppressed patch Before and
// Suppressed are set and the remaining fields are empty.
type Outcome struct {
	Profile        string              `json:"profile"`
	RequestedStack string              `json:"requested_stack"`
	ResolvedStack  stack.Profile       `json:"resolved_stack"`
	TrainSize      int                 `json:"train_size"`
	HoldoutSize    int                 `json:"holdout_size"`
	Before         *calibration.Report `json:"-"`
	After          *calibration.Report `json:"-"`
	Patch          *tuning.Patch       `json:"-"`
	Config         *scoring.Config     `json:"-"`
	Suppressed     string              `json:"suppressed,omitempty"`
	// Artifacts maps artifact names to their store locations.
	Artifacts map[string]string `json:"artifacts"`
}

type reportDigest struct {
	SampleSize int                 `json:"sample_size"`
	Spearman   *float64            `json:"spearman"`
	Pearson    *float64            `json:"pearson"`
	MAE        float64             `json:"mae"`
	P90Error   float64             `json:"p90_error"`
	Quality    calibration.Quality `json:"quality"`
}

func digest(r *calibration.Report) *reportDigest {
	if r == nil {
		return nil
	}
	return &reportDigest{
		SampleSize: r.SampleSize,
		Spearman:   r.Spearman,
		Pearson:    r.Pearson,
		MAE:        r.MAE,
		P90Error:   r.P90Error,
		Quality:    r.Quality,
	}
}

type runSummary struct {
	*Outcome
	GeneratedAt      time.Time     `json:"generated_at"`
	Strict           bool          `json:"strict"`
	AllowProvisional bool          `json:"allow_provisional"`
	BaseVersion      string        `json:"base_version"`
	ProfileVersion   string        `json:"profile_version,omitempty"`
	Changes          int           `json:"changes"`
	Before           *reportDigest `json:"before"`
	After            *reportDigest `json:"after,omitempty"`
}

// Calibrate evaluates base against the profile's labels, tunes its weights
// and writes the before/after reports, the patch and the candidate rubric
// into the profile namespace. The active rubric is never touched.
//
// When the tuner suppresses its patch or the sample is too small to tune,
// the partial Outcome is returned together with the typed error and the
// profile state is left unchanged.
func (m *Manager) Calibrate(ctx context.Context, name string, base *scoring.Config, results []*scoring.ScoreResult, opts CalibrateOptions) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(ctx, Slugify(name))
	if err != nil {
		return nil, err
	}
	if p.State == StateCreated {
		return nil, &TransitionError{Profile: p.Slug, Op: ActionCalibrate, State: p.State}
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("base rubric: %w", err)
	}
	rows, err := m.readLabels(ctx, p.Slug)
	if err != nil {
		return nil, err
	}
	labels := calibration.Labels(rows)

	byID := make(map[string]*scoring.ScoreResult, len(results))
	for _, r := range results {
		if r != nil && r.RepositoryID != "" {
			if _, dup := byID[r.RepositoryID]; !dup {
				byID[r.RepositoryID] = r
			}
		}
	}

	requested := strings.TrimSpace(opts.Stack)
	if requested == "" {
		requested = StackAuto
	}
	resolved, err := resolveStack(requested, labels, byID, opts)
	if err != nil {
		return nil, err
	}
	labels, scoped := scope(resolved, labels, byID)

	out := &Outcome{
		Profile:        p.Slug,
		RequestedStack: requested,
		ResolvedStack:  resolved,
		Artifacts:      make(map[string]string),
	}
	summary := &runSummary{
		Outcome:          out,
		Strict:           opts.Strict,
		AllowProvisional: opts.AllowProvisional,
		BaseVersion:      base.Version,
	}

	calOpts := m.calOpts
	calOpts.AllowProvisional = opts.AllowProvisional
	before, err := calibration.Evaluate(scoped, labels, calOpts)
	if err != nil {
		return nil, err
	}
	out.Before = before
	summary.Before = digest(before)
	if err := m.putReport(ctx, p.Slug, keyReportBefore, "Calibration report (before)", before, out); err != nil {
		return nil, err
	}

	tuner := tuning.New(m.tuneOpts).WithLogger(m.logger)
	samples := tuning.FromResults(scoped, labels, opts.AllowProvisional)
	train, holdout := tuning.SplitHoldout(samples, tuner.Options().HoldoutFraction)
	if len(train) < tuner.Options().MinSamples {
		m.logger.Warn("too few samples for a hold-out set; tuning on all labels",
			"profile", p.Slug, "samples", len(samples), "min_samples", tuner.Options().MinSamples)
		train, holdout = samples, nil
	}
	out.TrainSize, out.HoldoutSize = len(train), len(holdout)

	patch, err := tuner.Tune(base, train, holdout)
	if err != nil {
		var guard *tuning.OverfitGuardError
		var small *calibration.InsufficientSampleError
		if !errors.As(err, &guard) && !errors.As(err, &small) {
			return nil, err
		}
		out.Suppressed = err.Error()
		summary.GeneratedAt = m.now().UTC()
		if perr := m.putJSON(ctx, profileKey(p.Slug, keySummary), summary); perr != nil {
			return nil, perr
		}
		out.Artifacts["summary"] = m.store.Locate(profileKey(p.Slug, keySummary))
		m.logger.Warn("calibration patch suppressed", "profile", p.Slug, "reason", out.Suppressed)
		m.observe(ActionSuppress)
		return out, err
	}

	tuned, err := patch.Apply(base)
	if err != nil {
		return nil, err
	}
	tuned.Version = base.Version + "+" + p.Slug

	eng, err := scoring.NewEngine(tuned, scoring.WithLogger(m.logger))
	if err != nil {
		return nil, err
	}
	inputs := make([]scoring.BatchInput, len(scoped))
	for i, r := range scoped {
		inputs[i] = scoring.BatchInput{
			RepositoryID: r.RepositoryID,
			Profile:      r.StackProfile,
			Records:      scoring.EvidenceFromResult(r),
		}
	}
	items := eng.ScoreBatch(ctx, inputs, m.workers)
	for _, it := range items {
		if it.Err != nil {
			m.logger.Warn("re-scoring failed", "profile", p.Slug, "repository_id", it.RepositoryID, "error", it.Err)
		}
	}
	after, err := calibration.Evaluate(scoring.Results(items), labels, calOpts)
	if err != nil {
		return nil, err
	}
	out.After, out.Patch, out.Config = after, patch, tuned
	summary.After = digest(after)
	summary.ProfileVersion = tuned.Version
	summary.Changes = len(patch.Changes)

	if err := m.putReport(ctx, p.Slug, keyReportAfter, "Calibration report (after)", after, out); err != nil {
		return nil, err
	}
	if err := m.putJSON(ctx, profileKey(p.Slug, keyPatch), patch); err != nil {
		return nil, err
	}
	out.Artifacts["patch"] = m.store.Locate(profileKey(p.Slug, keyPatch))

	cfgData, err := scoring.MarshalConfig(tuned, false)
	if err != nil {
		return nil, err
	}
	stackKey := "configs/scoring_config." + string(resolved) + ".yaml"
	for artifact, key := range map[string]string{"profile_config": keyProfileConfig, "stack_config": stackKey} {
		if err := m.store.Put(ctx, profileKey(p.Slug, key), cfgData); err != nil {
			return nil, fmt.Errorf("writing %s: %w", key, err)
		}
		out.Artifacts[artifact] = m.store.Locate(profileKey(p.Slug, key))
	}

	summary.GeneratedAt = m.now().UTC()
	out.Artifacts["summary"] = m.store.Locate(profileKey(p.Slug, keySummary))
	if err := m.putJSON(ctx, profileKey(p.Slug, keySummary), summary); err != nil {
		return nil, err
	}

	p.State = StateCalibrated
	p.Calibration = &CalibrationRecord{
		At:             summary.GeneratedAt,
		RequestedStack: requested,
		ResolvedStack:  string(resolved),
		Strict:         opts.Strict,
		SampleSize:     before.SampleSize,
		BaseVersion:    base.Version,
		ProfileVersion: tuned.Version,
		Changes:        len(patch.Changes),
	}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("profile calibrated",
		"profile", p.Slug,
		"stack", resolved,
		"samples", before.SampleSize,
		"changes", len(patch.Changes),
		"mae_before", before.MAE,
		"mae_after", after.MAE,
	)
	m.observe(ActionCalibrate)
	return out, nil
}

func (m *Manager) putReport(ctx context.Context, slug, prefix, title string, r *calibration.Report, out *Outcome) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration report: %w", err)
	}
	var txt bytes.Buffer
	if err := calibration.WriteSummary(&txt, title, r); err != nil {
		return err
	}
	jsonKey, txtKey := profileKey(slug, prefix+".json"), profileKey(slug, prefix+".txt")
	if err := m.store.Put(ctx, jsonKey, append(data, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", jsonKey, err)
	}
	if err := m.store.Put(ctx, txtKey, txt.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", txtKey, err)
	}
	name := prefix[strings.LastIndex(prefix, "/")+1:]
	out.Artifacts[name] = m.store.Locate(jsonKey)
	return nil
}

// labelStack is the stack a label is evaluated under: its tag, else the
// stack its result was scored under.
func labelStack(l calibration.Label, byID map[string]*scoring.ScoreResult) stack.Profile {
	if l.StackTag != "" {
		return l.StackTag
	}
	if r, ok := byID[l.RepositoryID]; ok {
		return r.StackProfile
	}
	return ""
}

func resolveStack(requested string, labels []calibration.Label, byID map[string]*scoring.ScoreResult, opts CalibrateOptions) (stack.Profile, error) {
	switch strings.ToLower(requested) {
	case StackAll:
		return stack.All, nil
	case StackAuto:
	default:
		return stack.ParseProfile(requested)
	}

	counts := make(map[stack.Profile]int)
	for _, l := range labels {
		if l.Provisional() && !opts.AllowProvisional {
			continue
		}
		if _, ok := byID[l.RepositoryID]; !ok {
			continue
		}
		if st := labelStack(l, byID); st != "" {
			counts[st]++
		}
	}
	if len(counts) == 0 {
		return "", &calibration.InsufficientSampleError{Stage: "calibration", Got: 0, Need: 1}
	}

	cands := make([]stack.Profile, 0, len(counts))
	for st := range counts {
		cands = append(cands, st)
	}
	sort.Slice(cands, func(i, j int) bool {
		if counts[cands[i]] != counts[cands[j]] {
			return counts[cands[i]] > counts[cands[j]]
		}
		return cands[i] < cands[j]
	})
	if len(cands) > 1 && opts.Strict {
		return "", &stack.AmbiguousStackError{Candidates: cands}
	}
	return cands[0], nil
}

// scope restricts labels and results to those evaluated under st.
func scope(st stack.Profile, labels []calibration.Label, byID map[string]*scoring.ScoreResult) ([]calibration.Label, []*scoring.ScoreResult) {
	var ls []calibration.Label
	var rs []*scoring.ScoreResult
	taken := make(map[string]bool)
	for _, l := range labels {
		if st != stack.All && labelStack(l, byID) != st {
			continue
		}
		ls = append(ls, l)
		if r, ok := byID[l.RepositoryID]; ok && !taken[l.RepositoryID] {
			taken[l.RepositoryID] = true
			rs = append(rs, r)
		}
	}
	return ls, rs
}
