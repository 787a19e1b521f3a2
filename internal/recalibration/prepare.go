package recalibration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// DefaultSampleSize is the golden-set size used when none is given.
const DefaultSampleSize = 36

// NoteReviewRequired marks auto-filled labels awaiting a reviewer.
const NoteReviewRequired = "review_required"

// PrepareOptions control golden-set selection.
type PrepareOptions struct {
	SampleSize int
	// Autofill writes a provisional estimate into each row.
	Autofill bool
	// Stack restricts selection to results scored under one profile.
	Stack stack.Profile
	// Force overwrites an existing label sheet.
	Force bool
}

// Prepare selects a golden set from results, stratified across the low,
// middle and high thirds of the score distribution, and writes it as the
// profile's label sheet. The profile moves to labels_prepared.
func (m *Manager) Prepare(ctx context.Context, name string, results []*scoring.ScoreResult, opts PrepareOptions) ([]calibration.ScaffoldRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.loadOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.State == StatePromoted {
		return nil, &TransitionError{Profile: p.Slug, Op: ActionPrepare, State: p.State}
	}
	if !opts.Force {
		_, err := m.store.Get(ctx, profileKey(p.Slug, keyLabels))
		if err == nil {
			return nil, fmt.Errorf("%s: %w", p.Slug, ErrLabelsExist)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	size := opts.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	pool := candidates(results, opts.Stack)
	if len(pool) == 0 {
		return nil, &calibration.InsufficientSampleError{Stage: "prepare", Got: 0, Need: 1}
	}
	selected := SelectStratified(pool, size)

	rows := make([]calibration.ScaffoldRow, len(selected))
	for i, res := range selected {
		row := calibration.ScaffoldRow{
			Label: calibration.Label{
				RepositoryID: res.RepositoryID,
				StackTag:     res.StackProfile,
				Source:       calibration.SourceManual,
			},
			ModelScore:          res.TotalScore,
			DataQualityStatus:   res.DataQualityStatus,
			DataCoveragePercent: res.DataCoveragePercent,
			Category:            res.Category,
		}
		if opts.Autofill {
			row.Labelled = true
			row.ExpertScore = EstimateExpertScore(res)
			row.Source = calibration.SourceProvisional
			row.Notes = NoteReviewRequired
		}
		rows[i] = row
	}

	var buf bytes.Buffer
	if err := calibration.WriteScaffold(&buf, rows); err != nil {
		return nil, fmt.Errorf("encoding labels: %w", err)
	}
	if err := m.store.Put(ctx, profileKey(p.Slug, keyLabels), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("writing labels: %w", err)
	}

	p.LabelCount = len(rows)
	if p.State == StateCreated {
		p.State = StateLabelsPrepared
	}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("golden set prepared",
		"profile", p.Slug,
		"rows", len(rows),
		"pool", len(pool),
		"autofill", opts.Autofill,
		"labels", m.store.Locate(profileKey(p.Slug, keyLabels)),
	)
	m.observe(ActionPrepare)
	return rows, nil
}

// PutLabels replaces the profile's label sheet, typically with one a
// reviewer has filled in.
func (m *Manager) PutLabels(ctx context.Context, name string, rows []calibration.ScaffoldRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.loadOrCreate(ctx, name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := calibration.WriteScaffold(&buf, rows); err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	if err := m.store.Put(ctx, profileKey(p.Slug, keyLabels), buf.Bytes()); err != nil {
		return fmt.Errorf("writing labels: %w", err)
	}
	p.LabelCount = len(rows)
	if p.State == StateCreated {
		p.State = StateLabelsPrepared
	}
	return m.save(ctx, p)
}

func (m *Manager) readLabels(ctx context.Context, slug string) ([]calibration.ScaffoldRow, error) {
	data, err := m.store.Get(ctx, profileKey(slug, keyLabels))
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	rows, err := calibration.ReadScaffold(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.store.Locate(profileKey(slug, keyLabels)), err)
	}
	return rows, nil
}

// candidates returns the distinct results eligible for selection, sorted by
// total score and then repository id.
func candidates(results []*scoring.ScoreResult, only stack.Profile) []*scoring.ScoreResult {
	seen := make(map[string]bool, len(results))
	var out []*scoring.ScoreResult
	for _, r := range results {
		if r == nil || r.RepositoryID == "" || seen[r.RepositoryID] {
			continue
		}
		if only != "" && only != stack.All && r.StackProfile != only {
			continue
		}
		seen[r.RepositoryID] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore < out[j].TotalScore
		}
		return out[i].RepositoryID < out[j].RepositoryID
	})
	return out
}

// SelectStratified picks up to size results from pool, which must be sorted
// by score. The pool is cut into thirds and each third contributes an equal
// share of evenly spaced picks. Shortfalls are filled from the remaining
// results in pool order. The selection is returned ordered by repository id.
func SelectStratified(pool []*scoring.ScoreResult, size int) []*scoring.ScoreResult {
	if size >= len(pool) {
		out := append([]*scoring.ScoreResult(nil), pool...)
		sortByID(out)
		return out
	}

	const strata = 3
	n := len(pool)
	picked := make([]bool, n)
	count := 0
	for k := range strata {
		lo, hi := n*k/strata, n*(k+1)/strata
		quota := size*(k+1)/strata - size*k/strata
		width := hi - lo
		if quota > width {
			quota = width
		}
		for j := range quota {
			idx := lo + (2*j+1)*width/(2*quota)
			if !picked[idx] {
				picked[idx] = true
				count++
			}
		}
	}
	for i := 0; i < n && count < size; i++ {
		if !picked[i] {
			picked[i] = true
			count++
		}
	}

	out := make([]*scoring.ScoreResult, 0, size)
	for i, ok := range picked {
		if ok {
			out = append(out, pool[i])
		}
	}
	sortByID(out)
	return out
}

func sortByID(rs []*scoring.ScoreResult) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].RepositoryID < rs[j].RepositoryID })
}

// EstimateExpertScore derives a provisional label from a scored result: the
// model total nudged by data quality and a few headline criteria. Rows
// filled this way are marked provisional and must be reviewed.
func EstimateExpertScore(res *scoring.ScoreResult) float64 {
	adj := 0.0
	switch {
	case res.DataCoveragePercent < 40:
		adj -= 3
	case res.DataQualityStatus == scoring.QualityWarning:
		adj -= 1.5
	}
	switch {
	case res.DataCoveragePercent >= 95:
		adj++
	case res.DataCoveragePercent < 80:
		adj--
	}

	if pts, ok := knownPoints(res, "cicd"); ok && pts >= 1 {
		adj++
	}
	if pts, ok := knownPoints(res, "readme"); ok && pts >= 3 {
		adj++
	}
	if pts, ok := knownPoints(res, "test_coverage"); ok {
		switch {
		case pts >= 4:
			adj += 0.8
		case pts < 2:
			adj -= 0.8
		}
	}
	if pts, ok := knownPoints(res, "vulnerabilities"); ok {
		switch {
		case pts >= 4:
			adj += 0.8
		case pts < 2:
			adj--
		}
	}

	est := math.Max(0, math.Min(scoring.TotalPoints, res.TotalScore+adj))
	return math.Round(est*10) / 10
}

func knownPoints(res *scoring.ScoreResult, id string) (float64, bool) {
	c, ok := res.Criterion(id)
	if !ok || c.Status != evidence.StatusKnown {
		return 0, false
	}
	return c.Points, true
}
