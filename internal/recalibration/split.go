package recalibration

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// splitGroups are always produced by Split; other stacks only when asked.
var splitGroups = []struct {
	name    string
	profile stack.Profile
}{
	{"python_backend", stack.PythonBackend},
	{"python_fullstack_react", stack.PythonFullstackReact},
	{"django_templates", stack.PythonDjangoTemplates},
}

// SplitSummary describes the per-stack label sheets written by Split.
type SplitSummary struct {
	Profile     string            `json:"profile"`
	GeneratedAt string            `json:"generated_at"`
	Groups      map[string]int    `json:"groups"`
	Files       map[string]string `json:"files"`
	// MissingRepos lists labelled repositories whose stack could not be
	// determined from either the sheet or the results.
	MissingRepos []string `json:"missing_repos"`
}

// Split writes one label sheet per stack group under labels/by_stack. A
// row's stack is its stack_tag, falling back to the stack its result was
// scored under. Stacks outside the default groups are written only when
// includeAdditional is set.
func (m *Manager) Split(ctx context.Context, name string, results []*scoring.ScoreResult, includeAdditional bool) (*SplitSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(ctx, Slugify(name))
	if err != nil {
		return nil, err
	}
	if p.State == StateCreated {
		return nil, &TransitionError{Profile: p.Slug, Op: ActionSplit, State: p.State}
	}
	rows, err := m.readLabels(ctx, p.Slug)
	if err != nil {
		return nil, err
	}

	resultStack := make(map[string]stack.Profile, len(results))
	for _, r := range results {
		if r != nil {
			resultStack[r.RepositoryID] = r.StackProfile
		}
	}

	groupOf := make(map[stack.Profile]string, len(splitGroups))
	for _, g := range splitGroups {
		groupOf[g.profile] = g.name
	}

	byGroup := make(map[string][]calibration.ScaffoldRow)
	missing := make(map[string]bool)
	for _, row := range rows {
		st := row.StackTag
		if st == "" {
			st = resultStack[row.RepositoryID]
		}
		if st == "" {
			missing[row.RepositoryID] = true
			continue
		}
		group, ok := groupOf[st]
		if !ok {
			if !includeAdditional {
				continue
			}
			group = string(st)
		}
		byGroup[group] = append(byGroup[group], row)
	}

	summary := &SplitSummary{
		Profile:      p.Slug,
		GeneratedAt:  m.now().UTC().Format("2006-01-02T15:04:05Z"),
		Groups:       make(map[string]int),
		Files:        make(map[string]string),
		MissingRepos: []string{},
	}
	names := make([]string, 0, len(byGroup))
	for g := range byGroup {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		key := profileKey(p.Slug, "labels/by_stack/golden_set_"+g+".csv")
		var buf bytes.Buffer
		if err := calibration.WriteScaffold(&buf, byGroup[g]); err != nil {
			return nil, fmt.Errorf("encoding %s labels: %w", g, err)
		}
		if err := m.store.Put(ctx, key, buf.Bytes()); err != nil {
			return nil, fmt.Errorf("writing %s labels: %w", g, err)
		}
		summary.Groups[g] = len(byGroup[g])
		summary.Files[g] = m.store.Locate(key)
	}
	for id := range missing {
		summary.MissingRepos = append(summary.MissingRepos, id)
	}
	sort.Strings(summary.MissingRepos)

	if err := m.putJSON(ctx, profileKey(p.Slug, keySplitSummary), summary); err != nil {
		return nil, err
	}
	m.logger.Info("labels split by stack", "profile", p.Slug, "groups", summary.Groups, "missing", len(summary.MissingRepos))
	m.observe(ActionSplit)
	return summary, nil
}
