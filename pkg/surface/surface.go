// Package surface defines output rendering for readiness score results.
// Implementations handle different output targets: terminal, CI check
// summaries, JSON.
package surface

import (
	"fmt"
	"io"
	"sort"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
)

// Renderer produces formatted output from a ScoreResult.
type Renderer interface {
	// Render writes the formatted score result to the writer.
	Render(w io.Writer, result *scoring.ScoreResult) error
}

// CheckRunData holds the data needed to publish a CI check.
type CheckRunData struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`    // Markdown body
	Conclusion string `json:"conclusion"` // success, neutral, failure
}

// ForFormat returns the renderer for an output format name.
func ForFormat(format string) (Renderer, error) {
	switch format {
	case "", "text", "terminal":
		return &TerminalRenderer{}, nil
	case "json":
		return &JSONRenderer{}, nil
	case "checkrun", "markdown":
		return &CheckRunRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or checkrun)", format)
	}
}

// Gap is a criterion that left points on the table.
type Gap struct {
	Criterion scoring.CriterionResult
	// Lost is MaxContribution minus PointsAwarded.
	Lost float64
}

// TopGaps returns up to n applicable criteria ordered by points lost, then
// by id. Unknown criteria lose their whole contribution.
func TopGaps(result *scoring.ScoreResult, n int) []Gap {
	var gaps []Gap
	for _, c := range result.Criteria {
		if c.Status == evidence.StatusNotApplicable {
			continue
		}
		if lost := c.MaxContribution - c.PointsAwarded; lost > 0.005 {
			gaps = append(gaps, Gap{Criterion: c, Lost: lost})
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Lost != gaps[j].Lost {
			return gaps[i].Lost > gaps[j].Lost
		}
		return gaps[i].Criterion.ID < gaps[j].Criterion.ID
	})
	if n > 0 && len(gaps) > n {
		gaps = gaps[:n]
	}
	return gaps
}
