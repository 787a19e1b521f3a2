package surface

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
)

// CheckRunRenderer produces CI check data from a ScoreResult.
type CheckRunRenderer struct{}

func (r *CheckRunRenderer) Render(w io.Writer, result *scoring.ScoreResult) error {
	data := r.BuildCheckRunData(result)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// BuildCheckRunData creates the CheckRunData struct from a ScoreResult.
func (r *CheckRunRenderer) BuildCheckRunData(result *scoring.ScoreResult) CheckRunData {
	return CheckRunData{
		Title:      fmt.Sprintf("Readiness: %s (%.1f / %.0f)", result.Category, result.TotalScore, scoring.TotalPoints),
		Summary:    buildMarkdownSummary(result),
		Conclusion: categoryToConclusion(result.Category, result.DataQualityStatus),
	}
}

func categoryToConclusion(category, quality string) string {
	switch category {
	case scoring.CategoryPerfect, scoring.CategoryExcellent, scoring.CategoryGood:
		if quality == scoring.QualityWarning {
			return "neutral"
		}
		return "success"
	case scoring.CategoryParking:
		return "failure"
	default:
		return "neutral"
	}
}

func buildMarkdownSummary(result *scoring.ScoreResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## %s: %.1f / %.0f (%s)\n\n", result.RepositoryID, result.TotalScore, scoring.TotalPoints, result.Category)
	fmt.Fprintf(&sb, "Stack `%s`, rubric `%s`, data coverage %.0f%%.\n\n",
		result.StackProfile, result.ConfigVersion, result.DataCoveragePercent)

	sb.WriteString("### Blocks\n\n")
	sb.WriteString("| Block | Score | Max | Known |\n|-------|-------|-----|-------|\n")
	for _, b := range result.Blocks {
		if !b.Participating {
			fmt.Fprintf(&sb, "| %s | n/a | %.0f | n/a |\n", b.ID, b.MaxPoints)
			continue
		}
		fmt.Fprintf(&sb, "| %s | %.1f | %.0f | %.0f%% |\n", b.ID, b.Score, b.MaxPoints, b.CoveragePercent)
	}
	sb.WriteString("\n")

	if len(result.DataQualityWarnings) > 0 {
		sb.WriteString("### Data quality\n\n")
		for _, warn := range result.DataQualityWarnings {
			fmt.Fprintf(&sb, "- :warning: %s\n", warn)
		}
		sb.WriteString("\n")
	}

	// Gaps (max 5)
	if gaps := TopGaps(result, 5); len(gaps) > 0 {
		sb.WriteString("### Largest gaps\n\n")
		for _, g := range gaps {
			icon := ":yellow_circle:"
			if g.Criterion.Status == evidence.StatusUnknown {
				icon = ":white_circle:"
			}
			fmt.Fprintf(&sb, "- %s **%s** (-%.1f)", icon, g.Criterion.ID, g.Lost)
			if g.Criterion.Note != "" {
				fmt.Fprintf(&sb, ": %s", g.Criterion.Note)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
