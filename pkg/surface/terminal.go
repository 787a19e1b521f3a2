package surface

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
)

// TerminalRenderer renders ScoreResult as colored terminal output.
type TerminalRenderer struct{}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func categoryColor(category string) string {
	if noColor() {
		return ""
	}
	switch category {
	case scoring.CategoryPerfect, scoring.CategoryExcellent, scoring.CategoryGood:
		return colorGreen
	case scoring.CategoryAverage, scoring.CategoryInsufficientData:
		return colorYellow
	case scoring.CategoryParking:
		return colorRed
	default:
		return ""
	}
}

func noColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

func bold(s string) string {
	if noColor() {
		return s
	}
	return colorBold + s + colorReset
}

func dim(s string) string {
	if noColor() {
		return s
	}
	return colorDim + s + colorReset
}

func colored(s, color string) string {
	if noColor() || color == "" {
		return s
	}
	return color + s + colorReset
}

// bar draws a fixed-width fill gauge.
func bar(score, limit float64, width int) string {
	filled := 0
	if limit > 0 {
		filled = int(score/limit*float64(width) + 0.5)
	}
	filled = min(max(filled, 0), width)
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

func (r *TerminalRenderer) Render(w io.Writer, result *scoring.ScoreResult) error {
	cc := categoryColor(result.Category)

	// Header
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("%s: %.1f / %.0f (%s)",
		result.RepositoryID, result.TotalScore, scoring.TotalPoints, colored(result.Category, cc))))
	fmt.Fprintf(w, "Stack: %s   Rubric: %s   Coverage: %.0f%%   Reachable: %.0f\n\n",
		result.StackProfile, result.ConfigVersion, result.DataCoveragePercent, result.MaxScore)

	// Blocks
	fmt.Fprintln(w, "Blocks:")
	for _, b := range result.Blocks {
		if !b.Participating {
			fmt.Fprintf(w, "  %-14s %s\n", b.ID, dim("not applicable to this stack"))
			continue
		}
		fmt.Fprintf(w, "  %-14s %5.1f / %-4.0f [%s] %s\n",
			b.ID, b.Score, b.MaxPoints, bar(b.Score, b.MaxPoints, 20),
			dim(fmt.Sprintf("%.0f%% known", b.CoveragePercent)))
	}
	fmt.Fprintln(w)

	if result.DataQualityStatus == scoring.QualityWarning {
		fmt.Fprintln(w, colored("Data quality warnings:", colorYellow))
		for _, warn := range result.DataQualityWarnings {
			fmt.Fprintf(w, "  ! %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	gaps := TopGaps(result, 5)
	if len(gaps) == 0 {
		fmt.Fprintln(w, "No gaps.")
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintln(w, "Largest gaps:")
	for _, g := range gaps {
		c := g.Criterion
		detail := fmt.Sprintf("%.2f of %.2f", c.PointsAwarded, c.MaxContribution)
		if c.Status == evidence.StatusUnknown {
			detail = "no evidence"
		}
		fmt.Fprintf(w, "  (-%.1f) %s %s\n", g.Lost, bold(c.ID), dim(detail))
		if c.Note != "" {
			for _, line := range wrapText(c.Note, 70) {
				fmt.Fprintf(w, "          %s\n", dim(line))
			}
		}
	}
	fmt.Fprintln(w)

	if len(result.IgnoredEvidence) > 0 {
		fmt.Fprintf(w, "%s\n\n", dim(fmt.Sprintf("%d evidence records ignored", len(result.IgnoredEvidence))))
	}
	return nil
}

// wrapText wraps a string at the given width, returning lines.
func wrapText(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]

	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)
	return lines
}
