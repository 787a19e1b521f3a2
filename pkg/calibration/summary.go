package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/readyscore/readyscore/pkg/scoring"
)

const topDeltas = 20

// WriteSummary renders a human-readable report: headline metrics, warnings,
// the stack breakdown and the largest disagreements.
func WriteSummary(w io.Writer, title string, r *Report) error {
	var b strings.Builder
	rule := strings.Repeat("=", 72)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, strings.ToUpper(title))
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Sample size:  %d\n", r.SampleSize)
	fmt.Fprintf(&b, "Quality band: %s\n\n", r.Quality)

	fmt.Fprintln(&b, "Metrics:")
	fmt.Fprintf(&b, "  Spearman:  %s\n", optional(r.Spearman))
	fmt.Fprintf(&b, "  Pearson:   %s\n", optional(r.Pearson))
	fmt.Fprintf(&b, "  MAE:       %.2f\n", r.MAE)
	fmt.Fprintf(&b, "  P90 error: %.2f\n\n", r.P90Error)

	if len(r.Warnings) > 0 {
		fmt.Fprintln(&b, "Warnings:")
		for _, msg := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
		fmt.Fprintln(&b)
	}

	if len(r.Stacks) > 0 {
		fmt.Fprintln(&b, "Stack breakdown:")
		for _, s := range r.Stacks {
			if s.Status != StackOK {
				fmt.Fprintf(&b, "  - %s: sample=%d, %s\n", s.Stack, s.SampleSize, s.Status)
				continue
			}
			fmt.Fprintf(&b, "  - %s: sample=%d, quality=%s, spearman=%s, pearson=%s, mae=%.2f, p90=%.2f\n",
				s.Stack, s.SampleSize, s.Quality, optional(s.Spearman), optional(s.Pearson), s.Errors.MAE, s.Errors.P90)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "Top deltas:")
	for _, p := range TopDeltas(r.Pairs, topDeltas) {
		fmt.Fprintf(&b, "  - %s: expert=%.1f model=%.2f delta=%+.2f\n", p.RepositoryID, p.ExpertScore, p.ModelScore, p.Delta)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// TopDeltas returns up to n pairs ordered by absolute delta, largest first.
func TopDeltas(pairs []Pair, n int) []Pair {
	out := append([]Pair(nil), pairs...)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := math.Abs(out[i].Delta), math.Abs(out[j].Delta)
		if di != dj {
			return di > dj
		}
		return out[i].RepositoryID < out[j].RepositoryID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SaveReport writes the report as JSON to prefix.json and its summary to
// prefix.txt.
func SaveReport(prefix, title string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration report: %w", err)
	}
	if err := scoring.WriteFileAtomic(prefix+".json", append(data, '\n')); err != nil {
		return err
	}
	var b strings.Builder
	if err := WriteSummary(&b, title, r); err != nil {
		return err
	}
	return scoring.WriteFileAtomic(prefix+".txt", []byte(b.String()))
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}
