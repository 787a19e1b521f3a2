package calibration

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// Label sources.
const (
	SourceExpert      = "expert"
	SourceManual      = "manual_required"
	SourceProvisional = "provisional_autofill"
)

// Label is a human-assigned ground-truth score for one repository.
type Label struct {
	RepositoryID string        `json:"repository_id"`
	ExpertScore  float64       `json:"expert_score"`
	StackTag     stack.Profile `json:"stack_tag,omitempty"`
	Source       string        `json:"label_source,omitempty"`
	Notes        string        `json:"notes,omitempty"`
}

// Provisional reports whether the score was auto-filled from the model
// rather than assigned by a person.
func (l Label) Provisional() bool { return l.Source == SourceProvisional }

// ScaffoldRow is one line of a golden-set labelling sheet. Rows without an
// expert score are waiting for a reviewer.
type ScaffoldRow struct {
	Label
	Labelled            bool
	ModelScore          float64
	DataQualityStatus   string
	DataCoveragePercent float64
	Category            string
}

var scaffoldHeader = []string{
	"repository_id",
	"expert_score",
	"stack_tag",
	"model_score",
	"data_quality_status",
	"data_coverage_percent",
	"category",
	"label_source",
	"notes",
}

// ReadScaffold parses a labelling sheet. Only repository_id (or its older
// name "repo") and expert_score are required columns.
func ReadScaffold(r io.Reader) ([]ScaffoldRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("labels csv has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("reading labels header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name == "repo" {
			if _, ok := cols["repository_id"]; ok {
				continue
			}
			name = "repository_id"
		}
		cols[name] = i
	}
	if _, ok := cols["repository_id"]; !ok {
		return nil, errors.New("labels csv must contain a repository_id column")
	}
	if _, ok := cols["expert_score"]; !ok {
		return nil, errors.New("labels csv must contain an expert_score column")
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []ScaffoldRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading labels: %w", err)
		}

		row := ScaffoldRow{
			Label: Label{
				RepositoryID: field(rec, "repository_id"),
				Source:       field(rec, "label_source"),
				Notes:        field(rec, "notes"),
			},
			DataQualityStatus: field(rec, "data_quality_status"),
			Category:          field(rec, "category"),
		}
		if row.RepositoryID == "" {
			continue
		}
		if raw := field(rec, "expert_score"); raw != "" {
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: expert_score %q is not a number", line, raw)
			}
			if score < 0 || score > scoring.TotalPoints {
				return nil, fmt.Errorf("line %d: expert_score %.2f outside [0, %.0f]", line, score, scoring.TotalPoints)
			}
			row.ExpertScore = score
			row.Labelled = true
		}
		if raw := field(rec, "stack_tag"); raw != "" {
			p, err := stack.ParseProfile(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row.StackTag = p
		}
		// informational columns; a hand-edited sheet may leave them blank
		row.ModelScore, _ = strconv.ParseFloat(field(rec, "model_score"), 64)
		row.DataCoveragePercent, _ = strconv.ParseFloat(field(rec, "data_coverage_percent"), 64)
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadScaffold reads a labelling sheet from disk.
func LoadScaffold(path string) ([]ScaffoldRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening labels: %w", err)
	}
	defer f.Close()

	rows, err := ReadScaffold(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// LoadLabels reads the labelled rows of a sheet. Rows with a blank
// expert_score are skipped. A missing source counts as an expert label.
func LoadLabels(path string) ([]Label, error) {
	rows, err := LoadScaffold(path)
	if err != nil {
		return nil, err
	}
	return Labels(rows), nil
}

// Labels extracts the labelled rows of a sheet.
func Labels(rows []ScaffoldRow) []Label {
	var out []Label
	for _, r := range rows {
		if !r.Labelled {
			continue
		}
		l := r.Label
		if l.Source == "" || l.Source == SourceManual {
			l.Source = SourceExpert
		}
		out = append(out, l)
	}
	return out
}

// WriteScaffold writes rows as a labelling sheet.
func WriteScaffold(w io.Writer, rows []ScaffoldRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(scaffoldHeader); err != nil {
		return err
	}
	for _, r := range rows {
		expert := ""
		if r.Labelled {
			expert = strconv.FormatFloat(r.ExpertScore, 'f', -1, 64)
		}
		rec := []string{
			r.RepositoryID,
			expert,
			string(r.StackTag),
			strconv.FormatFloat(r.ModelScore, 'f', 2, 64),
			r.DataQualityStatus,
			strconv.FormatFloat(r.DataCoveragePercent, 'f', 2, 64),
			r.Category,
			r.Source,
			r.Notes,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveScaffold atomically writes a labelling sheet to path.
func SaveScaffold(path string, rows []ScaffoldRow) error {
	var buf bytes.Buffer
	if err := WriteScaffold(&buf, rows); err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	return scoring.WriteFileAtomic(path, buf.Bytes())
}
