package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/readyscore/readyscore/pkg/evidence"
)

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ParseConfig decodes a rubric. JSON is detected by a leading brace; anything
// else is read as YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	trimmed := strings.TrimSpace(string(data))
	var err error
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing scoring config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and validates a rubric file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scoring config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigOrDefault reads a rubric file. An empty path or a missing file
// yields the built-in rubric.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// MarshalConfig encodes cfg as JSON when asJSON is set, YAML otherwise.
func MarshalConfig(cfg *Config, asJSON bool) ([]byte, error) {
	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return yaml.Marshal(cfg)
}

// SaveConfigAtomic writes cfg to path by writing a temporary file in the same
// directory and renaming it over the target, so readers see either the old
// or the new rubric in full. The format follows the file extension.
func SaveConfigAtomic(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := MarshalConfig(cfg, isJSON(path))
	if err != nil {
		return fmt.Errorf("encoding scoring config: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic replaces path with data via temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteResults writes score results as an indented JSON array. Nothing is
// written if any result fails ValidateResult.
func WriteResults(path string, results []*ScoreResult) error {
	for _, res := range results {
		if err := ValidateResult(res); err != nil {
			if res != nil {
				return fmt.Errorf("%s: %w", res.RepositoryID, err)
			}
			return err
		}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// LoadResults reads a JSON array of score results.
func LoadResults(path string) ([]*ScoreResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	var results []*ScoreResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parsing results: %w", err)
	}
	return results, nil
}

// EvidenceFromResult reconstructs the evidence records a result was scored
// from, so a labelled results file can be re-scored under another rubric.
// Unusable methods and confidences are restored as reported, so demoted
// records stay demoted. Criteria for which no record was supplied are
// omitted.
func EvidenceFromResult(res *ScoreResult) []evidence.Record {
	var out []evidence.Record
	for _, c := range res.Criteria {
		if c.ReportedStatus == "" {
			continue
		}
		note := ""
		if c.ReportedStatus == c.Status {
			note = c.Note
		}
		rec := evidence.Record{
			CriterionID: c.ID,
			RawValue:    c.RawValue,
			Status:      c.ReportedStatus,
			Method:      c.Method,
			Confidence:  c.Confidence,
			Note:        note,
		}
		if c.ReportedMethod != "" {
			rec.Method = c.ReportedMethod
		}
		if c.ReportedConfidence != nil {
			rec.Confidence = *c.ReportedConfidence
		}
		out = append(out, rec)
	}
	return out
}
