package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/readyscore/readyscore/pkg/stack"
)

// Repository is the collector hand-off for one repository: its evidence
// records in collection order plus the raw stack-detection signals.
type Repository struct {
	ID string `json:"repository_id"`
	// Stack forces a profile; empty or "auto" means classify from Signals.
	Stack    string        `json:"stack,omitempty"`
	Signals  stack.Signals `json:"signals"`
	Evidence []Record      `json:"evidence"`
}

// LoadRepositories reads a JSON file holding either a single repository
// object or an array of them.
func LoadRepositories(path string) ([]Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading repositories: %w", err)
	}
	return ParseRepositories(data)
}

// ParseRepositories decodes one repository object or an array of them.
func ParseRepositories(data []byte) ([]Repository, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var repo Repository
		if err := json.Unmarshal(trimmed, &repo); err != nil {
			return nil, fmt.Errorf("parsing repository: %w", err)
		}
		return []Repository{repo}, nil
	}
	var repos []Repository
	if err := json.Unmarshal(trimmed, &repos); err != nil {
		return nil, fmt.Errorf("parsing repositories: %w", err)
	}
	return repos, nil
}
