package tuning

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// WeightChange is the proposed weight of one criterion.
type WeightChange struct {
	CriterionID string  `json:"criterion_id"`
	Block       string  `json:"block"`
	Multiplier  float64 `json:"multiplier"`
	OldWeight   float64 `json:"old_weight"`
	NewWeight   float64 `json:"new_weight"`
	Delta       float64 `json:"delta"`
}

// Comparison holds objective values before and after a patch.
type Comparison struct {
	Before Metrics `json:"before"`
	After  Metrics `json:"after"`
}

// Patch is a proposed, unapplied change to a rubric's weights. It carries no
// timestamps so that identical inputs produce byte-identical patches.
type Patch struct {
	BaseVersion string         `json:"base_version"`
	Changes     []WeightChange `json:"changes"`
	Iterations  int            `json:"iterations"`
	InSample    Comparison     `json:"in_sample"`
	HoldOut     *Comparison    `json:"holdout,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool { return len(p.Changes) == 0 }

// Deltas maps criterion ids to weight deltas.
func (p *Patch) Deltas() map[string]float64 {
	out := make(map[string]float64, len(p.Changes))
	for _, c := range p.Changes {
		out[c.CriterionID] = c.Delta
	}
	return out
}

// Apply returns a copy of cfg with the patch's weights. cfg is not modified.
// The patch must have been computed against the same rubric version.
func (p *Patch) Apply(cfg *scoring.Config) (*scoring.Config, error) {
	if cfg.Version != p.BaseVersion {
		return nil, fmt.Errorf("patch was computed against rubric %q, got %q", p.BaseVersion, cfg.Version)
	}
	out := cfg.Clone()
	touched := make(map[string]bool)
	for _, c := range p.Changes {
		found := false
		for i := range out.Criteria {
			if out.Criteria[i].ID == c.CriterionID {
				out.Criteria[i].Weight = c.NewWeight
				touched[out.Criteria[i].Block] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("patch references unknown criterion %s", c.CriterionID)
		}
	}
	// absorb rounding in the stored weights
	for _, b := range out.Blocks {
		if touched[b.ID] {
			out.NormalizeBlock(b.ID)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("patched rubric: %w", err)
	}
	return out, nil
}

// Save writes the patch as indented JSON.
func (p *Patch) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	return scoring.WriteFileAtomic(path, append(data, '\n'))
}

// LoadPatch reads a patch written by Save.
func LoadPatch(path string) (*Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	return &p, nil
}
