package surface

import (
	"encoding/json"
	"io"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// JSONRenderer marshals ScoreResult to indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(w io.Writer, result *scoring.ScoreResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
