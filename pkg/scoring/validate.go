package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// resultValidate checks ScoreResult against its struct tags.
var resultValidate = validator.New(validator.WithRequiredStructEnabled())

// ValidateResult checks a result against the output contract: field ranges
// and enumerations, plus the block-sum consistency of the total.
func ValidateResult(res *ScoreResult) error {
	if res == nil {
		return errors.New("score result is nil")
	}
	if err := resultValidate.Struct(res); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid score result: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid score result: %w", err)
	}

	sum := 0.0
	for _, b := range res.Blocks {
		sum += b.Score
	}
	// block scores are rounded individually
	if math.Abs(sum-res.TotalScore) > 0.01*float64(len(res.Blocks)+1) {
		return fmt.Errorf("invalid score result: block scores sum to %.2f, total is %.2f", sum, res.TotalScore)
	}
	return nil
}
