// Package scoring implements the readiness scoring engine. It aggregates
// per-criterion evidence into block scores and a 0-50 total, with stack
// gating, evidence-aware weight renormalization and explicit coverage
// accounting.
package scoring

import (
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/stack"
)

// Data quality status values.
const (
	QualityOK      = "ok"
	QualityWarning = "warning"
)

// Category labels derived from the total score.
const (
	CategoryPerfect          = "perfect"
	CategoryExcellent        = "excellent"
	CategoryGood             = "good"
	CategoryAverage          = "average"
	CategoryParking          = "parking"
	CategoryInsufficientData = "insufficient_data"
)

// ScoreResult is the complete output of scoring one repository. Field names
// are a compatibility contract: evolve additively only.
type ScoreResult struct {
	RepositoryID        string            `json:"repository_id"`
	StackProfile        stack.Profile     `json:"stack_profile" validate:"required"`
	ConfigVersion       string            `json:"config_version"`
	TotalScore          float64           `json:"total_score" validate:"gte=0,lte=50"`
	MaxScore            float64           `json:"max_score" validate:"gte=0,lte=50"`
	DataCoveragePercent float64           `json:"data_coverage_percent" validate:"gte=0,lte=100"`
	DataQualityStatus   string            `json:"data_quality_status" validate:"oneof=ok warning"`
	DataQualityWarnings []string          `json:"data_quality_warnings"`
	Category            string            `json:"category" validate:"required"`
	Blocks              []BlockResult     `json:"blocks" validate:"dive"`
	Criteria            []CriterionResult `json:"criteria" validate:"dive"`
	IgnoredEvidence     []IgnoredEvidence `json:"ignored_evidence,omitempty"`
}

// BlockResult is one block's share of the total.
type BlockResult struct {
	ID        string  `json:"id" validate:"required"`
	MaxPoints float64 `json:"max_points" validate:"gt=0"`
	Score     float64 `json:"score" validate:"gte=0"`
	// CoveragePercent is the known share of applicable weight.
	CoveragePercent float64 `json:"coverage_percent" validate:"gte=0,lte=100"`
	// Participating is false when every criterion of the block is not
	// applicable; such blocks are left out of the coverage average.
	Participating bool `json:"participating"`
	Known         int  `json:"known"`
	Unknown       int  `json:"unknown"`
	NotApplicable int  `json:"not_applicable"`
}

// CriterionResult explains how one criterion contributed to the total.
type CriterionResult struct {
	ID     string          `json:"id" validate:"required"`
	Block  string          `json:"block" validate:"required"`
	Status evidence.Status `json:"status" validate:"oneof=known unknown not_applicable"`
	// ReportedStatus is the collector's status before gating and demotion.
	// Empty when no record was supplied.
	ReportedStatus evidence.Status `json:"reported_status,omitempty"`
	Method         evidence.Method `json:"method" validate:"oneof=measured heuristic"`
	Confidence     float64         `json:"confidence" validate:"gte=0,lte=1"`
	// ReportedMethod and ReportedConfidence keep what the collector sent
	// when it was unusable and replaced above. Unset otherwise.
	ReportedMethod     evidence.Method `json:"reported_method,omitempty"`
	ReportedConfidence *float64        `json:"reported_confidence,omitempty"`
	Note               string          `json:"note,omitempty"`
	RawValue           evidence.Value  `json:"raw_value"`
	Weight             float64         `json:"weight" validate:"gte=0"`
	// EffectiveWeight is the weight after renormalizing over the block's
	// applicable criteria.
	EffectiveWeight float64 `json:"effective_weight" validate:"gte=0,lte=1"`
	MaxPoints       float64 `json:"max_points" validate:"gt=0"`
	// Points is the scoring function's output in [0, MaxPoints].
	Points float64 `json:"points" validate:"gte=0"`
	// PointsAwarded is the contribution to the total score.
	PointsAwarded float64 `json:"points_awarded" validate:"gte=0"`
	// MaxContribution is what PointsAwarded would be at full marks and full
	// confidence.
	MaxContribution float64 `json:"max_contribution" validate:"gte=0"`
}

// IgnoredEvidence records an evidence record the engine did not use.
type IgnoredEvidence struct {
	CriterionID string `json:"criterion_id"`
	Reason      string `json:"reason"`
}

// CategoryFor maps a total score and coverage to a category label.
func CategoryFor(total, coveragePercent float64) string {
	switch {
	case coveragePercent < 40:
		return CategoryInsufficientData
	case total >= 40:
		return CategoryPerfect
	case total >= 30:
		return CategoryExcellent
	case total >= 20:
		return CategoryGood
	case total >= 10:
		return CategoryAverage
	default:
		return CategoryParking
	}
}

// Block returns the named block result.
func (r *ScoreResult) Block(id string) (BlockResult, bool) {
	for _, b := range r.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return BlockResult{}, false
}

// Criterion returns the named criterion result.
func (r *ScoreResult) Criterion(id string) (CriterionResult, bool) {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return CriterionResult{}, false
}
