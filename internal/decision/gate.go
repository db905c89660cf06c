package decision

import (
	"math"
	"strings"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// Gate validates canonical decisions and decides whether they may run
// without a human.
type Gate struct {
	Threshold            float64
	MinExplanationLength int
}

// Verdict is a validated decision plus its gating outcome.
type Verdict struct {
	Decision       models.CanonicalDecision
	RequiresReview bool
	CanAutoExecute bool
}

// Evaluate checks d against the canonical schema. Confidence outside [0,1] is
// clamped and rounded to two decimals rather than rejected.
func (g Gate) Evaluate(d models.CanonicalDecision) (Verdict, error) {
	d.Decision = models.DecisionKind(strings.TrimSpace(string(d.Decision)))
	d.Priority = models.Priority(strings.TrimSpace(string(d.Priority)))
	d.Explanation = strings.TrimSpace(d.Explanation)

	if !d.Decision.Valid() {
		return Verdict{}, apperr.New(apperr.KindInvalidDecision,
			"decision %q must be one of CREATE_WORK_ORDER, WAIT, SEND_NOTIFICATION", d.Decision)
	}
	if !d.Priority.Valid() {
		return Verdict{}, apperr.New(apperr.KindInvalidDecision,
			"priority %q must be one of Low, Medium, High", d.Priority)
	}
	if math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0) {
		return Verdict{}, apperr.New(apperr.KindInvalidDecision, "confidence is not a finite number")
	}
	if d.Explanation == "" || len([]rune(d.Explanation)) < g.MinExplanationLength {
		return Verdict{}, apperr.New(apperr.KindInvalidDecision,
			"explanation must be at least %d characters", g.MinExplanationLength)
	}

	d.Confidence = roundConfidence(d.Confidence)
	review := d.Confidence < g.Threshold
	return Verdict{Decision: d, RequiresReview: review, CanAutoExecute: !review}, nil
}

func roundConfidence(c float64) float64 {
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}
