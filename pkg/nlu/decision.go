package nlu

import (
	"math"
	"strconv"
	"strings"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// maxConfidenceSentinel stands in for an unset or invalid upper bound so a
// misconfigured threshold degrades to "always match" rather than silently
// rejecting every intent.
const maxConfidenceSentinel = 10000

// Understanding wraps one extraction result with the bot's calibration
// thresholds so dialog logic can ask "is this intent X with enough
// confidence" without repeating the threshold math. The value is immutable,
// computed once per extraction.
type Understanding struct {
	Result        *models.ExtractionResult
	MinConfidence float64
	MaxConfidence float64
}

// NewUnderstanding builds an Understanding from the raw configured
// thresholds. The bounds are parsed permissively: values that are not finite
// non-negative numbers fall back to 0 and the sentinel respectively.
func NewUnderstanding(result *models.ExtractionResult, minConfidence, maxConfidence string) Understanding {
	return Understanding{
		Result:        result,
		MinConfidence: parseConfidence(minConfidence, 0),
		MaxConfidence: parseConfidence(maxConfidence, maxConfidenceSentinel),
	}
}

func parseConfidence(raw string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fallback
	}
	return value
}

// ConfidentEnough reports whether the elected intent's confidence lies
// within [MinConfidence, MaxConfidence]. A missing election counts as
// confidence 1 so threshold-free bots always match.
func (u Understanding) ConfidentEnough() bool {
	confidence := 1.0
	if u.Result != nil && u.Result.Intent.Name != "" {
		confidence = u.Result.Intent.Confidence
	}
	return confidence >= u.MinConfidence && confidence <= u.MaxConfidence
}

// IsIntent reports whether the elected intent matches name exactly
// (case-insensitive) with enough confidence.
func (u Understanding) IsIntent(name string) bool {
	if u.Result == nil || !u.ConfidentEnough() {
		return false
	}
	return strings.EqualFold(u.Result.Intent.Name, name)
}

// IntentStartsWith reports whether the elected intent name begins with
// prefix (case-insensitive) with enough confidence.
func (u Understanding) IntentStartsWith(prefix string) bool {
	if u.Result == nil || !u.ConfidentEnough() {
		return false
	}
	return strings.HasPrefix(strings.ToLower(u.Result.Intent.Name), strings.ToLower(prefix))
}

// Ensure Understanding satisfies the event-side contract at compile time.
var _ models.IntentDecider = Understanding{}

// HasIntent reports whether name appears anywhere in the full ranked list,
// regardless of the confidence gate. Existence, not election.
func (u Understanding) HasIntent(name string) bool {
	if u.Result == nil {
		return false
	}
	for _, intent := range u.Result.Intents {
		if strings.EqualFold(intent.Name, name) {
			return true
		}
	}
	return false
}
