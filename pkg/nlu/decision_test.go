package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

func resultWith(intents ...models.Intent) *models.ExtractionResult {
	result := &models.ExtractionResult{Intents: intents}
	if len(intents) > 0 {
		result.Intent = intents[0]
	}
	return result
}

func TestConfidentEnough_ClampMonotonicity(t *testing.T) {
	tests := []struct {
		name string
		min, max string
		conf float64
		want bool
	}{
		{"inside range", "0.3", "1", 0.5, true},
		{"at lower bound", "0.5", "1", 0.5, true},
		{"at upper bound", "0", "0.5", 0.5, true},
		{"below min", "0.5", "1", 0.3, false},
		{"above max", "0", "0.4", 0.5, false},
		{"permissive defaults", "", "", 0.01, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUnderstanding(resultWith(models.Intent{Name: "greet", Confidence: tt.conf}), tt.min, tt.max)
			assert.Equal(t, tt.want, u.ConfidentEnough())
		})
	}
}

func TestConfidentEnough_MissingElectionCountsAsFull(t *testing.T) {
	u := NewUnderstanding(resultWith(), "0.5", "1")
	assert.True(t, u.ConfidentEnough())
}

func TestThresholdParsing_Permissive(t *testing.T) {
	u := NewUnderstanding(nil, "not-a-number", "-3")
	assert.Equal(t, 0.0, u.MinConfidence)
	assert.Equal(t, float64(maxConfidenceSentinel), u.MaxConfidence)

	u = NewUnderstanding(nil, "NaN", "Inf")
	assert.Equal(t, 0.0, u.MinConfidence)
	assert.Equal(t, float64(maxConfidenceSentinel), u.MaxConfidence)
}

func TestIsIntent_GatedByConfidence(t *testing.T) {
	u := NewUnderstanding(resultWith(models.Intent{Name: "greet", Confidence: 0.3}), "0.5", "1")

	// Name matches but the election is below the confidence floor.
	assert.False(t, u.IsIntent("greet"))
	assert.False(t, u.IsIntent("GREET"))
}

func TestIsIntent_CaseInsensitive(t *testing.T) {
	u := NewUnderstanding(resultWith(models.Intent{Name: "Greet", Confidence: 0.9}), "0.5", "1")

	assert.True(t, u.IsIntent("greet"))
	assert.True(t, u.IsIntent("GREET"))
	assert.False(t, u.IsIntent("goodbye"))
}

func TestIntentStartsWith(t *testing.T) {
	u := NewUnderstanding(resultWith(models.Intent{Name: "hotel-book-room", Confidence: 0.9}), "0.5", "1")

	assert.True(t, u.IntentStartsWith("hotel-"))
	assert.True(t, u.IntentStartsWith("HOTEL"))
	assert.False(t, u.IntentStartsWith("flight-"))
}

func TestHasIntent_IgnoresConfidenceGate(t *testing.T) {
	u := NewUnderstanding(resultWith(
		models.Intent{Name: "greet", Confidence: 0.3},
		models.Intent{Name: "goodbye", Confidence: 0.1},
	), "0.5", "1")

	// Membership over the full ranked list, not election.
	assert.True(t, u.HasIntent("greet"))
	assert.True(t, u.HasIntent("GOODBYE"))
	assert.False(t, u.HasIntent("order-pizza"))
}

func TestDecision_NilResult(t *testing.T) {
	u := NewUnderstanding(nil, "0.3", "1")

	assert.False(t, u.IsIntent("greet"))
	assert.False(t, u.IntentStartsWith("gr"))
	assert.False(t, u.HasIntent("greet"))
}
