// Package nlu turns free text into a structured prediction (language, ranked
// intents, extracted entities) on behalf of a single bot, keeping a locally
// trained or remotely hosted model synchronized with the bot's mutable intent
// definitions.
package nlu

import (
	"context"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// Storage is the external definition and model store a provider reads from.
// Definitions are immutable for the duration of a sync pass.
type Storage interface {
	GetIntents(ctx context.Context) ([]models.IntentDefinition, error)
	GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error)
	ModelExists(ctx context.Context, contentHash, language string) (bool, error)
	GetModelAsBuffer(ctx context.Context, contentHash, language string) ([]byte, error)
	PersistModel(ctx context.Context, blob []byte, contentHash, language string) error
}

// AvailableEntity is one entity name usable in annotated utterances, either
// from the provider's built-in vocabulary or authored for the bot.
type AvailableEntity struct {
	Name string `json:"name"`
	// IsFromProvider marks catalog entries backed by the provider's own
	// vocabulary rather than a custom definition.
	IsFromProvider bool `json:"isFromProvider"`
	// NameProvider is the provider-specific vocabulary name.
	NameProvider string `json:"nameProvider"`
}

// Provider is an NLU backend for one bot. Implementations know how to decide
// whether resynchronization is needed, perform it, and extract predictions
// from one utterance.
//
// Sync carries single-flight semantics: a call that overlaps an in-flight
// sync on the same instance must short-circuit without side effects, because
// a train/upload cycle can take tens of minutes and must not be duplicated.
type Provider interface {
	// Init performs one-time setup (e.g. load a cached model). Called once
	// per orchestrator lifetime; may itself sync if the check reports
	// staleness.
	Init(ctx context.Context) error

	// CheckSyncNeeded compares a fresh fingerprint of the current intents
	// against whatever model is currently loaded. Pure comparison, no
	// mutation. Always false when there are zero intents.
	CheckSyncNeeded(ctx context.Context) (bool, error)

	// Sync performs (re)training or remote upload.
	Sync(ctx context.Context) error

	// Extract predicts language, intents and entities for one utterance.
	// "Unable to classify" is not an error: it yields the default result.
	// Connectivity errors to a remote backend propagate so the caller's
	// retry policy can act.
	Extract(ctx context.Context, text, language string) (*models.ExtractionResult, error)

	// GetCustomEntities returns entities authored for this provider's
	// vocabulary. Empty for providers without custom-entity support.
	GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error)

	// GetAvailableEntities returns the union of custom entities and the
	// catalog entries this provider's vocabulary supports.
	GetAvailableEntities(ctx context.Context) ([]AvailableEntity, error)

	// Name returns the provider key ("native", "recast", ...).
	Name() string
}

// DefaultResult is the degraded extraction result: a "None" intent with zero
// confidence and nothing extracted.
func DefaultResult(provider, language string) *models.ExtractionResult {
	none := models.Intent{
		Name:       models.NoneIntent,
		Confidence: 0,
		Provider:   provider,
	}
	return &models.ExtractionResult{
		Language: language,
		Intent:   none,
		Intents:  []models.Intent{none},
		Entities: []models.Entity{},
	}
}
