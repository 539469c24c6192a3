package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Intent & Entity Definitions
// ============================================================================

// IntentDefinition is a named class of user purpose, trained from example
// utterances. Definitions are authored externally and are read-only here;
// a sync pass works on the snapshot it fetched.
type IntentDefinition struct {
	Name string `json:"name"`
	// Utterances maps a language code to the raw training sentences for that
	// language. Sentences may carry [span](EntityName) annotations.
	Utterances map[string][]string `json:"utterances"`
	Slots      []SlotDefinition    `json:"slots"`
	Contexts   []string            `json:"contexts"`
}

// SlotDefinition names a typed slot referenced from annotated utterances.
type SlotDefinition struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Entities []string  `json:"entities"`
	Color    int       `json:"color"`
}

// EntityType classifies how a custom entity matches text.
type EntityType string

const (
	EntityTypeSystem  EntityType = "system"
	EntityTypePattern EntityType = "pattern"
	EntityTypeList    EntityType = "list"
)

// EntityDefinition is a custom entity authored for a bot.
type EntityDefinition struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Type        EntityType         `json:"type"`
	Sensitive   bool               `json:"sensitive"`
	Occurrences []EntityOccurrence `json:"occurrences,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
}

// EntityOccurrence is one canonical value of a list entity with its synonyms.
type EntityOccurrence struct {
	Name     string   `json:"name"`
	Synonyms []string `json:"synonyms"`
}

// ============================================================================
// Trained Models
// ============================================================================

// ModelRecord is a trained classifier blob keyed by the content hash of the
// definitions it was trained from. Records are immutable once stored; a
// definition change produces a new record under a new hash and older records
// are retained for reuse.
type ModelRecord struct {
	ID          uuid.UUID `json:"id"`
	BotID       string    `json:"botId"`
	ContentHash string    `json:"contentHash"`
	Language    string    `json:"language"`
	Blob        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ============================================================================
// Extraction Results
// ============================================================================

// NoneIntent is the elected intent name when nothing classified.
const NoneIntent = "None"

// Intent is one ranked prediction.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// EntityMeta carries span and provenance information for an extracted entity.
type EntityMeta struct {
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	Source     string  `json:"source"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Raw        any     `json:"raw,omitempty"`
}

// EntityData is the normalized value of an extracted entity. Provider-specific
// payloads are reduced to this shape at the extraction boundary so downstream
// code stays provider-agnostic.
type EntityData struct {
	Value  any            `json:"value"`
	Unit   string         `json:"unit,omitempty"`
	Extras map[string]any `json:"extras"`
}

// Entity is a typed span of meaning inside text, extracted independently of
// intent.
type Entity struct {
	Type string     `json:"type"`
	Meta EntityMeta `json:"meta"`
	Data EntityData `json:"data"`
}

// ExtractionResult is the transient per-message prediction. It is attached to
// the in-flight event and never persisted.
type ExtractionResult struct {
	// Language is the elected language for the message.
	Language string `json:"language"`
	// DetectedLanguage is what the identifier saw before election, which may
	// differ from Language when detection was unsupported or low-confidence.
	DetectedLanguage string   `json:"detectedLanguage,omitempty"`
	Intent           Intent   `json:"intent"`
	Intents          []Intent `json:"intents"`
	Entities         []Entity `json:"entities"`
	// Ambiguous is set when all ranked confidences crowd the perfect-confusion
	// median.
	Ambiguous bool `json:"ambiguous"`
	// Errored is set when extraction partially failed and the result carries
	// only what could be recovered.
	Errored bool `json:"errored,omitempty"`
}

// ============================================================================
// Rate Window
// ============================================================================

// RateWindow tracks a bot's request budget for the current wall-clock hour.
type RateWindow struct {
	HourBucket   time.Time `json:"hourBucket"`
	RequestCount int       `json:"requestCount"`
}

// ============================================================================
// Events
// ============================================================================

// Lifecycle event types that bypass extraction entirely.
const (
	EventTypeText          = "text"
	EventTypeSessionReset  = "session_reset"
	EventTypeDialogTimeout = "dialog_timeout"
)

// Event is the in-flight message exchanged with the dialog engine. The NLU
// field is populated by the orchestrator on success and left nil on soft
// failure; the event continues through the pipeline either way.
type Event struct {
	BotID   string `json:"botId"`
	Channel string `json:"channel"`
	Target  string `json:"target"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	// Language, when set, requests extraction in that language instead of
	// running detection-based election.
	Language string `json:"language,omitempty"`

	NLU *ExtractionResult `json:"nlu,omitempty"`

	// Understanding carries the confidence-aware intent predicates computed
	// from NLU; nil when the event has no annotation.
	Understanding IntentDecider `json:"-"`
}

// IntentDecider answers confidence-gated questions about an extraction
// result. It is populated alongside Event.NLU so dialog logic never repeats
// the threshold math.
type IntentDecider interface {
	ConfidentEnough() bool
	IsIntent(name string) bool
	IntentStartsWith(prefix string) bool
	HasIntent(name string) bool
}

// IsLifecycle reports whether the event is an internal lifecycle signal that
// must pass through without NLU processing.
func (e *Event) IsLifecycle() bool {
	return e.Type == EventTypeSessionReset || e.Type == EventTypeDialogTimeout
}
