package nlu

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

func TestComputeContentHash_OrderIndependent(t *testing.T) {
	intentsA := []models.IntentDefinition{
		{
			Name:       "book-flight",
			Utterances: map[string][]string{"en": {"book a flight", "fly me to [Paris](city)", "i need a plane ticket"}},
			Slots:      []models.SlotDefinition{
				{Name: "city", Entities: []string{"city", "airport"}, ID: uuid.New(), Color: 3},
			},
			Contexts: []string{"travel", "global"},
		},
		{
			Name:       "greet",
			Utterances: map[string][]string{"en": {"hi", "hello", "hey there"}},
		},
	}

	// Same definitions, every list enumerated in a different order, with
	// different presentation-only slot fields.
	intentsB := []models.IntentDefinition{
		{
			Name:       "greet",
			Utterances: map[string][]string{"en": {"hey there", "hi", "hello"}},
		},
		{
			Name:       "book-flight",
			Utterances: map[string][]string{"en": {"i need a plane ticket", "book a flight", "fly me to [Paris](city)"}},
			Slots:      []models.SlotDefinition{
				{Name: "city", Entities: []string{"airport", "city"}, ID: uuid.New(), Color: 7},
			},
			Contexts: []string{"global", "travel"},
		},
	}

	entitiesA := []models.EntityDefinition{
		{Name: "airport", Type: models.EntityTypeList, Occurrences: []models.EntityOccurrence{
			{Name: "CDG", Synonyms: []string{"charles de gaulle", "paris airport"}},
		}},
	}
	entitiesB := []models.EntityDefinition{
		{Name: "airport", Type: models.EntityTypeList, Occurrences: []models.EntityOccurrence{
			{Name: "CDG", Synonyms: []string{"paris airport", "charles de gaulle"}},
		}},
	}

	assert.Equal(t, ComputeContentHash(intentsA, entitiesA), ComputeContentHash(intentsB, entitiesB))
}

func TestComputeContentHash_ChangesWithContent(t *testing.T) {
	base := []models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{"en": {"hi", "hello"}}},
	}
	changed := []models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{"en": {"hi", "hello", "howdy"}}},
	}

	assert.NotEqual(t, ComputeContentHash(base, nil), ComputeContentHash(changed, nil))
}

func TestComputeContentHash_EntitiesAffectHash(t *testing.T) {
	intents := []models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{"en": {"hi"}}},
	}
	entities := []models.EntityDefinition{
		{Name: "color", Type: models.EntityTypeList},
	}

	assert.NotEqual(t, ComputeContentHash(intents, nil), ComputeContentHash(intents, entities))
}
