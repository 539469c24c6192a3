package nlu

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// canonicalSlot is the hashed projection of a slot definition. Ids and colors
// are presentation concerns and do not affect the trained model.
type canonicalSlot struct {
	Name     string   `json:"name"`
	Entities []string `json:"entities"`
}

type canonicalIntent struct {
	Name       string              `json:"name"`
	Utterances map[string][]string `json:"utterances"`
	Slots      []canonicalSlot     `json:"slots"`
	Contexts   []string            `json:"contexts"`
}

type canonicalEntity struct {
	Name        string                    `json:"name"`
	Type        models.EntityType         `json:"type"`
	Occurrences []models.EntityOccurrence `json:"occurrences"`
	Pattern     string                    `json:"pattern"`
}

// ComputeContentHash returns the deterministic digest of the full definition
// set. Two definition sets that are set-equal produce the same hash
// regardless of enumeration order, so hash equality implies content equality
// and cached models may be shared across bots or points in time.
func ComputeContentHash(intents []models.IntentDefinition, entities []models.EntityDefinition) string {
	cIntents := make([]canonicalIntent, 0, len(intents))
	for _, intent := range intents {
		cIntents = append(cIntents, canonicalizeIntent(intent))
	}
	sort.Slice(cIntents, func(i, j int) bool { return cIntents[i].Name < cIntents[j].Name })

	cEntities := make([]canonicalEntity, 0, len(entities))
	for _, entity := range entities {
		cEntities = append(cEntities, canonicalizeEntity(entity))
	}
	sort.Slice(cEntities, func(i, j int) bool { return cEntities[i].Name < cEntities[j].Name })

	// Map keys marshal in sorted order, so this serialization is stable.
	payload, _ := json.Marshal(struct {
		Intents  []canonicalIntent `json:"intents"`
		Entities []canonicalEntity `json:"entities"`
	}{cIntents, cEntities})

	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:])
}

func canonicalizeIntent(intent models.IntentDefinition) canonicalIntent {
	utterances := make(map[string][]string, len(intent.Utterances))
	for lang, list := range intent.Utterances {
		utterances[lang] = sortedCopy(list)
	}

	slots := make([]canonicalSlot, 0, len(intent.Slots))
	for _, slot := range intent.Slots {
		slots = append(slots, canonicalSlot{
			Name:     slot.Name,
			Entities: sortedCopy(slot.Entities),
		})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })

	return canonicalIntent{
		Name:       intent.Name,
		Utterances: utterances,
		Slots:      slots,
		Contexts:   sortedCopy(intent.Contexts),
	}
}

func canonicalizeEntity(entity models.EntityDefinition) canonicalEntity {
	occurrences := make([]models.EntityOccurrence, 0, len(entity.Occurrences))
	for _, occ := range entity.Occurrences {
		occurrences = append(occurrences, models.EntityOccurrence{
			Name:     occ.Name,
			Synonyms: sortedCopy(occ.Synonyms),
		})
	}
	sort.Slice(occurrences, func(i, j int) bool { return occurrences[i].Name < occurrences[j].Name })

	return canonicalEntity{
		Name:        entity.Name,
		Type:        entity.Type,
		Occurrences: occurrences,
		Pattern:     entity.Pattern,
	}
}

func sortedCopy(list []string) []string {
	if list == nil {
		return []string{}
	}
	out := make([]string, len(list))
	copy(out, list)
	sort.Strings(out)
	return out
}
