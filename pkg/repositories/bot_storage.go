package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/nlu-engine/pkg/apperrors"
	"github.com/ekaya-inc/nlu-engine/pkg/database"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// BotStorage is the definition and model store for a single bot. Intent and
// entity definitions are owned by the authoring surface; this subsystem only
// reads them. Model records are written here during sync and never mutated.
type BotStorage struct {
	db    *database.DB
	botID string
}

// NewBotStorage creates a storage handle scoped to one bot.
func NewBotStorage(db *database.DB, botID string) *BotStorage {
	return &BotStorage{db: db, botID: botID}
}

// GetIntents returns all intent definitions for the bot.
func (s *BotStorage) GetIntents(ctx context.Context) ([]models.IntentDefinition, error) {
	query := `
		SELECT name, utterances, slots, contexts
		FROM nlu_intents
		WHERE bot_id = $1
		ORDER BY name`

	rows, err := s.db.Query(ctx, query, s.botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	var intents []models.IntentDefinition
	for rows.Next() {
		var (
			intent         models.IntentDefinition
			utterancesJSON []byte
			slotsJSON      []byte
		)
		if err := rows.Scan(&intent.Name, &utterancesJSON, &slotsJSON, &intent.Contexts); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		if err := json.Unmarshal(utterancesJSON, &intent.Utterances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal utterances for %q: %w", intent.Name, err)
		}
		if len(slotsJSON) > 0 {
			if err := json.Unmarshal(slotsJSON, &intent.Slots); err != nil {
				return nil, fmt.Errorf("failed to unmarshal slots for %q: %w", intent.Name, err)
			}
		}
		intents = append(intents, intent)
	}

	return intents, rows.Err()
}

// GetIntent returns a single intent definition by name. Returns
// apperrors.ErrIntentNotFound when the bot has no intent with that name.
func (s *BotStorage) GetIntent(ctx context.Context, name string) (*models.IntentDefinition, error) {
	query := `
		SELECT name, utterances, slots, contexts
		FROM nlu_intents
		WHERE bot_id = $1 AND name = $2`

	var (
		intent         models.IntentDefinition
		utterancesJSON []byte
		slotsJSON      []byte
	)
	err := s.db.QueryRow(ctx, query, s.botID, name).Scan(&intent.Name, &utterancesJSON, &slotsJSON, &intent.Contexts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query intent %q: %w", name, err)
	}
	if err := json.Unmarshal(utterancesJSON, &intent.Utterances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utterances for %q: %w", name, err)
	}
	if len(slotsJSON) > 0 {
		if err := json.Unmarshal(slotsJSON, &intent.Slots); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slots for %q: %w", name, err)
		}
	}
	return &intent, nil
}

// GetCustomEntities returns all custom entity definitions for the bot.
func (s *BotStorage) GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error) {
	query := `
		SELECT id, name, type, sensitive, occurrences, pattern
		FROM nlu_entities
		WHERE bot_id = $1
		ORDER BY name`

	rows, err := s.db.Query(ctx, query, s.botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []models.EntityDefinition
	for rows.Next() {
		var (
			entity          models.EntityDefinition
			occurrencesJSON []byte
		)
		if err := rows.Scan(&entity.ID, &entity.Name, &entity.Type, &entity.Sensitive, &occurrencesJSON, &entity.Pattern); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if len(occurrencesJSON) > 0 {
			if err := json.Unmarshal(occurrencesJSON, &entity.Occurrences); err != nil {
				return nil, fmt.Errorf("failed to unmarshal occurrences for %q: %w", entity.Name, err)
			}
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// ModelExists reports whether a trained model is stored under the given
// content hash and language.
func (s *BotStorage) ModelExists(ctx context.Context, contentHash, language string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM nlu_models
			WHERE bot_id = $1 AND content_hash = $2 AND language = $3
		)`

	if err := s.db.QueryRow(ctx, query, s.botID, contentHash, language).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check model existence: %w", err)
	}
	return exists, nil
}

// GetModelAsBuffer returns the model blob stored under the given content hash
// and language. Returns apperrors.ErrModelNotFound when no record exists.
func (s *BotStorage) GetModelAsBuffer(ctx context.Context, contentHash, language string) ([]byte, error) {
	var blob []byte
	query := `
		SELECT blob FROM nlu_models
		WHERE bot_id = $1 AND content_hash = $2 AND language = $3
		ORDER BY created_at DESC
		LIMIT 1`

	err := s.db.QueryRow(ctx, query, s.botID, contentHash, language).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s/%s: %w", contentHash, language, err)
	}
	return blob, nil
}

// PersistModel stores a freshly trained model blob under its content hash.
// Records are insert-only; retraining with changed definitions produces a new
// record under a new hash and old records are retained for future reuse.
func (s *BotStorage) PersistModel(ctx context.Context, blob []byte, contentHash, language string) error {
	query := `
		INSERT INTO nlu_models (id, bot_id, content_hash, language, blob, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bot_id, content_hash, language) DO NOTHING`

	_, err := s.db.Exec(ctx, query, uuid.New(), s.botID, contentHash, language, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to persist model %s/%s: %w", contentHash, language, err)
	}
	return nil
}
