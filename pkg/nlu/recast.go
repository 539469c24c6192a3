package nlu

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// recastMetadataKey is the bot-scoped kvs key holding the last successful
// sync fingerprint.
const recastMetadataKey = "nlu/recast/updateMetadata"

// CorpusIntent is one intent as uploaded to the remote corpus.
type CorpusIntent struct {
	Name       string
	Utterances []CorpusUtterance
}

// CorpusUtterance is one flattened training sentence with its entity spans.
type CorpusUtterance struct {
	Text     string
	Entities []CorpusEntitySpan
}

// CorpusEntitySpan references a provider vocabulary name over a text span.
type CorpusEntitySpan struct {
	Name  string
	Start int
	End   int
}

// Gazette is a list entity uploaded as remote lookup vocabulary.
type Gazette struct {
	Name      string
	Values    []string
	Sensitive bool
}

// ParsedIntent is one ranked remote prediction.
type ParsedIntent struct {
	Name       string
	Confidence float64
}

// ParsedEntity is one raw remote entity before normalization.
type ParsedEntity struct {
	Name       string
	Confidence float64
	Value      any
	Unit       string
	Source     string
	Start      int
	End        int
	Raw        any
}

// ParseResponse is the remote parse payload.
type ParseResponse struct {
	Language string
	Intents  []ParsedIntent
	Entities []ParsedEntity
}

// CorpusClient is the remote dialog-corpus service API the recast provider
// drives. Implementations surface remote failures as *Error values so the
// provider can route them (403 already-training, 404 bad corpus, 5xx remote
// failure, connectivity as transient).
type CorpusClient interface {
	ValidateCredentials() error
	// ListVersions returns the remote trained version ids, oldest first.
	ListVersions(ctx context.Context) ([]string, error)
	DeleteCorpus(ctx context.Context) error
	CreateIntents(ctx context.Context, intents []CorpusIntent) error
	CreateGazettes(ctx context.Context, gazettes []Gazette) error
	// TriggerTraining starts a remote training run and returns its version id.
	TriggerTraining(ctx context.Context) (string, error)
	// TrainingStatus reports "training", "trained" or "failed".
	TrainingStatus(ctx context.Context, versionID string) (string, error)
	Parse(ctx context.Context, text, language string) (*ParseResponse, error)
}

// recastSyncMetadata is the cached fingerprint of the last successful sync.
type recastSyncMetadata struct {
	Hash      string `json:"hash"`
	VersionID string `json:"versionId"`
}

// RecastOptions holds the collaborators of a recast provider.
type RecastOptions struct {
	BotID        string
	Storage      Storage
	KVS          kvs.Store
	Client       CorpusClient
	PollInterval time.Duration
	TrainTimeout time.Duration
	Logger       *zap.Logger
}

// RecastProvider keeps a remote dialog-corpus service synchronized with the
// bot's definitions. The model lives server-side; only the content hash and
// remote version id are tracked locally.
type RecastProvider struct {
	botID        string
	storage      Storage
	kvs          kvs.Store
	client       CorpusClient
	pollInterval time.Duration
	trainTimeout time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	state syncState
}

// NewRecastProvider creates a recast provider for one bot.
func NewRecastProvider(opts RecastOptions) *RecastProvider {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.TrainTimeout == 0 {
		// Remote training regularly takes tens of minutes.
		opts.TrainTimeout = 30 * time.Minute
	}
	return &RecastProvider{
		botID:        opts.BotID,
		storage:      opts.Storage,
		kvs:          opts.KVS,
		client:       opts.Client,
		pollInterval: opts.PollInterval,
		trainTimeout: opts.TrainTimeout,
		logger:       opts.Logger.Named("recast").With(zap.String("botId", opts.BotID)),
	}
}

// Name implements Provider.
func (p *RecastProvider) Name() string { return ProviderRecast }

// Init implements Provider.
func (p *RecastProvider) Init(ctx context.Context) error {
	return p.client.ValidateCredentials()
}

// CheckSyncNeeded implements Provider. The fingerprint comparison covers both
// the local content hash and the remote side still listing the synced
// version.
func (p *RecastProvider) CheckSyncNeeded(ctx context.Context) (bool, error) {
	intents, err := p.storage.GetIntents(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch intents: %w", err)
	}
	if len(intents) == 0 {
		return false, nil
	}

	entities, err := p.storage.GetCustomEntities(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch entities: %w", err)
	}

	inSync, err := p.isInSync(ctx, ComputeContentHash(intents, entities))
	if err != nil {
		return false, err
	}
	return !inSync, nil
}

func (p *RecastProvider) isInSync(ctx context.Context, hash string) (bool, error) {
	var metadata recastSyncMetadata
	err := p.kvs.Get(ctx, p.botID, recastMetadataKey, &metadata)
	if err == kvs.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if metadata.Hash != hash {
		return false, nil
	}

	versions, err := p.client.ListVersions(ctx)
	if err != nil {
		return false, err
	}
	return contains(versions, metadata.VersionID), nil
}

// Sync implements Provider. Overlapping calls are rejected with a typed
// in-progress error rather than coalesced: the remote side serializes
// trainings itself and an immediate retry would only hit its 403.
func (p *RecastProvider) Sync(ctx context.Context) error {
	p.mu.Lock()
	if p.state == syncActive {
		p.mu.Unlock()
		p.logger.Warn("tried to sync while a sync is in progress")
		return NewSyncInProgressError("corpus sync already in progress")
	}
	p.state = syncActive
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state = syncIdle
		p.mu.Unlock()
	}()

	if err := p.client.ValidateCredentials(); err != nil {
		return err
	}

	intents, err := p.storage.GetIntents(ctx)
	if err != nil {
		return NewSyncFailedError("failed to fetch intents", err)
	}
	entities, err := p.storage.GetCustomEntities(ctx)
	if err != nil {
		return NewSyncFailedError("failed to fetch entities", err)
	}

	hash := ComputeContentHash(intents, entities)
	if inSync, err := p.isInSync(ctx, hash); err == nil && inSync {
		p.logger.Debug("remote corpus is up to date")
		return nil
	}

	corpus, err := p.buildCorpus(ctx, intents)
	if err != nil {
		return err
	}

	// The remote service has no partial update: the whole corpus is
	// recreated from the local definitions.
	if err := p.client.DeleteCorpus(ctx); err != nil {
		return err
	}
	if err := p.client.CreateIntents(ctx, corpus); err != nil {
		return err
	}
	if gazettes := buildGazettes(entities); len(gazettes) > 0 {
		if err := p.client.CreateGazettes(ctx, gazettes); err != nil {
			return err
		}
	}

	versionID, err := p.trainAndWait(ctx)
	if err != nil {
		return err
	}

	metadata := recastSyncMetadata{Hash: hash, VersionID: versionID}
	if err := p.kvs.Set(ctx, p.botID, recastMetadataKey, metadata); err != nil {
		return NewSyncFailedError("failed to persist sync metadata", err)
	}

	p.logger.Info("remote corpus synced", zap.String("versionId", versionID))
	return nil
}

// buildCorpus flattens the annotated utterances into the remote upload
// shape, resolving each annotation to the provider's vocabulary name.
func (p *RecastProvider) buildCorpus(ctx context.Context, intents []models.IntentDefinition) ([]CorpusIntent, error) {
	available, err := p.GetAvailableEntities(ctx)
	if err != nil {
		return nil, NewSyncFailedError("failed to list available entities", err)
	}

	vocab := make(map[string]string, len(available))
	for _, entity := range available {
		vocab[entity.Name] = entity.NameProvider
	}

	var corpus []CorpusIntent
	for _, intent := range intents {
		corpusIntent := CorpusIntent{Name: intent.Name}
		for _, utterances := range intent.Utterances {
			for _, raw := range utterances {
				parsed := ParseUtterance(raw)
				if parsed.Text == "" {
					continue
				}

				utterance := CorpusUtterance{Text: parsed.Text}
				for _, label := range parsed.Labels {
					vocabName, ok := vocab[label.Type]
					if !ok {
						return nil, NewSyncFailedError(fmt.Sprintf("unknown entity %q in intent %q", label.Type, intent.Name), nil)
					}
					utterance.Entities = append(utterance.Entities, CorpusEntitySpan{
						Name:  vocabName,
						Start: label.Start,
						End:   label.End,
					})
				}
				corpusIntent.Utterances = append(corpusIntent.Utterances, utterance)
			}
		}
		corpus = append(corpus, corpusIntent)
	}
	return corpus, nil
}

func buildGazettes(entities []models.EntityDefinition) []Gazette {
	var gazettes []Gazette
	for _, entity := range entities {
		if entity.Type != models.EntityTypeList {
			continue
		}

		gazette := Gazette{Name: entity.Name, Sensitive: entity.Sensitive}
		for _, occ := range entity.Occurrences {
			gazette.Values = append(gazette.Values, occ.Name)
			gazette.Values = append(gazette.Values, occ.Synonyms...)
		}
		gazettes = append(gazettes, gazette)
	}
	return gazettes
}

func (p *RecastProvider) trainAndWait(ctx context.Context) (string, error) {
	versionID, err := p.client.TriggerTraining(ctx)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(p.trainTimeout)
	for {
		status, err := p.client.TrainingStatus(ctx, versionID)
		if err != nil {
			return "", err
		}

		switch status {
		case "trained":
			return versionID, nil
		case "failed":
			return "", NewSyncFailedError("remote training failed", nil)
		}

		if time.Now().After(deadline) {
			return "", NewSyncFailedError("remote training timed out", nil)
		}

		select {
		case <-time.After(p.pollInterval):
		case <-ctx.Done():
			return "", NewSyncFailedError("remote training interrupted", ctx.Err())
		}
	}
}

// Extract implements Provider. When no synced version is cached the provider
// self-heals by adopting the most recent remote version; when none exists at
// all it kicks off an asynchronous sync and degrades the current call.
func (p *RecastProvider) Extract(ctx context.Context, text, language string) (*models.ExtractionResult, error) {
	if err := p.client.ValidateCredentials(); err != nil {
		p.logger.Warn("skipping extraction, provider is not configured properly", zap.Error(err))
		return DefaultResult(ProviderRecast, language), nil
	}

	var metadata recastSyncMetadata
	err := p.kvs.Get(ctx, p.botID, recastMetadataKey, &metadata)
	if err != nil && err != kvs.ErrKeyNotFound {
		return nil, NewTransientError("failed to read sync metadata", err)
	}

	if metadata.VersionID == "" {
		if healed, ok := p.adoptLatestVersion(ctx); ok {
			metadata.VersionID = healed
			// Record the adopted version, leaving the hash empty so the next
			// sync check still reports stale and repairs the metadata. Without
			// this every extract repeats the version listing.
			if err := p.kvs.Set(ctx, p.botID, recastMetadataKey, metadata); err != nil {
				p.logger.Warn("failed to record adopted version", zap.Error(err))
			}
		} else {
			p.logger.Warn("no trained version available, triggering background sync")
			go func() {
				if err := p.Sync(context.Background()); err != nil {
					p.logger.Error("background sync failed", zap.Error(err))
				}
			}()
			return DefaultResult(ProviderRecast, language), nil
		}
	}

	resp, err := p.client.Parse(ctx, text, language)
	if err != nil {
		return nil, err
	}

	return p.mergeResult(language, resp), nil
}

// adoptLatestVersion picks the highest remote version id as a stand-in for a
// missing sync record. Version ids are assumed to sort lexicographically into
// chronological order, which holds only for zero-padded ids; a proper sync
// should be re-run to repair the metadata.
func (p *RecastProvider) adoptLatestVersion(ctx context.Context) (string, bool) {
	versions, err := p.client.ListVersions(ctx)
	if err != nil || len(versions) == 0 {
		return "", false
	}

	sorted := make([]string, len(versions))
	copy(sorted, versions)
	sort.Strings(sorted)

	latest := sorted[len(sorted)-1]
	p.logger.Warn("no synced version cached, adopting most recent remote version; re-run sync",
		zap.String("versionId", latest))
	return latest, true
}

func (p *RecastProvider) mergeResult(language string, resp *ParseResponse) *models.ExtractionResult {
	if resp == nil || len(resp.Intents) == 0 {
		return DefaultResult(ProviderRecast, language)
	}

	intents := make([]models.Intent, 0, len(resp.Intents))
	for _, intent := range resp.Intents {
		intents = append(intents, models.Intent{
			Name:       intent.Name,
			Confidence: intent.Confidence,
			Provider:   ProviderRecast,
		})
	}

	entities := make([]models.Entity, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		entities = append(entities, models.Entity{
			Type: entity.Name,
			Meta: models.EntityMeta{
				Confidence: entity.Confidence,
				Provider:   ProviderRecast,
				Source:     entity.Source,
				Start:      entity.Start,
				End:        entity.End,
				Raw:        entity.Raw,
			},
			Data: models.EntityData{
				Value:  entity.Value,
				Unit:   entity.Unit,
				Extras: map[string]any{},
			},
		})
	}

	elected := language
	if resp.Language != "" {
		elected = resp.Language
	}

	return &models.ExtractionResult{
		Language:         elected,
		DetectedLanguage: resp.Language,
		Intent:           intents[0],
		Intents:          intents,
		Entities:         entities,
		Ambiguous:        isAmbiguous(intents),
	}
}

// GetCustomEntities implements Provider.
func (p *RecastProvider) GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error) {
	return p.storage.GetCustomEntities(ctx)
}

// GetAvailableEntities implements Provider.
func (p *RecastProvider) GetAvailableEntities(ctx context.Context) ([]AvailableEntity, error) {
	custom, err := p.storage.GetCustomEntities(ctx)
	if err != nil {
		return nil, err
	}

	available := CatalogEntitiesFor(ProviderRecast)
	for _, entity := range custom {
		available = append(available, AvailableEntity{
			Name:         entity.Name,
			NameProvider: entity.Name,
		})
	}
	return available, nil
}

// Ensure RecastProvider implements Provider at compile time.
var _ Provider = (*RecastProvider)(nil)
