package nlu

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/nlu-engine/pkg/fasttext"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

const (
	// MinUtterancesForTraining excludes intents with too few examples for a
	// language from that language's training set.
	MinUtterancesForTraining = 3

	// ambiguityRange flags results whose ranked confidences all sit within
	// +/- this distance of the perfect-confusion median.
	ambiguityRange = 0.1

	predictTopN = 10
)

// Classifier is the trainable-classifier capability the native provider
// depends on.
type Classifier interface {
	Train(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error)
	Predict(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error)
}

// LanguageIdentifier detects the language of one text.
type LanguageIdentifier interface {
	Identify(ctx context.Context, text string) ([]fasttext.Prediction, error)
}

// SystemEntityExtractor extracts system entities (dates, numbers, units).
type SystemEntityExtractor interface {
	Extract(ctx context.Context, text, language string) ([]models.Entity, error)
}

// syncState makes the single-flight guard explicit.
type syncState int

const (
	syncIdle syncState = iota
	syncActive
)

// NativeOptions holds the collaborators of a native provider.
type NativeOptions struct {
	BotID           string
	Storage         Storage
	Classifier      Classifier
	LangID          LanguageIdentifier
	Entities        SystemEntityExtractor
	Languages       []string
	DefaultLanguage string
	ModelDir        string
	PreloadModels   bool
	Logger          *zap.Logger
}

// NativeProvider runs a local classifier with a content-addressed model
// cache. Training happens at most once per distinct definition set; later
// syncs with unchanged definitions are pure cache loads.
type NativeProvider struct {
	botID           string
	storage         Storage
	classifier      Classifier
	langID          LanguageIdentifier
	entities        SystemEntityExtractor
	languages       []string
	defaultLanguage string
	modelDir        string
	preloadModels   bool
	logger          *zap.Logger

	mu          sync.Mutex
	state       syncState
	syncPending bool
	currentHash string
	modelPaths  map[string]string // language -> materialized model file
}

// NewNativeProvider creates a native provider for one bot.
func NewNativeProvider(opts NativeOptions) *NativeProvider {
	return &NativeProvider{
		botID:           opts.BotID,
		storage:         opts.Storage,
		classifier:      opts.Classifier,
		langID:          opts.LangID,
		entities:        opts.Entities,
		languages:       opts.Languages,
		defaultLanguage: opts.DefaultLanguage,
		modelDir:        opts.ModelDir,
		preloadModels:   opts.PreloadModels,
		logger:          opts.Logger.Named("native").With(zap.String("botId", opts.BotID)),
	}
}

// Name implements Provider.
func (p *NativeProvider) Name() string { return ProviderNative }

// Init implements Provider. When preloading is enabled it brings the model up
// to date immediately; otherwise the first sync happens on demand.
func (p *NativeProvider) Init(ctx context.Context) error {
	if !p.preloadModels {
		return nil
	}

	needed, err := p.CheckSyncNeeded(ctx)
	if err != nil {
		return err
	}
	if needed {
		return p.Sync(ctx)
	}
	return nil
}

// CheckSyncNeeded implements Provider. Pure comparison of the fresh content
// hash against the currently loaded one.
func (p *NativeProvider) CheckSyncNeeded(ctx context.Context) (bool, error) {
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

	hash := ComputeContentHash(intents, entities)

	p.mu.Lock()
	defer p.mu.Unlock()
	return hash != p.currentHash, nil
}

// Sync implements Provider. A call overlapping an in-flight sync schedules
// one follow-up pass and returns immediately, so definition edits made while
// training are picked up without duplicating the expensive work.
func (p *NativeProvider) Sync(ctx context.Context) error {
	p.mu.Lock()
	if p.state == syncActive {
		p.syncPending = true
		p.mu.Unlock()
		p.logger.Warn("sync already in progress, coalescing into the running pass")
		return nil
	}
	p.state = syncActive
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state = syncIdle
		p.mu.Unlock()
	}()

	for {
		err := p.syncOnce(ctx)

		p.mu.Lock()
		rerun := p.syncPending
		p.syncPending = false
		p.mu.Unlock()

		if err != nil {
			return err
		}
		if !rerun {
			return nil
		}
		p.logger.Info("definitions changed during training, running one more sync pass")
	}
}

// syncOnce is one train-or-load pass over the current definition snapshot.
func (p *NativeProvider) syncOnce(ctx context.Context) error {
	intents, err := p.storage.GetIntents(ctx)
	if err != nil {
		return NewSyncFailedError("failed to fetch intents", err)
	}
	if len(intents) == 0 {
		p.logger.Debug("no intents defined, nothing to train")
		return nil
	}

	entities, err := p.storage.GetCustomEntities(ctx)
	if err != nil {
		return NewSyncFailedError("failed to fetch entities", err)
	}

	hash := ComputeContentHash(intents, entities)
	paths := make(map[string]string)

	for _, lang := range p.trainingLanguages(intents) {
		exists, err := p.storage.ModelExists(ctx, hash, lang)
		if err != nil {
			return NewSyncFailedError("failed to check model cache", err)
		}

		if exists {
			path, err := p.loadCachedModel(ctx, hash, lang)
			if err != nil {
				return NewSyncFailedError(fmt.Sprintf("failed to load cached model for %s", lang), err)
			}
			p.logger.Info("restored model from cache",
				zap.String("hash", hash), zap.String("language", lang))
			paths[lang] = path
			continue
		}

		path, err := p.trainLanguage(ctx, intents, hash, lang)
		if err != nil {
			// The previously loaded model, if any, stays in place and a
			// later CheckSyncNeeded still reports stale.
			return NewSyncFailedError(fmt.Sprintf("training failed for %s", lang), err)
		}
		p.logger.Info("trained and persisted new model",
			zap.String("hash", hash), zap.String("language", lang))
		paths[lang] = path
	}

	p.mu.Lock()
	p.currentHash = hash
	p.modelPaths = paths
	p.mu.Unlock()
	return nil
}

// trainingLanguages returns the configured languages that have at least one
// trainable intent.
func (p *NativeProvider) trainingLanguages(intents []models.IntentDefinition) []string {
	var out []string
	for _, lang := range p.languages {
		for _, intent := range intents {
			if len(intent.Utterances[lang]) >= MinUtterancesForTraining {
				out = append(out, lang)
				break
			}
		}
	}
	return out
}

func (p *NativeProvider) loadCachedModel(ctx context.Context, hash, lang string) (string, error) {
	blob, err := p.storage.GetModelAsBuffer(ctx, hash, lang)
	if err != nil {
		return "", err
	}

	path := fasttext.TempModelStem(p.modelDir, p.botID, hash) + "-" + lang + ".bin"
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", fmt.Errorf("failed to materialize model file: %w", err)
	}
	return path, nil
}

func (p *NativeProvider) trainLanguage(ctx context.Context, intents []models.IntentDefinition, hash, lang string) (string, error) {
	var examples []fasttext.LabeledExample
	for _, intent := range intents {
		utterances := intent.Utterances[lang]
		if len(utterances) < MinUtterancesForTraining {
			continue
		}
		for _, raw := range utterances {
			parsed := ParseUtterance(raw)
			examples = append(examples, fasttext.LabeledExample{
				Label: intent.Name,
				Text:  strings.ToLower(parsed.Text),
			})
		}
	}

	stem := fasttext.TempModelStem(p.modelDir, p.botID, hash) + "-" + lang
	modelFile, err := p.classifier.Train(ctx, examples, stem)
	if err != nil {
		return "", err
	}

	blob, err := os.ReadFile(modelFile)
	if err != nil {
		return "", fmt.Errorf("failed to read trained model: %w", err)
	}
	if err := p.storage.PersistModel(ctx, blob, hash, lang); err != nil {
		return "", err
	}
	return modelFile, nil
}

// Extract implements Provider. Language detection, entity extraction and
// intent prediction have no data dependency and run concurrently; a failing
// branch must not cancel the others, so each branch owns its error handling.
func (p *NativeProvider) Extract(ctx context.Context, text, language string) (*models.ExtractionResult, error) {
	predictLang := language
	if predictLang == "" {
		predictLang = p.defaultLanguage
	}

	var (
		detected       string
		electedLang    = predictLang
		entities       []models.Entity
		predictions    []fasttext.Prediction
		entitiesFailed bool
	)

	// No errgroup.WithContext here: a failing branch must not cancel its
	// siblings, each one degrades on its own.
	var g errgroup.Group

	if language == "" && p.langID != nil {
		g.Go(func() error {
			// Detection failure falls back to the default language.
			results, err := p.langID.Identify(ctx, text)
			if err != nil {
				p.logger.Warn("language detection failed", zap.Error(err))
				return nil
			}
			detected, electedLang = p.electLanguage(text, results)
			return nil
		})
	}

	g.Go(func() error {
		// Entity extraction failures are swallowed: entities are an
		// enrichment, not a prerequisite.
		extracted, err := p.entities.Extract(ctx, text, predictLang)
		if err != nil {
			p.logger.Warn("entity extraction failed", zap.Error(err))
			entitiesFailed = true
			return nil
		}
		entities = extracted
		return nil
	})

	g.Go(func() error {
		// A missing model is a configuration error, not a transient fault:
		// classification failures propagate.
		p.mu.Lock()
		modelPath, ok := p.modelPaths[predictLang]
		p.mu.Unlock()
		if !ok {
			return NewFatalError(fmt.Sprintf("no model loaded for language %q", predictLang), nil)
		}

		results, err := p.classifier.Predict(ctx, modelPath, strings.ToLower(text), predictTopN)
		if err != nil {
			return NewFatalError("intent prediction failed", err)
		}
		predictions = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := p.mergeResult(electedLang, detected, predictions, entities)
	result.Errored = entitiesFailed
	return result, nil
}

// electLanguage picks the supported detected language when its confidence
// clears the threshold, falling back to the default language. Single-word
// messages get a lower bar because detection confidence is always weak there.
func (p *NativeProvider) electLanguage(text string, results []fasttext.Prediction) (detected, elected string) {
	threshold := 0.5
	if len(strings.Fields(text)) <= 1 {
		threshold = 0.3
	}

	for _, result := range results {
		if !contains(p.languages, result.Label) {
			continue
		}
		if result.Probability > threshold {
			return result.Label, result.Label
		}
		return result.Label, p.defaultLanguage
	}

	p.logger.Debug("detected language is not supported, falling back",
		zap.String("fallback", p.defaultLanguage))
	return "", p.defaultLanguage
}

func (p *NativeProvider) mergeResult(language, detected string, predictions []fasttext.Prediction, entities []models.Entity) *models.ExtractionResult {
	if len(predictions) == 0 {
		result := DefaultResult(ProviderNative, language)
		result.DetectedLanguage = detected
		result.Entities = entities
		return result
	}

	intents := make([]models.Intent, 0, len(predictions))
	for _, prediction := range predictions {
		intents = append(intents, models.Intent{
			Name:       prediction.Label,
			Confidence: prediction.Probability,
			Provider:   ProviderNative,
		})
	}

	if entities == nil {
		entities = []models.Entity{}
	}

	return &models.ExtractionResult{
		Language:         language,
		DetectedLanguage: detected,
		Intent:           intents[0],
		Intents:          intents,
		Entities:         entities,
		Ambiguous:        isAmbiguous(intents),
	}
}

// isAmbiguous reports whether every ranked confidence sits within the
// ambiguity range of the perfect-confusion median.
func isAmbiguous(intents []models.Intent) bool {
	if len(intents) <= 1 {
		return false
	}

	median := 1 / float64(len(intents))
	lower, upper := median-ambiguityRange, median+ambiguityRange
	for _, intent := range intents {
		if intent.Confidence < lower || intent.Confidence > upper {
			return false
		}
	}
	return true
}

// GetCustomEntities implements Provider.
func (p *NativeProvider) GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error) {
	return p.storage.GetCustomEntities(ctx)
}

// GetAvailableEntities implements Provider.
func (p *NativeProvider) GetAvailableEntities(ctx context.Context) ([]AvailableEntity, error) {
	custom, err := p.storage.GetCustomEntities(ctx)
	if err != nil {
		return nil, err
	}

	available := CatalogEntitiesFor(ProviderNative)
	for _, entity := range custom {
		available = append(available, AvailableEntity{
			Name:         entity.Name,
			NameProvider: entity.Name,
		})
	}
	return available, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// Ensure NativeProvider implements Provider at compile time.
var _ Provider = (*NativeProvider)(nil)
