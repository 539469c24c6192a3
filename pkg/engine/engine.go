// Package engine owns the shared NLU infrastructure and hands out one
// orchestrator per bot. The classifier, language identifier and phrase
// extraction client are process-wide; storage and rate limiting are scoped
// to the bot.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/config"
	"github.com/ekaya-inc/nlu-engine/pkg/database"
	"github.com/ekaya-inc/nlu-engine/pkg/duckling"
	"github.com/ekaya-inc/nlu-engine/pkg/fasttext"
	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
	"github.com/ekaya-inc/nlu-engine/pkg/nlu"
	"github.com/ekaya-inc/nlu-engine/pkg/recast"
	"github.com/ekaya-inc/nlu-engine/pkg/repositories"
)

// Engine builds and caches per-bot orchestrators over shared components.
type Engine struct {
	cfg        *config.Config
	db         *database.DB
	kvs        kvs.Store
	classifier *fasttext.Classifier
	langID     *fasttext.LanguageIdentifier
	entities   *duckling.Client
	logger     *zap.Logger

	mu            sync.Mutex
	orchestrators map[string]*nlu.Orchestrator
}

// New wires the shared components from configuration. The database handle
// and kvs store are owned by the caller.
func New(cfg *config.Config, db *database.DB, store kvs.Store, logger *zap.Logger) *Engine {
	classifier := fasttext.NewClassifier(
		cfg.NLU.Native.FastTextBin,
		cfg.NLU.Native.LearningRate,
		cfg.NLU.Native.Epochs,
		logger,
	)

	return &Engine{
		cfg:           cfg,
		db:            db,
		kvs:           store,
		classifier:    classifier,
		langID:        fasttext.NewLanguageIdentifier(classifier, cfg.NLU.Native.LanguageModelPath),
		entities:      duckling.NewClient(cfg.NLU.Native.DucklingURL, cfg.NLU.Native.DucklingEnabled, logger),
		logger:        logger.Named("engine"),
		orchestrators: map[string]*nlu.Orchestrator{},
	}
}

// ForBot returns the orchestrator for botID, constructing and initializing
// it on first use. Construction fails fast on provider misconfiguration.
func (e *Engine) ForBot(ctx context.Context, botID string) (*nlu.Orchestrator, error) {
	e.mu.Lock()
	if orch, ok := e.orchestrators[botID]; ok {
		e.mu.Unlock()
		return orch, nil
	}
	e.mu.Unlock()

	orch, err := e.buildOrchestrator(botID)
	if err != nil {
		return nil, err
	}
	if err := orch.Init(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another caller may have won the race; keep the initialized one.
	if existing, ok := e.orchestrators[botID]; ok {
		return existing, nil
	}
	e.orchestrators[botID] = orch
	return orch, nil
}

func (e *Engine) buildOrchestrator(botID string) (*nlu.Orchestrator, error) {
	storage := repositories.NewBotStorage(e.db, botID)

	var corpus nlu.CorpusClient
	if e.cfg.NLU.Provider == nlu.ProviderRecast {
		corpus = recast.NewClient(&e.cfg.NLU.Recast, e.logger)
	}

	provider, err := nlu.NewProvider(&e.cfg.NLU, nlu.ProviderDeps{
		BotID:      botID,
		Storage:    storage,
		KVS:        e.kvs,
		Classifier: e.classifier,
		LangID:     e.langID,
		Entities:   e.entities,
		Corpus:     corpus,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}

	limiter := nlu.NewRateLimiter(botID, e.kvs, e.cfg.NLU.MaximumRequestsPerHour, e.logger)
	return nlu.NewOrchestrator(botID, provider, limiter, &e.cfg.NLU, e.logger), nil
}
