package nlu

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/config"
	"github.com/ekaya-inc/nlu-engine/pkg/logging"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
	"github.com/ekaya-inc/nlu-engine/pkg/retry"
)

// Orchestrator is the per-bot entry point of the NLU pipeline. It owns the
// provider instance, the hourly rate limiter and the calibration thresholds,
// and is the only component the message pipeline talks to.
type Orchestrator struct {
	botID    string
	provider Provider
	limiter  *RateLimiter
	cfg      *config.NLUConfig
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewOrchestrator wires an orchestrator for one bot around an instantiated
// provider.
func NewOrchestrator(botID string, provider Provider, limiter *RateLimiter, cfg *config.NLUConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		botID:    botID,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		retryCfg: retry.DefaultConfig(),
		logger:   logger.Named("orchestrator").With(zap.String("botId", botID)),
	}
}

// Init performs the provider's one-time setup, including an initial sync
// when the check reports staleness.
func (o *Orchestrator) Init(ctx context.Context) error {
	return o.provider.Init(ctx)
}

// Provider exposes the underlying provider, mainly so admin surfaces can
// trigger a sync on demand.
func (o *Orchestrator) Provider() Provider {
	return o.provider
}

// ProcessEvent runs one message event through extraction and attaches the
// result plus the confidence helpers to it. Lifecycle events pass through
// untouched. An event without a language is handed to the provider as-is so
// its own detection and election run; a requested language pins extraction.
// Extraction failures after retries are soft: the event continues without
// NLU annotations.
func (o *Orchestrator) ProcessEvent(ctx context.Context, event *models.Event) error {
	if event.IsLifecycle() {
		return nil
	}

	if err := o.limiter.Allow(ctx); err != nil {
		return err
	}

	result, err := retry.DoWithResult(ctx, o.retryCfg, func(ctx context.Context) (*models.ExtractionResult, error) {
		return o.provider.Extract(ctx, event.Text, event.Language)
	})
	if err != nil {
		o.logger.Warn("extraction failed after retries, continuing without NLU",
			zap.String("error", logging.SanitizeError(err)),
			zap.String("text", logging.SanitizeUtterance(event.Text)),
			zap.String("provider", o.provider.Name()))
		return nil
	}

	event.NLU = result
	event.Understanding = NewUnderstanding(result, o.cfg.MinimumConfidence, o.cfg.MaximumConfidence)
	return nil
}
