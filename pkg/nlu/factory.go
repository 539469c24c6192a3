package nlu

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/config"
	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
)

// ProviderDeps carries the shared collaborators a provider variant may need.
// The classifier, language identifier and entity extractor are constructed
// once at startup and shared across bots; storage and the kvs handle are
// bot-scoped.
type ProviderDeps struct {
	BotID      string
	Storage    Storage
	KVS        kvs.Store
	Classifier Classifier
	LangID     LanguageIdentifier
	Entities   SystemEntityExtractor
	Corpus     CorpusClient
	Logger     *zap.Logger
}

// NewProvider instantiates the provider selected by configuration. An
// unknown or empty provider key is a configuration error and fatal at
// construction time.
func NewProvider(cfg *config.NLUConfig, deps ProviderDeps) (Provider, error) {
	switch cfg.Provider {
	case ProviderNative:
		return NewNativeProvider(NativeOptions{
			BotID:           deps.BotID,
			Storage:         deps.Storage,
			Classifier:      deps.Classifier,
			LangID:          deps.LangID,
			Entities:        deps.Entities,
			Languages:       cfg.Languages,
			DefaultLanguage: cfg.DefaultLanguage,
			ModelDir:        cfg.Native.ModelDir,
			PreloadModels:   cfg.PreloadModels,
			Logger:          deps.Logger,
		}), nil
	case ProviderRecast:
		if deps.Corpus == nil {
			return nil, NewConfigurationError("recast provider requires a corpus client")
		}
		return NewRecastProvider(RecastOptions{
			BotID:   deps.BotID,
			Storage: deps.Storage,
			KVS:     deps.KVS,
			Client:  deps.Corpus,
			Logger:  deps.Logger,
		}), nil
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown NLU provider %q", cfg.Provider))
	}
}
