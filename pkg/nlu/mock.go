package nlu

import (
	"context"

	"github.com/ekaya-inc/nlu-engine/pkg/fasttext"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// MockStorage is a configurable mock for the bot definition storage.
// Set the function fields to control behavior in tests.
type MockStorage struct {
	// GetIntentsFunc is called when GetIntents is invoked.
	// If nil, returns nil slice and nil error.
	GetIntentsFunc func(ctx context.Context) ([]models.IntentDefinition, error)

	// GetCustomEntitiesFunc is called when GetCustomEntities is invoked.
	// If nil, returns nil slice and nil error.
	GetCustomEntitiesFunc func(ctx context.Context) ([]models.EntityDefinition, error)

	// ModelExistsFunc is called when ModelExists is invoked.
	// If nil, returns false and nil error.
	ModelExistsFunc func(ctx context.Context, hash, language string) (bool, error)

	// GetModelAsBufferFunc is called when GetModelAsBuffer is invoked.
	// If nil, returns nil and nil error.
	GetModelAsBufferFunc func(ctx context.Context, hash, language string) ([]byte, error)

	// PersistModelFunc is called when PersistModel is invoked.
	// If nil, returns nil error.
	PersistModelFunc func(ctx context.Context, blob []byte, hash, language string) error

	// Call tracking for verification
	GetIntentsCalls        int
	GetCustomEntitiesCalls int
	ModelExistsCalls       int
	GetModelAsBufferCalls  int
	PersistModelCalls      int
}

// GetIntents implements Storage.
func (m *MockStorage) GetIntents(ctx context.Context) ([]models.IntentDefinition, error) {
	m.GetIntentsCalls++
	if m.GetIntentsFunc != nil {
		return m.GetIntentsFunc(ctx)
	}
	return nil, nil
}

// GetCustomEntities implements Storage.
func (m *MockStorage) GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error) {
	m.GetCustomEntitiesCalls++
	if m.GetCustomEntitiesFunc != nil {
		return m.GetCustomEntitiesFunc(ctx)
	}
	return nil, nil
}

// ModelExists implements Storage.
func (m *MockStorage) ModelExists(ctx context.Context, hash, language string) (bool, error) {
	m.ModelExistsCalls++
	if m.ModelExistsFunc != nil {
		return m.ModelExistsFunc(ctx, hash, language)
	}
	return false, nil
}

// GetModelAsBuffer implements Storage.
func (m *MockStorage) GetModelAsBuffer(ctx context.Context, hash, language string) ([]byte, error) {
	m.GetModelAsBufferCalls++
	if m.GetModelAsBufferFunc != nil {
		return m.GetModelAsBufferFunc(ctx, hash, language)
	}
	return nil, nil
}

// PersistModel implements Storage.
func (m *MockStorage) PersistModel(ctx context.Context, blob []byte, hash, language string) error {
	m.PersistModelCalls++
	if m.PersistModelFunc != nil {
		return m.PersistModelFunc(ctx, blob, hash, language)
	}
	return nil
}

// MockClassifier is a configurable mock for the trainable classifier.
type MockClassifier struct {
	// TrainFunc is called when Train is invoked.
	// If nil, returns outputStem+".bin" and nil error.
	TrainFunc func(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error)

	// PredictFunc is called when Predict is invoked.
	// If nil, returns nil slice and nil error.
	PredictFunc func(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error)

	// Call tracking for verification
	TrainCalls   int
	PredictCalls int
}

// Train implements Classifier.
func (m *MockClassifier) Train(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error) {
	m.TrainCalls++
	if m.TrainFunc != nil {
		return m.TrainFunc(ctx, examples, outputStem)
	}
	return outputStem + ".bin", nil
}

// Predict implements Classifier.
func (m *MockClassifier) Predict(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error) {
	m.PredictCalls++
	if m.PredictFunc != nil {
		return m.PredictFunc(ctx, modelPath, text, topN)
	}
	return nil, nil
}

// MockLangID is a configurable mock for the language identifier.
type MockLangID struct {
	// IdentifyFunc is called when Identify is invoked.
	// If nil, returns nil slice and nil error.
	IdentifyFunc func(ctx context.Context, text string) ([]fasttext.Prediction, error)

	IdentifyCalls int
}

// Identify implements LanguageIdentifier.
func (m *MockLangID) Identify(ctx context.Context, text string) ([]fasttext.Prediction, error) {
	m.IdentifyCalls++
	if m.IdentifyFunc != nil {
		return m.IdentifyFunc(ctx, text)
	}
	return nil, nil
}

// MockEntityExtractor is a configurable mock for the system entity service.
type MockEntityExtractor struct {
	// ExtractFunc is called when Extract is invoked.
	// If nil, returns nil slice and nil error.
	ExtractFunc func(ctx context.Context, text, language string) ([]models.Entity, error)

	ExtractCalls int
}

// Extract implements SystemEntityExtractor.
func (m *MockEntityExtractor) Extract(ctx context.Context, text, language string) ([]models.Entity, error) {
	m.ExtractCalls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text, language)
	}
	return nil, nil
}

// MockProvider is a configurable mock for the provider contract.
type MockProvider struct {
	// InitFunc is called when Init is invoked. If nil, returns nil.
	InitFunc func(ctx context.Context) error

	// CheckSyncNeededFunc is called when CheckSyncNeeded is invoked.
	// If nil, returns false and nil error.
	CheckSyncNeededFunc func(ctx context.Context) (bool, error)

	// SyncFunc is called when Sync is invoked. If nil, returns nil.
	SyncFunc func(ctx context.Context) error

	// ExtractFunc is called when Extract is invoked.
	// If nil, returns a default result for the requested language.
	ExtractFunc func(ctx context.Context, text, language string) (*models.ExtractionResult, error)

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Call tracking for verification
	InitCalls            int
	CheckSyncNeededCalls int
	SyncCalls            int
	ExtractCalls         int
}

// Init implements Provider.
func (m *MockProvider) Init(ctx context.Context) error {
	m.InitCalls++
	if m.InitFunc != nil {
		return m.InitFunc(ctx)
	}
	return nil
}

// CheckSyncNeeded implements Provider.
func (m *MockProvider) CheckSyncNeeded(ctx context.Context) (bool, error) {
	m.CheckSyncNeededCalls++
	if m.CheckSyncNeededFunc != nil {
		return m.CheckSyncNeededFunc(ctx)
	}
	return false, nil
}

// Sync implements Provider.
func (m *MockProvider) Sync(ctx context.Context) error {
	m.SyncCalls++
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx)
	}
	return nil
}

// Extract implements Provider.
func (m *MockProvider) Extract(ctx context.Context, text, language string) (*models.ExtractionResult, error) {
	m.ExtractCalls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text, language)
	}
	return DefaultResult(m.Name(), language), nil
}

// GetCustomEntities implements Provider.
func (m *MockProvider) GetCustomEntities(ctx context.Context) ([]models.EntityDefinition, error) {
	return nil, nil
}

// GetAvailableEntities implements Provider.
func (m *MockProvider) GetAvailableEntities(ctx context.Context) ([]AvailableEntity, error) {
	return nil, nil
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

var (
	_ Storage            = (*MockStorage)(nil)
	_ Classifier         = (*MockClassifier)(nil)
	_ LanguageIdentifier = (*MockLangID)(nil)
	_ SystemEntityExtractor = (*MockEntityExtractor)(nil)
	_ Provider           = (*MockProvider)(nil)
)
