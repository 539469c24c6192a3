package nlu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/fasttext"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// newTestStorage returns a mock storage with a working in-memory model
// cache, so persisted models are visible to later ModelExists/GetModel calls.
func newTestStorage(intents []models.IntentDefinition) *MockStorage {
	var mu sync.Mutex
	cache := map[string][]byte{}
	key := func(hash, lang string) string { return hash + "/" + lang }

	return &MockStorage{
		GetIntentsFunc: func(ctx context.Context) ([]models.IntentDefinition, error) {
			return intents, nil
		},
		ModelExistsFunc: func(ctx context.Context, hash, language string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			_, ok := cache[key(hash, language)]
			return ok, nil
		},
		GetModelAsBufferFunc: func(ctx context.Context, hash, language string) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			return cache[key(hash, language)], nil
		},
		PersistModelFunc: func(ctx context.Context, blob []byte, hash, language string) error {
			mu.Lock()
			defer mu.Unlock()
			cache[key(hash, language)] = blob
			return nil
		},
	}
}

// newTestClassifier returns a mock classifier whose Train writes a real
// model file, matching the external binary's contract.
func newTestClassifier() *MockClassifier {
	return &MockClassifier{
		TrainFunc: func(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error) {
			path := outputStem + ".bin"
			if err := os.WriteFile(path, []byte("model"), 0o600); err != nil {
				return "", err
			}
			return path, nil
		},
	}
}

func newTestNative(t *testing.T, storage *MockStorage, classifier *MockClassifier) *NativeProvider {
	t.Helper()
	return NewNativeProvider(NativeOptions{
		BotID:           "bot-1",
		Storage:         storage,
		Classifier:      classifier,
		Entities:        &MockEntityExtractor{},
		Languages:       []string{"en", "fr"},
		DefaultLanguage: "en",
		ModelDir:        t.TempDir(),
		Logger:          zap.NewNop(),
	})
}

func greetIntents() []models.IntentDefinition {
	return []models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{"en": {"hi", "hello", "hey there"}}},
	}
}

func TestNativeSync_TrainsOnceThenHitsCache(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := newTestClassifier()
	provider := newTestNative(t, storage, classifier)

	require.NoError(t, provider.Sync(context.Background()))
	assert.Equal(t, 1, classifier.TrainCalls)
	assert.Equal(t, 1, storage.PersistModelCalls)

	// Unchanged definitions: a fresh provider instance must load from the
	// cache instead of retraining.
	second := newTestNative(t, storage, classifier)
	require.NoError(t, second.Sync(context.Background()))
	assert.Equal(t, 1, classifier.TrainCalls)
	assert.Equal(t, 1, storage.PersistModelCalls)
}

func TestNativeSync_NoopAfterSuccessfulSync(t *testing.T) {
	storage := newTestStorage(greetIntents())
	provider := newTestNative(t, storage, newTestClassifier())

	require.NoError(t, provider.Sync(context.Background()))

	needed, err := provider.CheckSyncNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestNativeCheckSyncNeeded_ZeroIntents(t *testing.T) {
	storage := newTestStorage(nil)
	provider := newTestNative(t, storage, newTestClassifier())

	needed, err := provider.CheckSyncNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestNativeSync_SingleFlight(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := newTestClassifier()
	provider := newTestNative(t, storage, classifier)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	baseTrain := classifier.TrainFunc
	classifier.TrainFunc = func(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return baseTrain(ctx, examples, outputStem)
	}

	done := make(chan error, 1)
	go func() { done <- provider.Sync(context.Background()) }()
	<-entered

	// The overlapping call coalesces into the running pass and returns
	// immediately without training anything itself.
	require.NoError(t, provider.Sync(context.Background()))
	assert.Equal(t, 1, classifier.TrainCalls)

	close(release)
	require.NoError(t, <-done)

	// The coalesced follow-up pass sees the unchanged hash and loads from
	// cache, so training still ran exactly once.
	assert.Equal(t, 1, classifier.TrainCalls)
}

func TestNativeSync_TrainingFailureKeepsStale(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := &MockClassifier{
		TrainFunc: func(ctx context.Context, examples []fasttext.LabeledExample, outputStem string) (string, error) {
			return "", errors.New("fasttext exited with status 1")
		},
	}
	provider := newTestNative(t, storage, classifier)

	err := provider.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSyncFailed))

	needed, err := provider.CheckSyncNeeded(context.Background())
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestNativeSync_SkipsSparseLanguages(t *testing.T) {
	intents := []models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{
			"en": {"hi", "hello", "hey there"},
			"fr": {"salut"}, // below the minimum utterance count
		}},
	}
	storage := newTestStorage(intents)
	classifier := newTestClassifier()
	provider := newTestNative(t, storage, classifier)

	require.NoError(t, provider.Sync(context.Background()))
	assert.Equal(t, 1, classifier.TrainCalls)
}

func TestNativeExtract_Greet(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := newTestClassifier()
	classifier.PredictFunc = func(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error) {
		return []fasttext.Prediction{{Label: "greet", Probability: 0.97}}, nil
	}
	provider := newTestNative(t, storage, classifier)
	require.NoError(t, provider.Sync(context.Background()))

	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, "greet", result.Intent.Name)
	assert.InDelta(t, 0.97, result.Intent.Confidence, 1e-9)
	assert.Len(t, result.Intents, 1)
	assert.Equal(t, "en", result.Language)
	assert.False(t, result.Ambiguous)
}

func TestNativeExtract_NoModelIsFatal(t *testing.T) {
	provider := newTestNative(t, newTestStorage(greetIntents()), newTestClassifier())

	_, err := provider.Extract(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExtractionFatal))
}

func TestNativeExtract_EntityFailureDegrades(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := newTestClassifier()
	classifier.PredictFunc = func(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error) {
		return []fasttext.Prediction{{Label: "greet", Probability: 0.9}}, nil
	}
	provider := newTestNative(t, storage, classifier)
	provider.entities = &MockEntityExtractor{
		ExtractFunc: func(ctx context.Context, text, language string) ([]models.Entity, error) {
			return nil, fmt.Errorf("duckling unreachable")
		},
	}
	require.NoError(t, provider.Sync(context.Background()))

	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, "greet", result.Intent.Name)
	assert.True(t, result.Errored)
	assert.Empty(t, result.Entities)
}

func TestNativeExtract_LanguageElection(t *testing.T) {
	storage := newTestStorage([]models.IntentDefinition{
		{Name: "greet", Utterances: map[string][]string{
			"en": {"hi", "hello", "hey there"},
			"fr": {"salut", "bonjour", "coucou"},
		}},
	})
	classifier := newTestClassifier()
	classifier.PredictFunc = func(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error) {
		return []fasttext.Prediction{{Label: "greet", Probability: 0.9}}, nil
	}
	provider := newTestNative(t, storage, classifier)
	provider.langID = &MockLangID{
		IdentifyFunc: func(ctx context.Context, text string) ([]fasttext.Prediction, error) {
			return []fasttext.Prediction{{Label: "fr", Probability: 0.92}}, nil
		},
	}
	require.NoError(t, provider.Sync(context.Background()))

	result, err := provider.Extract(context.Background(), "bonjour mon ami", "")
	require.NoError(t, err)

	assert.Equal(t, "fr", result.DetectedLanguage)
	assert.Equal(t, "fr", result.Language)
}

func TestNativeExtract_WeakDetectionFallsBack(t *testing.T) {
	storage := newTestStorage(greetIntents())
	classifier := newTestClassifier()
	classifier.PredictFunc = func(ctx context.Context, modelPath, text string, topN int) ([]fasttext.Prediction, error) {
		return []fasttext.Prediction{{Label: "greet", Probability: 0.9}}, nil
	}
	provider := newTestNative(t, storage, classifier)
	provider.langID = &MockLangID{
		IdentifyFunc: func(ctx context.Context, text string) ([]fasttext.Prediction, error) {
			return []fasttext.Prediction{{Label: "fr", Probability: 0.4}}, nil
		},
	}
	require.NoError(t, provider.Sync(context.Background()))

	result, err := provider.Extract(context.Background(), "word salad here", "")
	require.NoError(t, err)

	// Detection recorded, but the election falls back to the default.
	assert.Equal(t, "fr", result.DetectedLanguage)
	assert.Equal(t, "en", result.Language)
}

func TestIsAmbiguous(t *testing.T) {
	assert.False(t, isAmbiguous([]models.Intent{{Name: "a", Confidence: 0.9}}))

	assert.True(t, isAmbiguous([]models.Intent{
		{Name: "a", Confidence: 0.52},
		{Name: "b", Confidence: 0.48},
	}))

	assert.False(t, isAmbiguous([]models.Intent{
		{Name: "a", Confidence: 0.9},
		{Name: "b", Confidence: 0.1},
	}))
}

func TestNativeGetAvailableEntities_UnionWithCustom(t *testing.T) {
	storage := newTestStorage(greetIntents())
	storage.GetCustomEntitiesFunc = func(ctx context.Context) ([]models.EntityDefinition, error) {
		return []models.EntityDefinition{{Name: "pizza-topping", Type: models.EntityTypeList}}, nil
	}
	provider := newTestNative(t, storage, newTestClassifier())

	available, err := provider.GetAvailableEntities(context.Background())
	require.NoError(t, err)

	names := make(map[string]bool, len(available))
	for _, entity := range available {
		names[entity.Name] = true
	}
	// Built-ins carry the provider prefix; custom entities keep their name.
	assert.True(t, names["@native.time"])
	assert.True(t, names["@native.number"])
	assert.True(t, names["pizza-topping"])
}
