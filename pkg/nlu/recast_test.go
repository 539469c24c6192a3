package nlu

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// memoryKVS is an in-process kvs.Store for provider tests.
type memoryKVS struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryKVS() *memoryKVS {
	return &memoryKVS{data: map[string][]byte{}}
}

func (s *memoryKVS) Get(ctx context.Context, botID, key string, out any) error {
	s.mu.Lock()
	raw, ok := s.data[botID+"/"+key]
	s.mu.Unlock()
	if !ok {
		return kvs.ErrKeyNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *memoryKVS) Set(ctx context.Context, botID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[botID+"/"+key] = raw
	s.mu.Unlock()
	return nil
}

// mockCorpusClient is a configurable CorpusClient for provider tests.
type mockCorpusClient struct {
	ValidateCredentialsFunc func() error
	ListVersionsFunc        func(ctx context.Context) ([]string, error)
	DeleteCorpusFunc        func(ctx context.Context) error
	CreateIntentsFunc       func(ctx context.Context, intents []CorpusIntent) error
	CreateGazettesFunc      func(ctx context.Context, gazettes []Gazette) error
	TriggerTrainingFunc     func(ctx context.Context) (string, error)
	TrainingStatusFunc      func(ctx context.Context, versionID string) (string, error)
	ParseFunc               func(ctx context.Context, text, language string) (*ParseResponse, error)

	TriggerTrainingCalls int
	DeleteCorpusCalls    int
	ListVersionsCalls    int
	ParseCalls           int
}

func (m *mockCorpusClient) ValidateCredentials() error {
	if m.ValidateCredentialsFunc != nil {
		return m.ValidateCredentialsFunc()
	}
	return nil
}

func (m *mockCorpusClient) ListVersions(ctx context.Context) ([]string, error) {
	m.ListVersionsCalls++
	if m.ListVersionsFunc != nil {
		return m.ListVersionsFunc(ctx)
	}
	return nil, nil
}

func (m *mockCorpusClient) DeleteCorpus(ctx context.Context) error {
	m.DeleteCorpusCalls++
	if m.DeleteCorpusFunc != nil {
		return m.DeleteCorpusFunc(ctx)
	}
	return nil
}

func (m *mockCorpusClient) CreateIntents(ctx context.Context, intents []CorpusIntent) error {
	if m.CreateIntentsFunc != nil {
		return m.CreateIntentsFunc(ctx, intents)
	}
	return nil
}

func (m *mockCorpusClient) CreateGazettes(ctx context.Context, gazettes []Gazette) error {
	if m.CreateGazettesFunc != nil {
		return m.CreateGazettesFunc(ctx, gazettes)
	}
	return nil
}

func (m *mockCorpusClient) TriggerTraining(ctx context.Context) (string, error) {
	m.TriggerTrainingCalls++
	if m.TriggerTrainingFunc != nil {
		return m.TriggerTrainingFunc(ctx)
	}
	return "v-001", nil
}

func (m *mockCorpusClient) TrainingStatus(ctx context.Context, versionID string) (string, error) {
	if m.TrainingStatusFunc != nil {
		return m.TrainingStatusFunc(ctx, versionID)
	}
	return "trained", nil
}

func (m *mockCorpusClient) Parse(ctx context.Context, text, language string) (*ParseResponse, error) {
	m.ParseCalls++
	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, text, language)
	}
	return &ParseResponse{}, nil
}

func newTestRecast(t *testing.T, storage *MockStorage, client *mockCorpusClient) *RecastProvider {
	t.Helper()
	return NewRecastProvider(RecastOptions{
		BotID:        "bot-1",
		Storage:      storage,
		KVS:          newMemoryKVS(),
		Client:       client,
		PollInterval: time.Millisecond,
		TrainTimeout: time.Second,
		Logger:       zap.NewNop(),
	})
}

func TestRecastSync_UploadsAndRecordsMetadata(t *testing.T) {
	storage := newTestStorage(greetIntents())
	var uploaded []CorpusIntent
	client := &mockCorpusClient{
		CreateIntentsFunc: func(ctx context.Context, intents []CorpusIntent) error {
			uploaded = intents
			return nil
		},
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-001"}, nil
		},
	}
	provider := newTestRecast(t, storage, client)

	require.NoError(t, provider.Sync(context.Background()))

	require.Len(t, uploaded, 1)
	assert.Equal(t, "greet", uploaded[0].Name)
	assert.Len(t, uploaded[0].Utterances, 3)
	assert.Equal(t, 1, client.DeleteCorpusCalls)
	assert.Equal(t, 1, client.TriggerTrainingCalls)

	// The recorded fingerprint makes the next check a no-op.
	needed, err := provider.CheckSyncNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestRecastSync_SecondCallSkipsTraining(t *testing.T) {
	storage := newTestStorage(greetIntents())
	client := &mockCorpusClient{
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-001"}, nil
		},
	}
	provider := newTestRecast(t, storage, client)

	require.NoError(t, provider.Sync(context.Background()))
	require.NoError(t, provider.Sync(context.Background()))
	assert.Equal(t, 1, client.TriggerTrainingCalls)
}

func TestRecastSync_OverlappingCallRejected(t *testing.T) {
	storage := newTestStorage(greetIntents())

	entered := make(chan struct{})
	release := make(chan struct{})
	client := &mockCorpusClient{
		TriggerTrainingFunc: func(ctx context.Context) (string, error) {
			close(entered)
			<-release
			return "v-001", nil
		},
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-001"}, nil
		},
	}
	provider := newTestRecast(t, storage, client)

	done := make(chan error, 1)
	go func() { done <- provider.Sync(context.Background()) }()
	<-entered

	err := provider.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSyncInProgress))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, client.TriggerTrainingCalls)
}

func TestRecastSync_RemoteTrainingFailure(t *testing.T) {
	storage := newTestStorage(greetIntents())
	client := &mockCorpusClient{
		TrainingStatusFunc: func(ctx context.Context, versionID string) (string, error) {
			return "failed", nil
		},
	}
	provider := newTestRecast(t, storage, client)

	err := provider.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSyncFailed))
}

func TestRecastSync_UnknownEntityAnnotation(t *testing.T) {
	storage := newTestStorage([]models.IntentDefinition{
		{Name: "order", Utterances: map[string][]string{"en": {"get me a [margherita](pizza-kind)"}}},
	})
	provider := newTestRecast(t, storage, &mockCorpusClient{})

	err := provider.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSyncFailed))
	assert.Contains(t, err.Error(), "pizza-kind")
}

func TestRecastExtract_RankedIntents(t *testing.T) {
	provider := newTestRecast(t, newTestStorage(greetIntents()), &mockCorpusClient{
		ParseFunc: func(ctx context.Context, text, language string) (*ParseResponse, error) {
			return &ParseResponse{
				Language: "en",
				Intents:  []ParsedIntent{
					{Name: "greet", Confidence: 0.92},
					{Name: "goodbye", Confidence: 0.05},
				},
			}, nil
		},
	})
	require.NoError(t, provider.Sync(context.Background()))

	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, "greet", result.Intent.Name)
	require.Len(t, result.Intents, 2)
	assert.Equal(t, ProviderRecast, result.Intents[0].Provider)
}

func TestRecastExtract_SelfHealsFromRemoteVersions(t *testing.T) {
	client := &mockCorpusClient{
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-003", "v-001", "v-002"}, nil
		},
		ParseFunc: func(ctx context.Context, text, language string) (*ParseResponse, error) {
			return &ParseResponse{Intents: []ParsedIntent{{Name: "greet", Confidence: 0.8}}}, nil
		},
	}
	provider := newTestRecast(t, newTestStorage(greetIntents()), client)

	// No sync has run, so no metadata is cached: extraction adopts the most
	// recent remote version instead of failing.
	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, "greet", result.Intent.Name)
}

func TestRecastExtract_SelfHealedVersionIsRecorded(t *testing.T) {
	client := &mockCorpusClient{
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-001", "v-002"}, nil
		},
		ParseFunc: func(ctx context.Context, text, language string) (*ParseResponse, error) {
			return &ParseResponse{Intents: []ParsedIntent{{Name: "greet", Confidence: 0.8}}}, nil
		},
	}
	store := newMemoryKVS()
	provider := NewRecastProvider(RecastOptions{
		BotID:        "bot-1",
		Storage:      newTestStorage(greetIntents()),
		KVS:          store,
		Client:       client,
		PollInterval: time.Millisecond,
		TrainTimeout: time.Second,
		Logger:       zap.NewNop(),
	})

	_, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, client.ListVersionsCalls)

	// The adopted version is recorded, so the next extract goes straight to
	// parsing instead of listing remote versions again.
	_, err = provider.Extract(context.Background(), "hello again", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, client.ListVersionsCalls)
	assert.Equal(t, 2, client.ParseCalls)

	// The hash stays empty so the next sync check still reports stale.
	var metadata recastSyncMetadata
	require.NoError(t, store.Get(context.Background(), "bot-1", recastMetadataKey, &metadata))
	assert.Equal(t, "v-002", metadata.VersionID)
	assert.Empty(t, metadata.Hash)
}

func TestRecastExtract_NoVersionAnywhereDegrades(t *testing.T) {
	client := &mockCorpusClient{
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return nil, nil
		},
	}
	provider := newTestRecast(t, newTestStorage(greetIntents()), client)

	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, models.NoneIntent, result.Intent.Name)
	assert.Equal(t, 0.0, result.Intent.Confidence)
	assert.Equal(t, 0, client.ParseCalls)
}

func TestRecastExtract_BadCredentialsDegrade(t *testing.T) {
	client := &mockCorpusClient{
		ValidateCredentialsFunc: func() error {
			return NewConfigurationError("recast token is not set")
		},
	}
	provider := newTestRecast(t, newTestStorage(greetIntents()), client)

	result, err := provider.Extract(context.Background(), "hello", "en")
	require.NoError(t, err)

	assert.Equal(t, models.NoneIntent, result.Intent.Name)
	assert.Equal(t, 0, client.ParseCalls)
}

func TestRecastExtract_TransientErrorPropagates(t *testing.T) {
	client := &mockCorpusClient{
		ListVersionsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"v-001"}, nil
		},
		ParseFunc: func(ctx context.Context, text, language string) (*ParseResponse, error) {
			return nil, NewTransientError("corpus service unreachable", nil)
		},
	}
	provider := newTestRecast(t, newTestStorage(greetIntents()), client)

	_, err := provider.Extract(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExtractionTransient))
}

func TestBuildGazettes_ListEntitiesOnly(t *testing.T) {
	gazettes := buildGazettes([]models.EntityDefinition{
		{Name: "topping", Type: models.EntityTypeList, Occurrences: []models.EntityOccurrence{
			{Name: "pepperoni", Synonyms: []string{"spicy salami"}},
			{Name: "mushroom"},
		}},
		{Name: "zipcode", Type: models.EntityTypePattern, Pattern: `\d{5}`},
	})

	require.Len(t, gazettes, 1)
	assert.Equal(t, "topping", gazettes[0].Name)
	assert.ElementsMatch(t, []string{"pepperoni", "spicy salami", "mushroom"}, gazettes[0].Values)
}
