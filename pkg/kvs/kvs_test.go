package kvs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client)
}

type record struct {
	Hash      string `json:"hash"`
	VersionID string `json:"versionId"`
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := record{Hash: "abc123", VersionID: "v-007"}
	require.NoError(t, store.Set(ctx, "bot-1", "nlu/meta", in))

	var out record
	require.NoError(t, store.Get(ctx, "bot-1", "nlu/meta", &out))
	assert.Equal(t, in, out)
}

func TestStore_MissingKey(t *testing.T) {
	store := newTestStore(t)

	var out record
	err := store.Get(context.Background(), "bot-1", "nope", &out)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStore_KeysAreBotScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bot-1", "counter", 7))

	var out int
	err := store.Get(ctx, "bot-2", "counter", &out)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.Get(ctx, "bot-1", "counter", &out))
	assert.Equal(t, 7, out)
}

func TestStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bot-1", "meta", record{Hash: "old"}))
	require.NoError(t, store.Set(ctx, "bot-1", "meta", record{Hash: "new"}))

	var out record
	require.NoError(t, store.Get(ctx, "bot-1", "meta", &out))
	assert.Equal(t, "new", out.Hash)
}
