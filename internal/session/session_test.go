package session

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"loopline/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	file, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), "authToken")
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "authToken"),
		"file":   file,
	}
}

func TestStores_SaveLoadDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx)
			assert.ErrorIs(t, err, models.ErrNoCredential)

			require.NoError(t, store.Save(ctx, "tok-1"))
			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", got)

			require.NoError(t, store.Save(ctx, "tok-2"))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", got)

			require.NoError(t, store.Delete(ctx))
			require.NoError(t, store.Delete(ctx), "delete is idempotent")
			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, models.ErrNoCredential)
		})
	}
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisStore(client, "authToken")
	require.NoError(t, store.Save(context.Background(), "abc"))

	val, err := mr.Get("loopline:session:authToken")
	require.NoError(t, err)
	assert.Equal(t, "abc", val)
}

func TestSession_EstablishAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(store)

	var reasons []string
	s.OnLogout(func(_ context.Context, reason string) { reasons = append(reasons, reason) })

	assert.False(t, s.Authenticated())
	assert.ErrorIs(t, s.Establish(ctx, ""), models.ErrNoCredential)

	require.NoError(t, s.Establish(ctx, "tok"))
	s.SetUser(models.User{ID: 4, Username: "ada"})
	assert.True(t, s.Authenticated())
	assert.Equal(t, int64(4), s.UserID())

	s.Clear(ctx, ReasonUser)
	s.Clear(ctx, ReasonUser)

	assert.False(t, s.Authenticated())
	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, []string{ReasonUser}, reasons, "hooks run once per logout")
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrNoCredential)
}

func TestSession_Rehydrate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	found, err := New(store).Rehydrate(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save(ctx, "persisted"))
	s := New(store)
	found, err = s.Rehydrate(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", s.Token())
}

func TestSession_EnsureSessionDetectsExternalRemoval(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(store)

	assert.ErrorIs(t, s.EnsureSession(ctx), models.ErrNoCredential)

	require.NoError(t, s.Establish(ctx, "tok"))
	require.NoError(t, s.EnsureSession(ctx))

	var got string
	s.OnLogout(func(_ context.Context, reason string) { got = reason })

	// another process removes the credential
	require.NoError(t, store.Delete(ctx))

	assert.ErrorIs(t, s.EnsureSession(ctx), models.ErrNoCredential)
	assert.False(t, s.Authenticated())
	assert.Equal(t, ReasonCredentialRemoved, got)
}

func TestFileStore_WatchReportsRemoval(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), "authToken")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "tok"))

	var removed atomic.Int32
	w, err := store.Watch(func() { removed.Add(1) })
	require.NoError(t, err)

	// a rewrite replaces the file but does not remove it
	require.NoError(t, store.Save(ctx, "tok-2"))
	require.NoError(t, os.Remove(store.Path()))

	assert.Eventually(t, func() bool { return removed.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Close())
}
