package app

import (
	"context"
	"net"
	"testing"
	"time"

	"loopline/internal/config"
	"loopline/internal/devserver"
	"loopline/internal/live"
	"loopline/internal/models"
	"loopline/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// startDevserver runs a devserver on a loopback port, backed by in-memory
// SQLite and miniredis, and returns its address.
func startDevserver(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := devserver.Connect(devserver.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)

	srv, err := devserver.NewServer(config.Default(), db, rdb)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, ln.Addr().String()
}

func newClient(t *testing.T, addr string) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.APIBaseURL = "http://" + addr + "/api"
	cfg.ActivityURL = "ws://" + addr + "/ws/activity/"
	rt, err := New(cfg, Options{Store: session.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func signUp(t *testing.T, rt *Runtime, username string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rt.Auth.Register(ctx, models.Registration{
		Username: username, Password1: "correct-horse", Password2: "correct-horse",
	}))
	rt.connectLive(ctx)
	u, ok := rt.Auth.User()
	require.True(t, ok)
	return u.ID
}

func feedIDs(rt *Runtime) []int64 {
	var ids []int64
	for _, p := range rt.Feed.Posts() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestRuntimeAgainstDevserver(t *testing.T) {
	srv, addr := startDevserver(t)
	ctx := context.Background()

	reader := newClient(t, addr)
	followed := newClient(t, addr)
	stranger := newClient(t, addr)

	readerID := signUp(t, reader, "reader")
	followedID := signUp(t, followed, "followed")
	signUp(t, stranger, "stranger")

	require.Eventually(t, func() bool {
		return srv.ActiveConnections(uint(readerID)) == 1 && srv.ActiveConnections(uint(followedID)) == 1
	}, waitFor, tick)
	assert.Equal(t, live.StateConnected, reader.Live.State())

	require.NoError(t, reader.Profile.Follow(ctx, "followed"))

	p, err := followed.Feed.Create(ctx, models.NewPost{Content: "visible to followers"})
	require.NoError(t, err)
	q, err := stranger.Feed.Create(ctx, models.NewPost{Content: "nobody follows me"})
	require.NoError(t, err)

	t.Run("feed holds followed authors only", func(t *testing.T) {
		require.NoError(t, reader.Refresh(ctx))
		ids := feedIDs(reader)
		assert.Contains(t, ids, p.ID)
		assert.NotContains(t, ids, q.ID)
	})

	t.Run("new posts arrive live", func(t *testing.T) {
		fresh, err := followed.Feed.Create(ctx, models.NewPost{Content: "hot off the press"})
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			ids := feedIDs(reader)
			return len(ids) > 0 && ids[0] == fresh.ID
		}, waitFor, tick)
	})

	t.Run("likes notify the author live", func(t *testing.T) {
		require.NoError(t, reader.Feed.ToggleLike(ctx, p.ID))
		assert.Eventually(t, func() bool {
			for _, n := range followed.Notifications.Items() {
				if n.NotificationType == models.NotificationLike && n.Actor.Username == "reader" {
					return true
				}
			}
			return false
		}, waitFor, tick)
	})

	t.Run("logout purges every container", func(t *testing.T) {
		require.NotEmpty(t, reader.Feed.Posts())
		require.NoError(t, reader.Logout(ctx))

		assert.False(t, reader.Session.Authenticated())
		assert.Empty(t, reader.Feed.Posts())
		assert.Empty(t, reader.Notifications.Items())
		assert.Zero(t, reader.Cache.Len())
		assert.Equal(t, live.StateDisconnected, reader.Live.State())
		assert.Eventually(t, func() bool {
			return srv.ActiveConnections(uint(readerID)) == 0
		}, waitFor, tick)

		err := reader.Refresh(ctx)
		assert.ErrorIs(t, err, models.ErrNoCredential)
	})
}

func TestNewDefaultsToMemorySession(t *testing.T) {
	cfg := config.Default()
	rt, err := New(cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	_, isMemory := rt.store.(*session.MemoryStore)
	assert.True(t, isMemory)
	assert.False(t, rt.Session.Authenticated())

	ok, err := rt.Init(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "nothing to restore")
}
