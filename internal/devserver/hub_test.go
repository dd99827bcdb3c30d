package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"loopline/internal/live"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	controls []int
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("closed") }
func (f *fakeConn) WriteMessage(int, []byte) error { return nil }
func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) WriteControl(mt int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, mt)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestHub_BroadcastReachesEveryConnectionOfUser(t *testing.T) {
	hub := NewHub()
	a, err := hub.Register(1, &fakeConn{})
	require.NoError(t, err)
	b, err := hub.Register(1, &fakeConn{})
	require.NoError(t, err)
	other, err := hub.Register(2, &fakeConn{})
	require.NoError(t, err)

	hub.Broadcast(1, []byte("hello"))

	assert.Equal(t, []byte("hello"), <-a.Send)
	assert.Equal(t, []byte("hello"), <-b.Send)
	assert.Empty(t, other.Send)
	assert.Equal(t, 2, hub.Connected(1))

	_ = hub.Shutdown(context.Background())
}

func TestHub_PerUserLimit(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(3, &fakeConn{})
		require.NoError(t, err)
	}
	_, err := hub.Register(3, &fakeConn{})
	assert.ErrorIs(t, err, ErrUserConnLimit)

	_, err = hub.Register(4, &fakeConn{})
	assert.NoError(t, err, "other users are unaffected")

	_ = hub.Shutdown(context.Background())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(5, &fakeConn{})
	require.NoError(t, err)

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)
	assert.Equal(t, 0, hub.Connected(5))

	c.TrySend([]byte("late"))
	assert.Empty(t, c.Send, "stopped clients drop frames")
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(6, &fakeConn{})
	require.NoError(t, err)

	for i := 0; i < sendBuffer+5; i++ {
		c.TrySend([]byte(fmt.Sprintf("frame %d", i)))
	}
	assert.Len(t, c.Send, sendBuffer)
	assert.Equal(t, []byte("frame 0"), <-c.Send)

	_ = hub.Shutdown(context.Background())
}

func TestHub_ShutdownSendsGoingAway(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	_, err := hub.Register(7, conn)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.True(t, conn.isClosed())
	assert.Len(t, conn.controls, 1)
	assert.Equal(t, 0, hub.Connected(7))

	_, err = hub.Register(7, &fakeConn{})
	assert.ErrorIs(t, err, ErrServerConnLimit, "a closed hub accepts nothing")
	assert.NoError(t, hub.Shutdown(context.Background()))
}

func TestHub_StartWiringDeliversUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	hub := NewHub()
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	c, err := hub.Register(42, &fakeConn{})
	require.NoError(t, err)

	require.NoError(t, n.PublishUser(context.Background(), 42, "payload"))
	require.NoError(t, rdb.Publish(context.Background(), userChannelPrefix+"nope", "ignored").Err())

	assert.Eventually(t, func() bool { return len(c.Send) == 1 }, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, []byte("payload"), <-c.Send)

	_ = hub.Shutdown(context.Background())
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishUser(context.Background(), 1, "x"))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))
}

func TestUserChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		userID   uint
		expected string
	}{
		{1, "notifications:user:1"},
		{100, "notifications:user:100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, UserChannel(tt.userID))
	}
}

func TestPushThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	env := newTestEnv(t, "", rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, env.srv.hub.StartWiring(ctx, env.srv.notifier))

	authorID, author := env.user("broadcaster")
	fanID, fan := env.user("listener")
	_, _ = env.do(http.MethodPost, "/api/users/broadcaster/follow/", fan, nil)

	authorConn, err := env.srv.hub.Register(authorID, &fakeConn{})
	require.NoError(t, err)
	fanConn, err := env.srv.hub.Register(fanID, &fakeConn{})
	require.NoError(t, err)

	p := env.post(author, "breaking news")

	var frame []byte
	require.Eventually(t, func() bool {
		select {
		case frame = <-fanConn.Send:
			return true
		default:
			return false
		}
	}, testEventuallyTimeout, testPollInterval)
	ev, err := live.Decode(frame)
	require.NoError(t, err)
	livePost, ok := ev.(live.LivePostEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, p.ID, livePost.Patch.ID)

	status, _ := env.do(http.MethodPost, fmt.Sprintf("/api/content/%d/%d/like/", p.ContentTypeID, p.ObjectID), fan, nil)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		select {
		case frame = <-authorConn.Send:
			return true
		default:
			return false
		}
	}, testEventuallyTimeout, testPollInterval)
	ev, err = live.Decode(frame)
	require.NoError(t, err)
	note, ok := ev.(live.NotificationEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "listener", note.Notification.Actor.Username)

	_ = env.srv.hub.Shutdown(context.Background())
}

func TestLivePostsFlagOff(t *testing.T) {
	env := newTestEnv(t, "live_posts=off", nil)
	_, author := env.user("quiet")
	fanID, fan := env.user("waiting")
	_, _ = env.do(http.MethodPost, "/api/users/quiet/follow/", fan, nil)

	fanConn, err := env.srv.hub.Register(fanID, &fakeConn{})
	require.NoError(t, err)
	env.post(author, "nobody hears this")

	assert.Empty(t, fanConn.Send)
	_ = env.srv.hub.Shutdown(context.Background())
}

func TestPush_PublishFailureDeliversLocally(t *testing.T) {
	tests := []struct {
		name      string
		redisDown bool
		wantLocal int
	}{
		{"published through redis", false, 0},
		{"redis unavailable", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
			t.Cleanup(func() { _ = rdb.Close() })
			env := newTestEnv(t, "", rdb)

			c, err := env.srv.hub.Register(5, &fakeConn{})
			require.NoError(t, err)
			if tt.redisDown {
				mr.Close()
			}

			env.srv.push(context.Background(), 5, []byte("frame"))
			assert.Len(t, c.Send, tt.wantLocal)
		})
	}
}
