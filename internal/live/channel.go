// Package live maintains the authenticated push connection and routes each
// decoded event to its owning container.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"loopline/internal/models"
	"loopline/internal/observability"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// State of the channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Credentials supplies the session token.
type Credentials interface {
	Token() string
}

// Channel is one push connection. It never reconnects on its own; callers
// decide whether and when to call Connect again.
type Channel struct {
	endpoint string
	creds    Credentials
	handlers Handlers
	dialer   *websocket.Dialer
	log      *observability.ChannelLogger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	done  chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// New creates a disconnected channel for endpoint.
func New(endpoint string, creds Credentials, handlers Handlers, opts ...Option) *Channel {
	c := &Channel{
		endpoint: endpoint,
		creds:    creds,
		handlers: handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      observability.NewChannelLogger("activity"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setStateLocked(s State) {
	c.state = s
	observability.LiveConnectionState.Set(float64(s))
}

// Connect opens the connection. It returns nil without doing anything when
// already connecting or connected, and models.ErrNoCredential when there is
// no session token.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	token := ""
	if c.creds != nil {
		token = c.creds.Token()
	}
	if token == "" {
		c.mu.Unlock()
		return models.ErrNoCredential
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	span, ctx := observability.NewClientSpan(ctx, "live connect", attribute.String("live.endpoint", c.endpoint))
	defer span.End()

	target, err := withToken(c.endpoint, token)
	if err != nil {
		c.abortConnect()
		span.SetError(err)
		return err
	}
	c.log.LogConnect(ctx, c.endpoint)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.abortConnect()
		span.SetError(err)
		c.log.LogError(ctx, err, "dial")
		return models.NewTransientError(0, fmt.Errorf("dial activity channel: %w", err))
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect was called while dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.done = make(chan struct{})
	c.setStateLocked(StateConnected)
	done := c.done
	c.mu.Unlock()

	c.log.LogLifecycle(ctx, "connected", nil)
	go c.readLoop(context.WithoutCancel(ctx), conn, done)
	return nil
}

func (c *Channel) abortConnect() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

func withToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid activity url %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.closed(ctx, conn, err)
			return
		}
		c.handleFrame(ctx, frame)
	}
}

// handleFrame decodes and dispatches one frame. Bad frames are dropped.
func (c *Channel) handleFrame(ctx context.Context, frame []byte) {
	ev, err := Decode(frame)
	if err != nil {
		reason := dropReason(err)
		observability.LiveFramesDropped.WithLabelValues(reason).Inc()
		c.log.LogDropped(ctx, reason, err)
		return
	}
	observability.LiveFrames.WithLabelValues(ev.Type()).Inc()
	c.log.LogFrame(ctx, ev.Type())
	c.dispatch(ctx, ev)
}

func (c *Channel) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.LogError(ctx, fmt.Errorf("handler panic: %v", r), "dispatch "+ev.Type())
		}
	}()
	ev.Dispatch(c.handlers)
}

func (c *Channel) closed(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	if !current {
		return
	}
	_ = conn.Close()
	reason := "closed"
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = err.Error()
	}
	c.log.LogDisconnect(ctx, reason)
}

// Disconnect closes the connection and waits for the reader to exit. It is a
// no-op when already disconnected.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	conn, done := c.conn, c.done
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	c.log.LogDisconnect(context.Background(), "client")
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
