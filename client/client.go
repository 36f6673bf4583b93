// Package client implements the session-side state machines of the
// realtime protocol: transport with reconnect, presence, room scoping,
// message streaming, typing indicators and call control.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlenet/huddle/proto"
)

const (
	// Time allowed for the authenticated ack after dialing.
	authTimeout = 10 * time.Second

	// Reconnect backoff bounds.
	backoffMin = 500 * time.Millisecond
	backoffMax = 30 * time.Second
)

// Status is the connection lifecycle state of the client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	// StatusUnauthenticated is terminal: the server refused the token and
	// the client will not retry.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected    = errors.New("not connected")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type Handler func(*proto.Event)

// Session is the transport surface the feature controllers build on.
// *Client is the production implementation; tests substitute fakes.
type Session interface {
	On(eventType string, handler Handler)
	Emit(eventType string, payload interface{}) error
	UserID() string
}

// Client is one authenticated protocol session. Dialing performs the
// in-band authenticate handshake; afterwards events flow both ways until
// the connection drops, at which point the client redials with
// exponential backoff and authenticates again. Joined rooms are NOT
// restored after a reconnect; callers re-select their room explicitly.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	dialer *websocket.Dialer

	mu       sync.RWMutex
	conn     *websocket.Conn
	status   Status
	userID   string
	handlers map[string]Handler
	onStatus func(Status)

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithStatusFunc(f func(Status)) Option {
	return func(c *Client) {
		c.onStatus = f
	}
}

var _ Session = (*Client)(nil)

func New(url, token string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		token:    token,
		logger:   slog.Default(),
		dialer:   websocket.DefaultDialer,
		status:   StatusDisconnected,
		handlers: make(map[string]Handler),
		onStatus: func(Status) {},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers the handler for an event type. Handlers must be
// registered before Connect; registering the same type twice is a
// programming error.
func (c *Client) On(eventType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	c.handlers[eventType] = handler
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// UserID returns the identity the server acked during the handshake.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	f := c.onStatus
	c.mu.Unlock()
	if changed {
		f(s)
	}
}

// Connect dials, authenticates and starts the read loop. It returns once
// the handshake completed (or failed); the reconnect loop runs in the
// background from then on.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	if err := c.dial(ctx); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.setStatus(StatusUnauthenticated)
			return err
		}
		c.setStatus(StatusDisconnected)
		return err
	}

	c.setStatus(StatusConnected)
	go c.readLoop(ctx)
	return nil
}

// dial establishes one connection and runs the authenticate handshake on
// it.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) handshake(conn *websocket.Conn) error {
	auth, err := proto.NewEvent(proto.AuthenticateEvent, proto.AuthenticatePayload{Token: c.token})
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(authTimeout))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := proto.EncodeEvent(w, auth); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, r, err := conn.NextReader()
	if err != nil {
		// a policy-violation close means the token was refused
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return ErrUnauthenticated
		}
		return err
	}
	var ack proto.Event
	if err := proto.DecodeEvent(r, &ack); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Time{})

	if ack.Type != proto.AuthenticatedEvent {
		return fmt.Errorf("expected %s, got %s", proto.AuthenticatedEvent, ack.Type)
	}

	var payload proto.AuthenticatedPayload
	if err := ack.DecodePayload(&payload); err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = payload.UserID
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, r, err := conn.NextReader()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Debug(fmt.Sprintf("read: %v", err))
			conn.Close()
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var e proto.Event
		if err := proto.DecodeEvent(r, &e); err != nil {
			c.logger.Error(fmt.Sprintf("decode event: %v", err))
			continue
		}
		c.dispatch(&e)
	}
}

func (c *Client) dispatch(e *proto.Event) {
	c.mu.RLock()
	handler, ok := c.handlers[e.Type]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}
	handler(e)
}

// reconnect redials with exponential backoff until it succeeds or the
// client is closed. A refused token ends the retries for good.
func (c *Client) reconnect(ctx context.Context) bool {
	c.setStatus(StatusConnecting)
	backoff := backoffMin

	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			c.setStatus(StatusDisconnected)
			return false
		case <-time.After(backoff):
		}

		err := c.dial(ctx)
		if err == nil {
			c.setStatus(StatusConnected)
			return true
		}
		if errors.Is(err, ErrUnauthenticated) {
			c.setStatus(StatusUnauthenticated)
			return false
		}

		c.logger.Debug(fmt.Sprintf("reconnect: %v", err))
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// Emit sends an event to the server. Sends are fire-and-forget; delivery
// is not acknowledged at this layer.
func (c *Client) Emit(eventType string, payload interface{}) error {
	e, err := proto.NewEvent(eventType, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	status := c.status
	c.mu.RUnlock()
	if conn == nil || status != StatusConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := proto.EncodeEvent(w, e); err != nil {
		return err
	}
	return w.Close()
}

// Close ends the session. The connection is closed and no reconnect is
// attempted.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
		c.setStatus(StatusDisconnected)
	})
	return err
}
