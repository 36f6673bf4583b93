package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlenet/huddle/proto"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the authenticate event to arrive after the upgrade.
	authWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// TokenVerifier resolves a session token to a user id. The connection
// manager calls it during the authenticate handshake.
type TokenVerifier interface {
	VerifySessionToken(ctx context.Context, token string) (string, error)
}

// ConnManager owns every websocket connection of the server. Connections
// are registered under their user id only after the in-band authenticate
// handshake succeeded; until then they can neither send nor receive
// protocol events.
type ConnManager struct {
	conns    map[string][]*Conn
	nextConn int
	mu       sync.RWMutex

	verifier TokenVerifier
	connWg   *sync.WaitGroup
	context  context.Context
	logger   *slog.Logger

	onUserConnected    func(context.Context, string)
	onUserDisconnected func(context.Context, string)
	onConnectionOpened func(context.Context, string, int)
	onConnectionClosed func(context.Context, string, int)

	receivedEvent chan *proto.Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, verifier TokenVerifier, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		conns:              make(map[string][]*Conn),
		connWg:             wg,
		context:            ctx,
		logger:             logger,
		verifier:           verifier,
		upgrader:           defaultUpgrader,
		ReadStreamSize:     100,
		WriteStreamSize:    100,
		onUserConnected:    func(context.Context, string) {},
		onUserDisconnected: func(context.Context, string) {},
		onConnectionOpened: func(context.Context, string, int) {},
		onConnectionClosed: func(context.Context, string, int) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *proto.Event, m.ReadStreamSize)

	return m
}

func (m *ConnManager) Receive() <-chan *proto.Event {
	return m.receivedEvent
}

// OnUserConnected fires when the FIRST connection of a user completes the
// handshake.
func (m *ConnManager) OnUserConnected(f func(context.Context, string)) {
	m.onUserConnected = f
}

// OnUserDisconnected fires when the LAST connection of a user is gone.
func (m *ConnManager) OnUserDisconnected(f func(context.Context, string)) {
	m.onUserDisconnected = f
}

func (m *ConnManager) OnConnectionOpened(f func(context.Context, string, int)) {
	m.onConnectionOpened = f
}

func (m *ConnManager) OnConnectionClosed(f func(context.Context, string, int)) {
	m.onConnectionClosed = f
}

func (m *ConnManager) IsUserConnected(user string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[user]
	return ok
}

// Connect upgrades the request and starts the connection loops. The
// connection stays pending until the client sends a valid authenticate
// event; the read deadline bounds how long that may take.
func (m *ConnManager) Connect(w http.ResponseWriter, r *http.Request) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	wsConn := &Conn{
		conn:             conn,
		writeStream:      make(chan *proto.Event, m.WriteStreamSize),
		readStream:       m.receivedEvent,
		ticker:           time.NewTicker(pingPeriod),
		logger: m.logger.With(slog.String("connection", "pending")),
	}
	// a connection that never authenticates is not registered anywhere;
	// closing the write stream is all the cleanup it needs.
	wsConn.notifyDisconnect = wsConn.close
	wsConn.handshake = func(e *proto.Event) bool {
		return m.authenticate(wsConn, e)
	}

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	return nil
}

// authenticate verifies the token of an authenticate event, registers the
// connection under the resolved user and acks with authenticated.
// Authentication failures are non-fatal server side: the connection is
// refused but nothing else degrades.
func (m *ConnManager) authenticate(c *Conn, e *proto.Event) bool {
	var payload proto.AuthenticatePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		m.logger.Error(fmt.Sprintf("authenticate: decode payload: %v", err))
		return false
	}

	user, err := m.verifier.VerifySessionToken(m.context, payload.Token)
	if err != nil {
		m.logger.Error(fmt.Sprintf("authenticate: %v", err))
		return false
	}

	m.mu.Lock()
	m.nextConn++
	id := m.nextConn
	c.username = user
	c.id = id
	c.authed = true
	c.logger = m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", user, id)))
	c.notifyDisconnect = func() {
		m.disconnect(user, id)
	}
	conns := m.conns[user]
	first := len(conns) == 0
	m.conns[user] = append(conns, c)
	m.mu.Unlock()

	connectionsGauge.Inc()

	ack, err := proto.NewEvent(proto.AuthenticatedEvent, proto.AuthenticatedPayload{UserID: user})
	if err != nil {
		m.logger.Error(fmt.Sprintf("authenticated ack: %v", err))
		return false
	}
	c.writeStream <- ack

	if first {
		m.onUserConnected(m.context, user)
	}
	m.onConnectionOpened(m.context, user, id)

	return true
}

func (m *ConnManager) disconnect(user string, ids ...int) {
	m.mu.Lock()
	conns, ok := m.conns[user]
	if !ok {
		m.mu.Unlock()
		return
	}

	closed := make([]int, 0, len(ids))
	userDisconnected := false

	if len(ids) == 0 {
		for _, c := range conns {
			c.close()
			closed = append(closed, c.id)
		}
		delete(m.conns, user)
		userDisconnected = true
	} else {
		// remove from the end to avoid index shifting
		for i := len(conns) - 1; i >= 0; i-- {
			if slices.Contains(ids, conns[i].id) {
				conns[i].close()
				closed = append(closed, conns[i].id)
				conns = slices.Delete(conns, i, i+1)
			}
		}
		if len(conns) == 0 {
			delete(m.conns, user)
			userDisconnected = true
		} else {
			m.conns[user] = conns
		}
	}
	m.mu.Unlock()

	connectionsGauge.Sub(float64(len(closed)))

	for _, id := range closed {
		m.onConnectionClosed(m.context, user, id)
	}
	if userDisconnected {
		m.onUserDisconnected(m.context, user)
	}
}

// Disconnect closes every connection of a user. It is used on signout.
func (m *ConnManager) Disconnect(user string) {
	m.disconnect(user)
}

func (m *ConnManager) Send(e *proto.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conns := range m.conns {
		for _, conn := range conns {
			conn.writeStream <- e
		}
	}
}

func (m *ConnManager) SendToUsers(e *proto.Event, users ...string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range users {
		conns, ok := m.conns[u]
		if !ok {
			continue
		}
		for _, conn := range conns {
			conn.writeStream <- e
		}
	}
}

func (m *ConnManager) SendToConn(e *proto.Event, user string, connID int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.conns[user] {
		if conn.id == connID {
			conn.writeStream <- e
		}
	}
}
