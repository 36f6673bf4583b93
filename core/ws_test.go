package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlenet/huddle/proto"
)

// fakeVerifier resolves tokens of the form "token-<user>".
type fakeVerifier struct{}

func (fakeVerifier) VerifySessionToken(_ context.Context, token string) (string, error) {
	user, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return "", ErrUnauthenticated
	}
	return user, nil
}

type WSFixture struct {
	t        *testing.T
	ctx      context.Context
	manager  *ConnManager
	server   *httptest.Server
	tearDown func()
}

func NewWSFixture(t *testing.T) *WSFixture {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := NewConnManager(ctx, &wg, logger, fakeVerifier{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		manager.Connect(w, r)
	}))

	return &WSFixture{
		t:       t,
		ctx:     ctx,
		manager: manager,
		server:  server,
		tearDown: func() {
			server.Close()
			cancel()
			waitOrTimeout(t, wg.Wait, baseTimeout, "connection loops did not stop")
		},
	}
}

func (f *WSFixture) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.Nil(f.t, err)
	return conn
}

// dialAs dials and completes the authenticate handshake for the user.
func (f *WSFixture) dialAs(user string) *websocket.Conn {
	conn := f.dial()
	sendEvent(f.t, conn, proto.AuthenticateEvent, proto.AuthenticatePayload{Token: "token-" + user})

	ack := readEvent(f.t, conn)
	require.Equal(f.t, proto.AuthenticatedEvent, ack.Type)
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	e, err := proto.NewEvent(eventType, payload)
	require.Nil(t, err)
	require.Nil(t, conn.WriteJSON(e))
}

func readEvent(t *testing.T, conn *websocket.Conn) *proto.Event {
	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	var e proto.Event
	require.Nil(t, conn.ReadJSON(&e))
	return &e
}

func TestAuthenticateHandshake(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		f := NewWSFixture(t)
		defer f.tearDown()

		conn := f.dial()
		defer conn.Close()
		sendEvent(t, conn, proto.AuthenticateEvent, proto.AuthenticatePayload{Token: "token-alice"})

		ack := readEvent(t, conn)
		assert.Equal(t, proto.AuthenticatedEvent, ack.Type)

		var payload proto.AuthenticatedPayload
		require.Nil(t, ack.DecodePayload(&payload))
		assert.Equal(t, "alice", payload.UserID)

		require.Eventually(t, func() bool {
			return f.manager.IsUserConnected("alice")
		}, baseTimeout, 10*time.Millisecond)
	})

	t.Run("invalid token", func(t *testing.T) {
		f := NewWSFixture(t)
		defer f.tearDown()

		conn := f.dial()
		defer conn.Close()
		sendEvent(t, conn, proto.AuthenticateEvent, proto.AuthenticatePayload{Token: "garbage"})

		conn.SetReadDeadline(time.Now().Add(baseTimeout))
		_, _, err := conn.ReadMessage()
		require.NotNil(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
		assert.False(t, f.manager.IsUserConnected("garbage"))
	})

	t.Run("event before authenticate", func(t *testing.T) {
		f := NewWSFixture(t)
		defer f.tearDown()

		conn := f.dial()
		defer conn.Close()
		sendEvent(t, conn, proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", IsTyping: true})

		conn.SetReadDeadline(time.Now().Add(baseTimeout))
		_, _, err := conn.ReadMessage()
		require.NotNil(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})
}

func TestEventSenderStamping(t *testing.T) {
	f := NewWSFixture(t)
	defer f.tearDown()

	conn := f.dialAs("alice")
	defer conn.Close()

	sendEvent(t, conn, proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", IsTyping: true})

	select {
	case e := <-f.manager.Receive():
		assert.Equal(t, proto.TypingEvent, e.Type)
		assert.Equal(t, "alice", e.Sender)
		assert.NotZero(t, e.ConnID)
	case <-time.After(baseTimeout):
		t.Fatal("no event received")
	}
}

func TestSendToUsers(t *testing.T) {
	f := NewWSFixture(t)
	defer f.tearDown()

	alice := f.dialAs("alice")
	defer alice.Close()
	bobby := f.dialAs("bobby")
	defer bobby.Close()

	e, err := proto.NewEvent(proto.UserStatusEvent,
		proto.UserStatusPayload{UserID: "carol", Status: proto.StatusOnline})
	require.Nil(t, err)
	f.manager.SendToUsers(e, "alice")

	got := readEvent(t, alice)
	assert.Equal(t, proto.UserStatusEvent, got.Type)

	// bobby was not addressed
	bobby.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bobby.ReadMessage()
	assert.NotNil(t, err)
}

func TestUserConnectionCallbacks(t *testing.T) {
	f := NewWSFixture(t)
	defer f.tearDown()

	var mu sync.Mutex
	var connected, disconnected []string
	f.manager.OnUserConnected(func(_ context.Context, user string) {
		mu.Lock()
		defer mu.Unlock()
		connected = append(connected, user)
	})
	f.manager.OnUserDisconnected(func(_ context.Context, user string) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = append(disconnected, user)
	})

	first := f.dialAs("alice")
	second := f.dialAs("alice")

	// only the first connection of a user fires the connected callback
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1 && connected[0] == "alice"
	}, baseTimeout, 10*time.Millisecond)

	first.Close()
	second.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1 && disconnected[0] == "alice"
	}, baseTimeout, 10*time.Millisecond)
	assert.False(t, f.manager.IsUserConnected("alice"))
}

func TestDisconnectUser(t *testing.T) {
	f := NewWSFixture(t)
	defer f.tearDown()

	conn := f.dialAs("alice")
	defer conn.Close()

	f.manager.Disconnect("alice")

	assert.False(t, f.manager.IsUserConnected("alice"))
	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
