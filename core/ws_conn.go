package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlenet/huddle/proto"
)

// Conn is a single websocket connection owned by the ConnManager. A user
// may hold several connections (one per tab/device); each carries its own
// id so room scoping can be tracked per connection.
type Conn struct {
	conn     *websocket.Conn
	username string
	id       int

	writeStream chan *proto.Event
	readStream  chan<- *proto.Event

	notifyDisconnect func()
	ticker           *time.Ticker
	logger           *slog.Logger

	// handshake is installed by the manager; it verifies the token,
	// registers the connection under the user and sends the authenticated
	// ack. It reports whether the connection may proceed.
	handshake func(e *proto.Event) bool

	// authed flips once the authenticate handshake completed. Events read
	// before that are handled by the manager, not the event router.
	authed bool
}

func (c *Conn) close() {
	close(c.writeStream)
}

// readLoop drives the connection: it runs the authenticate handshake
// first and only then forwards decoded events to the shared read stream.
func (c *Conn) readLoop() {
	c.logger.Info("read loop started")
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Info("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event proto.Event
		if err := proto.DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}

		if !c.authed {
			// the only event accepted on an unauthenticated connection is
			// authenticate; anything else tears the connection down.
			if event.Type != proto.AuthenticateEvent {
				c.logger.Error(fmt.Sprintf("received %s before authenticate", event.Type))
				c.writeClose(websocket.ClosePolicyViolation, "unauthenticated")
				return
			}
			if !c.handshake(&event) {
				c.writeClose(websocket.ClosePolicyViolation, "authentication failed")
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		event.Sender = c.username
		event.ConnID = c.id
		eventsReceived.WithLabelValues(event.Type).Inc()

		c.logger.Debug(event.String())
		c.readStream <- &event
	}
}

func (c *Conn) writeClose(code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (c *Conn) writeLoop() {
	c.logger.Info("write loop started")
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Info("write loop stopped")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("getting next writer: %v", werr))
				return
			}
			if err := proto.EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
			eventsSent.WithLabelValues(e.Type).Inc()
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
