package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/huddlenet/huddle/proto"
)

// EventTransport is the surface the router needs from the connection
// manager.
type EventTransport interface {
	Send(event *proto.Event)
	SendToUsers(event *proto.Event, users ...string)
	SendToConn(event *proto.Event, user string, connID int)
	Receive() <-chan *proto.Event
}

type EventHandler func(context.Context, *proto.Event) error

// EventRouter dispatches inbound events to handlers registered per event
// type and provides emit helpers for the outbound direction.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	transport EventTransport
	logger    *slog.Logger
	exit      chan struct{}
	wg        sync.WaitGroup
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
		exit:      make(chan struct{}),
	}
}

// On registers a handler for an event type. Registering the same type
// twice is a programming error.
func (em *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := em.listeners[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	em.listeners[eventType] = handler
}

// Listen starts the dispatch loop. Handlers run inline, one event at a
// time, so deliveries leave in the order events arrived; clients rely on
// that order and never reorder. A panicking handler is recovered and
// logged so it cannot take down the loop.
func (em *EventRouter) Listen() {
	em.wg.Add(1)
	go func() {
		defer em.wg.Done()
		for {
			select {
			case <-em.exit:
				return
			case e := <-em.transport.Receive():
				em.logger.Debug(fmt.Sprintf("received: %v", e))
				handler, ok := em.listeners[e.Type]
				if !ok {
					em.logger.Error(fmt.Sprintf("no handler for %s", e.Type))
					continue
				}
				em.dispatch(handler, e)
			}
		}
	}()
}

func (em *EventRouter) dispatch(handler EventHandler, e *proto.Event) {
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error(fmt.Sprintf("handler(%s) panic: %v", e.Type, r))
		}
	}()
	if err := handler(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}

func (em *EventRouter) Close(ctx context.Context) {
	close(em.exit)
	done := make(chan struct{})
	go func() {
		em.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		em.logger.Info("event router close timed out")
	}
}

// Emit sends an event to every connected user.
func (em *EventRouter) Emit(t string, payload interface{}) error {
	e, err := proto.NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.Send(e)
	return nil
}

// EmitTo sends an event to all connections of the given users.
func (em *EventRouter) EmitTo(t string, payload interface{}, users ...string) error {
	e, err := proto.NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToUsers(e, users...)
	return nil
}

// EmitToConn sends an event to a single connection of a user.
func (em *EventRouter) EmitToConn(t string, payload interface{}, user string, connID int) error {
	e, err := proto.NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToConn(e, user, connID)
	return nil
}
