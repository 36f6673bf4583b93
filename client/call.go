package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlenet/huddle/proto"
)

// CallState is the call controller's lifecycle state. Exactly one call
// can be in flight per session.
type CallState int

const (
	CallIdle CallState = iota
	// CallOutgoing: invite sent, waiting for the callee's decision. There
	// is no timeout; the state only leaves via the response, Cancel or a
	// teardown signal.
	CallOutgoing
	// CallIncoming: invite received, waiting for the local user's
	// decision.
	CallIncoming
	CallConnected
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoing:
		return "outgoing-ringing"
	case CallIncoming:
		return "incoming-ringing"
	case CallConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoCall         = errors.New("no call in that state")
)

// CallController drives one-to-one calls over the signaling relay.
// Media is acquired before the invite goes out; if the microphone or
// camera cannot be opened the call never leaves idle. History records
// are written only for calls that connected and lasted a measurable
// time: a rejected, cancelled or failed call leaves no trace.
type CallController struct {
	client   Session
	media    MediaSource
	recorder HistoryRecorder
	logger   *slog.Logger

	mu          sync.Mutex
	state       CallState
	peer        string
	callType    string
	session     MediaSession
	pc          *peerConn
	connectedAt time.Time

	// pending reserves the controller for an in-flight Call or Accept
	// while media is acquired outside the lock. Other entry points and
	// incoming invites treat the controller as busy until the transition
	// lands or is rolled back.
	pending bool

	onIncoming func(from, callType string)
	onState    func(CallState)

	// now is replaceable in tests to control measured call duration.
	now func() time.Time
}

type CallOption func(*CallController)

func WithCallLogger(logger *slog.Logger) CallOption {
	return func(c *CallController) {
		c.logger = logger
	}
}

func NewCallController(cl Session, media MediaSource, recorder HistoryRecorder, opts ...CallOption) *CallController {
	c := &CallController{
		client:     cl,
		media:      media,
		recorder:   recorder,
		logger:     slog.Default(),
		state:      CallIdle,
		onIncoming: func(string, string) {},
		onState:    func(CallState) {},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	cl.On(proto.IncomingCallEvent, c.handleIncomingCall)
	cl.On(proto.CallResponseEvent, c.handleCallResponse)
	cl.On(proto.WebRTCSignalEvent, c.handleSignal)
	return c
}

// OnIncoming registers the ring prompt callback.
func (c *CallController) OnIncoming(f func(from, callType string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIncoming = f
}

func (c *CallController) OnState(f func(CallState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *CallController) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CallController) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// setState must be called with the lock held; the callback fires after
// the lock is released by the caller.
func (c *CallController) setState(s CallState) func() {
	c.state = s
	f := c.onState
	return func() { f(s) }
}

// Call invites target to a call. Media is acquired first; on failure the
// controller stays idle and the invite is never sent.
func (c *CallController) Call(target, callType string) error {
	c.mu.Lock()
	if c.state != CallIdle || c.pending {
		c.mu.Unlock()
		return ErrCallInProgress
	}
	c.pending = true
	c.mu.Unlock()

	session, err := c.media.Acquire(callType)
	if err != nil {
		c.clearPending()
		return fmt.Errorf("acquire media: %w", err)
	}

	payload := proto.CallUserPayload{TargetUserID: target, CallType: callType}
	if err := c.client.Emit(proto.CallUserEvent, payload); err != nil {
		session.Close()
		c.clearPending()
		return err
	}

	c.mu.Lock()
	c.pending = false
	c.peer = target
	c.callType = callType
	c.session = session
	notify := c.setState(CallOutgoing)
	c.mu.Unlock()
	notify()
	return nil
}

func (c *CallController) clearPending() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

// Cancel gives up an outgoing call that is still ringing. The callee
// sees it as a teardown signal.
func (c *CallController) Cancel() error {
	c.mu.Lock()
	if c.state != CallOutgoing {
		c.mu.Unlock()
		return ErrNoCall
	}
	c.mu.Unlock()

	c.emitSignal(hangupSignal)
	c.teardown(false)
	return nil
}

// Accept answers an incoming call. Media is acquired now; failure turns
// the accept into a reject so the caller is not left ringing.
func (c *CallController) Accept() error {
	c.mu.Lock()
	if c.state != CallIncoming || c.pending {
		c.mu.Unlock()
		return ErrNoCall
	}
	peer := c.peer
	callType := c.callType
	c.pending = true
	c.mu.Unlock()

	session, err := c.media.Acquire(callType)
	if err != nil {
		c.clearPending()
		c.client.Emit(proto.CallResponseEvent,
			proto.CallResponsePayload{TargetUserID: peer, Accepted: false})
		c.teardown(false)
		return fmt.Errorf("acquire media: %w", err)
	}

	// the caller may have hung up while media was opening
	c.mu.Lock()
	if c.state != CallIncoming {
		c.pending = false
		c.mu.Unlock()
		session.Close()
		return ErrNoCall
	}
	c.mu.Unlock()

	// the peer connection exists before the accept goes out so the offer
	// cannot race past it
	pc, err := newPeerConn(session, c.emitSignal)
	if err != nil {
		session.Close()
		c.clearPending()
		c.client.Emit(proto.CallResponseEvent,
			proto.CallResponsePayload{TargetUserID: peer, Accepted: false})
		c.teardown(false)
		return err
	}

	if err := c.client.Emit(proto.CallResponseEvent,
		proto.CallResponsePayload{TargetUserID: peer, Accepted: true}); err != nil {
		pc.Close()
		session.Close()
		c.clearPending()
		c.teardown(false)
		return err
	}

	c.mu.Lock()
	c.pending = false
	if c.state != CallIncoming {
		c.mu.Unlock()
		pc.Close()
		session.Close()
		return ErrNoCall
	}
	c.session = session
	c.pc = pc
	c.connectedAt = c.now()
	notify := c.setState(CallConnected)
	c.mu.Unlock()
	notify()
	return nil
}

// Reject declines an incoming call.
func (c *CallController) Reject() error {
	c.mu.Lock()
	if c.state != CallIncoming || c.pending {
		c.mu.Unlock()
		return ErrNoCall
	}
	peer := c.peer
	c.mu.Unlock()

	c.client.Emit(proto.CallResponseEvent,
		proto.CallResponsePayload{TargetUserID: peer, Accepted: false})
	c.teardown(false)
	return nil
}

// Hangup ends a connected call and reports it to the history recorder.
func (c *CallController) Hangup() error {
	c.mu.Lock()
	if c.state != CallConnected {
		c.mu.Unlock()
		return ErrNoCall
	}
	c.mu.Unlock()

	c.emitSignal(hangupSignal)
	c.teardown(true)
	return nil
}

func (c *CallController) handleIncomingCall(e *proto.Event) {
	var payload proto.IncomingCallPayload
	if err := e.DecodePayload(&payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.state != CallIdle || c.pending {
		// the server auto-rejects invites to busy users, but a race is
		// still possible; answer it with a reject ourselves
		c.mu.Unlock()
		c.client.Emit(proto.CallResponseEvent,
			proto.CallResponsePayload{TargetUserID: payload.FromUser, Accepted: false})
		return
	}
	c.peer = payload.FromUser
	c.callType = payload.CallType
	prompt := c.onIncoming
	notify := c.setState(CallIncoming)
	c.mu.Unlock()
	notify()

	prompt(payload.FromUser, payload.CallType)
}

func (c *CallController) handleCallResponse(e *proto.Event) {
	var payload proto.CallResponsePayload
	if err := e.DecodePayload(&payload); err != nil {
		return
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case CallOutgoing:
		if !payload.Accepted {
			c.teardown(false)
			return
		}
		c.connect()
	case CallConnected:
		// the server reports a vanished peer as a rejection
		if !payload.Accepted {
			c.teardown(true)
		}
	default:
		c.logger.Debug(fmt.Sprintf("call_response in state %s ignored", state))
	}
}

// connect moves an accepted outgoing call to connected and starts
// negotiation as the offerer.
func (c *CallController) connect() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	pc, err := newPeerConn(session, c.emitSignal)
	if err != nil {
		c.logger.Error(fmt.Sprintf("peer connection: %v", err))
		c.emitSignal(hangupSignal)
		c.teardown(false)
		return
	}

	c.mu.Lock()
	c.pc = pc
	c.connectedAt = c.now()
	notify := c.setState(CallConnected)
	c.mu.Unlock()
	notify()

	if err := pc.Offer(); err != nil {
		c.logger.Error(fmt.Sprintf("offer: %v", err))
		c.emitSignal(hangupSignal)
		c.teardown(false)
	}
}

func (c *CallController) handleSignal(e *proto.Event) {
	var payload proto.WebRTCSignalPayload
	if err := e.DecodePayload(&payload); err != nil {
		return
	}

	if isHangup(payload.Signal) {
		c.mu.Lock()
		wasConnected := c.state == CallConnected
		idle := c.state == CallIdle
		c.mu.Unlock()
		if idle {
			return
		}
		c.teardown(wasConnected)
		return
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.HandleSignal(payload.Signal); err != nil {
		c.logger.Error(fmt.Sprintf("signal: %v", err))
	}
}

func isHangup(signal json.RawMessage) bool {
	var marker struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(signal, &marker); err != nil {
		return false
	}
	return marker.Type == "hangup"
}

func (c *CallController) emitSignal(msg signalMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	return c.client.Emit(proto.WebRTCSignalEvent,
		proto.WebRTCSignalPayload{TargetUserID: peer, Signal: raw})
}

// teardown releases everything and returns to idle. When record is set
// and the call accumulated duration, a history entry is reported.
func (c *CallController) teardown(record bool) {
	c.mu.Lock()
	pc := c.pc
	session := c.session
	peer := c.peer
	callType := c.callType
	connectedAt := c.connectedAt
	c.pc = nil
	c.session = nil
	c.peer = ""
	c.callType = ""
	c.connectedAt = time.Time{}
	notify := c.setState(CallIdle)
	c.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if session != nil {
		session.Close()
	}

	if record && c.recorder != nil && !connectedAt.IsZero() {
		duration := int(c.now().Sub(connectedAt).Seconds())
		if duration > 0 {
			err := c.recorder.RecordCall(context.Background(), CallRecord{
				CallType:     callType,
				Participants: []string{c.client.UserID(), peer},
				Duration:     duration,
				Status:       "completed",
			})
			if err != nil {
				c.logger.Error(fmt.Sprintf("record call: %v", err))
			}
		}
	}

	notify()
}
