package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusRejected  = "rejected"
)

var (
	// ErrUserBusy is returned when a call is initiated to or from a user
	// that already has an active call.
	ErrUserBusy = errors.New("user busy")
	// ErrNoActiveCall is returned when a call operation references a user
	// with no registered call.
	ErrNoActiveCall = errors.New("no active call")
	// ErrInvalidCallRecord is returned for history records that violate
	// the persistence guard (zero duration or unknown status).
	ErrInvalidCallRecord = errors.New("invalid call record")
)

// CallRecord is a persisted call-history entry. Records exist only for
// calls that reached the connected state and accumulated duration.
type CallRecord struct {
	ID           string    `json:"id"`
	CallType     string    `json:"call_type"`
	Participants []string  `json:"participants"`
	Duration     int       `json:"duration"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type CallRecordInput struct {
	CallType     string   `json:"call_type" validate:"required,oneof=voice video"`
	Participants []string `json:"participants" validate:"required,min=2"`
	Duration     int      `json:"duration" validate:"required,gt=0"`
	Status       string   `json:"status" validate:"required,oneof=completed"`
}

type CallStore interface {
	// CreateCallRecord persists a call-history entry. Records with zero
	// duration or a status other than completed are refused with
	// ErrInvalidCallRecord: a rejected or failed call leaves no history.
	CreateCallRecord(ctx context.Context, input CallRecordInput) (*CallRecord, error)

	// GetUserCallRecords returns the user's call history, newest first.
	GetUserCallRecords(ctx context.Context, user string, offset, limit int) ([]CallRecord, error)
}

type callState int

const (
	callRinging callState = iota
	callConnected
)

type activeCall struct {
	caller   string
	callee   string
	callType string
	state    callState
}

// CallRegistry tracks in-flight calls so the relay can enforce one active
// call per user, auto-reject invites to busy users and tear calls down
// when a party disconnects. It holds signaling state only; it never
// inspects SDP/ICE payloads and it never persists anything.
type CallRegistry struct {
	mu sync.Mutex
	// byUser indexes the active call of each participant.
	byUser map[string]*activeCall
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{byUser: make(map[string]*activeCall)}
}

// Begin registers a ringing call from caller to callee. Either party
// being in a call already fails with ErrUserBusy.
func (r *CallRegistry) Begin(caller, callee, callType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[caller]; ok {
		return ErrUserBusy
	}
	if _, ok := r.byUser[callee]; ok {
		return ErrUserBusy
	}

	call := &activeCall{caller: caller, callee: callee, callType: callType, state: callRinging}
	r.byUser[caller] = call
	r.byUser[callee] = call
	return nil
}

// Resolve applies the callee's accept/reject decision. On accept the call
// moves to connected; on reject it is dropped. Returns the peer the
// decision must be relayed to.
func (r *CallRegistry) Resolve(user string, accepted bool) (peer string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.byUser[user]
	if !ok {
		return "", ErrNoActiveCall
	}
	peer = call.peerOf(user)
	if accepted {
		call.state = callConnected
		return peer, nil
	}
	delete(r.byUser, call.caller)
	delete(r.byUser, call.callee)
	return peer, nil
}

// End drops the user's active call and returns the peer, so a teardown
// can be relayed. Used for hangups and disconnects.
func (r *CallRegistry) End(user string) (peer string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.byUser[user]
	if !ok {
		return "", ErrNoActiveCall
	}
	delete(r.byUser, call.caller)
	delete(r.byUser, call.callee)
	return call.peerOf(user), nil
}

// PeerOf returns the other party of the user's active call.
func (r *CallRegistry) PeerOf(user string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.byUser[user]
	if !ok {
		return "", false
	}
	return call.peerOf(user), true
}

// InCall reports whether the user has an active (ringing or connected)
// call.
func (r *CallRegistry) InCall(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[user]
	return ok
}

func (c *activeCall) peerOf(user string) string {
	if c.caller == user {
		return c.callee
	}
	return c.caller
}
