package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlenet/huddle/proto"
)

type fakeMediaSource struct {
	err      error
	acquired int
	sessions []*fakeMediaSession

	// onAcquire, when set, runs while media is being opened so tests can
	// interleave other controller activity at that point.
	onAcquire func()
}

func (m *fakeMediaSource) Acquire(string) (MediaSession, error) {
	if m.onAcquire != nil {
		m.onAcquire()
	}
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	session := &fakeMediaSession{}
	m.sessions = append(m.sessions, session)
	return session, nil
}

type fakeMediaSession struct {
	closed bool
}

func (m *fakeMediaSession) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMediaSession) Close() error {
	m.closed = true
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func (r *fakeRecorder) RecordCall(_ context.Context, record CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRecorder) recorded() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.records))
	copy(out, r.records)
	return out
}

type callFixture struct {
	sess     *fakeSession
	media    *fakeMediaSource
	recorder *fakeRecorder
	ctrl     *CallController
}

func newCallFixture(t *testing.T) *callFixture {
	sess := newFakeSession(t, "alice")
	media := &fakeMediaSource{}
	recorder := &fakeRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &callFixture{
		sess:     sess,
		media:    media,
		recorder: recorder,
		ctrl:     NewCallController(sess, media, recorder, WithCallLogger(logger)),
	}
}

// lastSignal decodes the most recent webrtc_signal emit.
func (f *callFixture) lastSignal(t *testing.T) (string, signalMessage) {
	emitted := f.sess.emittedOf(proto.WebRTCSignalEvent)
	require.NotEmpty(t, emitted)
	payload := emitted[len(emitted)-1].Payload.(proto.WebRTCSignalPayload)
	var msg signalMessage
	require.Nil(t, json.Unmarshal(payload.Signal, &msg))
	return payload.TargetUserID, msg
}

func TestCall(t *testing.T) {
	t.Run("invite goes out after media", func(t *testing.T) {
		f := newCallFixture(t)

		require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))
		assert.Equal(t, CallOutgoing, f.ctrl.State())
		assert.Equal(t, "bobby", f.ctrl.Peer())

		emitted := f.sess.emittedOf(proto.CallUserEvent)
		require.Len(t, emitted, 1)
		assert.Equal(t, proto.CallUserPayload{TargetUserID: "bobby", CallType: proto.CallTypeVoice}, emitted[0].Payload)
	})

	t.Run("one call at a time", func(t *testing.T) {
		f := newCallFixture(t)
		require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))

		err := f.ctrl.Call("carol", proto.CallTypeVoice)
		assert.Equal(t, ErrCallInProgress, err)
	})

	t.Run("second call while media is opening is refused", func(t *testing.T) {
		f := newCallFixture(t)
		f.media.onAcquire = func() {
			f.media.onAcquire = nil
			assert.Equal(t, ErrCallInProgress, f.ctrl.Call("carol", proto.CallTypeVoice))
		}

		require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))
		assert.Equal(t, CallOutgoing, f.ctrl.State())
		assert.Equal(t, "bobby", f.ctrl.Peer())

		emitted := f.sess.emittedOf(proto.CallUserEvent)
		require.Len(t, emitted, 1)
		assert.Equal(t, "bobby", emitted[0].Payload.(proto.CallUserPayload).TargetUserID)
	})

	t.Run("invite while media is opening is auto-rejected", func(t *testing.T) {
		f := newCallFixture(t)
		f.media.onAcquire = func() {
			f.media.onAcquire = nil
			f.sess.dispatch(proto.IncomingCallEvent,
				proto.IncomingCallPayload{FromUser: "carol", CallType: proto.CallTypeVoice})
		}

		require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))
		assert.Equal(t, CallOutgoing, f.ctrl.State())
		assert.Equal(t, "bobby", f.ctrl.Peer())

		emitted := f.sess.emittedOf(proto.CallResponseEvent)
		require.Len(t, emitted, 1)
		payload := emitted[0].Payload.(proto.CallResponsePayload)
		assert.Equal(t, "carol", payload.TargetUserID)
		assert.False(t, payload.Accepted)
	})

	t.Run("media failure keeps the controller idle", func(t *testing.T) {
		f := newCallFixture(t)
		f.media.err = errors.New("no microphone")

		err := f.ctrl.Call("bobby", proto.CallTypeVoice)
		require.NotNil(t, err)
		assert.Equal(t, CallIdle, f.ctrl.State())
		assert.Empty(t, f.sess.emittedOf(proto.CallUserEvent))
	})
}

func TestCancel(t *testing.T) {
	f := newCallFixture(t)
	require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))

	require.Nil(t, f.ctrl.Cancel())
	assert.Equal(t, CallIdle, f.ctrl.State())

	// the callee sees the cancel as a teardown signal
	target, msg := f.lastSignal(t)
	assert.Equal(t, "bobby", target)
	assert.Equal(t, "hangup", msg.Type)

	assert.Equal(t, ErrNoCall, f.ctrl.Cancel())
	assert.Empty(t, f.recorder.recorded())
}

func TestIncomingCall(t *testing.T) {
	t.Run("ring prompt", func(t *testing.T) {
		f := newCallFixture(t)

		var gotFrom, gotType string
		f.ctrl.OnIncoming(func(from, callType string) {
			gotFrom, gotType = from, callType
		})

		f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVideo})

		assert.Equal(t, CallIncoming, f.ctrl.State())
		assert.Equal(t, "bobby", gotFrom)
		assert.Equal(t, proto.CallTypeVideo, gotType)
	})

	t.Run("reject", func(t *testing.T) {
		f := newCallFixture(t)
		f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

		require.Nil(t, f.ctrl.Reject())
		assert.Equal(t, CallIdle, f.ctrl.State())

		emitted := f.sess.emittedOf(proto.CallResponseEvent)
		require.Len(t, emitted, 1)
		payload := emitted[0].Payload.(proto.CallResponsePayload)
		assert.Equal(t, "bobby", payload.TargetUserID)
		assert.False(t, payload.Accepted)
		assert.Empty(t, f.recorder.recorded())
	})

	t.Run("busy invite is auto-rejected", func(t *testing.T) {
		f := newCallFixture(t)
		require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))

		f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "carol", CallType: proto.CallTypeVoice})

		// the outgoing call is untouched
		assert.Equal(t, CallOutgoing, f.ctrl.State())
		assert.Equal(t, "bobby", f.ctrl.Peer())

		emitted := f.sess.emittedOf(proto.CallResponseEvent)
		require.Len(t, emitted, 1)
		payload := emitted[0].Payload.(proto.CallResponsePayload)
		assert.Equal(t, "carol", payload.TargetUserID)
		assert.False(t, payload.Accepted)
	})
}

func TestAccept(t *testing.T) {
	t.Run("connects and answers the caller", func(t *testing.T) {
		f := newCallFixture(t)
		f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

		require.Nil(t, f.ctrl.Accept())
		assert.Equal(t, CallConnected, f.ctrl.State())

		emitted := f.sess.emittedOf(proto.CallResponseEvent)
		require.Len(t, emitted, 1)
		payload := emitted[0].Payload.(proto.CallResponsePayload)
		assert.Equal(t, "bobby", payload.TargetUserID)
		assert.True(t, payload.Accepted)

		assert.Equal(t, ErrNoCall, f.ctrl.Accept())
	})

	t.Run("caller hangup while media is opening aborts the accept", func(t *testing.T) {
		f := newCallFixture(t)
		f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

		raw, err := json.Marshal(hangupSignal)
		require.Nil(t, err)
		f.media.onAcquire = func() {
			f.media.onAcquire = nil
			f.sess.dispatch(proto.WebRTCSignalEvent, proto.WebRTCSignalPayload{FromUser: "bobby", Signal: raw})
		}

		assert.Equal(t, ErrNoCall, f.ctrl.Accept())
		assert.Equal(t, CallIdle, f.ctrl.State())
		assert.Empty(t, f.sess.emittedOf(proto.CallResponseEvent))
		assert.Empty(t, f.recorder.recorded())

		// the freshly acquired media does not leak
		require.Len(t, f.media.sessions, 1)
		assert.True(t, f.media.sessions[0].closed)
	})
}

func TestOutgoingRejected(t *testing.T) {
	f := newCallFixture(t)
	require.Nil(t, f.ctrl.Call("bobby", proto.CallTypeVoice))

	f.sess.dispatch(proto.CallResponseEvent, proto.CallResponsePayload{FromUser: "bobby", Accepted: false})

	assert.Equal(t, CallIdle, f.ctrl.State())
	assert.Empty(t, f.ctrl.Peer())
	assert.Empty(t, f.recorder.recorded())
}

func TestHangupRecordsHistory(t *testing.T) {
	f := newCallFixture(t)
	f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

	start := time.Now()
	f.ctrl.now = func() time.Time { return start }
	require.Nil(t, f.ctrl.Accept())

	f.ctrl.now = func() time.Time { return start.Add(45 * time.Second) }
	require.Nil(t, f.ctrl.Hangup())

	assert.Equal(t, CallIdle, f.ctrl.State())
	records := f.recorder.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, CallRecord{
		CallType:     proto.CallTypeVoice,
		Participants: []string{"alice", "bobby"},
		Duration:     45,
		Status:       "completed",
	}, records[0])
}

func TestInstantHangupLeavesNoHistory(t *testing.T) {
	f := newCallFixture(t)
	f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

	start := time.Now()
	f.ctrl.now = func() time.Time { return start }
	require.Nil(t, f.ctrl.Accept())
	require.Nil(t, f.ctrl.Hangup())

	assert.Equal(t, CallIdle, f.ctrl.State())
	assert.Empty(t, f.recorder.recorded())
}

func TestRemoteHangup(t *testing.T) {
	f := newCallFixture(t)
	f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

	start := time.Now()
	f.ctrl.now = func() time.Time { return start }
	require.Nil(t, f.ctrl.Accept())

	f.ctrl.now = func() time.Time { return start.Add(10 * time.Second) }
	raw, err := json.Marshal(hangupSignal)
	require.Nil(t, err)
	f.sess.dispatch(proto.WebRTCSignalEvent, proto.WebRTCSignalPayload{FromUser: "bobby", Signal: raw})

	assert.Equal(t, CallIdle, f.ctrl.State())
	records := f.recorder.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].Duration)
}

func TestPeerDisconnectTearsDown(t *testing.T) {
	f := newCallFixture(t)
	f.sess.dispatch(proto.IncomingCallEvent, proto.IncomingCallPayload{FromUser: "bobby", CallType: proto.CallTypeVoice})

	start := time.Now()
	f.ctrl.now = func() time.Time { return start }
	require.Nil(t, f.ctrl.Accept())

	// the server reports a vanished peer as a rejection
	f.ctrl.now = func() time.Time { return start.Add(5 * time.Second) }
	f.sess.dispatch(proto.CallResponseEvent, proto.CallResponsePayload{FromUser: "bobby", Accepted: false})

	assert.Equal(t, CallIdle, f.ctrl.State())
	records := f.recorder.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].Duration)
}
