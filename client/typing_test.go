package client

import (
	"testing"
	"time"

	"github.com/huddlenet/huddle/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDebounce = 30 * time.Millisecond
	testExpiry   = 50 * time.Millisecond
)

func newTypingFixture(t *testing.T) (*fakeSession, *TypingIndicator) {
	sess := newFakeSession(t, "alice")
	return sess, NewTypingIndicator(sess, WithTypingDurations(testDebounce, testExpiry))
}

func TestKeystroke(t *testing.T) {
	t.Run("first keystroke starts the indicator", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		typing.Keystroke("room-a")

		emitted := sess.emittedOf(proto.TypingEvent)
		require.Len(t, emitted, 1)
		assert.Equal(t, proto.TypingPayload{ChatID: "room-a", IsTyping: true}, emitted[0].Payload)
	})

	t.Run("further keystrokes only extend the debounce", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		typing.Keystroke("room-a")
		typing.Keystroke("room-a")
		typing.Keystroke("room-a")

		assert.Len(t, sess.emittedOf(proto.TypingEvent), 1)
	})

	t.Run("silence emits the stop", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		typing.Keystroke("room-a")

		require.Eventually(t, func() bool {
			emitted := sess.emittedOf(proto.TypingEvent)
			return len(emitted) == 2 &&
				emitted[1].Payload == proto.TypingPayload{ChatID: "room-a", IsTyping: false}
		}, baseTimeout, 5*time.Millisecond)
	})
}

func TestStop(t *testing.T) {
	sess, typing := newTypingFixture(t)

	// stopping while not composing emits nothing
	typing.Stop("room-a")
	assert.Empty(t, sess.emittedOf(proto.TypingEvent))

	typing.Keystroke("room-a")
	typing.Stop("room-a")

	emitted := sess.emittedOf(proto.TypingEvent)
	require.Len(t, emitted, 2)
	assert.Equal(t, proto.TypingPayload{ChatID: "room-a", IsTyping: false}, emitted[1].Payload)

	// the debounce timer was cancelled; no third event follows
	time.Sleep(2 * testDebounce)
	assert.Len(t, sess.emittedOf(proto.TypingEvent), 2)
}

func TestRemoteTypists(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: true})
		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "carol", IsTyping: true})
		assert.Equal(t, []string{"bobby", "carol"}, typing.Typists("room-a"))

		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: false})
		assert.Equal(t, []string{"carol"}, typing.Typists("room-a"))
	})

	t.Run("flags expire without a refresh", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: true})
		require.NotEmpty(t, typing.Typists("room-a"))

		require.Eventually(t, func() bool {
			return len(typing.Typists("room-a")) == 0
		}, baseTimeout, 5*time.Millisecond)
	})

	t.Run("change callback", func(t *testing.T) {
		sess, typing := newTypingFixture(t)

		var changes []string
		typing.OnChange(func(roomID string) {
			changes = append(changes, roomID)
		})

		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: true})
		sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: false})
		assert.Equal(t, []string{"room-a", "room-a"}, changes)
	})
}

func TestDescribe(t *testing.T) {
	sess, typing := newTypingFixture(t)

	assert.Empty(t, typing.Describe("room-a"))

	sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "bobby", IsTyping: true})
	assert.Equal(t, "bobby is typing...", typing.Describe("room-a"))

	sess.dispatch(proto.TypingEvent, proto.TypingPayload{ChatID: "room-a", UserID: "carol", IsTyping: true})
	assert.Equal(t, "several people are typing...", typing.Describe("room-a"))
}
