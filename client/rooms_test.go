package client

import (
	"testing"

	"github.com/huddlenet/huddle/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomControllerSelect(t *testing.T) {
	t.Run("first selection only joins", func(t *testing.T) {
		sess := newFakeSession(t, "alice")
		rooms := NewRoomController(sess)

		require.Nil(t, rooms.Select("room-a"))
		assert.Equal(t, "room-a", rooms.Current())

		emitted := sess.emittedEvents()
		require.Len(t, emitted, 1)
		assert.Equal(t, proto.JoinChatEvent, emitted[0].Type)
		assert.Equal(t, proto.JoinChatPayload{ChatID: "room-a"}, emitted[0].Payload)
	})

	t.Run("switching leaves the previous room first", func(t *testing.T) {
		sess := newFakeSession(t, "alice")
		rooms := NewRoomController(sess)
		require.Nil(t, rooms.Select("room-a"))

		require.Nil(t, rooms.Select("room-b"))

		emitted := sess.emittedEvents()
		require.Len(t, emitted, 3)
		assert.Equal(t, proto.LeaveChatEvent, emitted[1].Type)
		assert.Equal(t, proto.LeaveChatPayload{ChatID: "room-a"}, emitted[1].Payload)
		assert.Equal(t, proto.JoinChatEvent, emitted[2].Type)
		assert.Equal(t, proto.JoinChatPayload{ChatID: "room-b"}, emitted[2].Payload)
		assert.Equal(t, "room-b", rooms.Current())
	})

	t.Run("selecting the active room is a no-op", func(t *testing.T) {
		sess := newFakeSession(t, "alice")
		rooms := NewRoomController(sess)
		require.Nil(t, rooms.Select("room-a"))

		require.Nil(t, rooms.Select("room-a"))
		assert.Len(t, sess.emittedEvents(), 1)
	})

	t.Run("select callback", func(t *testing.T) {
		sess := newFakeSession(t, "alice")
		rooms := NewRoomController(sess)

		var selected []string
		rooms.OnSelect(func(roomID string) {
			selected = append(selected, roomID)
		})

		require.Nil(t, rooms.Select("room-a"))
		require.Nil(t, rooms.Deselect())
		assert.Equal(t, []string{"room-a", ""}, selected)
	})
}

func TestRoomControllerDeselect(t *testing.T) {
	sess := newFakeSession(t, "alice")
	rooms := NewRoomController(sess)

	// nothing selected, nothing emitted
	require.Nil(t, rooms.Deselect())
	assert.Empty(t, sess.emittedEvents())

	require.Nil(t, rooms.Select("room-a"))
	require.Nil(t, rooms.Deselect())
	assert.Empty(t, rooms.Current())

	emitted := sess.emittedEvents()
	require.Len(t, emitted, 2)
	assert.Equal(t, proto.LeaveChatEvent, emitted[1].Type)
	assert.Equal(t, proto.LeaveChatPayload{ChatID: "room-a"}, emitted[1].Payload)
}
