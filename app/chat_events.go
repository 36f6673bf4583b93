package huddle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/proto"
)

func (app *App) JoinChatHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.JoinChatPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal join_chat payload: %w", err)
	}

	isMember, _, err := app.chatStore.IsRoomMember(ctx, payload.ChatID, e.Sender)
	if err != nil {
		return fmt.Errorf("IsRoomMember: %w", err)
	}
	if !isMember {
		return core.ErrNotRoomMember
	}

	app.roomRegistry.Join(e.Sender, e.ConnID, payload.ChatID)
	return nil
}

func (app *App) LeaveChatHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.LeaveChatPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal leave_chat payload: %w", err)
	}

	app.roomRegistry.Leave(e.Sender, e.ConnID, payload.ChatID)
	return nil
}

func (app *App) SendMessageHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.SendMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal send_message payload: %w", err)
	}

	input := core.MessageCreateInput{
		Type:    payload.Type,
		Content: payload.Content,
		Files:   payload.Files,
		RoomID:  payload.ChatID,
		Sender:  e.Sender,
	}

	msg, err := app.chatStore.SendMessageToRoom(ctx, input)
	if err != nil {
		return fmt.Errorf("SendMessageToRoom: %w", err)
	}

	members, err := app.chatStore.GetRoomMembers(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("GetRoomMembers: %w", err)
	}

	usernames := make([]string, 0, len(members))
	for _, member := range members {
		usernames = append(usernames, member.Username)
	}

	// delivered to every member, the sender included: the echo carries
	// the assigned id and timestamp
	out := proto.NewMessagePayload{
		ID:        msg.ID,
		ChatID:    msg.RoomID,
		SenderID:  msg.Sender,
		Content:   msg.Content,
		Type:      msg.Type,
		Files:     msg.Files,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
	}
	return app.eventRouter.EmitTo(proto.NewMessageEvent, out, usernames...)
}

// TypingEventHandler relays typing state to the connections currently
// joined to the room. It never reaches members that are online but
// looking elsewhere, and it never echoes back to the typist.
func (app *App) TypingEventHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}

	payload.UserID = e.Sender

	for _, ref := range app.roomRegistry.Occupants(payload.ChatID, e.Sender) {
		if err := app.eventRouter.EmitToConn(proto.TypingEvent, payload, ref.User, ref.ConnID); err != nil {
			return err
		}
	}
	return nil
}
