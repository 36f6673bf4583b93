package huddle

import (
	"context"
	"errors"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/proto"
)

func (a *App) onUserConnect(ctx context.Context, username string) {
	// announce to everyone sharing a room with the user that they came
	// online
	contacts, err := a.chatStore.GetContacts(ctx, username)
	if err != nil {
		return
	}
	payload := proto.UserStatusPayload{UserID: username, Status: proto.StatusOnline}
	a.eventRouter.EmitTo(proto.UserStatusEvent, payload, contacts...)
}

func (a *App) onConnectionOpen(ctx context.Context, username string, connID int) {
	contacts, err := a.chatStore.GetContacts(ctx, username)
	if err != nil {
		return
	}
	// replay the online status of all contacts to the new connection
	for _, contact := range contacts {
		if a.wsManager.IsUserConnected(contact) {
			payload := proto.UserStatusPayload{UserID: contact, Status: proto.StatusOnline}
			a.eventRouter.EmitToConn(proto.UserStatusEvent, payload, username, connID)
		}
	}
}

func (a *App) onConnectionClose(ctx context.Context, username string, connID int) {
	a.roomRegistry.DropConn(username, connID)
}

func (a *App) onUserDisconnect(ctx context.Context, username string) {
	// a dropped party ends their active call; the survivor sees it as a
	// rejection
	peer, err := a.callRegistry.End(username)
	if err == nil {
		payload := proto.CallResponsePayload{FromUser: username, Accepted: false}
		a.eventRouter.EmitTo(proto.CallResponseEvent, payload, peer)
	} else if !errors.Is(err, core.ErrNoActiveCall) {
		a.logger.Error(err.Error())
	}

	contacts, err := a.chatStore.GetContacts(ctx, username)
	if err != nil {
		return
	}
	payload := proto.UserStatusPayload{UserID: username, Status: proto.StatusOffline}
	a.eventRouter.EmitTo(proto.UserStatusEvent, payload, contacts...)
}
