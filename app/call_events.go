package huddle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/proto"
)

// CallUserHandler starts a ringing call. A busy callee is answered with
// an automatic rejection on the caller's behalf; an offline callee
// produces no response at all, the caller keeps ringing until it gives
// up or cancels.
func (app *App) CallUserHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.CallUserPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal call_user payload: %w", err)
	}

	if payload.CallType != proto.CallTypeVoice && payload.CallType != proto.CallTypeVideo {
		return fmt.Errorf("call_user: unknown call type %q", payload.CallType)
	}
	if payload.TargetUserID == e.Sender {
		return fmt.Errorf("call_user: cannot call self")
	}

	if !app.wsManager.IsUserConnected(payload.TargetUserID) {
		return nil
	}

	if err := app.callRegistry.Begin(e.Sender, payload.TargetUserID, payload.CallType); err != nil {
		if errors.Is(err, core.ErrUserBusy) {
			reject := proto.CallResponsePayload{FromUser: payload.TargetUserID, Accepted: false}
			return app.eventRouter.EmitTo(proto.CallResponseEvent, reject, e.Sender)
		}
		return err
	}

	invite := proto.IncomingCallPayload{FromUser: e.Sender, CallType: payload.CallType}
	return app.eventRouter.EmitTo(proto.IncomingCallEvent, invite, payload.TargetUserID)
}

// CallResponseHandler applies the callee's accept/reject decision and
// relays it to the caller.
func (app *App) CallResponseHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.CallResponsePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal call_response payload: %w", err)
	}

	peer, err := app.callRegistry.Resolve(e.Sender, payload.Accepted)
	if err != nil {
		return fmt.Errorf("call_response from %s: %w", e.Sender, err)
	}

	out := proto.CallResponsePayload{FromUser: e.Sender, Accepted: payload.Accepted}
	return app.eventRouter.EmitTo(proto.CallResponseEvent, out, peer)
}

// WebRTCSignalHandler forwards signaling data between the parties of a
// call. The target is taken from the call registry, not the payload, so
// signals cannot be directed at bystanders. Payloads are forwarded
// unchanged apart from the sender stamp; the one marker the server looks
// for is the in-band hangup, which tears the call down.
func (app *App) WebRTCSignalHandler(ctx context.Context, e *proto.Event) error {
	var payload proto.WebRTCSignalPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal webrtc_signal payload: %w", err)
	}

	peer, ok := app.callRegistry.PeerOf(e.Sender)
	if !ok {
		return fmt.Errorf("webrtc_signal from %s: %w", e.Sender, core.ErrNoActiveCall)
	}

	if isHangupSignal(payload.Signal) {
		app.callRegistry.End(e.Sender)
	}

	out := proto.WebRTCSignalPayload{FromUser: e.Sender, Signal: payload.Signal}
	return app.eventRouter.EmitTo(proto.WebRTCSignalEvent, out, peer)
}

func isHangupSignal(signal json.RawMessage) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(signal, &probe); err != nil {
		return false
	}
	return probe.Type == "hangup"
}
