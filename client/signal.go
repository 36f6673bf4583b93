package client

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// signalMessage is the shape carried inside webrtc_signal payloads.
// The server forwards it without interpretation; both endpoints agree on
// the types offer, answer, candidate and hangup.
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

var hangupSignal = signalMessage{Type: "hangup"}

// peerConn wraps the pion peer connection of one call. Outbound signals
// go through send, which the controller binds to a webrtc_signal emit.
type peerConn struct {
	pc   *webrtc.PeerConnection
	send func(signalMessage) error
}

func newPeerConn(session MediaSession, send func(signalMessage) error) (*peerConn, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	for _, track := range session.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}

	p := &peerConn{pc: pc, send: send}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.send(signalMessage{Type: "candidate", Candidate: &init})
	})

	return p, nil
}

// Offer starts negotiation from the caller side.
func (p *peerConn) Offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.send(signalMessage{Type: "offer", SDP: offer.SDP})
}

// HandleSignal applies an inbound offer, answer or candidate.
func (p *peerConn) HandleSignal(raw json.RawMessage) error {
	var msg signalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal signal: %w", err)
	}

	switch msg.Type {
	case "offer":
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return p.send(signalMessage{Type: "answer", SDP: answer.SDP})

	case "answer":
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil

	case "candidate":
		if msg.Candidate == nil {
			return fmt.Errorf("candidate signal without candidate")
		}
		if err := p.pc.AddICECandidate(*msg.Candidate); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown signal type %q", msg.Type)
	}
}

func (p *peerConn) Close() error {
	return p.pc.Close()
}
