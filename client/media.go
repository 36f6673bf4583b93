package client

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/huddlenet/huddle/proto"
)

// MediaSource acquires local media for a call. At most one session is
// acquired at a time; the controller releases it fully before acquiring
// again.
type MediaSource interface {
	Acquire(callType string) (MediaSession, error)
}

// MediaSession owns the local tracks of one call.
type MediaSession interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// StaticMediaSource builds sample-fed local tracks: Opus audio always,
// VP8 video for video calls. The embedding application pushes encoded
// samples into the tracks; the controller only manages their lifecycle.
type StaticMediaSource struct{}

func NewStaticMediaSource() *StaticMediaSource {
	return &StaticMediaSource{}
}

func (s *StaticMediaSource) Acquire(callType string) (MediaSession, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "huddle-audio")
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}

	tracks := []webrtc.TrackLocal{audio}

	if callType == proto.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "huddle-video")
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	return &staticMediaSession{tracks: tracks}, nil
}

type staticMediaSession struct {
	tracks []webrtc.TrackLocal
}

func (s *staticMediaSession) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *staticMediaSession) Close() error {
	return nil
}
