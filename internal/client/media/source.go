package media

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"duocall/pkg/errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Kind selects which capture surface backs the video track.
type Kind string

const (
	KindCamera Kind = "camera"
	KindScreen Kind = "screen"
)

// TrackSet holds one call's local tracks. Tracks returns audio before video;
// peers rely on that order staying fixed for the lifetime of the call.
type TrackSet struct {
	Audio []webrtc.TrackLocal
	Video []webrtc.TrackLocal
}

func (ts *TrackSet) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(ts.Audio)+len(ts.Video))
	out = append(out, ts.Audio...)
	out = append(out, ts.Video...)
	return out
}

// Source produces local media tracks for a call.
type Source interface {
	// Capture acquires one audio and one video track. A failure maps to a
	// media acquisition error so callers can surface it before any
	// negotiation starts.
	Capture(ctx context.Context, kind Kind) (*TrackSet, error)
}

// SyntheticSource fabricates RTP streams in-process. It stands in for real
// capture hardware in headless deployments and in tests.
type SyntheticSource struct {
	streamID string
	cancel   context.CancelFunc
}

func NewSyntheticSource(streamID string) *SyntheticSource {
	return &SyntheticSource{streamID: streamID}
}

func (s *SyntheticSource) Capture(ctx context.Context, kind Kind) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewMediaAcquisitionError("capture cancelled", err)
	}
	if kind != KindCamera && kind != KindScreen {
		return nil, errors.NewMediaAcquisitionError(fmt.Sprintf("unknown capture kind %q", kind), nil)
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", s.streamID,
	)
	if err != nil {
		return nil, errors.NewMediaAcquisitionError("failed to create audio track", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		string(kind), s.streamID,
	)
	if err != nil {
		return nil, errors.NewMediaAcquisitionError("failed to create video track", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go pumpRTP(pumpCtx, audio, 20*time.Millisecond, 960)
	go pumpRTP(pumpCtx, video, 33*time.Millisecond, 3000)

	return &TrackSet{
		Audio: []webrtc.TrackLocal{audio},
		Video: []webrtc.TrackLocal{video},
	}, nil
}

// Stop halts the synthetic packet pumps.
func (s *SyntheticSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// pumpRTP writes filler packets on a fixed cadence so the track carries a
// live stream the remote side can bind to.
func pumpRTP(ctx context.Context, track *webrtc.TrackLocalStaticRTP, interval time.Duration, tsStep uint32) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: uint16(rand.Intn(65535)),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: make([]byte, 160),
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt.Header.SequenceNumber++
			pkt.Header.Timestamp += tsStep
			if err := track.WriteRTP(pkt); err != nil {
				return
			}
		}
	}
}
