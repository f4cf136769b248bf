package rtc

import (
	"context"
	"fmt"
	"sync"

	"duocall/internal/client/media"
	"duocall/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SignalingState tracks where this side stands in the offer/answer cycle.
// It is maintained here rather than read back from the peer connection so
// that every transition happens under the session mutex.
type SignalingState int

const (
	StateStable SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
)

func (s SignalingState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	default:
		return "unknown"
	}
}

// RemoteStreamHandler fires once per remote stream id, on the first track
// of that stream. Later tracks of the same stream are delivered through
// TrackHandler only.
type RemoteStreamHandler func(streamID string, track *webrtc.TrackRemote)

// RenegotiationHandler receives a fresh local offer whenever the underlying
// peer connection reports that negotiation is needed mid-call.
type RenegotiationHandler func(sdp string)

// Session coordinates WebRTC negotiation for a single call between a local
// and a remote connection. Sessions are single-use; after Close a new call
// needs a new Session.
type Session struct {
	mu sync.Mutex

	pc       *webrtc.PeerConnection
	pcConfig webrtc.Configuration
	state    SignalingState

	localID domain.ConnectionID
	peerID  domain.ConnectionID

	source   media.Source
	tracks   *media.TrackSet
	attached bool
	senders  map[string]*webrtc.RTPSender

	// Tracks attached mid-call beyond the initial set, and their senders.
	extraTracks []webrtc.TrackLocal
	extras      []*webrtc.RTPSender

	knownStreams map[string]bool

	onRemoteStream RemoteStreamHandler
	onRenegotiate  RenegotiationHandler

	closed bool
	logger *zap.SugaredLogger
}

// Config carries what a session needs beyond the pion configuration itself.
type Config struct {
	ICEServers []string
	LocalID    domain.ConnectionID
	PeerID     domain.ConnectionID
	Source     media.Source
}

func NewSession(cfg Config, logger *zap.SugaredLogger) (*Session, error) {
	if cfg.LocalID == "" || cfg.PeerID == "" {
		return nil, fmt.Errorf("%w: session needs both connection ids", domain.ErrInvalidInput)
	}

	pcConfig := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	s := &Session{
		pcConfig:     pcConfig,
		state:        StateStable,
		localID:      cfg.LocalID,
		peerID:       cfg.PeerID,
		source:       cfg.Source,
		senders:      make(map[string]*webrtc.RTPSender),
		knownStreams: make(map[string]bool),
		logger:       logger,
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		return nil, err
	}
	s.pc = pc

	return s, nil
}

func (s *Session) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(s.pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnTrack(s.handleRemoteTrack)
	pc.OnNegotiationNeeded(s.handleNegotiationNeeded)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed",
			"peer_id", s.peerID, "connection_state", state.String())
	})

	return pc, nil
}

// OnRemoteStream registers the handler invoked on the first track of each
// remote stream.
func (s *Session) OnRemoteStream(h RemoteStreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteStream = h
}

// OnRenegotiationNeeded registers the handler that ships mid-call offers to
// the peer.
func (s *Session) OnRenegotiationNeeded(h RenegotiationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRenegotiate = h
}

// State reports the current signaling state.
func (s *Session) State() SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Polite reports whether this side yields during offer glare. The side with
// the lexicographically lower connection id discards its own offer; the
// other side holds its ground. Both ends compute this from the same pair of
// ids, so exactly one of them is polite.
func (s *Session) Polite() bool {
	return s.localID < s.peerID
}

// EnsureLocalMedia captures local tracks and attaches them to the peer
// connection, audio transceivers first. It is idempotent; repeat calls
// return the already-attached set without touching the transceiver layout.
func (s *Session) EnsureLocalMedia(ctx context.Context, kind media.Kind) (*media.TrackSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.attached {
		return s.tracks, nil
	}

	tracks, err := s.source.Capture(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	for _, track := range tracks.Tracks() {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s track: %w", track.Kind(), err)
		}
		s.senders[track.Kind().String()] = sender
		go drainRTCP(sender)
	}

	s.tracks = tracks
	s.attached = true
	return tracks, nil
}

// CreateOffer builds the local offer that opens a negotiation cycle. It
// refuses to run unless the session is stable.
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", domain.ErrSessionClosed
	}
	if s.state != StateStable {
		return "", fmt.Errorf("%w: cannot offer in state %s", domain.ErrInvalidState, s.state)
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local offer: %w", err)
	}

	s.state = StateHaveLocalOffer
	return offer.SDP, nil
}

// CreateAnswer accepts a remote offer and produces the local answer. When
// the offer arrives while our own offer is outstanding, the polite side
// discards its offer and answers; the impolite side rejects the offer and
// keeps waiting for an answer to its own.
func (s *Session) CreateAnswer(ctx context.Context, remoteSDP string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", domain.ErrSessionClosed
	}

	if s.state == StateHaveLocalOffer {
		if !s.Polite() {
			return "", fmt.Errorf("%w: offer glare, holding local offer", domain.ErrInvalidState)
		}
		if err := s.discardLocalOffer(); err != nil {
			return "", err
		}
		s.logger.Infow("discarded local offer on glare", "peer_id", s.peerID)
	}
	if s.state != StateStable {
		return "", fmt.Errorf("%w: cannot answer in state %s", domain.ErrInvalidState, s.state)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}
	s.state = StateHaveRemoteOffer

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local answer: %w", err)
	}

	s.state = StateStable
	return answer.SDP, nil
}

// ApplyRemoteAnswer completes a negotiation cycle this side opened. An
// answer in any other state is a protocol violation and is rejected.
func (s *Session) ApplyRemoteAnswer(ctx context.Context, remoteSDP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != StateHaveLocalOffer {
		return fmt.Errorf("%w: unexpected answer in state %s", domain.ErrInvalidState, s.state)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteSDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}

	s.state = StateStable
	return nil
}

// discardLocalOffer abandons the pending local offer. pion v3 does not
// accept rollback through SetLocalDescription, so the discard rebuilds the
// peer connection and re-attaches the outgoing tracks in their original
// order. Callers hold s.mu.
func (s *Session) discardLocalOffer() error {
	pc, err := s.newPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to discard local offer: %w", err)
	}

	senders := make(map[string]*webrtc.RTPSender)
	var extras []*webrtc.RTPSender
	if s.attached {
		for _, track := range s.tracks.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return fmt.Errorf("failed to re-attach %s track: %w", track.Kind(), err)
			}
			senders[track.Kind().String()] = sender
			go drainRTCP(sender)
		}
	}
	for _, track := range s.extraTracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return fmt.Errorf("failed to re-attach %s track: %w", track.Kind(), err)
		}
		extras = append(extras, sender)
		go drainRTCP(sender)
	}

	old := s.pc
	s.pc = pc
	s.senders = senders
	s.extras = extras
	s.state = StateStable
	old.Close()
	return nil
}

// AddMediaTrack attaches an additional outgoing track mid-call. The new
// sender is not covered by the current description, so the peer connection
// reports negotiation needed and a fresh offer goes out through the
// renegotiation handler.
func (s *Session) AddMediaTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to attach %s track: %w", track.Kind(), err)
	}
	s.extraTracks = append(s.extraTracks, track)
	s.extras = append(s.extras, sender)
	go drainRTCP(sender)
	return nil
}

// ReplaceMediaTrack swaps the outgoing track of matching kind in place.
// The sender and its m-line survive the swap, so no renegotiation fires and
// the transceiver order stays fixed.
func (s *Session) ReplaceMediaTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}

	sender, ok := s.senders[track.Kind().String()]
	if !ok {
		return fmt.Errorf("%w: no sender for %s track", domain.ErrInvalidState, track.Kind())
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", track.Kind(), err)
	}

	if s.tracks != nil {
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.tracks.Audio = []webrtc.TrackLocal{track}
		case webrtc.RTPCodecTypeVideo:
			s.tracks.Video = []webrtc.TrackLocal{track}
		}
	}
	return nil
}

// SenderCount reports how many outgoing senders the session holds.
func (s *Session) SenderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.senders) + len(s.extras)
}

// PeerID returns the remote connection id this session talks to.
func (s *Session) PeerID() domain.ConnectionID {
	return s.peerID
}

// Close tears the peer connection down. Further negotiation calls return
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}

// firstSightingOfStream records the stream id and reports whether this is
// the first track seen for it. Later tracks of a stream must not re-notify.
func (s *Session) firstSightingOfStream(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knownStreams[streamID] {
		return false
	}
	s.knownStreams[streamID] = true
	return true
}

func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	streamID := track.StreamID()
	first := s.firstSightingOfStream(streamID)

	s.mu.Lock()
	handler := s.onRemoteStream
	s.mu.Unlock()

	s.logger.Infow("remote track arrived",
		"peer_id", s.peerID, "stream_id", streamID, "track_kind", track.Kind().String())

	if first && handler != nil {
		handler(streamID, track)
	}
}

// handleNegotiationNeeded turns transceiver changes into a fresh offer for
// the peer. When a cycle is already in flight the pending offer will carry
// the change, so the event is dropped. Before the first cycle completes the
// event is also dropped; the opening offer belongs to the caller.
func (s *Session) handleNegotiationNeeded() {
	s.mu.Lock()
	if s.closed || s.state != StateStable || s.onRenegotiate == nil {
		s.mu.Unlock()
		return
	}
	if s.pc.CurrentRemoteDescription() == nil {
		s.mu.Unlock()
		return
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorw("failed to create renegotiation offer", "error", err)
		return
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.mu.Unlock()
		s.logger.Errorw("failed to set renegotiation offer", "error", err)
		return
	}
	s.state = StateHaveLocalOffer
	handler := s.onRenegotiate
	s.mu.Unlock()

	handler(offer.SDP)
}

// drainRTCP keeps the interceptor pipeline fed for a sender. The reports
// themselves are not inspected.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
			return
		}
	}
}
