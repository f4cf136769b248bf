package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"duocall/internal/client/media"
	"duocall/internal/client/rtc"
	"duocall/internal/client/signaling"
	"duocall/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Controller drives one client through the call lifecycle: join the room,
// discover the peer, run offer/answer cycles, and tear down when either
// side leaves. All envelope handling happens on the Run loop goroutine.
type Controller struct {
	sig    *signaling.Client
	source media.Source

	identity domain.Identity
	room     domain.RoomID

	iceServers []string

	mu           sync.Mutex
	kind         media.Kind
	session      *rtc.Session
	peerID       domain.ConnectionID
	peerIdentity domain.Identity

	onPeerPresent func(domain.ConnectionID, domain.Identity)
	onPeerLeft    func(domain.Identity)
	onRemoteTrack func(streamID string, track *webrtc.TrackRemote)

	logger *zap.SugaredLogger
}

type Options struct {
	Identity   domain.Identity
	Room       domain.RoomID
	Kind       media.Kind
	ICEServers []string
}

func NewController(sig *signaling.Client, source media.Source, opts Options, logger *zap.SugaredLogger) *Controller {
	kind := opts.Kind
	if kind == "" {
		kind = media.KindCamera
	}
	return &Controller{
		sig:        sig,
		source:     source,
		identity:   opts.Identity,
		room:       opts.Room,
		kind:       kind,
		iceServers: opts.ICEServers,
		logger:     logger,
	}
}

// OnPeerPresent registers a callback for the moment the other party is
// known, whether they joined after us or were already in the room.
func (c *Controller) OnPeerPresent(fn func(domain.ConnectionID, domain.Identity)) {
	c.onPeerPresent = fn
}

// OnPeerLeft registers a callback for the peer disconnecting mid-call.
func (c *Controller) OnPeerLeft(fn func(domain.Identity)) {
	c.onPeerLeft = fn
}

// OnRemoteTrack registers a callback for the first track of each remote
// stream.
func (c *Controller) OnRemoteTrack(fn func(string, *webrtc.TrackRemote)) {
	c.onRemoteTrack = fn
}

// Run joins the room, probes for an existing occupant, and then dispatches
// server envelopes until the connection drops or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.sig.JoinRoom(c.identity, c.room); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	if err := c.sig.CheckRoom(c.room); err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.Hangup()
			return ctx.Err()

		case env, ok := <-c.sig.Incoming():
			if !ok {
				c.Hangup()
				return domain.ErrSessionClosed
			}
			if err := c.dispatch(ctx, env); err != nil {
				c.logger.Errorw("envelope handling failed",
					"envelope_type", env.Type, "from", env.From, "error", err)
			}
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, env domain.SignalEnvelope) error {
	switch env.Type {
	case domain.TypeRoomJoined:
		return c.handleJoined(env)
	case domain.TypeOccupant:
		return c.handleOccupant(env)
	case domain.TypeCallOffer:
		return c.handleCallOffer(ctx, env)
	case domain.TypeCallAnswer:
		return c.handleAnswer(ctx, env)
	case domain.TypeNegoOffer:
		return c.handleNegoOffer(ctx, env)
	case domain.TypeNegoAnswer:
		return c.handleAnswer(ctx, env)
	case domain.TypePeerLeft:
		return c.handlePeerLeft(env)
	case domain.TypeError:
		var payload domain.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			c.logger.Warnw("server reported error", "message", payload.Message)
		}
		return nil
	default:
		c.logger.Debugw("ignoring envelope", "envelope_type", env.Type)
		return nil
	}
}

func (c *Controller) handleJoined(env domain.SignalEnvelope) error {
	var payload domain.JoinedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid joined payload: %w", err)
	}
	if payload.ConnectionID == c.sig.ConnectionID() {
		c.logger.Infow("joined room", "room", payload.Room, "identity", payload.Identity)
		return nil
	}
	c.setPeer(payload.ConnectionID, payload.Identity)
	return nil
}

func (c *Controller) handleOccupant(env domain.SignalEnvelope) error {
	var payload domain.OccupantPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid occupant payload: %w", err)
	}
	if !payload.Exists {
		c.logger.Infow("room is empty, waiting for peer", "room", c.room)
		return nil
	}
	c.setPeer(payload.ConnectionID, payload.Identity)
	return nil
}

func (c *Controller) setPeer(id domain.ConnectionID, identity domain.Identity) {
	c.mu.Lock()
	c.peerID = id
	c.peerIdentity = identity
	c.mu.Unlock()

	c.logger.Infow("peer present", "peer_id", id, "peer_identity", identity)
	if c.onPeerPresent != nil {
		c.onPeerPresent(id, identity)
	}
}

// Call opens a negotiation cycle toward the known peer. Media is acquired
// before the offer so the offer already describes the outgoing tracks.
func (c *Controller) Call(ctx context.Context) error {
	c.mu.Lock()
	peerID := c.peerID
	kind := c.kind
	c.mu.Unlock()
	if peerID == "" {
		return fmt.Errorf("%w: no peer in room", domain.ErrPeerUnreachable)
	}

	session, err := c.ensureSession(peerID)
	if err != nil {
		return err
	}
	if _, err := session.EnsureLocalMedia(ctx, kind); err != nil {
		return err
	}

	offer, err := session.CreateOffer(ctx)
	if err != nil {
		return err
	}
	return c.sig.SendCallOffer(peerID, offer)
}

func (c *Controller) handleCallOffer(ctx context.Context, env domain.SignalEnvelope) error {
	var payload domain.SDPPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	session, err := c.ensureSession(env.From)
	if err != nil {
		return err
	}
	c.mu.Lock()
	kind := c.kind
	c.mu.Unlock()
	if _, err := session.EnsureLocalMedia(ctx, kind); err != nil {
		return err
	}

	answer, err := session.CreateAnswer(ctx, payload.SDP)
	if err != nil {
		// Both sides dialed at once. The impolite side drops the incoming
		// offer; the peer will answer ours instead.
		if errors.Is(err, domain.ErrInvalidState) {
			c.logger.Infow("dropped colliding call offer", "peer_id", env.From)
			return nil
		}
		return err
	}
	return c.sig.SendCallAnswer(env.From, answer)
}

func (c *Controller) handleNegoOffer(ctx context.Context, env domain.SignalEnvelope) error {
	var payload domain.SDPPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	session, err := c.ensureSession(env.From)
	if err != nil {
		return err
	}

	answer, err := session.CreateAnswer(ctx, payload.SDP)
	if err != nil {
		// Glare on the impolite side: our own offer stays out, the peer
		// rolls back and answers it.
		if errors.Is(err, domain.ErrInvalidState) {
			c.logger.Infow("dropped colliding renegotiation offer", "peer_id", env.From)
			return nil
		}
		return err
	}
	return c.sig.SendNegoAnswer(env.From, answer)
}

func (c *Controller) handleAnswer(ctx context.Context, env domain.SignalEnvelope) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: answer without an active session", domain.ErrInvalidState)
	}

	var payload domain.SDPPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}
	return session.ApplyRemoteAnswer(ctx, payload.SDP)
}

func (c *Controller) handlePeerLeft(env domain.SignalEnvelope) error {
	var payload domain.PeerLeftPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid peer left payload: %w", err)
	}

	c.mu.Lock()
	if c.peerID != "" && c.peerID != payload.ConnectionID {
		c.mu.Unlock()
		return nil
	}
	session := c.session
	c.session = nil
	c.peerID = ""
	c.peerIdentity = ""
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	c.logger.Infow("peer left", "peer_identity", payload.Identity)
	if c.onPeerLeft != nil {
		c.onPeerLeft(payload.Identity)
	}
	return nil
}

// ensureSession returns the active session for the peer, creating it on
// first use. A session left over from a previous peer is torn down.
func (c *Controller) ensureSession(peerID domain.ConnectionID) (*rtc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if c.session.PeerID() == peerID {
			return c.session, nil
		}
		c.session.Close()
		c.session = nil
	}

	session, err := rtc.NewSession(rtc.Config{
		ICEServers: c.iceServers,
		LocalID:    c.sig.ConnectionID(),
		PeerID:     peerID,
		Source:     c.source,
	}, c.logger)
	if err != nil {
		return nil, err
	}

	session.OnRenegotiationNeeded(func(sdp string) {
		if err := c.sig.SendNegoOffer(peerID, sdp); err != nil {
			c.logger.Errorw("failed to send renegotiation offer", "peer_id", peerID, "error", err)
		}
	})
	session.OnRemoteStream(func(streamID string, track *webrtc.TrackRemote) {
		if c.onRemoteTrack != nil {
			c.onRemoteTrack(streamID, track)
		}
	})

	c.peerID = peerID
	c.session = session
	return session, nil
}

// SwitchVideoSurface captures from the other surface and swaps the video
// track in place without renegotiating.
func (c *Controller) SwitchVideoSurface(ctx context.Context, kind media.Kind) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no active call", domain.ErrInvalidState)
	}

	tracks, err := c.source.Capture(ctx, kind)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	for _, track := range tracks.Video {
		if err := session.ReplaceMediaTrack(track); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.kind = kind
	c.mu.Unlock()
	return nil
}

// AddVideoFeed captures the given surface and attaches its video as an
// additional outgoing track, renegotiating the call to announce it. The
// primary feed keeps its sender; ReplaceMediaTrack and SwitchVideoSurface
// keep targeting it.
func (c *Controller) AddVideoFeed(ctx context.Context, kind media.Kind) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no active call", domain.ErrInvalidState)
	}

	tracks, err := c.source.Capture(ctx, kind)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	for _, track := range tracks.Video {
		if err := session.AddMediaTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// Hangup stops local media, closes the active session and drops the
// signaling connection. The registry notices the websocket drop and
// notifies the peer.
func (c *Controller) Hangup() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if stopper, ok := c.source.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	c.sig.Close()
}
