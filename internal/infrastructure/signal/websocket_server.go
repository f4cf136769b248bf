package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/monitoring"
	"duocall/pkg/tracing"
	"duocall/pkg/utils"
	"duocall/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// forwardable lists the envelope kinds the relay passes through verbatim,
// keyed purely on the To field.
var forwardable = map[string]bool{
	domain.TypeCallOffer:  true,
	domain.TypeCallAnswer: true,
	domain.TypeNegoOffer:  true,
	domain.TypeNegoAnswer: true,
}

// WebSocketServer is the signaling relay: it owns the live connections,
// assigns their ids, feeds the registry and forwards targeted envelopes
// between the two ends of a call.
type WebSocketServer struct {
	registry ports.RegistryService
	metrics  *monitoring.PrometheusCollector

	connections map[domain.ConnectionID]*clientConn
	mu          sync.RWMutex

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64

	newLimiter func() *rate.Limiter

	logger *zap.SugaredLogger
}

// clientConn wraps one websocket connection. All writes go through the send
// channel so a single goroutine owns the socket's write side. Producers and
// close serialize on mu so no enqueue can hit the channel after it is
// closed.
type clientConn struct {
	id   domain.ConnectionID
	ws   *websocket.Conn
	send chan domain.SignalEnvelope

	mu     sync.Mutex
	closed bool
}

// enqueue places the envelope on the send queue. A closed connection or a
// full queue both count as an unreachable peer.
func (c *clientConn) enqueue(env domain.SignalEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrPeerUnreachable
	}
	select {
	case c.send <- env:
		return nil
	default:
		return domain.ErrPeerUnreachable
	}
}

func (c *clientConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type Option func(*WebSocketServer)

// WithTimings overrides the ping/pong/write timing defaults.
func WithTimings(pingInterval, pongTimeout, writeTimeout time.Duration) Option {
	return func(s *WebSocketServer) {
		s.pingInterval = pingInterval
		s.pongTimeout = pongTimeout
		s.writeTimeout = writeTimeout
	}
}

// WithMaxMessageSize caps the inbound message size.
func WithMaxMessageSize(n int64) Option {
	return func(s *WebSocketServer) { s.maxMessageSize = n }
}

// WithMessageLimiter installs a per-connection inbound rate limiter factory.
func WithMessageLimiter(f func() *rate.Limiter) Option {
	return func(s *WebSocketServer) { s.newLimiter = f }
}

func NewWebSocketServer(registry ports.RegistryService, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger, opts ...Option) *WebSocketServer {
	s := &WebSocketServer{
		registry:       registry,
		metrics:        metrics,
		connections:    make(map[domain.ConnectionID]*clientConn),
		pingInterval:   30 * time.Second,
		pongTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		maxMessageSize: 64 * 1024,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := &clientConn{
		id:   domain.ConnectionID(utils.GenerateConnectionID()),
		ws:   ws,
		send: make(chan domain.SignalEnvelope, 16),
	}

	s.mu.Lock()
	s.connections[conn.id] = conn
	s.mu.Unlock()
	s.metrics.ConnectionOpened()

	s.logger.Infow("connection established", "connection_id", conn.id, "remote_addr", ws.RemoteAddr())

	go s.writePump(conn)

	// Tell the client its server-assigned connection id before anything
	// else; room checks need it as the self reference.
	if env, err := domain.NewEnvelope(domain.TypeConnected, domain.ConnectedPayload{ConnectionID: conn.id}); err == nil {
		conn.enqueue(env)
	}

	s.readLoop(conn)

	// Clean up on disconnect
	s.mu.Lock()
	delete(s.connections, conn.id)
	s.mu.Unlock()
	conn.close()
	s.metrics.ConnectionClosed()

	s.handleDisconnect(context.Background(), conn.id)

	s.logger.Infow("connection closed", "connection_id", conn.id)
}

func (s *WebSocketServer) readLoop(conn *clientConn) {
	var limiter *rate.Limiter
	if s.newLimiter != nil {
		limiter = s.newLimiter()
	}

	conn.ws.SetReadLimit(s.maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	for {
		var env domain.SignalEnvelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "connection_id", conn.id, "error", err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.sendError(conn.id, "rate limit exceeded")
			continue
		}

		if err := s.handleEnvelope(context.Background(), conn.id, env); err != nil {
			s.logger.Infow("error handling envelope", "connection_id", conn.id, "type", env.Type, "error", err)
			s.sendError(conn.id, err.Error())
		}
	}
}

func (s *WebSocketServer) writePump(conn *clientConn) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case env, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteJSON(env); err != nil {
				s.logger.Infow("error writing envelope", "connection_id", conn.id, "error", err)
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServer) handleEnvelope(ctx context.Context, from domain.ConnectionID, env domain.SignalEnvelope) error {
	if env.Type == "" {
		return fmt.Errorf("envelope type is required")
	}

	ctx, span := tracing.TraceSignalEnvelope(ctx, env.Type, string(from))
	defer span.End()

	switch {
	case env.Type == domain.TypeRoomJoin:
		return s.handleJoin(ctx, from, env)
	case env.Type == domain.TypeRoomCheck:
		return s.handleCheck(ctx, from, env)
	case forwardable[env.Type]:
		return s.forward(ctx, from, env)
	default:
		return fmt.Errorf("unknown envelope type: %s", env.Type)
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, from domain.ConnectionID, env domain.SignalEnvelope) error {
	var payload domain.JoinPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join payload: %w", err)
	}

	res, err := s.registry.Join(ctx, payload.Identity, payload.Room, from)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("join failed: %w", err)
	}
	s.metrics.RoomJoined()
	s.metrics.SetActiveRooms(s.registry.RoomCount(ctx))

	joined, err := domain.NewEnvelope(domain.TypeRoomJoined, domain.JoinedPayload{
		Identity:     res.Identity,
		ConnectionID: res.ConnectionID,
		Room:         res.Room,
	})
	if err != nil {
		return err
	}

	// Announce the arrival to everyone already in the room, then ack the
	// joiner with the same payload so it can transition to its room view.
	s.Broadcast(res.Others, joined)
	return s.Unicast(from, joined)
}

func (s *WebSocketServer) handleCheck(ctx context.Context, from domain.ConnectionID, env domain.SignalEnvelope) error {
	var payload domain.CheckPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid check payload: %w", err)
	}

	self := payload.Self
	if self == "" {
		self = from
	}

	occ, err := s.registry.CheckRoom(ctx, payload.Room, self)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("room check failed: %w", err)
	}

	out, err := domain.NewEnvelope(domain.TypeOccupant, domain.OccupantPayload{
		Exists:       occ.Exists,
		ConnectionID: occ.ConnectionID,
		Identity:     occ.Identity,
	})
	if err != nil {
		return err
	}
	return s.Unicast(from, out)
}

// forward re-emits the envelope to the connection named by To, with From
// rewritten to the sender and the payload untouched. A missing target is a
// silent drop.
func (s *WebSocketServer) forward(ctx context.Context, from domain.ConnectionID, env domain.SignalEnvelope) error {
	if env.To == "" {
		return fmt.Errorf("envelope target is required")
	}

	var payload domain.SDPPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid sdp payload: %w", err)
	}
	if err := validation.ValidateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid sdp in %s: %w", env.Type, err)
	}

	out := domain.SignalEnvelope{
		Type:    env.Type,
		From:    from,
		Payload: env.Payload,
	}

	if err := s.Unicast(env.To, out); err != nil {
		// Target gone: drop without error back to the sender.
		s.metrics.EnvelopeDropped(env.Type)
		s.logger.Infow("dropping envelope for vanished target",
			"type", env.Type,
			"from", from,
			"to", env.To,
		)
		return nil
	}

	s.metrics.EnvelopeRelayed(env.Type)
	s.logger.Debugw("relayed envelope",
		"type", env.Type,
		"from", from,
		"to", env.To,
		"sdp_length", len(payload.SDP),
	)
	return nil
}

// handleDisconnect removes the connection from the registry and tells the
// members that shared a room with it that their peer is gone.
func (s *WebSocketServer) handleDisconnect(ctx context.Context, conn domain.ConnectionID) {
	dep, err := s.registry.Leave(ctx, conn)
	if err != nil {
		s.logger.Infow("error removing connection from registry", "connection_id", conn, "error", err)
		return
	}
	s.metrics.SetActiveRooms(s.registry.RoomCount(ctx))

	if len(dep.Remaining) == 0 {
		return
	}

	env, err := domain.NewEnvelope(domain.TypePeerLeft, domain.PeerLeftPayload{
		ConnectionID: conn,
		Identity:     dep.Identity,
	})
	if err != nil {
		return
	}
	s.Broadcast(dep.Remaining, env)
	s.metrics.PeerLeftNotified()
}

// Unicast sends the envelope to a single connection. Returns
// domain.ErrPeerUnreachable when the connection no longer exists, has been
// closed, or its outbound queue is full.
func (s *WebSocketServer) Unicast(conn domain.ConnectionID, env domain.SignalEnvelope) error {
	s.mu.RLock()
	c, exists := s.connections[conn]
	s.mu.RUnlock()

	if !exists {
		return domain.ErrPeerUnreachable
	}
	return c.enqueue(env)
}

// Broadcast sends the envelope to each listed connection, dropping the ones
// that are gone.
func (s *WebSocketServer) Broadcast(conns []domain.ConnectionID, env domain.SignalEnvelope) {
	for _, conn := range conns {
		if err := s.Unicast(conn, env); err != nil {
			s.logger.Debugw("broadcast target gone", "connection_id", conn, "type", env.Type)
		}
	}
}

func (s *WebSocketServer) sendError(conn domain.ConnectionID, message string) {
	env, err := domain.NewEnvelope(domain.TypeError, domain.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.Unicast(conn, env)
}

// ConnectionCount reports the number of live connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// IsConnected reports whether the connection is still registered.
func (s *WebSocketServer) IsConnected(conn domain.ConnectionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.connections[conn]
	return exists
}
