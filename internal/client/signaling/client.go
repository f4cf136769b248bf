package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duocall/internal/core/domain"
	"duocall/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the websocket connection to the signaling server. The
// server assigns the connection id and announces it in the first envelope;
// Connect blocks until that handshake completes.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	connID    domain.ConnectionID

	incoming chan domain.SignalEnvelope
	outgoing chan domain.SignalEnvelope
	done     chan struct{}

	mu     sync.Mutex
	closed bool

	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func NewClient(serverURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan domain.SignalEnvelope, 32),
		outgoing:  make(chan domain.SignalEnvelope, 32),
		done:      make(chan struct{}),
		retryCfg:  retry.DefaultConfig(),
		logger:    logger,
	}
}

// Connect dials the signaling server, retrying with backoff, and waits for
// the server-assigned connection id.
func (c *Client) Connect(ctx context.Context) error {
	err := retry.Retry(ctx, c.retryCfg, func() error {
		dialer := *websocket.DefaultDialer
		conn, _, err := dialer.DialContext(ctx, c.serverURL, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.serverURL, err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return err
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	// First envelope carries our connection id.
	select {
	case env, ok := <-c.incoming:
		if !ok {
			return fmt.Errorf("connection closed during handshake")
		}
		if env.Type != domain.TypeConnected {
			return fmt.Errorf("unexpected first envelope: %s", env.Type)
		}
		var payload domain.ConnectedPayload
		if err := unmarshalPayload(env, &payload); err != nil {
			return fmt.Errorf("invalid connected payload: %w", err)
		}
		c.connID = payload.ConnectionID
	case <-time.After(writeWait):
		return fmt.Errorf("timed out waiting for connection id")
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Infow("connected to signaling server", "server_url", c.serverURL, "connection_id", c.connID)
	return nil
}

// ConnectionID returns the server-assigned id, empty before Connect.
func (c *Client) ConnectionID() domain.ConnectionID {
	return c.connID
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env domain.SignalEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.incoming <- env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Incoming returns the channel of decoded envelopes from the server. It is
// closed when the connection drops.
func (c *Client) Incoming() <-chan domain.SignalEnvelope {
	return c.incoming
}

func (c *Client) send(typ string, to domain.ConnectionID, payload interface{}) error {
	env, err := domain.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	env.To = to

	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return domain.ErrSessionClosed
	}
}

// JoinRoom asks the registry to put this connection into the room.
func (c *Client) JoinRoom(identity domain.Identity, room domain.RoomID) error {
	return c.send(domain.TypeRoomJoin, "", domain.JoinPayload{Identity: identity, Room: room})
}

// CheckRoom asks whether someone else already occupies the room.
func (c *Client) CheckRoom(room domain.RoomID) error {
	return c.send(domain.TypeRoomCheck, "", domain.CheckPayload{Room: room, Self: c.connID})
}

func (c *Client) SendCallOffer(to domain.ConnectionID, sdp string) error {
	return c.send(domain.TypeCallOffer, to, domain.SDPPayload{SDP: sdp})
}

func (c *Client) SendCallAnswer(to domain.ConnectionID, sdp string) error {
	return c.send(domain.TypeCallAnswer, to, domain.SDPPayload{SDP: sdp})
}

func (c *Client) SendNegoOffer(to domain.ConnectionID, sdp string) error {
	return c.send(domain.TypeNegoOffer, to, domain.SDPPayload{SDP: sdp})
}

func (c *Client) SendNegoAnswer(to domain.ConnectionID, sdp string) error {
	return c.send(domain.TypeNegoAnswer, to, domain.SDPPayload{SDP: sdp})
}

// Close shuts the websocket down, ending room membership server-side.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func unmarshalPayload(env domain.SignalEnvelope, v interface{}) error {
	if env.Payload == nil {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(env.Payload, v)
}
