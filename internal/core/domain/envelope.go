package domain

import "encoding/json"

// Envelope types carried over the relay. The server forwards the four
// call/nego kinds verbatim, rewriting the To field into a From field on
// delivery; everything else is handled by the registry.
const (
	TypeConnected  = "connected"
	TypeRoomJoin   = "room:join"
	TypeRoomJoined = "room:joined"
	TypeRoomCheck  = "room:check"
	TypeOccupant   = "room:occupant"
	TypeCallOffer  = "call:offer"
	TypeCallAnswer = "call:answer"
	TypeNegoOffer  = "nego:offer"
	TypeNegoAnswer = "nego:answer"
	TypePeerLeft   = "peer:left"
	TypeError      = "error"
)

// SignalEnvelope is the wire unit of the relay. It is never stored, only
// forwarded.
type SignalEnvelope struct {
	Type    string          `json:"type"`
	From    ConnectionID    `json:"from,omitempty"`
	To      ConnectionID    `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload announces the server-assigned connection id right after
// the websocket upgrade.
type ConnectedPayload struct {
	ConnectionID ConnectionID `json:"connection_id"`
}

type JoinPayload struct {
	Identity Identity `json:"identity"`
	Room     RoomID   `json:"room"`
}

// JoinedPayload is both the broadcast to the room's other members and the
// ack sent back to the joiner.
type JoinedPayload struct {
	Identity     Identity     `json:"identity"`
	ConnectionID ConnectionID `json:"connection_id"`
	Room         RoomID       `json:"room"`
}

type CheckPayload struct {
	Room RoomID       `json:"room"`
	Self ConnectionID `json:"self"`
}

type OccupantPayload struct {
	Exists       bool         `json:"exists"`
	ConnectionID ConnectionID `json:"connection_id,omitempty"`
	Identity     Identity     `json:"identity,omitempty"`
}

// SDPPayload carries an offer or answer. Clients set To; the relay delivers
// it with From populated instead.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

type PeerLeftPayload struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Identity     Identity     `json:"identity,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals the payload and wraps it with the given type.
func NewEnvelope(typ string, payload interface{}) (SignalEnvelope, error) {
	env := SignalEnvelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return SignalEnvelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}
