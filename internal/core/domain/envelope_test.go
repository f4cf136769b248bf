package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEnvelope_CarriesPayloadVerbatim(t *testing.T) {
	env, err := NewEnvelope(TypeCallOffer, SDPPayload{SDP: "v=0\r\n"})
	assert.NoError(t, err)
	assert.Equal(t, TypeCallOffer, env.Type)

	var payload SDPPayload
	assert.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "v=0\r\n", payload.SDP)
}

func TestSignalEnvelope_RoundTripKeepsRawPayload(t *testing.T) {
	raw := `{"type":"nego:offer","to":"conn-b","payload":{"sdp":"v=0","extra":42}}`

	var env SignalEnvelope
	assert.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, TypeNegoOffer, env.Type)
	assert.Equal(t, ConnectionID("conn-b"), env.To)

	// Fields the server does not model survive the round trip untouched.
	out, err := json.Marshal(env)
	assert.NoError(t, err)
	assert.Contains(t, string(out), `"extra":42`)
}
