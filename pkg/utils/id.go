package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateConnectionID generates the transport-session identifier a
// connection keeps for its lifetime.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateCallID generates a unique call session ID
func GenerateCallID() string {
	return GenerateID("call")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}
