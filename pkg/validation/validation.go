package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateIdentity validates the user-supplied identity label. Identities
// are email-like display strings; they are not authenticated.
func ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > 254 {
		return fmt.Errorf("identity is too long (max 254 characters)")
	}
	return nil
}

// ValidateRoomID validates the room pairing key.
func ValidateRoomID(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room id is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateSDP performs a basic sanity check on a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("sdp is required")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid sdp format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid sdp format: missing required field '%s'", field)
		}
	}
	return nil
}
