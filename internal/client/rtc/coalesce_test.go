package rtc

import (
	"testing"

	"duocall/internal/client/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func TestFirstSightingOfStream_OncePerStreamID(t *testing.T) {
	s, err := NewSession(Config{
		LocalID: "conn-a",
		PeerID:  "conn-b",
		Source:  media.NewSyntheticSource("stream-a"),
	}, nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Audio then video of the same stream: only the first track notifies.
	assert.True(t, s.firstSightingOfStream("stream-1"))
	assert.False(t, s.firstSightingOfStream("stream-1"))

	// A renegotiated second stream notifies again, once.
	assert.True(t, s.firstSightingOfStream("stream-2"))
	assert.False(t, s.firstSightingOfStream("stream-2"))
	assert.False(t, s.firstSightingOfStream("stream-1"))
}
