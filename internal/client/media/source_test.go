package media

import (
	"context"
	"testing"

	apperrors "duocall/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSource_ProducesAudioThenVideo(t *testing.T) {
	source := NewSyntheticSource("stream-1")
	t.Cleanup(source.Stop)

	set, err := source.Capture(context.Background(), KindCamera)
	require.NoError(t, err)

	tracks := set.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	assert.Equal(t, "stream-1", tracks[0].StreamID())
	assert.Equal(t, "stream-1", tracks[1].StreamID())
}

func TestSyntheticSource_RejectsUnknownKind(t *testing.T) {
	source := NewSyntheticSource("stream-1")

	_, err := source.Capture(context.Background(), Kind("hologram"))
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeMediaAcquisition, appErr.Code)
}

func TestSyntheticSource_RespectsCancelledContext(t *testing.T) {
	source := NewSyntheticSource("stream-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Capture(ctx, KindCamera)
	assert.Error(t, err)
}

func TestSyntheticSource_ScreenKindNamesVideoTrack(t *testing.T) {
	source := NewSyntheticSource("stream-1")
	t.Cleanup(source.Stop)

	set, err := source.Capture(context.Background(), KindScreen)
	require.NoError(t, err)
	require.Len(t, set.Video, 1)
}
