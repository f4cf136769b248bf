package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	apperrors "duocall/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrapsAndUnwraps(t *testing.T) {
	cause := stderrors.New("device busy")
	err := apperrors.NewMediaAcquisitionError("could not open camera", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "MEDIA_ACQUISITION")
	assert.Contains(t, err.Error(), "device busy")
}

func TestGetAppError_FindsErrorInChain(t *testing.T) {
	inner := apperrors.NewInvalidStateError("cannot offer while negotiating")
	wrapped := fmt.Errorf("call setup: %w", inner)

	appErr := apperrors.GetAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidState, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestGetAppError_NilForPlainErrors(t *testing.T) {
	assert.Nil(t, apperrors.GetAppError(stderrors.New("plain")))
}

func TestWithContext_AccumulatesFields(t *testing.T) {
	err := apperrors.NewPeerUnreachableError("peer vanished").
		WithContext("connection_id", "conn-1").
		WithContext("room", "daily")

	assert.Equal(t, "conn-1", err.Context["connection_id"])
	assert.Equal(t, "daily", err.Context["room"])
}
