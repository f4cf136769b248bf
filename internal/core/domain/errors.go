package domain

import "errors"

var (
	ErrInvalidState       = errors.New("invalid signaling state")
	ErrRoomNotFound       = errors.New("room not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrPeerUnreachable    = errors.New("peer unreachable")
	ErrMediaUnavailable   = errors.New("media unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSessionClosed      = errors.New("session closed")
)
