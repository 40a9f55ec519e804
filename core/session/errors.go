package session

import (
	"errors"

	"github.com/koscakluka/ema-realtime/core/capture"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

var (
	ErrTokenMissing      = errors.New("session token missing")
	ErrBootstrapFailed   = errors.New("session bootstrap failed")
	ErrConnectionTimeout = errors.New("timed out waiting for the session to be ready")
	ErrInvalidState      = errors.New("invalid session state")
	ErrCancelled         = errors.New("session cancelled")

	ErrConnectionFailed  = protocol.ErrConnectionFailed
	ErrPermissionDenied  = capture.ErrPermissionDenied
	ErrDeviceUnavailable = capture.ErrDeviceUnavailable
)
