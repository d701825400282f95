package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrUnsupportedDevice   = errors.New("unsupported device")
	ErrBadRecord           = errors.New("malformed experience record")
	ErrShapeMismatch       = errors.New("checkpoint shape mismatch")
)
