package audio

import "errors"

var (
	ErrDecode       = errors.New("audio: decode failed")
	ErrDeviceAccess = errors.New("audio: device unavailable")
	ErrInvalidInput = errors.New("audio: invalid input")
	ErrDisposed     = errors.New("audio: resource disposed")
)
