package audio

import "errors"

var (
	ErrNoSourceAvailable    = errors.New("no audio source available")
	ErrCaptureBusy          = errors.New("capture is shutting down")
	ErrLoopClosed           = errors.New("capture loop closed")
	ErrSinkWrite            = errors.New("audio sink write failed")
	ErrDeviceClosed         = errors.New("audio device closed")
	ErrDeviceLost           = errors.New("audio device stopped unexpectedly")
	ErrSourceUnsupported    = errors.New("audio source not supported by host")
	ErrDeviceNotInitialized = errors.New("audio device not initialized")
)
