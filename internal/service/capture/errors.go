package capture

import "errors"

var (
	// ErrBadFrame marks a payload between JPEG markers that failed to decode.
	// The connection itself is still healthy.
	ErrBadFrame = errors.New("bad frame")
	// ErrNoDevice is returned when no local camera index could be opened.
	ErrNoDevice = errors.New("no camera device available")
	// ErrStreamEnded is returned when the remote side closed the stream.
	ErrStreamEnded = errors.New("stream ended")
	// ErrUnrecoverable wraps source errors that must stop the pipeline.
	ErrUnrecoverable = errors.New("unrecoverable source error")
)
