package astrortsp

import (
	"context"
	"fmt"
)

// Capturer dispatches each source to the backend it asks for.
type Capturer struct {
	Native Opener
	FFmpeg Opener
}

// NewCapturer wires both backends with the same options.
func NewCapturer(opts Options) *Capturer {
	return &Capturer{
		Native: NewNativeBackend(opts),
		FFmpeg: NewFFmpegBackend(opts),
	}
}

func (c *Capturer) Open(ctx context.Context, src StreamSource) (Session, error) {
	var backend Opener
	switch src.Backend {
	case BackendDefault:
		backend = c.Native
	case BackendFFmpeg:
		backend = c.FFmpeg
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: %s not available", ErrOpenFailed, src.Backend)
	}
	return backend.Open(ctx, src)
}
