package astrortsp

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strings"
	"time"
)

var (
	ErrOpenFailed     = errors.New("unable to open stream")
	ErrReadFailed     = errors.New("failed to capture frame")
	ErrEncodingFailed = errors.New("JPEG encoding failed")
	ErrUnknownBackend = errors.New("unknown backend")
)

// Backend selects the implementation used to open a stream source.
type Backend int

const (
	BackendDefault Backend = iota
	BackendFFmpeg
)

func (b Backend) String() string {
	switch b {
	case BackendDefault:
		return "default"
	case BackendFFmpeg:
		return "ffmpeg"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend accepts "", "default", "native" and "ffmpeg" (any case).
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "native":
		return BackendDefault, nil
	case "ffmpeg":
		return BackendFFmpeg, nil
	default:
		return BackendDefault, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// StreamSource identifies where to connect and which backend to use.
type StreamSource struct {
	URL     string
	Backend Backend
}

// Redacted returns the URL with any password masked, for logging.
func (s StreamSource) Redacted() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// Secure reports whether the source uses TLS (rtsps).
func (s StreamSource) Secure() bool {
	return strings.HasPrefix(strings.ToLower(s.URL), "rtsps://")
}

// Session is an open decode handle on one stream source. A session yields at
// most one frame and must be closed on every path.
type Session interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens capture sessions.
type Opener interface {
	Open(ctx context.Context, src StreamSource) (Session, error)
}

// Options are shared by every backend.
type Options struct {
	// FFmpegPath is the ffmpeg binary used by the FFmpeg backend and by the
	// default backend to decode keyframes.
	FFmpegPath string
	// Timeout is handed to the transport (socket I/O timeout); zero keeps the
	// transport default.
	Timeout time.Duration
	// InvalidCert skips TLS verification for rtsps sources. Only the FFmpeg
	// backend honours it.
	InvalidCert bool
}

func (o Options) ffmpeg() string {
	if o.FFmpegPath == "" {
		return "ffmpeg"
	}
	return o.FFmpegPath
}
