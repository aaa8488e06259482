package astrosnap

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Asteroidea-tn/astrosnap/pkg/astrortsp"
)

// Outcome classifies how a snapshot request ended.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeStreamUnavailable Outcome = "stream_unavailable"
	OutcomeCaptureFailed     Outcome = "capture_failed"
	OutcomeEncodeFailed      Outcome = "encode_failed"
	OutcomeInternal          Outcome = "internal"
)

// Status is the HTTP status code sent for the outcome.
func (o Outcome) Status() int {
	switch o {
	case OutcomeOK:
		return http.StatusOK
	case OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Reason is the plain-text body sent for a failed outcome.
func (o Outcome) Reason(path string) string {
	switch o {
	case OutcomeNotFound:
		return fmt.Sprintf("Not found: no snapshot configured for %s", path)
	case OutcomeStreamUnavailable:
		return "Unable to open RTSP stream"
	case OutcomeCaptureFailed:
		return "Failed to capture frame"
	case OutcomeEncodeFailed:
		return "JPEG encoding failed"
	case OutcomeInternal:
		return "Internal server error"
	default:
		return http.StatusText(o.Status())
	}
}

// FailureReporter is told about every failed capture. Implementations must
// not block the request.
type FailureReporter interface {
	ReportFailure(path, outcome string, err error)
}

// Handler serves snapshots for the routes in its table. All fields are set
// at construction and only read afterwards.
type Handler struct {
	routes   *RouteTable
	opener   astrortsp.Opener
	encode   astrortsp.EncodeFunc
	quality  int
	metrics  *Metrics
	reporter FailureReporter
}

type Option func(*Handler)

func WithEncoder(fn astrortsp.EncodeFunc) Option {
	return func(h *Handler) { h.encode = fn }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithFailureReporter(r FailureReporter) Option {
	return func(h *Handler) { h.reporter = r }
}

func NewHandler(routes *RouteTable, opener astrortsp.Opener, opts ...Option) *Handler {
	h := &Handler{
		routes:  routes,
		opener:  opener,
		encode:  astrortsp.EncodeJPEG,
		quality: astrortsp.DefaultQuality,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeSnapshot resolves the request path, captures one frame from the
// route's stream and answers with it as a JPEG.
func (h *Handler) ServeSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	logger := loggerFrom(ctx)
	path := c.Request.URL.Path

	logger.Debug().Str("path", path).Msg("Received snapshot request")

	route, ok := h.routes.Resolve(path)
	if !ok {
		h.NotFound(c)
		return
	}

	logger.Debug().
		Str("path", route.Path).
		Str("source", route.Source.Redacted()).
		Str("backend", route.Source.Backend.String()).
		Msg("Capturing snapshot")

	data, outcome, err := h.snapshot(ctx, route)
	if err != nil {
		h.fail(c, route.Path, outcome, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, "image/jpeg", data)

	h.metrics.outcome(route.Path, OutcomeOK)
	logger.Info().Str("path", route.Path).Int("bytes", len(data)).Msg("Snapshot sent")
}

// NotFound answers requests that match no route, including non-GET methods.
func (h *Handler) NotFound(c *gin.Context) {
	path := c.Request.URL.Path
	h.fail(c, "", OutcomeNotFound, fmt.Errorf("%s %s matches no snapshot route", c.Request.Method, path))
}

func (h *Handler) fail(c *gin.Context, route string, outcome Outcome, err error) {
	logger := loggerFrom(c.Request.Context())

	if outcome == OutcomeNotFound {
		logger.Warn().Err(err).Msg("Snapshot route not found")
	} else {
		logger.Error().Err(err).Str("path", route).Str("outcome", string(outcome)).Msg("Snapshot failed")
		if h.reporter != nil {
			h.reporter.ReportFailure(route, string(outcome), err)
		}
	}

	h.metrics.outcome(route, outcome)
	c.Header("Cache-Control", "no-store")
	c.String(outcome.Status(), outcome.Reason(c.Request.URL.Path))
}

// snapshot runs capture, crop and encode. The capture is detached from
// request cancellation: a client hanging up does not abort the transport.
// A panic in any stage is returned as OutcomeInternal.
func (h *Handler) snapshot(ctx context.Context, route Route) (data []byte, outcome Outcome, err error) {
	done := h.metrics.captureStarted()
	defer func() { done(route.Path, len(data)) }()
	defer func() {
		if r := recover(); r != nil {
			loggerFrom(ctx).Error().
				Interface("panic", r).
				Str("path", route.Path).
				Str("stack", string(debug.Stack())).
				Msg("Panic during snapshot")
			data, outcome, err = nil, OutcomeInternal, fmt.Errorf("panic: %v", r)
		}
	}()

	ctx = context.WithoutCancel(ctx)

	frame, outcome, err := h.capture(ctx, route.Source)
	if err != nil {
		return nil, outcome, err
	}

	frame, err = astrortsp.CropFrame(frame, route.Region)
	if err != nil {
		return nil, OutcomeEncodeFailed, err
	}

	data, err = h.encode(frame, h.quality)
	if err != nil {
		return nil, OutcomeEncodeFailed, err
	}
	if len(data) == 0 {
		return nil, OutcomeEncodeFailed, fmt.Errorf("%w: empty output", astrortsp.ErrEncodingFailed)
	}
	return data, OutcomeOK, nil
}

// capture opens a session, reads one frame and releases the session before
// returning, whatever happened.
func (h *Handler) capture(ctx context.Context, src astrortsp.StreamSource) (image.Image, Outcome, error) {
	session, err := h.opener.Open(ctx, src)
	if err != nil {
		return nil, OutcomeStreamUnavailable, err
	}
	if session == nil {
		return nil, OutcomeStreamUnavailable, fmt.Errorf("%w: no session", astrortsp.ErrOpenFailed)
	}
	defer session.Close()

	frame, err := session.ReadFrame(ctx)
	if err != nil {
		return nil, OutcomeCaptureFailed, err
	}
	if frame == nil {
		return nil, OutcomeCaptureFailed, fmt.Errorf("%w: empty frame", astrortsp.ErrReadFailed)
	}
	return frame, OutcomeOK, nil
}
