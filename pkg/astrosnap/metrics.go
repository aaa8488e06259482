package astrosnap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// unmatchedRoute labels requests that resolved to no route, keeping label
// cardinality bounded by the route table.
const unmatchedRoute = "unmatched"

// Metrics holds the Prometheus collectors for the snapshot pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	Snapshots       *prometheus.CounterVec
	CaptureDuration *prometheus.HistogramVec
	SnapshotBytes   *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrosnap",
				Name:      "snapshots_total",
				Help:      "Snapshot requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		CaptureDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "astrosnap",
				Name:      "capture_duration_seconds",
				Help:      "Time from opening the stream to an encoded JPEG",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"route"},
		),
		SnapshotBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "astrosnap",
				Name:      "snapshot_bytes",
				Help:      "Size of JPEG snapshots sent",
				Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 8),
			},
			[]string{"route"},
		),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "astrosnap",
			Name:      "inflight_captures",
			Help:      "Captures currently in progress",
		}),
	}
}

func (m *Metrics) outcome(route string, o Outcome) {
	if m == nil {
		return
	}
	if route == "" {
		route = unmatchedRoute
	}
	m.Snapshots.WithLabelValues(route, string(o)).Inc()
}

func (m *Metrics) captureStarted() func(route string, size int) {
	if m == nil {
		return func(string, int) {}
	}
	start := time.Now()
	m.InFlight.Inc()
	return func(route string, size int) {
		m.InFlight.Dec()
		m.CaptureDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		if size > 0 {
			m.SnapshotBytes.WithLabelValues(route).Observe(float64(size))
		}
	}
}

// ServeMetrics exposes g on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
