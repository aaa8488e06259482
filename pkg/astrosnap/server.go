package astrosnap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Server is the HTTP listener in front of the snapshot handler. Each
// request runs on its own goroutine, so a slow camera never holds up
// others.
type Server struct {
	addr   string
	engine *gin.Engine
}

func NewServer(addr string, h *Handler) *Server {
	engine := gin.New()
	engine.Use(RequestID(), AccessLog(), Recovery())

	engine.GET("/*path", h.ServeSnapshot)
	engine.NoRoute(h.NotFound)

	return &Server{addr: addr, engine: engine}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Snapshot server listening")
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
