package astrosnap

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/Asteroidea-tn/astrosnap/pkg/astrortsp"
)

var (
	ErrNoRoutes       = errors.New("no snapshot routes configured")
	ErrDuplicateRoute = errors.New("duplicate snapshot path")
	ErrInvalidRoute   = errors.New("invalid snapshot route")
)

// Route binds an HTTP path to a stream source. A non-empty Region crops
// the captured frame before encoding.
type Route struct {
	Path   string
	Source astrortsp.StreamSource
	Region image.Rectangle
}

// RouteTable maps request paths to routes. It is built once and never
// modified, so lookups need no locking.
type RouteTable struct {
	byPath map[string]Route
	order  []Route
}

// NewRouteTable validates routes and builds the table. Duplicate paths are
// rejected rather than overwritten.
func NewRouteTable(routes []Route) (*RouteTable, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	t := &RouteTable{
		byPath: make(map[string]Route, len(routes)),
		order:  make([]Route, 0, len(routes)),
	}
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidRoute, r.Path)
		}
		if strings.TrimSpace(r.Source.URL) == "" {
			return nil, fmt.Errorf("%w: path %q has no stream URL", ErrInvalidRoute, r.Path)
		}
		if _, dup := t.byPath[r.Path]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, r.Path)
		}
		t.byPath[r.Path] = r
		t.order = append(t.order, r)
	}
	return t, nil
}

// Resolve returns the route configured for path.
func (t *RouteTable) Resolve(path string) (Route, bool) {
	r, ok := t.byPath[path]
	return r, ok
}

// Routes returns the routes in configuration order.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.order))
	copy(out, t.order)
	return out
}

func (t *RouteTable) Len() int { return len(t.order) }
