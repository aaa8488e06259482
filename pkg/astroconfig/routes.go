package astroconfig

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Asteroidea-tn/astrosnap/pkg/astroenv"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrortsp"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrosnap"
)

const (
	routePrefix    = "SNAPSHOT_"
	routeSeparator = "::"
	regionPoints   = 4
)

// routeFile is the YAML document named by ROUTES_FILE.
type routeFile struct {
	Routes []routeEntry `yaml:"routes"`
}

type routeEntry struct {
	Path    string  `yaml:"path"`
	URL     string  `yaml:"url"`
	Backend string  `yaml:"backend"`
	Region  []point `yaml:"region"`
}

type point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Routes collects routes in order: the single RTSP_URL route, then
// SNAPSHOT_<NAME>=path::url entries sorted by name, then the routes file.
func (c *Config) Routes() ([]astrosnap.Route, error) {
	var routes []astrosnap.Route

	if c.RTSPURL != "" {
		routes = append(routes, astrosnap.Route{
			Path:   c.SnapshotPath,
			Source: astrortsp.StreamSource{URL: c.RTSPURL, Backend: c.Backend()},
		})
	}

	envRoutes, err := c.envRoutes()
	if err != nil {
		return nil, err
	}
	routes = append(routes, envRoutes...)

	if c.RoutesFile != "" {
		fileRoutes, err := c.fileRoutes(c.RoutesFile)
		if err != nil {
			return nil, err
		}
		routes = append(routes, fileRoutes...)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no stream configured: set RTSP_URL, %s<NAME>=path%surl or ROUTES_FILE",
			ErrConfig, routePrefix, routeSeparator)
	}
	return routes, nil
}

// RouteTable builds the immutable table served by the listener.
func (c *Config) RouteTable() (*astrosnap.RouteTable, error) {
	routes, err := c.Routes()
	if err != nil {
		return nil, err
	}
	table, err := astrosnap.NewRouteTable(routes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return table, nil
}

func (c *Config) envRoutes() ([]astrosnap.Route, error) {
	var routes []astrosnap.Route
	for _, v := range astroenv.PrefixedVars(routePrefix) {
		if v.Key == "SNAPSHOT_PATH" {
			continue
		}

		path, url, ok := strings.Cut(v.Value, routeSeparator)
		path, url = strings.TrimSpace(path), strings.TrimSpace(url)
		if !ok || path == "" || url == "" {
			return nil, fmt.Errorf("%w: %s must look like /path%srtsp://host/stream", ErrConfig, v.Key, routeSeparator)
		}

		url, err := c.openSecret(url)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfig, v.Key, err)
		}

		routes = append(routes, astrosnap.Route{
			Path:   path,
			Source: astrortsp.StreamSource{URL: url, Backend: c.Backend()},
		})
	}
	return routes, nil
}

func (c *Config) fileRoutes(name string) ([]astrosnap.Route, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: routes file: %v", ErrConfig, err)
	}
	defer f.Close()

	var doc routeFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: routes file %s: %v", ErrConfig, name, err)
	}

	routes := make([]astrosnap.Route, 0, len(doc.Routes))
	for i, e := range doc.Routes {
		r, err := c.fileRoute(e)
		if err != nil {
			return nil, fmt.Errorf("%w: routes file %s entry %d: %v", ErrConfig, name, i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (c *Config) fileRoute(e routeEntry) (astrosnap.Route, error) {
	backend := c.Backend()
	if e.Backend != "" {
		b, err := astrortsp.ParseBackend(e.Backend)
		if err != nil {
			return astrosnap.Route{}, err
		}
		backend = b
	}

	url, err := c.openSecret(strings.TrimSpace(e.URL))
	if err != nil {
		return astrosnap.Route{}, err
	}

	r := astrosnap.Route{
		Path:   strings.TrimSpace(e.Path),
		Source: astrortsp.StreamSource{URL: url, Backend: backend},
	}

	if len(e.Region) > 0 {
		if len(e.Region) != regionPoints {
			return astrosnap.Route{}, fmt.Errorf("region needs %d points, got %d", regionPoints, len(e.Region))
		}
		pts := make([]image.Point, len(e.Region))
		for i, p := range e.Region {
			pts[i] = image.Pt(p.X, p.Y)
		}
		r.Region = astrortsp.BoundingBox(pts...)
		if r.Region.Empty() {
			return astrosnap.Route{}, fmt.Errorf("region %v has no area", r.Region)
		}
	}
	return r, nil
}
