package astroconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/Asteroidea-tn/astrosnap/encrypt"
	"github.com/Asteroidea-tn/astrosnap/pkg/astroalert"
	"github.com/Asteroidea-tn/astrosnap/pkg/astroenv"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrolog"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrortsp"
)

// ErrConfig wraps every error that must stop the process before it serves.
var ErrConfig = errors.New("configuration error")

// Config is the full process configuration, read from the environment and
// any .env file. Fields tagged encrypt may hold enc: values.
type Config struct {
	Port          int           `env:"PORT,8080"`
	RTSPURL       string        `env:"RTSP_URL," encrypt:"true"`
	SnapshotPath  string        `env:"SNAPSHOT_PATH,/snapshot.jpg"`
	UseFFmpeg     bool          `env:"USE_FFMPEG,false"`
	InvalidCert   bool          `env:"INVALID_CERT,false"`
	RoutesFile    string        `env:"ROUTES_FILE,"`
	FFmpegPath    string        `env:"FFMPEG_PATH,ffmpeg"`
	StreamTimeout time.Duration `env:"STREAM_TIMEOUT,10s"`
	StreamURLKey  string        `env:"STREAM_URL_KEY,"`
	MetricsPort   int           `env:"METRICS_PORT,0"`

	Log   astrolog.Config
	Alert astroalert.Config

	cipher *encrypt.Service
}

// Overrides carries command-line values. Zero values leave the environment
// setting in place; the booleans can only switch a setting on.
type Overrides struct {
	Port        int
	URL         string
	Path        string
	UseFFmpeg   bool
	InvalidCert bool
	FFmpegPath  string
	RoutesFile  string
}

// Load reads files (default .env) and the environment into a Config.
func Load(files ...string) (*Config, error) {
	var cfg Config
	if err := astroenv.LoadEnvVarible(&cfg, files...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &cfg, nil
}

// Apply layers command-line overrides over the loaded values.
func (c *Config) Apply(o Overrides) {
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.URL != "" {
		c.RTSPURL = o.URL
	}
	if o.Path != "" {
		c.SnapshotPath = o.Path
	}
	if o.FFmpegPath != "" {
		c.FFmpegPath = o.FFmpegPath
	}
	if o.RoutesFile != "" {
		c.RoutesFile = o.RoutesFile
	}
	c.UseFFmpeg = c.UseFFmpeg || o.UseFFmpeg
	c.InvalidCert = c.InvalidCert || o.InvalidCert
}

// Validate checks scalar settings and opens every sealed field.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfig, c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("%w: metrics port %d out of range", ErrConfig, c.MetricsPort)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return fmt.Errorf("%w: metrics port must differ from port %d", ErrConfig, c.Port)
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("%w: stream timeout must be positive, got %s", ErrConfig, c.StreamTimeout)
	}

	if c.StreamURLKey != "" {
		svc, err := encrypt.NewService([]byte(c.StreamURLKey))
		if err != nil {
			return fmt.Errorf("%w: STREAM_URL_KEY: %v", ErrConfig, err)
		}
		c.cipher = svc
	}
	if encrypt.HasSealedFields(c) {
		if c.cipher == nil {
			return fmt.Errorf("%w: encrypted values need STREAM_URL_KEY", ErrConfig)
		}
		if err := c.cipher.OpenStruct(c); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	return nil
}

// Backend is the process-wide decode backend.
func (c *Config) Backend() astrortsp.Backend {
	if c.UseFFmpeg {
		return astrortsp.BackendFFmpeg
	}
	return astrortsp.BackendDefault
}

// CaptureOptions are the transport settings shared by every route.
func (c *Config) CaptureOptions() astrortsp.Options {
	return astrortsp.Options{
		FFmpegPath:  c.FFmpegPath,
		Timeout:     c.StreamTimeout,
		InvalidCert: c.InvalidCert,
	}
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// openSecret decrypts an enc: value found outside the Config struct.
func (c *Config) openSecret(v string) (string, error) {
	if !encrypt.IsSealed(v) {
		return v, nil
	}
	if c.cipher == nil {
		return "", errors.New("encrypted value needs STREAM_URL_KEY")
	}
	return c.cipher.Open(v)
}
