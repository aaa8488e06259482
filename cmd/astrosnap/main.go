package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/Asteroidea-tn/astrosnap/encrypt"
	"github.com/Asteroidea-tn/astrosnap/pkg/astroalert"
	"github.com/Asteroidea-tn/astrosnap/pkg/astroconfig"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrolog"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrortsp"
	"github.com/Asteroidea-tn/astrosnap/pkg/astrosnap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-url" {
		os.Exit(encryptURL(os.Args[2:], os.Stdout, os.Stderr))
	}

	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("astrosnap stopped")
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("astrosnap", flag.ContinueOnError)
	port := fs.Int("port", 0, "port to listen on (overrides $PORT)")
	url := fs.String("url", "", "RTSP(S) stream URL (overrides $RTSP_URL)")
	path := fs.String("path", "", "HTTP path for --url (overrides $SNAPSHOT_PATH, default /snapshot.jpg)")
	useFFmpeg := fs.Bool("ffmpeg", false, "use the ffmpeg backend")
	ffmpegPath := fs.String("ffmpeg-path", "", "ffmpeg binary (overrides $FFMPEG_PATH)")
	invalidCert := fs.Bool("invalid-cert", false, "ignore invalid certificates (no effect unless using the ffmpeg backend)")
	routesFile := fs.String("routes", "", "YAML routes file (overrides $ROUTES_FILE)")
	envFile := fs.String("env-file", ".env", "dotenv file to load")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := astroconfig.Load(*envFile)
	if err != nil {
		return err
	}
	cfg.Apply(astroconfig.Overrides{
		Port:        *port,
		URL:         *url,
		Path:        *path,
		UseFFmpeg:   *useFFmpeg,
		InvalidCert: *invalidCert,
		FFmpegPath:  *ffmpegPath,
		RoutesFile:  *routesFile,
	})

	closer := astrolog.InitLogger(cfg.Log)
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return err
	}
	table, err := cfg.RouteTable()
	if err != nil {
		return err
	}
	logRoutes(cfg, table)

	if !strings.EqualFold(cfg.Log.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts []astrosnap.Option

	if addr := cfg.MetricsAddr(); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, astrosnap.WithMetrics(astrosnap.NewMetrics(reg)))

		go func() {
			if err := astrosnap.ServeMetrics(ctx, addr, reg); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
	}

	if cfg.Alert.Enabled() {
		notifier, err := astroalert.New(cfg.Alert)
		if err != nil {
			return err
		}
		defer notifier.Wait()
		opts = append(opts, astrosnap.WithFailureReporter(notifier))
		log.Info().Strs("to", cfg.Alert.Recipients()).Dur("cooldown", cfg.Alert.Cooldown).Msg("Failure alerts enabled")
	}

	capturer := astrortsp.NewCapturer(cfg.CaptureOptions())
	handler := astrosnap.NewHandler(table, capturer, opts...)

	return astrosnap.NewServer(cfg.ListenAddr(), handler).Run(ctx)
}

func logRoutes(cfg *astroconfig.Config, table *astrosnap.RouteTable) {
	for _, r := range table.Routes() {
		log.Info().
			Str("url", fmt.Sprintf("http://0.0.0.0:%d%s", cfg.Port, r.Path)).
			Str("source", r.Source.Redacted()).
			Str("backend", r.Source.Backend.String()).
			Msg("Snapshot route")

		if cfg.InvalidCert && r.Source.Secure() && r.Source.Backend != astrortsp.BackendFFmpeg {
			log.Warn().Str("path", r.Path).Msg("--invalid-cert has no effect on the default backend")
		}
	}
}

// encryptURL implements `astrosnap encrypt-url [--key KEY] URL`.
func encryptURL(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("encrypt-url", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", os.Getenv("STREAM_URL_KEY"), "16, 24 or 32 byte key (defaults to $STREAM_URL_KEY)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: astrosnap encrypt-url [--key KEY] URL")
		return 2
	}

	svc, err := encrypt.NewService([]byte(*key))
	if err != nil {
		fmt.Fprintf(stderr, "encrypt-url: %v\n", err)
		return 1
	}
	sealed, err := svc.Seal(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "encrypt-url: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, sealed)
	return 0
}
