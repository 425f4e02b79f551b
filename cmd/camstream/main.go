package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/camstream/internal/config"
	"github.com/danmuck/camstream/internal/discover"
	"github.com/danmuck/camstream/internal/httpstream"
	"github.com/danmuck/camstream/internal/mjpeg"
	"github.com/danmuck/camstream/internal/observability"
	"github.com/danmuck/camstream/internal/stream"
	"github.com/danmuck/camstream/internal/viewer"
)

var (
	flagConfig = flag.String("config", "", "Path to TOML config file")
	flagURL    = flag.String("url", "", "Stream URL, overrides config and skips discovery")
	flagAddr   = flag.String("addr", "", "Viewer listen address, overrides config")
)

func main() {
	flag.Parse()
	logger := observability.InitLogger("camstream")

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "camstream: %v\n", err)
		os.Exit(1)
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}
	if *flagURL != "" {
		cfg.Stream.URL = *flagURL
	}
	if *flagAddr != "" {
		cfg.Viewer.Addr = *flagAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := cfg.Stream.URL
	if url == "" {
		url, err = discoverStreamURL(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}

	client, err := httpstream.New(httpstream.Config{
		URL:            url,
		Headers:        cfg.Stream.Headers,
		ConnectTimeout: time.Duration(cfg.Stream.ConnectTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	session := stream.NewSession(client, stream.JPEGDecoder{}, stream.Config{
		ChunkSize: cfg.Stream.ChunkSizeBytes,
		Limits: mjpeg.Limits{
			MaxBufferBytes:     cfg.Stream.MaxBufferBytes,
			BoundaryScanWindow: cfg.Stream.BoundaryScanWindowBytes,
		},
	}, logger)

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	// A fatal stream condition takes the whole viewer down.
	go func() {
		<-session.Done()
		if err := session.Err(); err != nil {
			logger.Error().Err(err).Msg("stream session failed")
		}
		stop()
	}()

	server := viewer.New(session, cfg.Viewer.CorsOrigins, logger)
	logger.Info().
		Str("url", url).
		Str("addr", cfg.Viewer.Addr).
		Msg("viewer listening")

	if err := server.Serve(ctx, cfg.Viewer.Addr); err != nil {
		return fmt.Errorf("viewer server: %w", err)
	}

	session.Stop()
	if err := session.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func discoverStreamURL(ctx context.Context, cfg config.Config, logger zerolog.Logger) (string, error) {
	scanner := discover.New(discover.Config{
		Port:    cfg.Discovery.Port,
		Path:    cfg.Discovery.ProbePath,
		Ranges:  cfg.Discovery.Ranges,
		Timeout: time.Duration(cfg.Discovery.TimeoutMS) * time.Millisecond,
		Workers: cfg.Discovery.Workers,
	}, logger)

	host, err := scanner.Scan(ctx)
	if err != nil {
		return "", err
	}
	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Discovery.Port))
	return fmt.Sprintf("http://%s%s", addr, cfg.Discovery.StreamPath), nil
}
