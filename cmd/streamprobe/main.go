// streamprobe connects to an MJPEG endpoint, reports which extraction mode
// the session settles on, and optionally dumps the first frames to disk for
// inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/camstream/internal/httpstream"
	"github.com/danmuck/camstream/internal/observability"
	"github.com/danmuck/camstream/internal/stream"
)

var (
	flagURL       = flag.String("url", "", "Stream URL (required)")
	flagDuration  = flag.Duration("duration", 10*time.Second, "How long to sample the stream")
	flagOutput    = flag.String("output", "", "Directory to dump frames into (optional)")
	flagMaxFrames = flag.Int("max-frames", 0, "Stop after this many frames (0 = unlimited)")
)

func main() {
	flag.Parse()
	logger := observability.InitLogger("streamprobe")

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "streamprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(logger zerolog.Logger) error {
	if *flagURL == "" {
		return fmt.Errorf("-url is required")
	}
	if *flagOutput != "" {
		if err := os.MkdirAll(*flagOutput, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := httpstream.New(httpstream.Config{URL: *flagURL})
	if err != nil {
		return err
	}

	session := stream.NewSession(client, stream.JPEGDecoder{}, stream.DefaultConfig(), logger)
	started := time.Now()
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	deadline := time.After(*flagDuration)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var lastSeq, saved uint64
sample:
	for {
		select {
		case <-ctx.Done():
			break sample
		case <-deadline:
			break sample
		case <-session.Done():
			break sample
		case <-ticker.C:
		}

		snap := session.Read()
		if snap.State != stream.StateLive || snap.Frame.Seq == lastSeq {
			continue
		}
		lastSeq = snap.Frame.Seq

		if *flagOutput != "" {
			name := filepath.Join(*flagOutput, fmt.Sprintf("frame_%06d.jpg", snap.Frame.Seq))
			if err := os.WriteFile(name, snap.Frame.Raw, 0o644); err != nil {
				return fmt.Errorf("dump frame: %w", err)
			}
			saved++
		}
		if *flagMaxFrames > 0 && lastSeq >= uint64(*flagMaxFrames) {
			break sample
		}
	}

	session.Stop()
	stats := session.Stats()
	elapsed := time.Since(started)
	fps := float64(stats.FramesPublished) / elapsed.Seconds()

	logger.Info().
		Str("mode", string(stats.Mode)).
		Uint64("bytes_read", stats.BytesRead).
		Uint64("frames_extracted", stats.FramesExtracted).
		Uint64("frames_published", stats.FramesPublished).
		Uint64("decode_failures", stats.DecodeFailures).
		Uint64("segments_skipped", stats.SegmentsSkipped).
		Uint64("frames_saved", saved).
		Float64("fps", fps).
		Dur("elapsed", elapsed).
		Msg("probe complete")

	if err := session.Err(); err != nil {
		return err
	}
	return nil
}
