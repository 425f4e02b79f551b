package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/camstream/internal/mjpeg"
	"github.com/danmuck/camstream/internal/observability"
)

var ErrSessionStarted = errors.New("stream: session already started")

// ChunkSource yields the transport byte stream. Open must distinguish a
// non-success response from a transport failure, and the returned reader
// delivers opaque chunks whose boundaries bear no relation to frames.
type ChunkSource interface {
	Open(ctx context.Context) (body io.ReadCloser, contentType string, err error)
}

// Config tunes one session.
type Config struct {
	// ChunkSize is the transport read size.
	ChunkSize int
	// Limits bound extractor memory and the boundary scan window.
	Limits mjpeg.Limits
}

func DefaultConfig() Config {
	return Config{
		ChunkSize: 16 * 1024,
		Limits:    mjpeg.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

const (
	modeResolving int32 = iota
	modeBoundary
	modeFallback
)

// Session owns the producer goroutine that consumes the transport and
// publishes decoded frames. The only state shared with consumers is the
// latest-frame cache; the byte buffer never crosses the boundary.
type Session struct {
	id      string
	cfg     Config
	source  ChunkSource
	decoder Decoder
	cache   *Cache
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	modeState       atomic.Int32
	bytesRead       atomic.Uint64
	framesExtracted atomic.Uint64
	framesPublished atomic.Uint64
	decodeFailures  atomic.Uint64
	segmentsSkipped atomic.Uint64
}

func NewSession(source ChunkSource, decoder Decoder, cfg Config, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		cfg:     cfg.WithDefaults(),
		source:  source,
		decoder: decoder,
		cache:   NewCache(),
		log:     logger.With().Str("session", id).Logger(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Start connects the source and launches the producer. Connection failures
// (refused, timeout, non-success status) surface here synchronously; after a
// successful Start only Stop or a fatal stream condition ends the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrSessionStarted
	}

	// The source request is bound to runCtx so that Stop unblocks a producer
	// waiting on the next chunk.
	runCtx, cancel := context.WithCancel(ctx)
	body, contentType, err := s.source.Open(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("stream: connect: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, body, contentType)

	s.log.Info().Str("content_type", contentType).Msg("session started")
	return nil
}

// Stop cooperatively halts the producer and waits for it to exit. It is
// idempotent and safe before Start. Once Stop returns, no further cache
// writes occur.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the producer loop has exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Read returns the latest cache snapshot without blocking.
func (s *Session) Read() Snapshot {
	return s.cache.Read()
}

// Err reports the terminal session error, nil while running or after a clean
// end.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) mode() Mode {
	switch s.modeState.Load() {
	case modeBoundary:
		return ModeBoundary
	case modeFallback:
		return ModeFallback
	default:
		return ModeResolving
	}
}

func (s *Session) run(ctx context.Context, body io.ReadCloser, contentType string) {
	defer close(s.done)
	defer body.Close()

	err := s.consume(ctx, body, contentType)
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("session aborted")
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.cache.Close(err)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	stats := s.Stats()
	s.log.Info().
		Str("mode", string(stats.Mode)).
		Uint64("bytes_read", stats.BytesRead).
		Uint64("frames_published", stats.FramesPublished).
		Uint64("decode_failures", stats.DecodeFailures).
		Msg("session ended")
}

func (s *Session) consume(ctx context.Context, body io.Reader, contentType string) error {
	var extractor mjpeg.Extractor
	var pending []byte

	if delim, ok := mjpeg.BoundaryFromContentType(contentType); ok {
		extractor = s.useBoundary(delim)
	}

	buf := make([]byte, s.cfg.ChunkSize)
	for {
		// Cooperative shutdown check, once per chunk boundary.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			s.bytesRead.Add(uint64(n))
			observability.RecordBytesRead(n)
			chunk := buf[:n]

			if extractor == nil {
				pending = append(pending, chunk...)
				extractor = s.resolveFromPrefix(pending, false)
				if extractor == nil {
					continue
				}
				chunk = pending
				pending = nil
			}

			if err := s.feed(extractor, chunk); err != nil {
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Short streams may end before the scan window fills.
				if extractor == nil && len(pending) > 0 {
					extractor = s.resolveFromPrefix(pending, true)
					if err := s.feed(extractor, pending); err != nil {
						return err
					}
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: read: %w", readErr)
		}
	}
}

// resolveFromPrefix decides the session extraction mode from buffered prefix
// bytes. The decision is made at most once: either a boundary declaration is
// found inside the scan window, or the session permanently falls back to
// marker scanning. force commits the decision regardless of window fill.
func (s *Session) resolveFromPrefix(prefix []byte, force bool) mjpeg.Extractor {
	window := prefix
	if len(window) > s.cfg.Limits.BoundaryScanWindow {
		window = window[:s.cfg.Limits.BoundaryScanWindow]
	}
	if delim, ok := mjpeg.ResolveBoundary(window); ok {
		return s.useBoundary(delim)
	}
	if force || len(prefix) >= s.cfg.Limits.BoundaryScanWindow {
		s.modeState.Store(modeFallback)
		s.log.Warn().Msg("no boundary declaration found, falling back to marker scanning")
		return mjpeg.NewMarkerExtractor(s.cfg.Limits)
	}
	return nil
}

func (s *Session) useBoundary(delim []byte) mjpeg.Extractor {
	s.modeState.Store(modeBoundary)
	s.log.Debug().Bytes("delimiter", delim).Msg("boundary resolved")
	return mjpeg.NewDemuxer(delim, s.cfg.Limits)
}

// feed runs one chunk through the extractor and publishes every completed
// frame. Per-frame failures are counted and skipped; only a buffer overflow
// propagates.
func (s *Session) feed(extractor mjpeg.Extractor, chunk []byte) error {
	frames, err := extractor.Extract(chunk)
	for _, raw := range frames {
		s.publish(raw)
	}

	observability.SetBufferBytes(extractor.Buffered())
	if d, ok := extractor.(*mjpeg.Demuxer); ok {
		if skipped := d.Skipped(); skipped > s.segmentsSkipped.Load() {
			observability.RecordSegmentsSkipped(skipped - s.segmentsSkipped.Load())
			s.segmentsSkipped.Store(skipped)
		}
	}

	if err != nil {
		return fmt.Errorf("stream: extract: %w", err)
	}
	return nil
}

func (s *Session) publish(raw []byte) {
	s.framesExtracted.Add(1)
	observability.RecordFrameExtracted(string(s.mode()))

	img, err := s.decoder.Decode(raw)
	if err != nil {
		s.decodeFailures.Add(1)
		observability.RecordDecodeFailure()
		s.log.Debug().Err(err).Int("bytes", len(raw)).Msg("frame dropped: decode failed")
		return
	}

	bounds := img.Bounds()
	frame := Frame{
		Seq:       s.framesPublished.Add(1),
		Timestamp: time.Now(),
		TraceID:   uuid.NewString(),
		Image:     img,
		Raw:       raw,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}
	s.cache.Publish(frame)
	observability.RecordFrameDecoded()
}
