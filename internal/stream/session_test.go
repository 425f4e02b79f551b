package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/camstream/internal/httpstream"
	"github.com/danmuck/camstream/internal/mjpeg"
	"github.com/danmuck/camstream/internal/testutil/testlog"
)

func encodeJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var b bytes.Buffer
	if err := jpeg.Encode(&b, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return b.Bytes()
}

func writeMultipart(w http.ResponseWriter, images ...[]byte) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	for _, img := range images {
		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(img))
		_, _ = w.Write(img)
		_, _ = w.Write([]byte("\r\n"))
	}
	_, _ = w.Write([]byte("--frame--\r\n"))
}

func newTestSession(t *testing.T, url string, cfg Config) *Session {
	t.Helper()
	client, err := httpstream.New(httpstream.Config{URL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewSession(client, JPEGDecoder{}, cfg, zerolog.Nop())
}

func waitEnded(t *testing.T, s *Session) Snapshot {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not end in time")
	}
	return s.Read()
}

func TestSessionMultipartStreamPublishesAllFrames(t *testing.T) {
	testlog.Start(t)
	images := [][]byte{
		encodeJPEG(t, color.RGBA{R: 255, A: 255}),
		encodeJPEG(t, color.RGBA{G: 255, A: 255}),
		encodeJPEG(t, color.RGBA{B: 255, A: 255}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMultipart(w, images...)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := waitEnded(t, s)

	if snap.State != StateEnded || snap.Err != nil {
		t.Fatalf("expected clean end, got state=%s err=%v", snap.State, snap.Err)
	}
	stats := s.Stats()
	if stats.Mode != ModeBoundary {
		t.Fatalf("expected boundary mode, got %s", stats.Mode)
	}
	if stats.FramesPublished != 3 {
		t.Fatalf("expected 3 published frames, got %d", stats.FramesPublished)
	}
	if snap.Frame.Seq != 3 {
		t.Fatalf("latest frame should be the last published, got seq %d", snap.Frame.Seq)
	}
	if snap.Frame.Width != 8 || snap.Frame.Height != 6 {
		t.Fatalf("unexpected dimensions: %dx%d", snap.Frame.Width, snap.Frame.Height)
	}
	if snap.Frame.TraceID == "" {
		t.Fatalf("frame missing trace id")
	}
	// The raw payload keeps the multipart trailing CRLF; the embedded JPEG
	// range itself must be intact.
	if !bytes.HasPrefix(snap.Frame.Raw, images[2]) {
		t.Fatalf("raw payload does not begin with the embedded JPEG bytes")
	}
}

func TestSessionFallbackOnBareConcatenation(t *testing.T) {
	testlog.Start(t)
	images := [][]byte{
		encodeJPEG(t, color.RGBA{R: 200, A: 255}),
		encodeJPEG(t, color.RGBA{G: 200, A: 255}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		for _, img := range images {
			_, _ = w.Write(img)
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := waitEnded(t, s)

	if snap.Err != nil {
		t.Fatalf("expected clean end, got %v", snap.Err)
	}
	stats := s.Stats()
	if stats.Mode != ModeFallback {
		t.Fatalf("expected fallback mode, got %s", stats.Mode)
	}
	if stats.FramesPublished != 2 {
		t.Fatalf("expected 2 published frames, got %d", stats.FramesPublished)
	}
	if !bytes.Equal(snap.Frame.Raw, images[1]) {
		t.Fatalf("fallback frame not bit-identical to source image")
	}
}

func TestSessionResolvesBoundaryFromStreamPrefix(t *testing.T) {
	testlog.Start(t)
	img := encodeJPEG(t, color.RGBA{R: 90, G: 90, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No usable Content-Type header; the declaration rides in the body,
		// the way misbehaving camera firmware serves it.
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "Content-Type: multipart/x-mixed-replace; boundary=shard\r\n\r\n")
		fmt.Fprint(w, "--shard\r\nContent-Type: image/jpeg\r\n\r\n")
		_, _ = w.Write(img)
		fmt.Fprint(w, "--shard--\r\n")
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := waitEnded(t, s)

	if snap.Err != nil {
		t.Fatalf("expected clean end, got %v", snap.Err)
	}
	if s.Stats().Mode != ModeBoundary {
		t.Fatalf("expected boundary mode from in-stream resolution, got %s", s.Stats().Mode)
	}
	if !bytes.Equal(snap.Frame.Raw, img) {
		t.Fatalf("frame not bit-identical to embedded image")
	}
}

func TestSessionSkipsUndecodableFrames(t *testing.T) {
	testlog.Start(t)
	good := encodeJPEG(t, color.RGBA{B: 120, A: 255})
	bogus := append([]byte{0xFF, 0xD8}, []byte("definitely not entropy-coded data")...)
	bogus = append(bogus, 0xFF, 0xD9)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMultipart(w, bogus, good)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := waitEnded(t, s)

	if snap.Err != nil {
		t.Fatalf("decode failure must not abort the session: %v", snap.Err)
	}
	stats := s.Stats()
	if stats.FramesExtracted != 2 {
		t.Fatalf("expected 2 extracted frames, got %d", stats.FramesExtracted)
	}
	if stats.DecodeFailures != 1 {
		t.Fatalf("expected 1 decode failure, got %d", stats.DecodeFailures)
	}
	if stats.FramesPublished != 1 {
		t.Fatalf("expected 1 published frame, got %d", stats.FramesPublished)
	}
}

func TestSessionStartNonSuccessStatus(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	err := s.Start(context.Background())
	if !errors.Is(err, httpstream.ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus from Start, got %v", err)
	}
}

func TestSessionStartTwice(t *testing.T) {
	testlog.Start(t)
	img := encodeJPEG(t, color.RGBA{A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMultipart(w, img)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}
}

func TestSessionStopIsIdempotentAndHaltsPublishing(t *testing.T) {
	testlog.Start(t)
	img := encodeJPEG(t, color.RGBA{R: 10, G: 200, B: 30, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			if _, err := w.Write(img); err != nil {
				return
			}
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, DefaultConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Read().State != StateLive {
		if time.Now().After(deadline) {
			t.Fatalf("no frame published in time")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	s.Stop() // idempotent

	snap := s.Read()
	if snap.State != StateEnded {
		t.Fatalf("expected ended state after stop, got %s", snap.State)
	}
	if s.Err() != nil {
		t.Fatalf("cooperative stop is not an error: %v", s.Err())
	}

	// No cache writes may happen after Stop returns.
	seq := snap.Frame.Seq
	time.Sleep(50 * time.Millisecond)
	if got := s.Read().Frame.Seq; got != seq {
		t.Fatalf("frame published after Stop returned: seq %d -> %d", seq, got)
	}
}

func TestSessionBufferOverflowAbortsSession(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declares a boundary that never recurs in the body.
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher := w.(http.Flusher)
		junk := bytes.Repeat([]byte{'z'}, 1024)
		for i := 0; i < 64; i++ {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(junk); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Limits = mjpeg.Limits{MaxBufferBytes: 4 * 1024}
	s := newTestSession(t, srv.URL, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := waitEnded(t, s)

	if snap.State != StateEnded {
		t.Fatalf("expected ended state, got %s", snap.State)
	}
	if !errors.Is(snap.Err, mjpeg.ErrBufferOverflow) {
		t.Fatalf("expected ErrBufferOverflow, got %v", snap.Err)
	}
	if !errors.Is(s.Err(), mjpeg.ErrBufferOverflow) {
		t.Fatalf("Err() should surface the overflow, got %v", s.Err())
	}
}
