// Package viewer exposes the live session over a local HTTP surface: the
// latest frame as a still, a re-multiplexed MJPEG stream for browsers, and
// status/metrics endpoints. It replaces a native display window; any browser
// on the machine becomes the display.
package viewer

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/camstream/internal/observability"
	"github.com/danmuck/camstream/internal/stream"
)

// FrameSource is the session view the server needs: current snapshot plus
// counters. *stream.Session satisfies it.
type FrameSource interface {
	ID() string
	Read() stream.Snapshot
	Stats() stream.Stats
}

// Server is the local viewer HTTP node.
type Server struct {
	source   FrameSource
	router   *gin.Engine
	appeared time.Time

	// pollInterval paces the /stream re-multiplexer.
	pollInterval time.Duration
}

func New(source FrameSource, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		source:       source,
		router:       r,
		appeared:     time.Now(),
		pollInterval: 25 * time.Millisecond,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"session": s.source.ID(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.source.Read()
		c.JSON(http.StatusOK, gin.H{
			"ready":   snap.State == stream.StateLive,
			"state":   snap.State.String(),
			"session": s.source.ID(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		snap := s.source.Read()
		status := gin.H{
			"session": s.source.ID(),
			"state":   snap.State.String(),
			"stats":   s.source.Stats(),
			"uptime":  time.Since(s.appeared).String(),
		}
		if snap.State == stream.StateLive || snap.Frame.Seq > 0 {
			status["frame"] = gin.H{
				"seq":       snap.Frame.Seq,
				"trace_id":  snap.Frame.TraceID,
				"width":     snap.Frame.Width,
				"height":    snap.Frame.Height,
				"timestamp": snap.Frame.Timestamp,
			}
		}
		if snap.Err != nil {
			status["error"] = snap.Err.Error()
		}
		c.JSON(http.StatusOK, status)
	})

	s.router.GET("/frame.jpg", s.frameHandler)
	s.router.GET("/stream", s.streamHandler)
}

func (s *Server) frameHandler(c *gin.Context) {
	snap := s.source.Read()
	switch snap.State {
	case stream.StateWaiting:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
	case stream.StateEnded:
		c.JSON(http.StatusGone, gin.H{"error": "session ended"})
	default:
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "image/jpeg", snap.Frame.Raw)
	}
}

// streamHandler re-multiplexes published frames back into an MJPEG response,
// one part per newly published frame. A slow client simply sees fewer frames.
func (s *Server) streamHandler(c *gin.Context) {
	mw := multipart.NewWriter(c.Writer)
	defer mw.Close()
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())

	partHeader := make(textproto.MIMEHeader, 1)
	partHeader.Add("Content-Type", "image/jpeg")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := s.source.Read()
		if snap.State == stream.StateEnded {
			return
		}
		if snap.State != stream.StateLive || snap.Frame.Seq == lastSeq {
			continue
		}
		lastSeq = snap.Frame.Seq

		pw, err := mw.CreatePart(partHeader)
		if err != nil {
			return
		}
		if _, err := pw.Write(snap.Frame.Raw); err != nil {
			// Client went away.
			return
		}
		c.Writer.Flush()
	}
}

// Serve runs the viewer until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
