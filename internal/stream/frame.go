// Package stream owns the live-session lifecycle: it pulls transport chunks
// from a source, demultiplexes them into raw JPEG payloads, decodes them, and
// publishes the newest frame to a single-slot cache for consumers to poll.
package stream

import (
	"image"
	"time"
)

// Frame is one decoded video frame plus the raw JPEG payload it came from.
type Frame struct {
	// Seq is the monotonic publish sequence number, starting at 1.
	Seq uint64
	// Timestamp is when the frame was decoded.
	Timestamp time.Time
	// TraceID is a unique identifier for correlating a frame across logs.
	TraceID string
	// Image is the decoded raster.
	Image image.Image
	// Raw is the JPEG payload as extracted from the transport, byte for byte.
	Raw []byte
	// Width and Height are the raster dimensions in pixels.
	Width  int
	Height int
}
