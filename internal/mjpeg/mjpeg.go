// Package mjpeg splits a multipart/x-mixed-replace (MJPEG) byte stream into
// discrete raw JPEG payloads. Transport chunk boundaries bear no relation to
// frame boundaries, so both extractors carry buffered state across calls.
package mjpeg

import "errors"

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

var ErrBufferOverflow = errors.New("mjpeg: buffer cap exceeded without frame progress")

// Extractor is the shared contract for the boundary demuxer and the marker
// fallback: feed one transport chunk, receive zero or more complete frames.
// Frames are emitted in arrival order and are freshly allocated copies.
type Extractor interface {
	Extract(chunk []byte) ([][]byte, error)
	Buffered() int
}

// Limits constrains extractor memory use. A stream that never repeats its
// boundary (or never closes a frame) would otherwise grow the buffer without
// bound.
type Limits struct {
	// MaxBufferBytes is the hard cap on bytes retained between extractions.
	// Crossing it is fatal for the session.
	MaxBufferBytes int
	// BoundaryScanWindow caps how deep into the stream prefix a boundary
	// declaration is searched for before falling back to marker scanning.
	BoundaryScanWindow int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBufferBytes:     8 * 1024 * 1024,
		BoundaryScanWindow: 64 * 1024,
	}
}

func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxBufferBytes <= 0 {
		l.MaxBufferBytes = def.MaxBufferBytes
	}
	if l.BoundaryScanWindow <= 0 {
		l.BoundaryScanWindow = def.BoundaryScanWindow
	}
	return l
}

// rewind returns the earliest offset a later search must resume from so that
// no occurrence of an n-byte token is missed across a chunk seam, without
// rescanning bytes already examined.
func rewind(bufLen, tokenLen, floor int) int {
	r := bufLen - tokenLen + 1
	if r < floor {
		return floor
	}
	return r
}
