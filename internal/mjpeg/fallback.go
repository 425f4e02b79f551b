package mjpeg

import "bytes"

// MarkerExtractor recovers frames from a stream with no resolvable multipart
// boundary by scanning directly for the JPEG start and end markers. It is the
// permanent session mode once boundary resolution fails.
//
// Recovery is deliberately lossy: bytes preceding the first start marker are
// dropped silently. For live video the latest frame matters more than
// completeness.
type MarkerExtractor struct {
	limits Limits
	buf    []byte

	// inFrame is true once buf begins with a start marker. scan is the
	// offset the end-marker search resumes from.
	inFrame bool
	scan    int

	dropped uint64
}

func NewMarkerExtractor(limits Limits) *MarkerExtractor {
	return &MarkerExtractor{limits: limits.WithDefaults()}
}

// Extract appends one transport chunk and returns every frame completed by
// it. A frame runs from the first start marker through the first end marker
// after it, both inclusive. Returns ErrBufferOverflow once an unterminated
// frame crosses the hard cap.
func (m *MarkerExtractor) Extract(chunk []byte) ([][]byte, error) {
	m.buf = append(m.buf, chunk...)

	var frames [][]byte
	for {
		if !m.inFrame {
			i := bytes.Index(m.buf, soiMarker)
			if i < 0 {
				m.discardJunk()
				break
			}
			m.dropped += uint64(i)
			m.buf = m.buf[:copy(m.buf, m.buf[i:])]
			m.inFrame = true
			m.scan = len(soiMarker)
		}

		j := bytes.Index(m.buf[m.scan:], eoiMarker)
		if j < 0 {
			m.scan = rewind(len(m.buf), len(eoiMarker), m.scan)
			break
		}
		end := m.scan + j + len(eoiMarker)

		frame := make([]byte, end)
		copy(frame, m.buf[:end])
		frames = append(frames, frame)

		m.buf = m.buf[:copy(m.buf, m.buf[end:])]
		m.inFrame = false
		m.scan = 0
	}

	if len(m.buf) > m.limits.MaxBufferBytes {
		return frames, ErrBufferOverflow
	}
	return frames, nil
}

// discardJunk drops buffered bytes that cannot open a frame, keeping at most
// one trailing 0xFF that could complete a start marker with the next chunk.
func (m *MarkerExtractor) discardJunk() {
	if len(m.buf) == 0 {
		return
	}
	keep := 0
	if m.buf[len(m.buf)-1] == 0xFF {
		keep = 1
	}
	m.dropped += uint64(len(m.buf) - keep)
	m.buf = m.buf[:copy(m.buf, m.buf[len(m.buf)-keep:])]
}

// Buffered reports bytes currently retained across chunk arrivals.
func (m *MarkerExtractor) Buffered() int {
	return len(m.buf)
}

// Dropped reports bytes discarded outside any frame.
func (m *MarkerExtractor) Dropped() uint64 {
	return m.dropped
}
