package mjpeg

import "bytes"

// Demuxer extracts raw JPEG payloads from a multipart body using a resolved
// boundary delimiter. A frame is the byte range from the JPEG start marker to
// the segment end between two consecutive delimiter occurrences.
//
// The delimiter is matched as a literal byte sequence, never as a pattern, so
// tokens containing pattern metacharacters need no escaping. Search resumes
// from the last examined position instead of rescanning the whole buffer on
// every chunk arrival.
type Demuxer struct {
	delim  []byte
	limits Limits
	buf    []byte

	// start is the index of the first delimiter occurrence in buf, or -1
	// while none has been seen. scan is the offset the next delimiter search
	// resumes from; it never moves backwards.
	start int
	scan  int

	skipped uint64
}

func NewDemuxer(delim []byte, limits Limits) *Demuxer {
	return &Demuxer{
		delim:  delim,
		limits: limits.WithDefaults(),
		start:  -1,
	}
}

// Extract appends one transport chunk and returns every frame completed by
// it, in arrival order. Emitted frames are copies; the internal buffer keeps
// only bytes that may still belong to an unterminated segment. Returns
// ErrBufferOverflow once retained bytes cross the hard cap; frames extracted
// before the overflow are still returned.
func (d *Demuxer) Extract(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		if d.start < 0 {
			i := bytes.Index(d.buf[d.scan:], d.delim)
			if i < 0 {
				d.scan = rewind(len(d.buf), len(d.delim), d.scan)
				break
			}
			d.start = d.scan + i
			d.scan = d.start + len(d.delim)
		}

		j := bytes.Index(d.buf[d.scan:], d.delim)
		if j < 0 {
			d.scan = rewind(len(d.buf), len(d.delim), d.scan)
			break
		}
		end := d.scan + j

		segment := d.buf[d.start:end]
		if k := bytes.Index(segment, soiMarker); k >= 0 {
			frame := make([]byte, len(segment)-k)
			copy(frame, segment[k:])
			frames = append(frames, frame)
		} else {
			// Header-only or malformed part. Skipping it is normal.
			d.skipped++
		}

		// Discard through the segment end. The delimiter just used as the
		// end becomes the start of the next segment, preserving exact order.
		d.buf = d.buf[:copy(d.buf, d.buf[end:])]
		d.start = 0
		d.scan = len(d.delim)
	}

	if len(d.buf) > d.limits.MaxBufferBytes {
		return frames, ErrBufferOverflow
	}
	return frames, nil
}

// Buffered reports bytes currently retained across chunk arrivals.
func (d *Demuxer) Buffered() int {
	return len(d.buf)
}

// Skipped reports how many delimited segments carried no JPEG start marker.
func (d *Demuxer) Skipped() uint64 {
	return d.skipped
}
