package stream

// Mode reports which extraction path the session settled on.
type Mode string

const (
	// ModeResolving is the initial state before the boundary decision.
	ModeResolving Mode = "resolving"
	// ModeBoundary means multipart demultiplexing with a resolved delimiter.
	ModeBoundary Mode = "boundary"
	// ModeFallback means raw JPEG marker scanning for the session lifetime.
	ModeFallback Mode = "fallback"
)

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Mode            Mode   `json:"mode"`
	BytesRead       uint64 `json:"bytes_read"`
	FramesExtracted uint64 `json:"frames_extracted"`
	FramesPublished uint64 `json:"frames_published"`
	DecodeFailures  uint64 `json:"decode_failures"`
	SegmentsSkipped uint64 `json:"segments_skipped"`
}

func (s *Session) Stats() Stats {
	return Stats{
		Mode:            s.mode(),
		BytesRead:       s.bytesRead.Load(),
		FramesExtracted: s.framesExtracted.Load(),
		FramesPublished: s.framesPublished.Load(),
		DecodeFailures:  s.decodeFailures.Load(),
		SegmentsSkipped: s.segmentsSkipped.Load(),
	}
}
