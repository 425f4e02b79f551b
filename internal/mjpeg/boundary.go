package mjpeg

import (
	"bytes"
	"mime"
	"strings"
)

const boundaryAttr = "boundary="

// BoundaryFromContentType derives the effective part delimiter from an HTTP
// Content-Type header value such as
// "multipart/x-mixed-replace; boundary=frame". The delimiter is the declared
// token with the two-dash prefix.
func BoundaryFromContentType(ct string) ([]byte, bool) {
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, false
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, false
	}
	token := params["boundary"]
	if token == "" {
		return nil, false
	}
	return delimiter([]byte(token)), true
}

// ResolveBoundary discovers the part delimiter from the stream prefix itself,
// for servers that do not expose a usable Content-Type header. It searches
// for the literal "boundary=" declaration and reads the token up to the next
// line terminator. The caller bounds the prefix to Limits.BoundaryScanWindow;
// resolution happens at most once per session.
func ResolveBoundary(prefix []byte) ([]byte, bool) {
	i := bytes.Index(prefix, []byte(boundaryAttr))
	if i < 0 {
		return nil, false
	}
	rest := prefix[i+len(boundaryAttr):]
	end := bytes.IndexAny(rest, "\r\n")
	if end < 0 {
		end = len(rest)
	}
	token := bytes.Trim(rest[:end], `"; `)
	if len(token) == 0 {
		return nil, false
	}
	return delimiter(token), true
}

func delimiter(token []byte) []byte {
	d := make([]byte, 0, 2+len(token))
	d = append(d, '-', '-')
	return append(d, token...)
}
