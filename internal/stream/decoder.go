package stream

import (
	"bytes"
	"image"
	"image/jpeg"
)

// Decoder turns a raw JPEG payload into a raster image. A failed decode must
// never abort the session; the caller drops the frame and continues.
type Decoder interface {
	Decode(raw []byte) (image.Image, error)
}

// JPEGDecoder decodes with the standard library JPEG implementation. Bytes
// trailing the end marker are ignored, so payloads that carry multipart
// padding still decode.
type JPEGDecoder struct{}

func (JPEGDecoder) Decode(raw []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(raw))
}
