package telemetry

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextDecoder turns a stream of byte chunks into text. A multi-byte UTF-8
// sequence cut by a chunk boundary is held back until its remaining bytes
// arrive; invalid bytes decode to U+FFFD.
type TextDecoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

func NewTextDecoder() *TextDecoder {
	return &TextDecoder{
		t:   unicode.UTF8.NewDecoder(),
		dst: make([]byte, 4096),
	}
}

// Decode returns the text for chunk, minus any incomplete trailing sequence.
func (d *TextDecoder) Decode(chunk []byte) string {
	return d.decode(chunk, false)
}

// Flush returns the held-back bytes at end of stream and resets the decoder.
func (d *TextDecoder) Flush() string {
	s := d.decode(nil, true)
	d.t.Reset()
	return s
}

// Pending reports how many bytes are held back waiting for completion.
func (d *TextDecoder) Pending() int {
	return len(d.pending)
}

func (d *TextDecoder) decode(chunk []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	d.pending = nil

	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			if nSrc == 0 {
				return out.String()
			}
		case transform.ErrShortDst:
			// dst filled up, go round again
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out.String()
		default:
			// the UTF-8 decoder replaces bad input rather than failing
			return out.String()
		}
	}
	return out.String()
}
