// Package topology turns network topology diagrams into device
// configurations through a staged multi-model pipeline: two independent
// vision passes, cross-review, then synthesis with the diagram in view.
package topology

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDim is the resize bound for vision input.
const DefaultMaxDim = 768

// Diagram is a normalized topology image ready for vision input.
// Whatever format came in, Data is PNG.
type Diagram struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// LoadDiagram decodes an uploaded image (PNG, JPEG, GIF or WebP), fits
// it inside maxDim per side and re-encodes it as PNG. maxDim <= 0 uses
// DefaultMaxDim.
func LoadDiagram(data []byte, maxDim int) (*Diagram, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode diagram: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		b = img.Bounds()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode diagram: %w", err)
	}
	return &Diagram{
		Data:   buf.Bytes(),
		MIME:   "image/png",
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
