// File: internal/scaling/image.go
package scaling

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	// Screenshot payloads are PNG from every backend, but a gateway is free
	// to hand back JPEG.
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// ScaleImage resamples a screenshot to the model resolution. The image is
// stretched to exactly the model dimensions, never cropped or letterboxed,
// because the coordinate math assumes a pure stretch. Identity scalers
// return the input bytes untouched.
func (s *Scaler) ScaleImage(data []byte) ([]byte, error) {
	if s.IsIdentity() {
		return data, nil
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	model := s.pair.Model
	dst := image.NewRGBA(image.Rect(0, 0, model.Width, model.Height))
	// Catmull-Rom is the highest quality kernel x/image offers. Screenshots
	// are resampled once per action, so the extra cost over a bilinear
	// kernel does not matter.
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding scaled screenshot (source format %s): %w", format, err)
	}
	return buf.Bytes(), nil
}
