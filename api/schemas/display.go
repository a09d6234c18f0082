package schemas

import "fmt"

// Size describes a display dimension in whole pixels.
type Size struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// String renders the size in the conventional WxH form.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// AspectRatio returns width divided by height. Callers must ensure the
// height is non-zero; construction paths validate this before use.
func (s Size) AspectRatio() float64 {
	return float64(s.Width) / float64(s.Height)
}

// IsZero reports whether either dimension is missing or degenerate.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Point is a single coordinate. Whether it is expressed in model space or
// desktop (original) space depends on which side of the coordinate scaler
// it sits on; the Action documentation states the convention per field.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// ResolutionBounds constrains the resolution presented to the model. A zero
// Min disables the lower bound check for that axis; Max must always be set.
type ResolutionBounds struct {
	Min Size `json:"min" mapstructure:"min"`
	Max Size `json:"max" mapstructure:"max"`
}

// ResolutionPair records the relationship between the real desktop
// resolution and the resolution the model perceives. ScaleFactor is the
// single multiplier used for all coordinate math: model = original *
// ScaleFactor. It is derived from the rounded integer model dimensions, not
// from the pre-rounding ideal, so coordinate round-trips stay consistent
// with the pixels image resampling actually produces.
type ResolutionPair struct {
	Original    Size    `json:"original"`
	Model       Size    `json:"model"`
	ScaleFactor float64 `json:"scale_factor"`
}

// IsIdentity reports whether no scaling is applied between the two spaces.
func (r ResolutionPair) IsIdentity() bool {
	return r.ScaleFactor == 1
}
