// File: internal/scaling/scaler.go
package scaling

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// aspectTolerance is the relative aspect-ratio drift the fitted model
// resolution is allowed before the self-check flags it.
const aspectTolerance = 0.001

// FitResolution computes the model-visible resolution for a desktop of the
// given size under the configured bounds.
//
// When the desktop already fits within the bounds on both axes the result is
// the identity pair. Otherwise each dimension is scaled by a single factor:
// the smaller of the two per-axis factors when anything has to shrink below
// max, or the larger when everything only has to grow past min. The scaled
// dimensions are rounded to whole pixels and the final scale factor is the
// geometric mean of the per-axis factors those rounded pixels imply, which
// keeps coordinate math consistent with the pixels the resampler actually
// produces.
func FitResolution(original schemas.Size, bounds schemas.ResolutionBounds) (schemas.ResolutionPair, error) {
	if original.IsZero() {
		return schemas.ResolutionPair{}, fmt.Errorf("desktop resolution must be positive, got %s", original)
	}
	if bounds.Max.IsZero() {
		return schemas.ResolutionPair{}, fmt.Errorf("resolution bounds must set max, got max %s", bounds.Max)
	}

	w := float64(original.Width)
	h := float64(original.Height)

	aboveMax := original.Width > bounds.Max.Width || original.Height > bounds.Max.Height
	belowMin := original.Width < bounds.Min.Width || original.Height < bounds.Min.Height

	if !aboveMax && !belowMin {
		return schemas.ResolutionPair{Original: original, Model: original, ScaleFactor: 1}, nil
	}

	var factor float64
	if aboveMax {
		// Shrinking: the smaller per-axis factor brings both dimensions
		// under max.
		factor = math.Min(float64(bounds.Max.Width)/w, float64(bounds.Max.Height)/h)
	} else {
		// Growing only: the larger per-axis factor lifts both dimensions
		// past min.
		factor = 0
		if original.Width < bounds.Min.Width {
			factor = math.Max(factor, float64(bounds.Min.Width)/w)
		}
		if original.Height < bounds.Min.Height {
			factor = math.Max(factor, float64(bounds.Min.Height)/h)
		}
	}

	model := schemas.Size{
		Width:  int(math.Round(w * factor)),
		Height: int(math.Round(h * factor)),
	}
	if model.IsZero() {
		return schemas.ResolutionPair{}, fmt.Errorf("bounds %s collapse desktop %s to zero pixels", bounds.Max, original)
	}

	// Recompute what the rounding actually did to each axis and fold the two
	// factors into one via geometric mean.
	actualW := float64(model.Width) / w
	actualH := float64(model.Height) / h
	return schemas.ResolutionPair{
		Original:    original,
		Model:       model,
		ScaleFactor: math.Sqrt(actualW * actualH),
	}, nil
}

// Scaler converts coordinates and screenshots between desktop space and the
// model-visible space for one run. It is immutable after construction and
// safe for concurrent use.
type Scaler struct {
	pair   schemas.ResolutionPair
	logger *zap.Logger
}

// NewScaler fits the desktop resolution into the bounds and returns a
// converter for the resulting pair. Construction fails only on degenerate
// input; a lossy fit is reported through the self-check warnings instead.
func NewScaler(original schemas.Size, bounds schemas.ResolutionBounds, logger *zap.Logger) (*Scaler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pair, err := FitResolution(original, bounds)
	if err != nil {
		return nil, err
	}

	s := &Scaler{pair: pair, logger: logger.Named("Scaler")}
	s.selfCheck()
	return s, nil
}

// Pair returns the resolution pair this scaler was built around.
func (s *Scaler) Pair() schemas.ResolutionPair { return s.pair }

// IsIdentity reports whether coordinates and screenshots pass through
// unchanged.
func (s *Scaler) IsIdentity() bool { return s.pair.IsIdentity() }

// ToOriginal converts a model-space point to desktop space. Rounding happens
// once, after the division.
func (s *Scaler) ToOriginal(p schemas.Point) schemas.Point {
	if s.IsIdentity() {
		return p
	}
	return schemas.Point{
		X: int(math.Round(float64(p.X) / s.pair.ScaleFactor)),
		Y: int(math.Round(float64(p.Y) / s.pair.ScaleFactor)),
	}
}

// ToModel converts a desktop-space point to model space.
func (s *Scaler) ToModel(p schemas.Point) schemas.Point {
	if s.IsIdentity() {
		return p
	}
	return schemas.Point{
		X: int(math.Round(float64(p.X) * s.pair.ScaleFactor)),
		Y: int(math.Round(float64(p.Y) * s.pair.ScaleFactor)),
	}
}

// selfCheck round-trips representative desktop points and compares aspect
// ratios, logging any drift. Failures here mean degraded pointing accuracy,
// not a broken run, so this never returns an error.
func (s *Scaler) selfCheck() {
	if s.IsIdentity() {
		return
	}

	orig := s.pair.Original
	probes := []schemas.Point{
		{X: 0, Y: 0},
		{X: orig.Width - 1, Y: 0},
		{X: 0, Y: orig.Height - 1},
		{X: orig.Width - 1, Y: orig.Height - 1},
		{X: orig.Width / 2, Y: orig.Height / 2},
		{X: 1, Y: 1},
	}
	for _, p := range probes {
		back := s.ToOriginal(s.ToModel(p))
		if abs(back.X-p.X) > 1 || abs(back.Y-p.Y) > 1 {
			s.logger.Warn("Coordinate round-trip drift exceeds one pixel.",
				zap.Stringer("probe", p),
				zap.Stringer("round_trip", back),
				zap.Float64("scale_factor", s.pair.ScaleFactor),
			)
		}
	}

	origAspect := orig.AspectRatio()
	drift := math.Abs(s.pair.Model.AspectRatio()-origAspect) / origAspect
	if drift > aspectTolerance {
		s.logger.Warn("Model resolution aspect ratio drifted from the desktop.",
			zap.Stringer("original", orig),
			zap.Stringer("model", s.pair.Model),
			zap.Float64("drift", drift),
		)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
