// Package envelope evaluates clip fade curves.
package envelope

import "github.com/therealutkarshpriyadarshi/montage/pkg/models"

// Apply maps t in [0,1] through the curve. Inputs outside the range are clamped.
func Apply(c models.Curve, t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	}

	switch c {
	case models.CurveFast:
		return t * t
	case models.CurveSlow:
		u := 1 - t
		return 1 - u*u
	case models.CurveSmooth:
		return t * t * (3 - 2*t)
	case models.CurveSharp:
		return t * t * t
	default:
		return t
	}
}

// Fades describes the fade envelope of one clip
type Fades struct {
	Duration     int
	FadeIn       int
	FadeOut      int
	FadeInCurve  models.Curve
	FadeOutCurve models.Curve
}

// FromClip reads the fade envelope of a clip
func FromClip(c *models.Clip) Fades {
	return Fades{
		Duration:     c.Duration,
		FadeIn:       c.FadeIn,
		FadeOut:      c.FadeOut,
		FadeInCurve:  c.FadeInCurve,
		FadeOutCurve: c.FadeOutCurve,
	}
}

// Factor returns the fade multiplier at local frame f, which may be fractional.
// A zero-length fade is the same as no fade.
func (e Fades) Factor(f float64) float64 {
	if e.FadeIn > 0 && f < float64(e.FadeIn) {
		return Apply(e.FadeInCurve, f/float64(e.FadeIn))
	}
	if e.FadeOut > 0 && f >= float64(e.Duration-e.FadeOut) {
		return Apply(e.FadeOutCurve, (float64(e.Duration)-f)/float64(e.FadeOut))
	}
	return 1
}

// Gain is the effective opacity or volume of a clip at local frame f
func Gain(c *models.Clip, f float64) float64 {
	return c.Opacity * FromClip(c).Factor(f)
}
