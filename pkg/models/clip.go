package models

import (
	"fmt"
	"image"
	"math"
)

// Clip is a segment placed on one track, referencing part of a media source.
// All positions are in project frames.
type Clip struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Track          int         `json:"track"`
	Start          int         `json:"start"`
	Duration       int         `json:"duration"`
	SourceOffset   int         `json:"source_offset"`
	SourcePath     string      `json:"source_ref"`
	SourceDuration int         `json:"-"` // frames; 0 for unbounded sources (still images)
	Kind           MediaKind   `json:"-"`
	GroupID        string      `json:"-"`
	Selected       bool        `json:"-"`
	Opacity        float64     `json:"opacity_level"`
	FadeIn         int         `json:"fade_in"`
	FadeOut        int         `json:"fade_out"`
	FadeInCurve    Curve       `json:"fade_in_curve"`
	FadeOutCurve   Curve       `json:"fade_out_curve"`
	Transform      Transform   `json:"transform"`
	Effects        []Effect    `json:"effects"`
	ProxyStatus    ProxyStatus `json:"-"`
	ProxyPath      string      `json:"proxy_path,omitempty"`
	UseProxy       bool        `json:"use_proxy"`

	// Analysis results, never persisted
	Peaks      []float32     `json:"-"`
	Thumbnails []*image.RGBA `json:"-"`
}

// End returns the first frame after the clip
func (c *Clip) End() int {
	return c.Start + c.Duration
}

// ActiveAt reports whether the clip covers the given (possibly fractional) frame
func (c *Clip) ActiveAt(frame float64) bool {
	return float64(c.Start) <= frame && frame < float64(c.End())
}

// Overlaps reports whether the clip intersects [start, end)
func (c *Clip) Overlaps(start, end int) bool {
	return c.Start < end && start < c.End()
}

// Linked reports whether the clip belongs to a link group
func (c *Clip) Linked() bool {
	return c.GroupID != ""
}

// Validate checks the clip invariants
func (c *Clip) Validate() error {
	if c.Duration < 1 {
		return fmt.Errorf("clip %s: duration %d must be at least 1 frame", c.ID, c.Duration)
	}
	if c.Start < 0 {
		return fmt.Errorf("clip %s: start %d must not be negative", c.ID, c.Start)
	}
	if c.SourceOffset < 0 {
		return fmt.Errorf("clip %s: source offset %d must not be negative", c.ID, c.SourceOffset)
	}
	if c.SourceDuration > 0 && c.SourceOffset+c.Duration > c.SourceDuration {
		return fmt.Errorf("clip %s: source range %d+%d exceeds source duration %d",
			c.ID, c.SourceOffset, c.Duration, c.SourceDuration)
	}
	if c.FadeIn < 0 || c.FadeOut < 0 {
		return fmt.Errorf("clip %s: fades must not be negative", c.ID)
	}
	if c.FadeIn+c.FadeOut > c.Duration {
		return fmt.Errorf("clip %s: fades %d+%d exceed duration %d", c.ID, c.FadeIn, c.FadeOut, c.Duration)
	}
	if c.Opacity < 0 || c.Opacity > 1 || math.IsNaN(c.Opacity) {
		return fmt.Errorf("clip %s: opacity %v outside [0,1]", c.ID, c.Opacity)
	}
	return nil
}

// ClampFades shrinks the fades so that they fit the clip duration, fade-in first
func (c *Clip) ClampFades() {
	if c.FadeIn > c.Duration {
		c.FadeIn = c.Duration
	}
	if c.FadeIn+c.FadeOut > c.Duration {
		c.FadeOut = c.Duration - c.FadeIn
	}
}

// Clone returns a deep copy of the clip's editable state
func (c *Clip) Clone() Clip {
	out := *c
	if c.Effects != nil {
		out.Effects = make([]Effect, len(c.Effects))
		for i, e := range c.Effects {
			out.Effects[i] = e.Clone()
		}
	}
	if c.Peaks != nil {
		out.Peaks = append([]float32(nil), c.Peaks...)
	}
	if c.Thumbnails != nil {
		out.Thumbnails = append([]*image.RGBA(nil), c.Thumbnails...)
	}
	return out
}

// Transform positions a clip frame on the canvas. Translation is in project pixels,
// rotation in degrees around the anchor, the anchor normalized to [0,1].
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ScaleX   float64 `json:"scale_x"`
	ScaleY   float64 `json:"scale_y"`
	Rotation float64 `json:"rotation"`
	AnchorX  float64 `json:"anchor_x"`
	AnchorY  float64 `json:"anchor_y"`
}

// IdentityTransform leaves the frame where the source put it
func IdentityTransform() Transform {
	return Transform{ScaleX: 1, ScaleY: 1, AnchorX: 0.5, AnchorY: 0.5}
}

// IsIdentity reports whether applying the transform is a no-op
func (t Transform) IsIdentity() bool {
	return t.X == 0 && t.Y == 0 && t.ScaleX == 1 && t.ScaleY == 1 && math.Mod(t.Rotation, 360) == 0
}
