package engine

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sort"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/envelope"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Evaluate renders the frame at t seconds. Video clips are drawn bottom-up:
// lower tracks first, and on one track in insertion order, so later clips
// cover earlier ones. Decode failures leave a hole for that clip only.
func (e *Engine) Evaluate(t float64) *image.RGBA {
	start := time.Now()
	defer func() { metrics.RecordFrameEvaluated(time.Since(start).Seconds()) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	w, h := e.sizeLocked()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	if e.fps <= 0 {
		return canvas
	}

	frame := t * e.fps
	active := e.activeVideoLocked(frame)
	for _, ent := range active {
		e.drawClipLocked(canvas, ent, frame)
	}
	return canvas
}

func (e *Engine) activeVideoLocked(frame float64) []*entry {
	var active []*entry
	for _, ent := range e.clips {
		if ent.clip.Kind != models.MediaAudio && ent.clip.ActiveAt(frame) {
			active = append(active, ent)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].clip.Track < active[j].clip.Track
	})
	return active
}

func (e *Engine) drawClipLocked(canvas *image.RGBA, ent *entry, frame float64) {
	c := &ent.clip
	local := frame - float64(c.Start)

	opacity := envelope.Gain(c, local)
	if opacity <= 0 {
		return
	}

	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	ts := (local + float64(c.SourceOffset)) / e.fps
	layer, err := ent.src.Frame(ts, w, h)
	if err != nil {
		kind := "transient"
		if errors.Is(err, apperr.ErrDecodeFatal) {
			kind = "fatal"
		}
		metrics.RecordDecodeError(kind)
		if !ent.src.IsValid() {
			return
		}
	}

	var mask image.Image
	if opacity < 1 {
		mask = image.NewUniform(color.Alpha16{A: uint16(math.Round(opacity * 0xffff))})
	}

	if c.Transform.IsIdentity() {
		draw.DrawMask(canvas, canvas.Rect, layer, layer.Rect.Min, mask, image.Point{}, draw.Over)
	} else {
		aff, ok := affine(c.Transform, w, h)
		if !ok {
			return
		}
		draw.BiLinear.Transform(canvas, aff, layer, layer.Rect, draw.Over, &draw.Options{SrcMask: mask})
	}

	// Effects post-process the canvas composited so far, lower tracks
	// included. A clip that contributes nothing applies none.
	if len(c.Effects) > 0 {
		out, err := e.effects.ApplyAll(c.Effects, canvas, ts)
		if err != nil {
			e.logger.WithClipID(c.ID).WithError(err).Debug("Effect failed")
		}
		if out != canvas {
			copy(canvas.Pix, out.Pix)
		}
	}
}

// affine maps layer pixels to canvas pixels: scale and rotate around the
// anchor, then translate. It reports false for a degenerate (zero) scale.
func affine(tr models.Transform, w, h int) (f64.Aff3, bool) {
	if tr.ScaleX == 0 || tr.ScaleY == 0 {
		return f64.Aff3{}, false
	}
	sin, cos := math.Sincos(tr.Rotation * math.Pi / 180)
	ax, ay := tr.AnchorX*float64(w), tr.AnchorY*float64(h)

	a, b := cos*tr.ScaleX, -sin*tr.ScaleY
	d, ee := sin*tr.ScaleX, cos*tr.ScaleY
	return f64.Aff3{
		a, b, ax + tr.X - (a*ax + b*ay),
		d, ee, ay + tr.Y - (d*ax + ee*ay),
	}, true
}
