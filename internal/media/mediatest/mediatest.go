// Package mediatest provides deterministic in-memory decoders for tests.
package mediatest

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Decoder is a media.Decoder producing synthetic frames and samples
type Decoder struct {
	Meta models.ProbeInfo

	// Color returns the frame color at t. The default encodes the frame index in R.
	Color func(t float64) color.RGBA
	// Sample returns the stereo sample at native index i. The default is (0.5, -0.25).
	Sample func(i int64) (float32, float32)

	// FailNext makes the next n DecodeFrame calls fail transiently
	FailNext int
	// Fatal makes every decode fail fatally
	Fatal bool

	mu         sync.Mutex
	frameCalls int
	audioCalls int
	closed     bool
}

// Video returns a decoder for a video file with a stereo audio track at 48 kHz
func Video(path string, w, h int, fps, duration float64) *Decoder {
	return &Decoder{Meta: models.ProbeInfo{
		Path:       path,
		Kind:       models.MediaVideo,
		KindName:   "video",
		Width:      w,
		Height:     h,
		FPS:        fps,
		Duration:   duration,
		SampleRate: 48000,
		Channels:   2,
	}}
}

// Silent returns a decoder for a video file without audio
func Silent(path string, w, h int, fps, duration float64) *Decoder {
	d := Video(path, w, h, fps, duration)
	d.Meta.SampleRate, d.Meta.Channels = 0, 0
	return d
}

// Audio returns a decoder for an audio-only file
func Audio(path string, rate int, duration float64) *Decoder {
	return &Decoder{Meta: models.ProbeInfo{
		Path:       path,
		Kind:       models.MediaAudio,
		KindName:   "audio",
		Duration:   duration,
		SampleRate: rate,
		Channels:   2,
	}}
}

// Image returns a decoder for a still image
func Image(path string, w, h int) *Decoder {
	return &Decoder{Meta: models.ProbeInfo{
		Path:     path,
		Kind:     models.MediaImage,
		KindName: "image",
		Width:    w,
		Height:   h,
	}}
}

// FrameColor is the default color of the frame at t for a given fps
func FrameColor(t, fps float64) color.RGBA {
	k := int(math.Floor(t*fps + 1e-6))
	return color.RGBA{R: uint8(k % 256), G: 128, B: 64, A: 255}
}

// DefaultSample is the default stereo sample value
func DefaultSample(int64) (float32, float32) { return 0.5, -0.25 }

func (d *Decoder) Info() *models.ProbeInfo { return &d.Meta }

func (d *Decoder) DecodeFrame(t float64, w, h int) (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameCalls++

	if d.Fatal {
		return nil, apperr.DecodeFatal(d.Meta.Path, errors.New("corrupt stream"))
	}
	if d.FailNext > 0 {
		d.FailNext--
		return nil, apperr.DecodeTransient(errors.New("bad packet"))
	}

	c := FrameColor(t, d.Meta.FPS)
	if d.Color != nil {
		c = d.Color(t)
	}
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2], frame.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return frame, nil
}

func (d *Decoder) DecodeAudio(start int64, frames int) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioCalls++

	if d.Fatal {
		return nil, apperr.DecodeFatal(d.Meta.Path, errors.New("corrupt stream"))
	}
	if d.Meta.SampleRate == 0 {
		return nil, nil
	}

	total := int64(math.Round(d.Meta.Duration * float64(d.Meta.SampleRate)))
	n := int64(frames)
	if start+n > total {
		n = total - start
	}
	if n <= 0 {
		return nil, media.ErrEndOfStream
	}

	sample := d.Sample
	if sample == nil {
		sample = DefaultSample
	}
	out := make([]float32, n*2)
	for i := int64(0); i < n; i++ {
		out[2*i], out[2*i+1] = sample(start + i)
	}
	return out, nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// FrameCalls returns how many frames were decoded
func (d *Decoder) FrameCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameCalls
}

// AudioCalls returns how many audio reads were made
func (d *Decoder) AudioCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioCalls
}

// Closed reports whether Close was called
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Source wraps the decoder in a media.Source with a small frame cache
func (d *Decoder) Source() *media.Source {
	return media.NewSource(d, 4, nil)
}

// Opener returns an open function serving the given decoders by path.
// Unknown paths fail with an open error.
func Opener(decoders ...*Decoder) func(path string) (*media.Source, error) {
	byPath := make(map[string]*Decoder, len(decoders))
	for _, d := range decoders {
		byPath[d.Meta.Path] = d
	}
	return func(path string) (*media.Source, error) {
		d, ok := byPath[path]
		if !ok {
			return nil, apperr.OpenFailure(path, errors.New("no such file"))
		}
		clone := &Decoder{Meta: d.Meta, Color: d.Color, Sample: d.Sample, Fatal: d.Fatal}
		return clone.Source(), nil
	}
}
