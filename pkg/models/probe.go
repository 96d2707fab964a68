package models

import "time"

// ProbeInfo is the cached metadata record for one media file. Width and Height are
// visual dimensions: rotation of 90 or 270 has already been applied.
type ProbeInfo struct {
	Path       string    `json:"path"`
	Kind       MediaKind `json:"-"`
	KindName   string    `json:"kind"`
	Width      int       `json:"visual_w"`
	Height     int       `json:"visual_h"`
	FPS        float64   `json:"fps"`
	Rotation   int       `json:"rotation"`
	Duration   float64   `json:"duration"` // seconds; 0 for still images
	SampleRate int       `json:"audio_sample_rate"`
	Channels   int       `json:"channels"`
	VideoCodec string    `json:"video_codec,omitempty"`
	AudioCodec string    `json:"audio_codec,omitempty"`
	ProbedAt   time.Time `json:"probed_at"`
}

// HasVideo reports whether the file carries a visual stream
func (p *ProbeInfo) HasVideo() bool {
	return p.Width > 0 && p.Height > 0
}

// HasAudio reports whether the file carries an audio stream
func (p *ProbeInfo) HasAudio() bool {
	return p.SampleRate > 0 && p.Channels > 0
}

// Portrait reports whether the visual orientation is taller than wide
func (p *ProbeInfo) Portrait() bool {
	return p.Height > p.Width
}

// NativeSize returns the dimensions as stored in the stream, before rotation
func (p *ProbeInfo) NativeSize() (int, int) {
	if p.Rotation == 90 || p.Rotation == 270 {
		return p.Height, p.Width
	}
	return p.Width, p.Height
}

// DurationFrames converts the duration to whole frames at the given rate, rounded
func (p *ProbeInfo) DurationFrames(fps float64) int {
	if p.Duration <= 0 || fps <= 0 {
		return 0
	}
	return int(p.Duration*fps + 0.5)
}

// NormalizeRotation folds any angle into {0, 90, 180, 270}
func NormalizeRotation(deg int) int {
	r := deg % 360
	if r < 0 {
		r += 360
	}
	return ((r + 45) / 90 * 90) % 360
}
