package playback

import (
	"image"
	"time"
)

// VideoSink receives composited frames. It is called on the goroutine driving
// Tick and must not block for long.
type VideoSink interface {
	PresentFrame(frame *image.RGBA, playhead float64)
}

// AudioSource is what an audio device pulls samples from
type AudioSource interface {
	// ReadAudio fills dst with interleaved stereo frames at 44.1 kHz, padding
	// with silence, and returns the number of real frames delivered.
	ReadAudio(dst []float32) int
}

// AudioSink is the audio device. Start hands it the source to pull from;
// Stop is called once on shutdown.
type AudioSink interface {
	Start(src AudioSource) error
	Stop()
}

// ProgressSink receives progress of long running work such as an export
type ProgressSink interface {
	Progress(done, total int)
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(done, total int)

// Progress calls f
func (f ProgressFunc) Progress(done, total int) { f(done, total) }

// Clock is the wall clock the scheduler anchors to
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
