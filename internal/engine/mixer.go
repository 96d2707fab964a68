package engine

import (
	"errors"
	"math"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/envelope"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// RenderAudio mixes round(duration*44100) interleaved stereo frames starting at
// t seconds. Every audio clip overlapping the window contributes its samples
// scaled by opacity and fade; the sum is scaled by the master gain. The output
// is not limited.
func (e *Engine) RenderAudio(t, duration float64) []float32 {
	n := int(math.Round(duration * media.SampleRate))
	if n <= 0 {
		return []float32{}
	}
	out := make([]float32, n*2)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fps <= 0 {
		return out
	}
	for _, ent := range e.clips {
		if ent.clip.Kind == models.MediaAudio {
			e.mixClipLocked(out, ent, t, n)
		}
	}

	if e.masterGain != 1 {
		g := float32(e.masterGain)
		for i := range out {
			out[i] *= g
		}
	}
	return out
}

func (e *Engine) mixClipLocked(out []float32, ent *entry, t float64, n int) {
	c := &ent.clip
	cs := float64(c.Start) / e.fps
	ce := float64(c.End()) / e.fps

	i0 := max(0, sampleCeil((cs-t)*media.SampleRate))
	i1 := min(n, sampleCeil((ce-t)*media.SampleRate))
	if i1 <= i0 {
		return
	}

	first := t + float64(i0)/media.SampleRate
	srcT := first - cs + float64(c.SourceOffset)/e.fps
	samples, err := ent.src.AudioSamples(srcT, i1-i0)
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

	fades := envelope.FromClip(c)
	flat := c.FadeIn == 0 && c.FadeOut == 0
	gain := float32(c.Opacity)
	for i := i0; i < i1; i++ {
		if !flat {
			local := (t + float64(i)/media.SampleRate - cs) * e.fps
			gain = float32(c.Opacity * fades.Factor(local))
		}
		j := i - i0
		out[2*i] += samples[2*j] * gain
		out[2*i+1] += samples[2*j+1] * gain
	}
}

// sampleCeil rounds a sample position up, ignoring float noise below 1e-6
func sampleCeil(pos float64) int {
	return int(math.Ceil(pos - 1e-6))
}
