package media

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"golang.org/x/image/draw"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// SampleRate is the engine's fixed mixing rate
const SampleRate = 44100

// maxTransientFailures is how many consecutive bad decodes mark a source invalid
const maxTransientFailures = 3

type frameKey struct {
	index int64
	w, h  int
}

// Source is an opaque handle owning decoder state for one file. All decoder
// operations are serialized by an internal lock, so a Source may be shared
// between the compositor and analysis workers.
//
// Frames returned by Frame are shared and must not be modified.
type Source struct {
	mu       sync.Mutex
	path     string
	dec      Decoder
	info     models.ProbeInfo
	frames   *lru.Cache[frameKey, *image.RGBA]
	lastGood *image.RGBA
	failures int
	fatalErr error
	invalid  atomic.Bool
	closed   bool
	logger   *logging.Logger

	placeholder bool
}

// NewSource wraps a decoder. frameCache is the number of scaled frames kept.
func NewSource(dec Decoder, frameCache int, logger *logging.Logger) *Source {
	if frameCache < 1 {
		frameCache = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	info := *dec.Info()
	return &Source{
		path:   info.Path,
		dec:    dec,
		info:   info,
		frames: lru.NewCache[frameKey, *image.RGBA](lru.WithCapacity(frameCache)),
		logger: logger.WithComponent("source").WithField("path", info.Path),
	}
}

// Path returns the canonical path the source was opened from
func (s *Source) Path() string { return s.path }

// Info returns the metadata read at open time
func (s *Source) Info() models.ProbeInfo { return s.info }

// Kind returns the media kind
func (s *Source) Kind() models.MediaKind { return s.info.Kind }

// Duration returns the length in seconds, 0 for still images
func (s *Source) Duration() float64 { return s.info.Duration }

// Dimensions returns the visual (rotation-normalized) size
func (s *Source) Dimensions() (int, int) { return s.info.Width, s.info.Height }

// Rotation returns the container rotation in degrees
func (s *Source) Rotation() int { return s.info.Rotation }

// FPS returns the native frame rate
func (s *Source) FPS() float64 { return s.info.FPS }

// IsValid is false once a decode error became unrecoverable
func (s *Source) IsValid() bool { return !s.invalid.Load() }

// IsPlaceholder reports whether the source stands in for media that failed to open
func (s *Source) IsPlaceholder() bool { return s.placeholder }

// Err returns the error that invalidated the source, if any
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Frame returns the frame at or immediately before t, aspect-fit into a
// transparent w x h canvas. A frame is always returned: on failure it is the
// last good frame or transparent black, and the error says why.
func (s *Source) Frame(t float64, w, h int) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.invalid.Load() {
		return transparent(w, h), s.invalidErr()
	}
	if !s.info.HasVideo() {
		return transparent(w, h), nil
	}

	key := frameKey{index: s.frameIndex(t), w: w, h: h}
	if frame, ok := s.frames.Get(key); ok {
		return frame, nil
	}

	fw, fh := FitSize(s.info.Width, s.info.Height, w, h)
	img, err := s.dec.DecodeFrame(t, fw, fh)
	if err != nil && !(errors.Is(err, ErrEndOfStream) && img != nil) {
		return s.frameFailure(err, w, h)
	}
	s.failures = 0

	frame := img
	if fw != w || fh != h || img.Rect.Dx() != fw || img.Rect.Dy() != fh {
		frame = image.NewRGBA(image.Rect(0, 0, w, h))
		dst := image.Rect((w-fw)/2, (h-fh)/2, (w-fw)/2+fw, (h-fh)/2+fh)
		if img.Rect.Dx() == fw && img.Rect.Dy() == fh {
			draw.Draw(frame, dst, img, img.Rect.Min, draw.Src)
		} else {
			draw.CatmullRom.Scale(frame, dst, img, img.Rect, draw.Src, nil)
		}
	}

	s.frames.Set(key, frame)
	s.lastGood = frame
	return frame, nil
}

func (s *Source) frameIndex(t float64) int64 {
	if s.info.Kind == models.MediaImage || s.info.FPS <= 0 {
		return 0
	}
	return int64(math.Floor(t*s.info.FPS + 1e-6))
}

func (s *Source) frameFailure(err error, w, h int) (*image.RGBA, error) {
	if errors.Is(err, ErrEndOfStream) {
		return s.fallback(w, h), nil
	}
	if errors.Is(err, apperr.ErrDecodeFatal) {
		s.markInvalid(err)
		return transparent(w, h), err
	}

	s.failures++
	s.logger.WithError(err).Debugf("Transient decode failure %d", s.failures)
	if s.failures >= maxTransientFailures {
		s.markInvalid(apperr.DecodeFatal(s.path, err))
		return transparent(w, h), s.fatalErr
	}

	return s.fallback(w, h), apperr.DecodeTransient(err)
}

func (s *Source) fallback(w, h int) *image.RGBA {
	if s.lastGood != nil && s.lastGood.Rect.Dx() == w && s.lastGood.Rect.Dy() == h {
		return s.lastGood
	}
	return transparent(w, h)
}

func (s *Source) markInvalid(err error) {
	if s.invalid.Swap(true) {
		return
	}
	s.fatalErr = err
	s.logger.LogUserError("Source marked invalid", err)
}

func (s *Source) invalidErr() error {
	if s.fatalErr != nil {
		return s.fatalErr
	}
	return apperr.DecodeFatal(s.path, errors.New("source closed"))
}

// Audio returns exactly round(duration*44100) stereo sample frames starting at t,
// interleaved L,R. Ranges outside the source are silent.
func (s *Source) Audio(t, duration float64) ([]float32, error) {
	return s.AudioSamples(t, int(math.Round(duration*SampleRate)))
}

// AudioSamples returns n stereo sample frames at 44.1 kHz starting at t seconds
func (s *Source) AudioSamples(t float64, n int) ([]float32, error) {
	if n <= 0 {
		return []float32{}, nil
	}
	out := make([]float32, n*2)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.invalid.Load() {
		return out, s.invalidErr()
	}
	if !s.info.HasAudio() {
		return out, nil
	}

	rate := float64(s.info.SampleRate)
	startPos := t * rate
	first := int64(math.Floor(startPos))
	step := rate / SampleRate

	if rate == SampleRate && startPos == float64(first) {
		native, err := s.nativeRange(first, n)
		copy(out, native)
		return out, err
	}

	span := int(math.Ceil(float64(n-1)*step+(startPos-float64(first)))) + 2
	native, err := s.nativeRange(first, span)
	frac0 := startPos - float64(first)
	for i := 0; i < n; i++ {
		p := frac0 + float64(i)*step
		j := int(p)
		f := float32(p - float64(j))
		if j+1 >= span {
			j, f = span-2, 1
		}
		out[2*i] = native[2*j]*(1-f) + native[2*j+2]*f
		out[2*i+1] = native[2*j+1]*(1-f) + native[2*j+3]*f
	}
	return out, err
}

// nativeRange returns count native-rate stereo frames starting at first,
// zero-filled wherever the source has no samples. Callers hold s.mu.
func (s *Source) nativeRange(first int64, count int) ([]float32, error) {
	out := make([]float32, count*2)
	end := first + int64(count)
	lo := first
	if lo < 0 {
		lo = 0
	}
	if total := s.totalAudioFrames(); total > 0 && end > total {
		end = total
	}
	if end <= lo {
		return out, nil
	}

	data, err := s.dec.DecodeAudio(lo, int(end-lo))
	copy(out[(lo-first)*2:], data)
	if err == nil || errors.Is(err, ErrEndOfStream) {
		s.failures = 0
		return out, nil
	}

	if errors.Is(err, apperr.ErrDecodeFatal) {
		s.markInvalid(err)
		return out, err
	}
	s.failures++
	if s.failures >= maxTransientFailures {
		s.markInvalid(apperr.DecodeFatal(s.path, err))
		return out, s.fatalErr
	}
	return out, apperr.DecodeTransient(err)
}

func (s *Source) totalAudioFrames() int64 {
	if s.info.Duration <= 0 {
		return 0
	}
	return int64(math.Round(s.info.Duration * float64(s.info.SampleRate)))
}

// Waveform returns 2*buckets peak values (L,R interleaved), each the maximum
// absolute sample over its bucket window across the whole source.
func (s *Source) Waveform(ctx context.Context, buckets int) ([]float32, error) {
	peaks := make([]float32, buckets*2)
	if buckets <= 0 || !s.info.HasAudio() {
		return peaks, nil
	}

	total := s.totalAudioFrames()
	if total <= 0 {
		return peaks, nil
	}

	chunk := int64(s.info.SampleRate)
	for pos := int64(0); pos < total; pos += chunk {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Cancelled(err)
		}

		n := chunk
		if pos+n > total {
			n = total - pos
		}

		s.mu.Lock()
		if s.invalid.Load() || s.closed {
			err := s.invalidErr()
			s.mu.Unlock()
			return nil, err
		}
		data, err := s.dec.DecodeAudio(pos, int(n))
		s.mu.Unlock()
		if err != nil && !errors.Is(err, ErrEndOfStream) {
			return nil, err
		}

		for j := 0; j+1 < len(data); j += 2 {
			b := int((pos + int64(j/2)) * int64(buckets) / total)
			if b >= buckets {
				b = buckets - 1
			}
			if l := abs32(data[j]); l > peaks[2*b] {
				peaks[2*b] = l
			}
			if r := abs32(data[j+1]); r > peaks[2*b+1] {
				peaks[2*b+1] = r
			}
		}
		if len(data) < int(n)*2 {
			break
		}
	}

	return peaks, nil
}

// Close releases the decoder. Further calls return transparent frames and silence.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.lastGood = nil
	for _, k := range s.frames.Keys() {
		s.frames.Delete(k)
	}
	return s.dec.Close()
}

// FitSize returns the largest size with the aspect ratio of srcW x srcH that fits in w x h
func FitSize(srcW, srcH, w, h int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return w, h
	}
	if srcW*h == srcH*w {
		return w, h
	}
	if srcW*h > srcH*w {
		fh := int(math.Round(float64(w) * float64(srcH) / float64(srcW)))
		return w, max(fh, 1)
	}
	fw := int(math.Round(float64(h) * float64(srcW) / float64(srcH)))
	return max(fw, 1), h
}

func transparent(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
