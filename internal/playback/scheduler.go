// Package playback drives real-time playback. A periodic tick advances the
// playhead from the wall clock and presents composited frames; a dedicated
// audio goroutine, locked to its OS thread, keeps a ring buffer of mixed audio
// ahead of the device. Both derive logical time from the same anchor.
package playback

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Renderer produces frames and audio for a timeline time. *engine.Engine
// implements it.
type Renderer interface {
	Evaluate(t float64) *image.RGBA
	RenderAudio(t, duration float64) []float32
	FPS() float64
}

// Timeline is the playhead state the scheduler reads and advances.
// *timeline.Model implements it.
type Timeline interface {
	Playhead() models.Playhead
	SetPlayhead(frame float64)
	SetPlaying(playing bool)
	SetRate(rate float64)
	LoopRegion() (models.Region, bool)
}

// Options tunes the scheduler
type Options struct {
	TickRate   int
	LowWater   time.Duration
	Capacity   time.Duration
	AudioSleep time.Duration
	// StopBudget bounds how long Shutdown waits for each loop
	StopBudget time.Duration
}

// DefaultOptions returns a 60 Hz tick with a 1 s audio buffer refilled below 250 ms
func DefaultOptions() Options {
	return Options{
		TickRate:   60,
		LowWater:   250 * time.Millisecond,
		Capacity:   time.Second,
		AudioSleep: 20 * time.Millisecond,
		StopBudget: 2 * time.Second,
	}
}

// OptionsFromConfig reads scheduler options from configuration
func OptionsFromConfig(pc config.PlaybackConfig, sc config.ShutdownConfig) Options {
	opts := DefaultOptions()
	if pc.TickRate > 0 {
		opts.TickRate = pc.TickRate
	}
	if pc.LowWater > 0 {
		opts.LowWater = pc.LowWater
	}
	if pc.Capacity > 0 {
		opts.Capacity = pc.Capacity
	}
	if pc.AudioSleep > 0 {
		opts.AudioSleep = pc.AudioSleep
	}
	if sc.Audio > 0 {
		opts.StopBudget = sc.Audio
	}
	return opts
}

// Scheduler owns the playback anchors. It has its own lock and takes the
// engine lock only inside Evaluate and RenderAudio calls.
type Scheduler struct {
	renderer Renderer
	timeline Timeline
	video    VideoSink
	audio    AudioSink
	clock    Clock
	opts     Options
	logger   *logging.Logger
	ring     *Ring

	mu          sync.Mutex
	playing     bool
	rate        float64
	anchorFrame float64
	anchorWall  time.Time
	loop        bool
	rendered    float64 // timeline seconds already mixed into the ring
	generation  uint64  // bumped whenever queued audio becomes stale
	presented   float64
	dirty       bool

	running   bool
	stop      chan struct{}
	audioDone chan struct{}
	videoDone chan struct{}
}

// New creates a stopped scheduler. video and audio may be nil.
func New(r Renderer, tl Timeline, video VideoSink, audio AudioSink, opts Options, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	def := DefaultOptions()
	if opts.TickRate <= 0 {
		opts.TickRate = def.TickRate
	}
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.LowWater <= 0 || opts.LowWater > opts.Capacity {
		opts.LowWater = min(def.LowWater, opts.Capacity)
	}
	if opts.AudioSleep <= 0 {
		opts.AudioSleep = def.AudioSleep
	}
	if opts.StopBudget <= 0 {
		opts.StopBudget = def.StopBudget
	}

	ph := tl.Playhead()
	rate := ph.Rate
	return &Scheduler{
		renderer:    r,
		timeline:    tl,
		video:       video,
		audio:       audio,
		clock:       systemClock{},
		opts:        opts,
		logger:      logger.WithComponent("playback"),
		ring:        NewRing(media.FramesFor(opts.Capacity.Seconds())),
		rate:        rate,
		anchorFrame: ph.Frame,
		dirty:       true,
	}
}

// SetClock replaces the wall clock. It must be called before Start.
func (s *Scheduler) SetClock(c Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

// Ring returns the audio ring buffer
func (s *Scheduler) Ring() *Ring {
	return s.ring
}

// Start launches the audio loop and hands the device its source
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.audioDone = make(chan struct{})
	s.mu.Unlock()

	stop, audioDone := s.stop, s.audioDone
	go s.audioLoop(stop, audioDone)

	if s.audio != nil {
		if err := s.audio.Start(s); err != nil {
			s.mu.Lock()
			s.running = false
			close(stop)
			s.mu.Unlock()
			if jerr := s.join(context.Background(), audioDone); jerr != nil {
				s.logger.Warnf("Playback audio loop did not stop within %s", s.opts.StopBudget)
			}
			return fmt.Errorf("failed to start audio device: %w", err)
		}
	}
	return nil
}

// Run ticks at the configured rate until ctx is done. UIs with their own
// event loop call Tick instead.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	done := make(chan struct{})
	s.videoDone = done
	s.mu.Unlock()
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Scheduler) stopChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// Play starts playback from the current playhead
func (s *Scheduler) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	ph := s.timeline.Playhead()
	s.playing = true
	s.rate = ph.Rate
	s.reanchorLocked(ph.Frame)
	s.timeline.SetPlaying(true)
	s.logger.LogPlaybackEvent("play", ph.Frame, s.rate)
}

// Pause stops playback at the current position
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseLocked()
}

func (s *Scheduler) pauseLocked() {
	if !s.playing {
		return
	}
	frame := s.frameLocked()
	s.playing = false
	s.anchorFrame = frame
	s.generation++
	s.timeline.SetPlayhead(frame)
	s.timeline.SetPlaying(false)
	s.logger.LogPlaybackEvent("pause", frame, s.rate)
}

// Playing reports whether playback is running
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Seek moves the playhead. Queued audio is dropped and the mix restarts there.
func (s *Scheduler) Seek(frame float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame < 0 {
		frame = 0
	}
	s.reanchorLocked(frame)
	s.timeline.SetPlayhead(frame)
	s.dirty = true
	s.logger.LogPlaybackEvent("seek", frame, s.rate)
}

// SetRate changes the signed playback rate. Rate 0 freezes video and plays silence.
func (s *Scheduler) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == s.rate {
		return
	}
	frame := s.anchorFrame
	if s.playing {
		frame = s.frameLocked()
	}
	s.rate = rate
	s.reanchorLocked(frame)
	s.timeline.SetRate(rate)
	s.logger.LogPlaybackEvent("rate", frame, rate)
}

// SetLoop makes playback wrap inside the timeline's loop region
func (s *Scheduler) SetLoop(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = on
}

// reanchorLocked restarts both drives from frame at the current wall time
func (s *Scheduler) reanchorLocked(frame float64) {
	s.anchorFrame = frame
	s.anchorWall = s.clock.Now()
	s.generation++
	s.ring.Clear()
	if fps := s.renderer.FPS(); fps > 0 {
		s.rendered = frame / fps
	}
}

// frameLocked is the logical frame at the current wall time
func (s *Scheduler) frameLocked() float64 {
	if !s.playing {
		return s.anchorFrame
	}
	elapsed := s.clock.Now().Sub(s.anchorWall).Seconds()
	return s.anchorFrame + elapsed*s.renderer.FPS()*s.rate
}

// Position returns the current logical frame
func (s *Scheduler) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// Tick advances the playhead from the wall clock and presents the frame. A
// paused scheduler presents only when the playhead moved. An evaluation that
// overruns the tick period makes the frame late; it is never skipped.
func (s *Scheduler) Tick() float64 {
	s.mu.Lock()
	frame := s.frameLocked()
	if s.playing {
		frame = s.wrapLocked(frame)
		s.timeline.SetPlayhead(frame)
	} else if ph := s.timeline.Playhead().Frame; ph != s.anchorFrame {
		// scrubbed from outside
		s.reanchorLocked(ph)
		frame = ph
		s.dirty = true
	}
	present := s.playing || s.dirty || frame != s.presented
	s.presented, s.dirty = frame, false
	s.mu.Unlock()

	if !present || s.video == nil {
		return frame
	}

	fps := s.renderer.FPS()
	if fps <= 0 {
		return frame
	}
	start := time.Now()
	img := s.renderer.Evaluate(frame / fps)
	if elapsed := time.Since(start); elapsed > time.Second/time.Duration(s.opts.TickRate) {
		metrics.RecordLateFrame()
		s.logger.Debugf("Late frame %.1f: evaluate took %s", frame, elapsed)
	}
	s.video.PresentFrame(img, frame)
	return frame
}

// wrapLocked applies the loop region, or stops at the timeline origin when
// playing backwards
func (s *Scheduler) wrapLocked(frame float64) float64 {
	if s.loop {
		if r, ok := s.timeline.LoopRegion(); ok {
			switch {
			case s.rate > 0 && frame >= float64(r.End):
				frame = float64(r.Start)
				s.reanchorLocked(frame)
			case s.rate < 0 && frame < float64(r.Start):
				frame = float64(r.End) - 1
				s.reanchorLocked(frame)
			}
			return frame
		}
	}
	if frame < 0 {
		frame = 0
		s.reanchorLocked(0)
		s.pauseLocked()
	}
	return frame
}

// Refresh pauses playback, runs fn (typically an engine rebuild), presents the
// current frame again and resumes if playback was running
func (s *Scheduler) Refresh(fn func() error) error {
	s.mu.Lock()
	wasPlaying := s.playing
	s.pauseLocked()
	s.mu.Unlock()

	err := fn()

	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.Tick()

	if wasPlaying {
		s.Play()
	}
	return err
}

// ReadAudio implements AudioSource. Missing samples while playing count as an underrun.
func (s *Scheduler) ReadAudio(dst []float32) int {
	n := s.ring.Read(dst)
	clear(dst[n*2:])
	if n*2 < len(dst) && s.Playing() {
		metrics.RecordAudioUnderrun()
	}
	return n
}

func (s *Scheduler) audioLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := raiseThreadPriority(); err != nil {
		s.logger.WithError(err).Debug("Audio thread keeps default priority")
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !s.fillAudio() {
			select {
			case <-stop:
				return
			case <-time.After(s.opts.AudioSleep):
			}
		}
	}
}

// fillAudio tops the ring up to capacity when playing and below the low-water
// mark. The mix runs without the scheduler lock; a result made stale by a
// seek, pause or rate change in the meantime is dropped. It reports whether
// anything was written.
func (s *Scheduler) fillAudio() bool {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return false
	}
	occupancy := s.ring.Seconds()
	metrics.UpdateAudioBuffer(occupancy)
	if occupancy >= s.opts.LowWater.Seconds() {
		s.mu.Unlock()
		return false
	}
	frames := s.ring.Cap() - s.ring.Len()
	rate, pos, gen := s.rate, s.rendered, s.generation
	s.mu.Unlock()

	if frames <= 0 {
		return false
	}
	wall := float64(frames) / media.SampleRate
	content := wall * math.Abs(rate)

	var samples []float32
	switch {
	case rate == 0:
		samples = make([]float32, frames*2)
	case rate > 0:
		samples = s.renderer.RenderAudio(pos, content)
	default:
		samples = media.Reverse(s.renderer.RenderAudio(pos-content, content))
	}
	if len(samples) != frames*2 {
		samples = media.ResampleLinear(samples, frames)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.ring.Write(samples)
	if rate > 0 {
		s.rendered = pos + content
	} else if rate < 0 {
		s.rendered = pos - content
	}
	return true
}

// Rendered returns the timeline position, in seconds, the audio mix has reached
func (s *Scheduler) Rendered() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// Shutdown stops both loops, waiting up to the stop budget for each. A loop
// that does not stop in time is abandoned and reported.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.pauseLocked()
	close(s.stop)
	audioDone, videoDone := s.audioDone, s.videoDone
	s.mu.Unlock()

	if s.audio != nil {
		s.audio.Stop()
	}

	var errs []error
	for name, done := range map[string]chan struct{}{"audio": audioDone, "video": videoDone} {
		if done == nil {
			continue
		}
		if err := s.join(ctx, done); err != nil {
			s.logger.Warnf("Playback %s loop did not stop within %s", name, s.opts.StopBudget)
			errs = append(errs, fmt.Errorf("%s loop: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("playback shutdown: %v", errs)
	}
	s.logger.Info("Playback stopped")
	return nil
}

func (s *Scheduler) join(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(s.opts.StopBudget)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
