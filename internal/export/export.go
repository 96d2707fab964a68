// Package export renders the timeline offline and muxes it with an external
// encoder.
package export

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/internal/playback"
	"github.com/therealutkarshpriyadarshi/montage/internal/storage"
	"github.com/therealutkarshpriyadarshi/montage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Renderer produces the frames and audio of the timeline. *engine.Engine
// implements it.
type Renderer interface {
	Evaluate(t float64) *image.RGBA
	RenderAudio(t, duration float64) []float32
	Resize(w, h int) (restore func())
}

// Publisher uploads a finished render. *storage.Storage implements it.
type Publisher interface {
	Publish(ctx context.Context, objectName, filePath string) (string, error)
}

// History records export jobs. *database.Repository implements it.
type History interface {
	CreateExport(ctx context.Context, job *models.ExportJob) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
	FinishExport(ctx context.Context, job *models.ExportJob) error
}

// Options configures the encoder invocation
type Options struct {
	FFmpegPath    string
	TempDir       string
	ProgressEvery int
	Preset        string
	CRF           int
	AudioKbps     int
	StopBudget    time.Duration
}

// DefaultOptions returns H.264 medium/23 with 192k AAC
func DefaultOptions() Options {
	return Options{
		FFmpegPath:    "ffmpeg",
		TempDir:       os.TempDir(),
		ProgressEvery: 5,
		Preset:        models.DefaultPreset,
		CRF:           models.DefaultCRF,
		AudioKbps:     models.DefaultAudioKbps,
		StopBudget:    time.Second,
	}
}

// OptionsFromConfig overlays the configured values on the defaults
func OptionsFromConfig(fc config.FFmpegConfig, ec config.ExportConfig, sc config.ShutdownConfig) Options {
	opts := DefaultOptions()
	if fc.FFmpegPath != "" {
		opts.FFmpegPath = fc.FFmpegPath
	}
	if fc.TempDir != "" {
		opts.TempDir = fc.TempDir
	}
	if ec.ProgressEvery > 0 {
		opts.ProgressEvery = ec.ProgressEvery
	}
	if ec.Preset != "" {
		opts.Preset = ec.Preset
	}
	if ec.CRF > 0 {
		opts.CRF = ec.CRF
	}
	if ec.AudioKbps > 0 {
		opts.AudioKbps = ec.AudioKbps
	}
	if sc.Export > 0 {
		opts.StopBudget = sc.Export
	}
	return opts
}

// Request describes one render
type Request struct {
	Output      string
	TotalFrames int
	FPS         float64
	Width       int
	Height      int
	// Codec is h264 (default) or hevc
	Codec       string
	ProjectPath string
}

// Result describes a finished render
type Result struct {
	ID      string
	Path    string
	Frames  int
	Width   int
	Height  int
	URL     string
	Elapsed time.Duration
}

// Pipeline renders requests one at a time
type Pipeline struct {
	renderer  Renderer
	opts      Options
	logger    *logging.Logger
	progress  playback.ProgressSink
	publisher Publisher
	history   History
}

// New creates an export pipeline
func New(renderer Renderer, opts Options, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 1
	}
	return &Pipeline{renderer: renderer, opts: opts, logger: logger.WithComponent("export")}
}

// WithProgress reports frames rendered to sink
func (p *Pipeline) WithProgress(sink playback.ProgressSink) *Pipeline {
	p.progress = sink
	return p
}

// WithPublisher uploads finished renders
func (p *Pipeline) WithPublisher(pub Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// WithHistory records every render
func (p *Pipeline) WithHistory(h History) *Pipeline {
	p.history = h
	return p
}

// EvenSize rounds dimensions down to the even sizes the encoder accepts
func EvenSize(w, h int) (int, int) {
	return w &^ 1, h &^ 1
}

// VideoCodec maps a user codec name to the encoder
func VideoCodec(name string) (string, error) {
	switch name {
	case "", "h264", "H264", "avc", "libx264":
		return "libx264", nil
	case "hevc", "h265", "H265", "libx265":
		return "libx265", nil
	}
	return "", apperr.Invariant("unsupported codec %q", name)
}

// EncoderArgs returns the encoder command line for a render
func EncoderArgs(w, h int, fps float64, codec, audioPath, output string, opts Options) []string {
	return []string{
		"-y", "-hide_banner",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-f", "f32le", "-ar", strconv.Itoa(media.SampleRate), "-ac", "2",
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", codec, "-pix_fmt", "yuv420p",
		"-preset", opts.Preset, "-crf", strconv.Itoa(opts.CRF),
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", opts.AudioKbps),
		output,
	}
}

// Render evaluates every frame of the request and pipes it into the encoder.
// On failure or cancellation the partial output is removed.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Result, error) {
	codec, err := VideoCodec(req.Codec)
	if err != nil {
		return nil, err
	}
	w, h := EvenSize(req.Width, req.Height)
	if w < 2 || h < 2 {
		return nil, apperr.Invariant("export size %dx%d is too small", req.Width, req.Height)
	}
	if req.TotalFrames < 1 || req.FPS <= 0 {
		return nil, apperr.Invariant("nothing to export: %d frames at %v fps", req.TotalFrames, req.FPS)
	}
	output, err := filepath.Abs(req.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path: %w", err)
	}

	span, ctx := tracing.StartSpan(ctx, "export.render")
	defer tracing.FinishSpan(span)

	started := time.Now()
	job := &models.ExportJob{
		ID:          uuid.New().String(),
		ProjectPath: req.ProjectPath,
		OutputPath:  output,
		Status:      models.JobStatusRendering,
		StartedAt:   &started,
		Settings: models.ExportConfig{
			Width: w, Height: h, FPS: req.FPS, TotalFrames: req.TotalFrames,
			VideoCodec: codec, Preset: p.opts.Preset, CRF: p.opts.CRF,
			AudioCodec: models.DefaultAudioCodec, AudioKbps: p.opts.AudioKbps,
		},
	}
	tracing.SetTag(span, "job_id", job.ID)
	tracing.SetTag(span, "frames", req.TotalFrames)
	logger := p.logger.WithField("job_id", job.ID)
	p.recordStart(ctx, logger, job)

	res, err := p.render(ctx, logger, job, output, codec)

	status := models.JobStatusCompleted
	switch {
	case apperr.IsCancelled(err):
		status = models.JobStatusCancelled
	case err != nil:
		status = models.JobStatusFailed
		tracing.LogError(span, err)
	}
	elapsed := time.Since(started)
	metrics.RecordExportCompleted(status, elapsed.Seconds(), job.Settings.Duration())

	if err == nil && p.publisher != nil {
		url, perr := p.publisher.Publish(ctx, storage.ObjectName(job.ID, output), output)
		if perr != nil {
			logger.WithError(perr).Warn("Failed to publish export")
		}
		res.URL = url
		job.ObjectURL = url
	}

	job.Status = status
	if err != nil {
		job.ErrorMsg = apperr.UserMessage(err)
	} else {
		job.Progress = 1
		res.Elapsed = elapsed
	}
	p.recordFinish(ctx, logger, job)

	if err != nil {
		if status == models.JobStatusFailed {
			logger.LogUserError("Export failed", err)
		}
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"output":     output,
		"frames":     req.TotalFrames,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("Export completed")
	return res, nil
}

func (p *Pipeline) render(ctx context.Context, logger *logging.Logger, job *models.ExportJob, output, codec string) (*Result, error) {
	s := job.Settings
	restore := p.renderer.Resize(s.Width, s.Height)
	defer restore()

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	audioPath, err := p.writeAudio(s.Duration())
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled(err)
	}

	args := EncoderArgs(s.Width, s.Height, s.FPS, codec, audioPath, output, p.opts)
	cmd := exec.CommandContext(ctx, p.opts.FFmpegPath, args...)
	cmd.WaitDelay = p.opts.StopBudget
	tail := media.NewStderrTail()
	cmd.Stderr = tail
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdin: %w", err)
	}

	logger.WithField("args", args).Debug("Starting encoder")
	if err := cmd.Start(); err != nil {
		return nil, apperr.EncoderFailure(err, "")
	}

	writeErr := p.writeFrames(ctx, logger, job, stdin)
	stdin.Close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		_ = os.Remove(output)
		return nil, apperr.Cancelled(ctx.Err())
	}
	if waitErr != nil || writeErr != nil {
		_ = os.Remove(output)
		return nil, apperr.EncoderFailure(errors.Join(waitErr, writeErr), tail.Tail(20))
	}

	p.report(s.TotalFrames, s.TotalFrames)
	return &Result{ID: job.ID, Path: output, Frames: s.TotalFrames, Width: s.Width, Height: s.Height}, nil
}

// writeAudio mixes the whole timeline into a temporary f32le stereo file
func (p *Pipeline) writeAudio(duration float64) (string, error) {
	f, err := os.CreateTemp(p.opts.TempDir, "montage-audio-*.f32")
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}

	samples := p.renderer.RenderAudio(0, duration)
	w := bufio.NewWriterSize(f, 64*1024)
	var buf [4]byte
	for _, v := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err = w.Write(buf[:]); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	return f.Name(), nil
}

func (p *Pipeline) writeFrames(ctx context.Context, logger *logging.Logger, job *models.ExportJob, stdin io.Writer) error {
	s := job.Settings
	size := s.Width * s.Height * 4
	start := time.Now()
	lastPercent := 0

	for i := 0; i < s.TotalFrames; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if i%p.opts.ProgressEvery == 0 {
			p.report(i, s.TotalFrames)
			fps := float64(i) / math.Max(time.Since(start).Seconds(), 1e-9)
			logger.LogExportProgress(job.ID, i, s.TotalFrames, fps)
			if pct := i * 10 / s.TotalFrames; pct > lastPercent {
				lastPercent = pct
				p.updateProgress(ctx, logger, job.ID, float64(i)/float64(s.TotalFrames))
			}
		}

		frame := p.renderer.Evaluate(float64(i) / s.FPS)
		if len(frame.Pix) < size {
			return fmt.Errorf("frame %d has %d bytes, want %d", i, len(frame.Pix), size)
		}
		if _, err := stdin.Write(frame.Pix[:size]); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", i, err)
		}
		metrics.RecordExportFrame()
	}
	return nil
}

func (p *Pipeline) report(done, total int) {
	if p.progress != nil {
		p.progress.Progress(done, total)
	}
}

func (p *Pipeline) recordStart(ctx context.Context, logger *logging.Logger, job *models.ExportJob) {
	if p.history == nil {
		return
	}
	if err := p.history.CreateExport(ctx, job); err != nil {
		logger.WithError(err).Warn("Failed to record export")
	}
}

func (p *Pipeline) updateProgress(ctx context.Context, logger *logging.Logger, id string, progress float64) {
	if p.history == nil {
		return
	}
	if err := p.history.UpdateProgress(ctx, id, progress); err != nil {
		logger.WithError(err).Warn("Failed to record export progress")
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, logger *logging.Logger, job *models.ExportJob) {
	if p.history == nil {
		return
	}
	if err := p.history.FinishExport(context.WithoutCancel(ctx), job); err != nil {
		logger.WithError(err).Warn("Failed to record export result")
	}
}
