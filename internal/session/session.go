// Package session ties an open project together: the timeline model, the
// engine rendering it, the playback scheduler and the analysis workers. The
// CLI and any UI drive the engine through a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/analysis"
	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/effects"
	"github.com/therealutkarshpriyadarshi/montage/internal/engine"
	"github.com/therealutkarshpriyadarshi/montage/internal/export"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/playback"
	"github.com/therealutkarshpriyadarshi/montage/internal/project"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Prober resolves media metadata. *probe.Cache implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.ProbeInfo, error)
}

// invalidator is implemented by probers that memoize records
type invalidator interface {
	Invalidate(path string)
}

// Options configures a session
type Options struct {
	Settings  timeline.Settings
	ProxyMode bool
	Playback  playback.Options
	Analysis  analysis.Options
	Export    export.Options
}

// OptionsFromConfig derives session options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Settings: timeline.Settings{
			Width:      cfg.Engine.Width,
			Height:     cfg.Engine.Height,
			FPS:        cfg.Engine.ProjectFPS,
			MasterGain: cfg.Engine.MasterGain,
			TimeFormat: models.TimeSMPTE.Value,
		},
		ProxyMode: cfg.Engine.ProxyMode,
		Playback:  playback.OptionsFromConfig(cfg.Playback, cfg.Shutdown),
		Analysis:  analysis.OptionsFromConfig(cfg.Analysis, cfg.Shutdown),
		Export:    export.OptionsFromConfig(cfg.FFmpeg, cfg.Export, cfg.Shutdown),
	}
}

// Backends are the collaborators a session renders and analyses with. Open
// and Prober are required; everything else is optional.
type Backends struct {
	Open    analysis.OpenFunc
	Prober  Prober
	Encoder analysis.ProxyEncoder
	Effects *effects.Registry

	Store    analysis.Store
	StoreTTL time.Duration

	Publisher export.Publisher
	History   export.History

	Video playback.VideoSink
	Audio playback.AudioSink
}

// Session is one open project
type Session struct {
	Model      *timeline.Model
	Engine     *engine.Engine
	Scheduler  *playback.Scheduler
	Dispatcher *analysis.Dispatcher

	pool     *media.Pool
	backends Backends
	loader   *project.Loader
	opts     Options
	logger   *logging.Logger

	mu      sync.Mutex
	path    string
	exports map[*exportRun]struct{}
	closed  bool
}

type exportRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session with an empty project
func New(ctx context.Context, opts Options, b Backends, logger *logging.Logger) (*Session, error) {
	if b.Open == nil || b.Prober == nil {
		return nil, errors.New("session needs a source opener and a prober")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Settings.FPS <= 0 || opts.Settings.Width <= 0 || opts.Settings.Height <= 0 {
		opts.Settings = timeline.DefaultSettings()
	}

	model := timeline.New(opts.Settings, logger)
	pool := media.NewPoolWithOpenFunc(b.Open)
	eng := engine.New(model, pool, b.Effects, logger)

	dispatcher := analysis.NewDispatcher(model, b.Open, b.Prober, b.Encoder, opts.Analysis, logger)
	if b.Store != nil {
		dispatcher.WithStore(b.Store, b.StoreTTL)
	}

	s := &Session{
		Model:      model,
		Engine:     eng,
		Scheduler:  playback.New(eng, model, b.Video, b.Audio, opts.Playback, logger),
		Dispatcher: dispatcher,
		pool:       pool,
		backends:   b,
		loader:     project.NewLoader(b.Prober, logger),
		opts:       opts,
		logger:     logger.WithComponent("session"),
		exports:    make(map[*exportRun]struct{}),
	}

	if err := eng.Rebuild(ctx); err != nil {
		return nil, err
	}
	if opts.ProxyMode {
		if err := eng.SetProxyMode(ctx, true); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the project file the session was opened from or last saved to
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Import probes path and places it on the timeline at start, then queues the
// analysis workers for the new clips. A file that cannot be probed is an
// OpenFailure and leaves the timeline untouched.
func (s *Session) Import(ctx context.Context, path string, start, preferred int) (timeline.Import, error) {
	// the file may have been replaced since it was last probed
	if inv, ok := s.backends.Prober.(invalidator); ok {
		inv.Invalidate(path)
	}
	info, err := s.backends.Prober.Probe(ctx, path)
	if err != nil {
		if apperr.IsCancelled(err) {
			return timeline.Import{}, err
		}
		return timeline.Import{}, apperr.OpenFailure(path, err)
	}

	imp, err := s.Model.ImportMedia(info, start, preferred)
	if err != nil {
		return timeline.Import{}, err
	}
	if err := s.Dispatcher.SubmitImported(imp.ClipIDs); err != nil {
		s.logger.WithError(err).Warn("Failed to queue analysis for imported clips")
	}
	return imp, nil
}

// Analyze queues analysis for every clip that still lacks results
func (s *Session) Analyze() error {
	ids := make([]string, 0, s.Model.ClipCount())
	for _, c := range s.Model.Clips() {
		ids = append(ids, c.ID)
	}
	return s.Dispatcher.SubmitImported(ids)
}

// Tick is the UI loop step: worker results are applied to the model, the
// engine catches up with the model and the scheduler presents a frame.
// Structural changes rebuild the engine under a scheduler refresh so that
// playback pauses for the rebuild and resumes afterwards. Open failures
// during a rebuild are returned after the frame was presented.
func (s *Session) Tick(ctx context.Context) ([]timeline.Change, error) {
	s.Dispatcher.Drain()
	hints, err := s.sync(ctx)
	s.Scheduler.Tick()
	return hints, err
}

func (s *Session) sync(ctx context.Context) ([]timeline.Change, error) {
	if s.Engine.Revision() == s.Model.LayoutRevision() {
		return s.Engine.Sync(ctx)
	}
	var hints []timeline.Change
	err := s.Scheduler.Refresh(func() error {
		var err error
		hints, err = s.Engine.Sync(ctx)
		return err
	})
	return hints, err
}

// WaitIdle ticks every interval until no analysis worker is queued or
// running, then applies the last results
func (s *Session) WaitIdle(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && !apperr.Is(err, apperr.ErrOpenFailure) {
			return err
		}
		if s.Dispatcher.Pending() == 0 {
			_, err := s.Tick(ctx)
			if apperr.Is(err, apperr.ErrOpenFailure) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return apperr.Cancelled(ctx.Err())
		case <-ticker.C:
		}
	}
}

// SetProxyMode switches proxy substitution, rebuilding under a scheduler refresh
func (s *Session) SetProxyMode(ctx context.Context, on bool) error {
	return s.Scheduler.Refresh(func() error {
		return s.Engine.SetProxyMode(ctx, on)
	})
}

// Open replaces the current project with the one at path. Workers for the
// old clips are cancelled. Media that cannot be opened is reported as a
// joined OpenFailure; the project is loaded regardless, with placeholders.
func (s *Session) Open(ctx context.Context, path string) error {
	old := s.Model.Clips()
	if err := s.loader.Load(ctx, path, s.Model); err != nil {
		return err
	}
	for _, c := range old {
		s.Dispatcher.Cancel(c.ID)
	}
	s.Dispatcher.Drain()

	s.mu.Lock()
	s.path = path
	s.mu.Unlock()

	s.Scheduler.Seek(s.Model.Playhead().Frame)
	_, err := s.sync(ctx)
	return err
}

// Save writes the project to path, or to the path it was opened from when
// path is empty
func (s *Session) Save(path string) error {
	if path == "" {
		path = s.Path()
	}
	if path == "" {
		return apperr.Invariant("project has never been saved: a path is required")
	}
	if err := project.Save(path, s.Model); err != nil {
		return err
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	s.logger.WithField("path", path).Info("Project saved")
	return nil
}

// Export renders the project through the external encoder. Playback is paused
// first. Zero TotalFrames or FPS default to the whole project at project fps.
func (s *Session) Export(ctx context.Context, req export.Request, progress playback.ProgressSink) (*export.Result, error) {
	run, ctx, err := s.startExport(ctx)
	if err != nil {
		return nil, err
	}
	defer s.finishExport(run)

	s.Scheduler.Pause()
	if _, err := s.Engine.Sync(ctx); err != nil && !apperr.Is(err, apperr.ErrOpenFailure) {
		return nil, err
	} else if err != nil {
		s.logger.WithError(err).Warn("Exporting with placeholder sources")
	}

	if req.TotalFrames == 0 {
		req.TotalFrames = project.TotalFrames(s.Model)
	}
	if req.FPS == 0 {
		req.FPS = s.Model.FPS()
	}
	if req.ProjectPath == "" {
		req.ProjectPath = s.Path()
	}

	pipeline := export.New(s.Engine, s.opts.Export, s.logger)
	if progress != nil {
		pipeline.WithProgress(progress)
	}
	if s.backends.Publisher != nil {
		pipeline.WithPublisher(s.backends.Publisher)
	}
	if s.backends.History != nil {
		pipeline.WithHistory(s.backends.History)
	}
	return pipeline.Render(ctx, req)
}

func (s *Session) startExport(ctx context.Context) (*exportRun, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, apperr.Cancelled(errors.New("session is shut down"))
	}
	ctx, cancel := context.WithCancel(ctx)
	run := &exportRun{cancel: cancel, done: make(chan struct{})}
	s.exports[run] = struct{}{}
	return run, ctx, nil
}

func (s *Session) finishExport(run *exportRun) {
	run.cancel()
	close(run.done)
	s.mu.Lock()
	delete(s.exports, run)
	s.mu.Unlock()
}

// Shutdown cancels running exports, stops playback and the analysis workers
// and releases every source. Each stage waits at most its configured budget;
// stages that overrun are reported together.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	runs := make([]*exportRun, 0, len(s.exports))
	for run := range s.exports {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	var errs []error
	budget := s.opts.Export.StopBudget
	if budget <= 0 {
		budget = export.DefaultOptions().StopBudget
	}
	for _, run := range runs {
		run.cancel()
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
wait:
	for _, run := range runs {
		select {
		case <-run.done:
		case <-timer.C:
			errs = append(errs, fmt.Errorf("export did not stop within %s", budget))
			break wait
		}
	}

	if err := s.Scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Dispatcher.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	s.Engine.Close()
	s.pool.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.WithError(err).Warn("Session shut down with stragglers")
		return err
	}
	s.logger.Info("Session closed")
	return nil
}
