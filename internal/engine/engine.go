// Package engine evaluates the timeline. It owns the live clip table and the
// source handles behind one coarse lock, and renders video frames (Evaluate)
// and stereo audio (RenderAudio) from it.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/effects"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// entry is one registered clip and the source it reads from
type entry struct {
	clip    models.Clip
	src     *media.Source
	proxied bool
}

// Engine is the compositor and mixer. A zero Engine is not usable; call New.
type Engine struct {
	mu sync.Mutex

	model   *timeline.Model
	pool    *media.Pool
	effects *effects.Registry
	logger  *logging.Logger

	width      int
	height     int
	outW, outH int // export override, 0 when unset
	fps        float64
	masterGain float64
	proxyMode  bool

	clips    []*entry
	byID     map[string]*entry
	revision uint64
	built    bool
}

// New creates an engine for model. Sources are shared through pool.
func New(model *timeline.Model, pool *media.Pool, registry *effects.Registry, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if registry == nil {
		registry = effects.NewRegistry(logger)
	}
	s := model.Settings()
	return &Engine{
		model:      model,
		pool:       pool,
		effects:    registry,
		logger:     logger.WithComponent("engine"),
		width:      s.Width,
		height:     s.Height,
		fps:        s.FPS,
		masterGain: s.MasterGain,
		byID:       make(map[string]*entry),
	}
}

// Rebuild re-registers every clip of the model with its effective source.
// Clips whose media fails to open get a placeholder source; the open errors
// are returned joined once the rebuild has completed.
func (e *Engine) Rebuild(ctx context.Context) error {
	span, ctx := tracing.StartSpan(ctx, "engine.rebuild")
	defer tracing.FinishSpan(span)
	start := time.Now()

	rev := e.model.LayoutRevision()
	settings := e.model.Settings()
	clips := e.model.Clips()

	e.mu.Lock()
	proxyMode := e.proxyMode
	e.mu.Unlock()

	// sources are opened outside the engine lock so playback keeps running
	next := make([]*entry, 0, len(clips))
	var errs []error
	for _, c := range clips {
		ent, err := e.register(ctx, c, proxyMode)
		if err != nil {
			errs = append(errs, err)
		}
		next = append(next, ent)
	}

	e.mu.Lock()
	old := e.clips
	e.clips = next
	e.byID = lo.SliceToMap(next, func(ent *entry) (string, *entry) { return ent.clip.ID, ent })
	e.fps = settings.FPS
	e.masterGain = settings.MasterGain
	e.width, e.height = settings.Width, settings.Height
	e.revision = rev
	e.built = true
	e.mu.Unlock()

	for _, ent := range old {
		e.pool.Release(ent.src)
	}

	elapsed := time.Since(start)
	metrics.RecordRebuild(elapsed.Seconds(), len(next))
	tracing.SetTag(span, "clips", len(next))
	e.logger.WithFields(map[string]interface{}{
		"clips":    len(next),
		"revision": rev,
		"duration": elapsed.String(),
	}).Debug("Engine rebuilt")

	err := errors.Join(errs...)
	tracing.LogError(span, err)
	return err
}

// register resolves the effective source of c. The proxy is used only when
// proxy mode is on, the proxy is ready and the clip opts in; a proxy that
// fails to open falls back to the original.
func (e *Engine) register(ctx context.Context, c models.Clip, proxyMode bool) (*entry, error) {
	ent := &entry{clip: c}

	if proxyMode && c.UseProxy && c.ProxyStatus == models.ProxyReady && c.ProxyPath != "" {
		src, err := e.pool.Acquire(ctx, c.ProxyPath)
		if err == nil {
			ent.src, ent.proxied = src, true
			return ent, nil
		}
		e.logger.WithClipID(c.ID).WithError(err).Warn("Proxy could not be opened, using original media")
	}

	src, err := e.pool.Acquire(ctx, c.SourcePath)
	if err != nil {
		e.logger.WithClipID(c.ID).LogUserError("Media could not be opened", err)
		metrics.RecordError("engine", "open")
		ent.src = media.NewPlaceholder(c.SourcePath, c.Kind, e.logger)
		if !apperr.Is(err, apperr.ErrOpenFailure) {
			err = apperr.OpenFailure(c.SourcePath, err)
		}
		return ent, err
	}
	ent.src = src
	return ent, nil
}

// UpdateClip applies an incremental edit to an already registered clip.
// Changes to what the clip reads from need a rebuild instead.
func (e *Engine) UpdateClip(c models.Clip) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.byID[c.ID]
	if !ok {
		return apperr.NotFound("clip", c.ID)
	}
	if ent.clip.SourcePath != c.SourcePath || ent.clip.Track != c.Track {
		return apperr.Invariant("clip %s changed source or track without a rebuild", c.ID)
	}
	ent.clip = c
	return nil
}

// Sync brings the engine up to date with the model. A changed layout
// revision triggers a rebuild; otherwise the pending incremental changes are
// applied to the registered clips. The view hints found in the change log are
// returned.
func (e *Engine) Sync(ctx context.Context) ([]timeline.Change, error) {
	changes := e.model.DrainChanges()
	hints := lo.Filter(changes, func(c timeline.Change, _ int) bool {
		return c.Kind == timeline.ChangeZoomToFit
	})

	e.mu.Lock()
	stale := !e.built || e.revision != e.model.LayoutRevision()
	e.mu.Unlock()
	if stale {
		return hints, e.Rebuild(ctx)
	}

	for _, ch := range changes {
		switch ch.Kind {
		case timeline.ChangeClip:
			c, ok := e.model.Clip(ch.ClipID)
			if !ok {
				continue
			}
			if err := e.UpdateClip(c); err != nil {
				// the model moved on structurally; fall back to a full rebuild
				return hints, e.Rebuild(ctx)
			}
		case timeline.ChangeMasterGain:
			e.SetMasterGain(e.model.Settings().MasterGain)
		}
	}
	return hints, nil
}

// SetMasterGain changes the gain applied to the whole mix
func (e *Engine) SetMasterGain(gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterGain = gain
}

// MasterGain returns the current master gain
func (e *Engine) MasterGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterGain
}

// SetProxyMode switches proxy substitution on or off. Switching rebuilds.
func (e *Engine) SetProxyMode(ctx context.Context, on bool) error {
	e.mu.Lock()
	changed := e.proxyMode != on
	e.proxyMode = on
	e.mu.Unlock()

	if !changed {
		return nil
	}
	e.logger.WithField("proxy_mode", on).Info("Proxy mode changed")
	return e.Rebuild(ctx)
}

// ProxyMode reports whether proxy substitution is on
func (e *Engine) ProxyMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proxyMode
}

// Proxied reports whether the registered clip currently reads from its proxy
func (e *Engine) Proxied(clipID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[clipID]
	return ok && ent.proxied
}

// Resize overrides the output size until the returned restore func is called.
// Export uses it to render at a size other than the project resolution.
func (e *Engine) Resize(w, h int) (restore func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prevW, prevH := e.outW, e.outH
	e.outW, e.outH = w, h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.outW, e.outH = prevW, prevH
	}
}

// Size returns the output dimensions
func (e *Engine) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sizeLocked()
}

func (e *Engine) sizeLocked() (int, int) {
	if e.outW > 0 && e.outH > 0 {
		return e.outW, e.outH
	}
	return e.width, e.height
}

// FPS returns the project frame rate used for evaluation
func (e *Engine) FPS() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fps
}

// Revision returns the layout revision of the last rebuild
func (e *Engine) Revision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// ClipCount returns the number of registered clips
func (e *Engine) ClipCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clips)
}

// Model returns the timeline the engine evaluates
func (e *Engine) Model() *timeline.Model {
	return e.model
}

// Close releases every source
func (e *Engine) Close() {
	e.mu.Lock()
	old := e.clips
	e.clips = nil
	e.byID = make(map[string]*entry)
	e.built = false
	e.mu.Unlock()

	for _, ent := range old {
		e.pool.Release(ent.src)
	}
}
