// Package analysis runs the per-clip background workers (waveform peaks,
// thumbnails and proxies) and feeds their results back into the timeline.
package analysis

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// OpenFunc opens a private source for a worker
type OpenFunc func(ctx context.Context, path string) (*media.Source, error)

// Prober resolves metadata for the proxy encoder
type Prober interface {
	Probe(ctx context.Context, path string) (*models.ProbeInfo, error)
}

// ProxyEncoder writes a proxy file. *media.Environment implements it.
type ProxyEncoder interface {
	EncodeProxy(ctx context.Context, info *models.ProbeInfo, output string) error
}

// Store shares analysis results between processes. *cache.Cache implements it.
type Store interface {
	GetPeaks(ctx context.Context, fingerprint string, buckets int) ([]float32, error)
	SetPeaks(ctx context.Context, fingerprint string, buckets int, peaks []float32, ttl time.Duration) error
	GetProxy(ctx context.Context, fingerprint string) (string, error)
	SetProxy(ctx context.Context, fingerprint, proxyPath string, ttl time.Duration) error
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// Options tunes the dispatcher
type Options struct {
	MaxConcurrent   int
	WaveformBuckets int
	ProxyDir        string
	AutoProxy       bool
	ProxyHeight     int
	StopBudget      time.Duration
}

// DefaultOptions returns the built-in worker settings
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:   2,
		WaveformBuckets: 1200,
		ProxyDir:        filepath.Join(os.TempDir(), "montage-proxies"),
		AutoProxy:       true,
		ProxyHeight:     540,
		StopBudget:      500 * time.Millisecond,
	}
}

// OptionsFromConfig overlays the configured values on the defaults
func OptionsFromConfig(ac config.AnalysisConfig, sc config.ShutdownConfig) Options {
	opts := DefaultOptions()
	if ac.MaxConcurrent > 0 {
		opts.MaxConcurrent = ac.MaxConcurrent
	}
	if ac.WaveformBuckets > 0 {
		opts.WaveformBuckets = ac.WaveformBuckets
	}
	if ac.ProxyDir != "" {
		opts.ProxyDir = ac.ProxyDir
	}
	if ac.ProxyHeight > 0 {
		opts.ProxyHeight = ac.ProxyHeight
	}
	opts.AutoProxy = ac.AutoProxy
	if sc.Worker > 0 {
		opts.StopBudget = sc.Worker
	}
	return opts
}

// Dispatcher launches, deduplicates and cancels analysis workers. Workers
// never touch the timeline: they post events which Drain applies.
type Dispatcher struct {
	model   *timeline.Model
	open    OpenFunc
	prober  Prober
	encoder ProxyEncoder
	opts    Options
	logger  *logging.Logger

	store    Store
	storeTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	wg     sync.WaitGroup

	mu       sync.Mutex
	queue    PriorityQueue
	inflight map[jobKey]*job
	active   int
	closed   bool
}

// NewDispatcher creates a dispatcher. prober and encoder may be nil, in which
// case proxy jobs fail.
func NewDispatcher(model *timeline.Model, open OpenFunc, prober Prober, encoder ProxyEncoder, opts Options, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.WaveformBuckets < 1 {
		opts.WaveformBuckets = DefaultOptions().WaveformBuckets
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		model:    model,
		open:     open,
		prober:   prober,
		encoder:  encoder,
		opts:     opts,
		logger:   logger.WithComponent("analysis"),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, 64),
		queue:    make(PriorityQueue, 0),
		inflight: make(map[jobKey]*job),
	}
	heap.Init(&d.queue)
	return d
}

// WithStore shares waveform peaks and proxy locations through store
func (d *Dispatcher) WithStore(store Store, ttl time.Duration) *Dispatcher {
	d.store = store
	d.storeTTL = ttl
	return d
}

// Submit queues a worker of the given kind for a clip. It returns false when
// the job is already in flight or there is nothing to do.
func (d *Dispatcher) Submit(clipID string, kind Kind) (bool, error) {
	clip, ok := d.model.Clip(clipID)
	if !ok {
		return false, apperr.NotFound("clip", clipID)
	}
	if !d.applicable(&clip, kind) {
		return false, nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false, apperr.Cancelled(nil)
	}
	key := jobKey{clipID: clipID, kind: kind.Value}
	if _, running := d.inflight[key]; running {
		d.mu.Unlock()
		return false, nil
	}

	ctx, cancel := context.WithCancel(d.ctx)
	j := &job{
		clipID:    clipID,
		kind:      kind,
		Priority:  kind.priority(),
		Timestamp: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	d.inflight[key] = j
	heap.Push(&d.queue, j)
	d.mu.Unlock()

	if kind == KindProxy {
		if err := d.model.SetProxyState(clipID, models.ProxyGenerating, ""); err != nil {
			d.Cancel(clipID)
			return false, err
		}
	}
	d.logger.LogWorkerEvent(clipID, kind.Value, "queued", nil)

	d.mu.Lock()
	d.processQueueLocked()
	d.mu.Unlock()
	return true, nil
}

func (d *Dispatcher) applicable(c *models.Clip, kind Kind) bool {
	switch kind {
	case KindWaveform:
		return c.Kind == models.MediaAudio && len(c.Peaks) == 0
	case KindThumbnail:
		return c.Kind != models.MediaAudio && len(c.Thumbnails) == 0
	case KindProxy:
		return c.Kind == models.MediaVideo && c.ProxyStatus != models.ProxyReady
	}
	return false
}

// SubmitImported queues the default analysis for freshly imported clips:
// peaks for audio, thumbnails for pictures and, when enabled, proxies for
// large video.
func (d *Dispatcher) SubmitImported(ids []string) error {
	var errs []error
	for _, id := range ids {
		clip, ok := d.model.Clip(id)
		if !ok {
			continue
		}
		kinds := []Kind{KindWaveform, KindThumbnail}
		if d.wantsProxy(&clip) {
			kinds = append(kinds, KindProxy)
		}
		for _, k := range kinds {
			if _, err := d.Submit(id, k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to queue analysis: %w", errs[0])
	}
	return nil
}

func (d *Dispatcher) wantsProxy(c *models.Clip) bool {
	if !d.opts.AutoProxy || c.Kind != models.MediaVideo || d.prober == nil {
		return false
	}
	info, err := d.prober.Probe(d.ctx, c.SourcePath)
	if err != nil {
		return false
	}
	return min(info.Width, info.Height) > d.opts.ProxyHeight
}

// processQueueLocked starts queued jobs while there is capacity
func (d *Dispatcher) processQueueLocked() {
	for d.active < d.opts.MaxConcurrent && d.queue.Len() > 0 {
		j := heap.Pop(&d.queue).(*job)
		if j.stopped.Load() {
			continue
		}
		d.active++
		d.wg.Add(1)
		go d.run(j)
	}
}

func (d *Dispatcher) run(j *job) {
	defer d.wg.Done()
	defer d.finish(j)

	ev := d.execute(j)
	if j.stopped.Load() || apperr.IsCancelled(ev.Err) {
		return
	}
	select {
	case d.events <- ev:
	case <-j.ctx.Done():
	}
}

func (d *Dispatcher) finish(j *job) {
	j.cancel()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[j.key()] == j {
		delete(d.inflight, j.key())
	}
	d.active--
	if !d.closed {
		d.processQueueLocked()
	}
}

// Cancel stops every queued or running worker for the clip. Stopped workers
// post no result. A pending proxy goes back to None.
func (d *Dispatcher) Cancel(clipID string) {
	d.mu.Lock()
	var proxy bool
	for _, k := range Kinds.Members() {
		key := jobKey{clipID: clipID, kind: k.Value}
		j, ok := d.inflight[key]
		if !ok {
			continue
		}
		j.stop()
		if j.Index >= 0 && j.Index < d.queue.Len() && d.queue[j.Index] == j {
			heap.Remove(&d.queue, j.Index)
		}
		delete(d.inflight, key)
		proxy = proxy || k == KindProxy
		d.logger.LogWorkerEvent(clipID, k.Value, "cancelled", nil)
	}
	d.mu.Unlock()

	if proxy {
		if clip, ok := d.model.Clip(clipID); ok && clip.ProxyStatus == models.ProxyGenerating {
			_ = d.model.SetProxyState(clipID, models.ProxyNone, "")
		}
	}
}

// InFlight reports whether a worker of kind is queued or running for the clip
func (d *Dispatcher) InFlight(clipID string, kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[jobKey{clipID: clipID, kind: kind.Value}]
	return ok
}

// Pending returns the number of queued or running workers
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Drain applies every posted result to the timeline and returns the events.
// It never blocks and is meant to run on the UI tick.
func (d *Dispatcher) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-d.events:
			d.apply(ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (d *Dispatcher) apply(ev Event) {
	var err error
	switch ev.Kind {
	case KindWaveform:
		if ev.Err == nil {
			err = d.model.SetPeaks(ev.ClipID, ev.Peaks)
		}
	case KindThumbnail:
		if ev.Err == nil {
			err = d.model.SetThumbnails(ev.ClipID, ev.Thumbnails)
		}
	case KindProxy:
		if ev.Err != nil {
			err = d.model.SetProxyState(ev.ClipID, models.ProxyError, "")
			break
		}
		if err = d.model.SetProxyState(ev.ClipID, models.ProxyReady, ev.ProxyPath); err == nil {
			err = d.model.SetUseProxy(ev.ClipID, true)
		}
	}

	if ev.Err != nil {
		d.logger.WithClipID(ev.ClipID).LogUserError("Analysis worker failed", ev.Err)
	}
	if err != nil && !apperr.Is(err, apperr.ErrNotFound) {
		d.logger.WithClipID(ev.ClipID).ErrorWithErr("Failed to store analysis result", err)
	}
}

// Indicator summarizes the proxy state of every clip. Errors win over work in
// progress, which wins over finished proxies.
func (d *Dispatcher) Indicator() Indicator {
	clips := d.model.Clips()
	has := func(s models.ProxyStatus) bool {
		return lo.ContainsBy(clips, func(c models.Clip) bool { return c.ProxyStatus == s })
	}
	switch {
	case has(models.ProxyError):
		return IndicatorError
	case has(models.ProxyGenerating):
		return IndicatorGenerating
	case has(models.ProxyReady):
		return IndicatorReady
	default:
		return IndicatorNone
	}
}

// Shutdown stops every worker and waits up to the stop budget for them
func (d *Dispatcher) Shutdown() error {
	d.mu.Lock()
	d.closed = true
	for key, j := range d.inflight {
		j.stop()
		delete(d.inflight, key)
	}
	d.queue = d.queue[:0]
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(d.opts.StopBudget):
		return fmt.Errorf("analysis workers did not stop within %s", d.opts.StopBudget)
	}
}
