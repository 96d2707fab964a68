package analysis

import (
	"context"
	"errors"
	"image"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/cache"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/internal/tracing"
)

// Thumbnail sizes by orientation
const (
	ThumbLong  = 160
	ThumbShort = 90
)

// thumbPositions are the fractions of the source duration that get a thumbnail
var thumbPositions = []float64{0, 0.5, 0.95}

var errStopped = errors.New("worker stopped")

// Another process building the same proxy holds its lock for at most
// proxyLockTTL; waiters poll every proxyLockPoll.
var (
	proxyLockTTL  = 15 * time.Minute
	proxyLockPoll = 250 * time.Millisecond
)

// execute runs one job and builds its completion event
func (d *Dispatcher) execute(j *job) Event {
	ev := Event{ClipID: j.clipID, Kind: j.kind}

	clip, ok := d.model.Clip(j.clipID)
	if !ok {
		ev.Err = apperr.NotFound("clip", j.clipID)
		return ev
	}

	start := time.Now()
	metrics.WorkerStarted(j.kind.Value)
	d.logger.LogWorkerEvent(j.clipID, j.kind.Value, "started", map[string]interface{}{
		"source": clip.SourcePath,
	})

	var err error
	switch j.kind {
	case KindWaveform:
		ev.Peaks, err = d.waveform(j, clip.SourcePath)
	case KindThumbnail:
		ev.Thumbnails, err = d.thumbnails(j, clip.SourcePath)
	case KindProxy:
		ev.ProxyPath, err = d.proxy(j, clip.SourcePath)
	}

	outcome := "ok"
	switch {
	case err == nil && !j.stopped.Load():
	case j.stopped.Load() || apperr.IsCancelled(err) || errors.Is(err, errStopped),
		apperr.Is(err, apperr.ErrDecodeFatal):
		// a source that stopped decoding cancels its workers
		outcome = "cancelled"
		err = apperr.Cancelled(err)
	default:
		outcome = "error"
		err = apperr.WorkerFailure(j.kind.Value, j.clipID, err)
	}
	ev.Err = err

	elapsed := time.Since(start)
	metrics.WorkerFinished(j.kind.Value, outcome, elapsed.Seconds())
	d.logger.LogWorkerEvent(j.clipID, j.kind.Value, outcome, map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
	})
	return ev
}

// checkpoint reports errStopped once the job was asked to stop
func checkpoint(j *job) error {
	if j.stopped.Load() {
		return errStopped
	}
	return nil
}

func (d *Dispatcher) fingerprint(path string) string {
	if d.store == nil {
		return ""
	}
	fp, err := cache.Fingerprint(path)
	if err != nil {
		return ""
	}
	return fp
}

func (d *Dispatcher) waveform(j *job, path string) ([]float32, error) {
	buckets := d.opts.WaveformBuckets

	fp := d.fingerprint(path)
	if fp != "" {
		peaks, err := d.store.GetPeaks(j.ctx, fp, buckets)
		metrics.RecordCacheAccess("peaks", err == nil && peaks != nil)
		if err == nil && peaks != nil {
			return peaks, nil
		}
	}

	if err := checkpoint(j); err != nil {
		return nil, err
	}
	src, err := d.open(j.ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := checkpoint(j); err != nil {
		return nil, err
	}
	peaks, err := src.Waveform(j.ctx, buckets)
	if err != nil {
		return nil, err
	}

	if fp != "" {
		if err := d.store.SetPeaks(j.ctx, fp, buckets, peaks, d.storeTTL); err != nil {
			d.logger.WithError(err).Warn("Failed to share waveform peaks")
		}
	}
	return peaks, nil
}

// ThumbSize returns the thumbnail dimensions for a visual size
func ThumbSize(w, h int) (int, int) {
	if h > w {
		return ThumbShort, ThumbLong
	}
	return ThumbLong, ThumbShort
}

func (d *Dispatcher) thumbnails(j *job, path string) ([]*image.RGBA, error) {
	if err := checkpoint(j); err != nil {
		return nil, err
	}
	src, err := d.open(j.ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	w, h := ThumbSize(src.Dimensions())
	thumbs := make([]*image.RGBA, 0, len(thumbPositions))
	for _, pos := range thumbPositions {
		if err := checkpoint(j); err != nil {
			return nil, err
		}
		frame, err := src.Frame(pos*src.Duration(), w, h)
		if err != nil && !src.IsValid() {
			return nil, err
		}
		thumbs = append(thumbs, frame)
	}
	return thumbs, nil
}

func (d *Dispatcher) proxy(j *job, path string) (string, error) {
	if d.prober == nil || d.encoder == nil {
		return "", errors.New("proxy generation is not configured")
	}

	span, ctx := tracing.StartSpan(j.ctx, "analysis.proxy")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "clip_id", j.clipID)

	fp := d.fingerprint(path)
	if fp != "" {
		cached, err := d.store.GetProxy(ctx, fp)
		hit := err == nil && cached != "" && fileExists(cached)
		metrics.RecordCacheAccess("proxy", hit)
		if hit {
			return cached, nil
		}
	}

	if fp != "" {
		owned, shared, err := d.lockProxy(ctx, j, fp)
		if err != nil {
			return "", err
		}
		if shared != "" {
			return shared, nil
		}
		if owned {
			defer func() {
				if err := d.store.ReleaseLock(context.WithoutCancel(ctx), proxyLockKey(fp)); err != nil {
					d.logger.WithError(err).Warn("Failed to release proxy lock")
				}
			}()
		}
	}

	if err := checkpoint(j); err != nil {
		return "", err
	}
	info, err := d.prober.Probe(ctx, path)
	if err != nil {
		tracing.LogError(span, err)
		return "", err
	}

	if err := checkpoint(j); err != nil {
		return "", err
	}
	output := media.ProxyPath(d.opts.ProxyDir, path)
	if err := d.encoder.EncodeProxy(ctx, info, output); err != nil {
		tracing.LogError(span, err)
		return "", err
	}

	if err := checkpoint(j); err != nil {
		_ = os.Remove(output)
		return "", err
	}
	if fp != "" {
		if err := d.store.SetProxy(context.WithoutCancel(ctx), fp, output, d.storeTTL); err != nil {
			d.logger.WithError(err).Warn("Failed to share proxy location")
		}
	}
	return output, nil
}

func proxyLockKey(fp string) string {
	return "proxy-build:" + fp
}

// lockProxy takes the shared build lock for a source. While another process
// holds it, lockProxy waits for that process to publish its proxy and returns
// the published path instead. A store that cannot lock is logged and ignored.
func (d *Dispatcher) lockProxy(ctx context.Context, j *job, fp string) (bool, string, error) {
	ticker := time.NewTicker(proxyLockPoll)
	defer ticker.Stop()

	published := func() string {
		cached, err := d.store.GetProxy(ctx, fp)
		if err == nil && cached != "" && fileExists(cached) {
			return cached
		}
		return ""
	}

	for {
		ok, err := d.store.AcquireLock(ctx, proxyLockKey(fp), proxyLockTTL)
		if err != nil {
			d.logger.WithError(err).Warn("Proxy lock unavailable, building without it")
			return false, "", nil
		}
		if ok {
			// the previous holder may have published just before releasing
			if cached := published(); cached != "" {
				_ = d.store.ReleaseLock(context.WithoutCancel(ctx), proxyLockKey(fp))
				return false, cached, nil
			}
			return true, "", nil
		}
		if cached := published(); cached != "" {
			return false, cached, nil
		}

		select {
		case <-ctx.Done():
			return false, "", apperr.Cancelled(ctx.Err())
		case <-ticker.C:
		}
		if err := checkpoint(j); err != nil {
			return false, "", err
		}
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
