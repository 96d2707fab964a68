package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/cache"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/media/mediatest"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

type fakeProber map[string]*models.ProbeInfo

func (p fakeProber) Probe(_ context.Context, path string) (*models.ProbeInfo, error) {
	info, ok := p[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return info, nil
}

type fakeEncoder struct {
	started chan string
	release chan struct{}
	err     error

	mu      sync.Mutex
	outputs []string
}

func newBlockingEncoder() *fakeEncoder {
	return &fakeEncoder{started: make(chan string, 8), release: make(chan struct{})}
}

func (e *fakeEncoder) EncodeProxy(ctx context.Context, info *models.ProbeInfo, output string) error {
	e.mu.Lock()
	e.outputs = append(e.outputs, output)
	e.mu.Unlock()

	if e.started != nil {
		e.started <- info.Path
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return apperr.Cancelled(ctx.Err())
		}
	}
	return e.err
}

func (e *fakeEncoder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outputs)
}

type fixture struct {
	model   *timeline.Model
	d       *Dispatcher
	encoder *fakeEncoder
	prober  fakeProber
}

func newFixture(t *testing.T, encoder *fakeEncoder, decoders ...*mediatest.Decoder) *fixture {
	t.Helper()
	model := timeline.New(timeline.Settings{Width: 64, Height: 36, FPS: 30, MasterGain: 1}, nil)
	prober := fakeProber{}
	for _, dec := range decoders {
		info := dec.Meta
		prober[info.Path] = &info
	}
	open := mediatest.Opener(decoders...)
	opts := DefaultOptions()
	opts.WaveformBuckets = 10
	opts.ProxyDir = t.TempDir()
	if encoder == nil {
		encoder = &fakeEncoder{}
	}
	d := NewDispatcher(model, func(_ context.Context, path string) (*media.Source, error) {
		return open(path)
	}, prober, encoder, opts, nil)
	t.Cleanup(func() { _ = d.Shutdown() })
	return &fixture{model: model, d: d, encoder: encoder, prober: prober}
}

func (f *fixture) importClips(t *testing.T, dec *mediatest.Decoder) []string {
	t.Helper()
	imp, err := f.model.ImportMedia(&dec.Meta, 0, timeline.NoTrack)
	require.NoError(t, err)
	return imp.ClipIDs
}

// drain waits for every worker to finish and applies the results
func (f *fixture) drain(t *testing.T) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return f.d.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	return f.d.Drain()
}

func TestWaveformWorkerStoresPeaks(t *testing.T) {
	dec := mediatest.Audio("/media/a.wav", 48000, 2)
	f := newFixture(t, nil, dec)
	id := f.importClips(t, dec)[0]

	ok, err := f.d.Submit(id, KindWaveform)
	require.NoError(t, err)
	require.True(t, ok)

	events := f.drain(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].Failed())

	clip, _ := f.model.Clip(id)
	require.Len(t, clip.Peaks, 20)
	for i := 0; i < len(clip.Peaks); i += 2 {
		assert.InDelta(t, 0.5, clip.Peaks[i], 1e-6)
		assert.InDelta(t, 0.25, clip.Peaks[i+1], 1e-6)
	}

	// peaks present: nothing to do
	ok, err = f.d.Submit(id, KindWaveform)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitSkipsInapplicableWork(t *testing.T) {
	video := mediatest.Video("/media/v.mp4", 64, 36, 30, 2)
	img := mediatest.Image("/media/still.png", 64, 36)
	f := newFixture(t, nil, video, img)
	ids := f.importClips(t, video)
	imgID := f.importClips(t, img)[0]

	tests := []struct {
		name string
		id   string
		kind Kind
	}{
		{"waveform on video clip", ids[0], KindWaveform},
		{"thumbnail on audio clip", ids[1], KindThumbnail},
		{"proxy on audio clip", ids[1], KindProxy},
		{"waveform on image", imgID, KindWaveform},
		{"proxy on image", imgID, KindProxy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.d.Submit(tt.id, tt.kind)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	_, err := f.d.Submit("missing", KindWaveform)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestThumbnailWorker(t *testing.T) {
	landscape := mediatest.Video("/media/wide.mp4", 64, 36, 30, 10)
	portrait := mediatest.Silent("/media/tall.mp4", 36, 64, 30, 10)
	f := newFixture(t, nil, landscape, portrait)
	wide := f.importClips(t, landscape)[0]
	tall := f.importClips(t, portrait)[0]

	for _, id := range []string{wide, tall} {
		ok, err := f.d.Submit(id, KindThumbnail)
		require.NoError(t, err)
		require.True(t, ok)
	}
	f.drain(t)

	clip, _ := f.model.Clip(wide)
	require.Len(t, clip.Thumbnails, 3)
	assert.Equal(t, 160, clip.Thumbnails[0].Rect.Dx())
	assert.Equal(t, 90, clip.Thumbnails[0].Rect.Dy())
	// frames at 0%, 50% and 95% of the source
	assert.Equal(t, mediatest.FrameColor(0, 30).R, clip.Thumbnails[0].Pix[0])
	assert.Equal(t, mediatest.FrameColor(5, 30).R, clip.Thumbnails[1].Pix[0])
	assert.Equal(t, mediatest.FrameColor(9.5, 30).R, clip.Thumbnails[2].Pix[0])

	clip, _ = f.model.Clip(tall)
	require.Len(t, clip.Thumbnails, 3)
	assert.Equal(t, 90, clip.Thumbnails[0].Rect.Dx())
	assert.Equal(t, 160, clip.Thumbnails[0].Rect.Dy())
}

func TestProxyLifecycle(t *testing.T) {
	dec := mediatest.Silent("/media/4k.mp4", 3840, 2160, 30, 10)
	enc := newBlockingEncoder()
	f := newFixture(t, enc, dec)
	id := f.importClips(t, dec)[0]
	assert.Equal(t, IndicatorNone, f.d.Indicator())

	ok, err := f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	require.True(t, ok)
	<-enc.started

	clip, _ := f.model.Clip(id)
	assert.Equal(t, models.ProxyGenerating, clip.ProxyStatus)
	assert.Equal(t, IndicatorGenerating, f.d.Indicator())
	assert.Equal(t, "orange", f.d.Indicator().Color())

	// at most one worker per clip and kind
	ok, err = f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.d.InFlight(id, KindProxy))

	close(enc.release)
	events := f.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, media.ProxyPath(f.d.opts.ProxyDir, "/media/4k.mp4"), events[0].ProxyPath)
	assert.Equal(t, 1, enc.calls())

	clip, _ = f.model.Clip(id)
	assert.Equal(t, models.ProxyReady, clip.ProxyStatus)
	assert.Equal(t, events[0].ProxyPath, clip.ProxyPath)
	assert.True(t, clip.UseProxy)
	assert.Equal(t, IndicatorReady, f.d.Indicator())

	ok, err = f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	assert.False(t, ok, "ready proxies are not regenerated")
}

func TestProxyFailureMarksClip(t *testing.T) {
	dec := mediatest.Silent("/media/a.mp4", 1920, 1080, 30, 10)
	enc := &fakeEncoder{err: apperr.EncoderFailure(errors.New("exit status 1"), "Unknown encoder")}
	f := newFixture(t, enc, dec)
	id := f.importClips(t, dec)[0]

	_, err := f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	events := f.drain(t)

	require.Len(t, events, 1)
	assert.True(t, events[0].Failed())
	assert.True(t, apperr.Is(events[0].Err, apperr.ErrWorkerFailure))

	clip, _ := f.model.Clip(id)
	assert.Equal(t, models.ProxyError, clip.ProxyStatus)
	assert.False(t, clip.UseProxy)
	assert.Equal(t, IndicatorError, f.d.Indicator())
}

func TestCancelStopsWorkerWithoutResult(t *testing.T) {
	dec := mediatest.Silent("/media/a.mp4", 1920, 1080, 30, 10)
	enc := newBlockingEncoder()
	f := newFixture(t, enc, dec)
	id := f.importClips(t, dec)[0]

	_, err := f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	<-enc.started

	f.d.Cancel(id)
	assert.False(t, f.d.InFlight(id, KindProxy))
	assert.Empty(t, f.drain(t))

	clip, _ := f.model.Clip(id)
	assert.Equal(t, models.ProxyNone, clip.ProxyStatus)
	assert.Equal(t, IndicatorNone, f.d.Indicator())
}

func TestMaxConcurrentQueuesWork(t *testing.T) {
	a := mediatest.Silent("/media/a.mp4", 1920, 1080, 30, 10)
	b := mediatest.Silent("/media/b.mp4", 1920, 1080, 30, 10)
	enc := newBlockingEncoder()
	f := newFixture(t, enc, a, b)
	f.d.opts.MaxConcurrent = 1
	idA := f.importClips(t, a)[0]
	idB := f.importClips(t, b)[0]

	for _, id := range []string{idA, idB} {
		_, err := f.d.Submit(id, KindProxy)
		require.NoError(t, err)
	}
	assert.Equal(t, "/media/a.mp4", <-enc.started)
	assert.Equal(t, 1, enc.calls(), "second proxy waits for capacity")

	// cancelling a queued job removes it before it starts
	f.d.Cancel(idB)
	close(enc.release)
	events := f.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, idA, events[0].ClipID)
	assert.Equal(t, 1, enc.calls())
}

func TestFatalSourceCancelsWorker(t *testing.T) {
	dec := mediatest.Audio("/media/broken.wav", 44100, 2)
	dec.Fatal = true
	f := newFixture(t, nil, dec)
	id := f.importClips(t, dec)[0]

	_, err := f.d.Submit(id, KindWaveform)
	require.NoError(t, err)
	assert.Empty(t, f.drain(t))

	clip, _ := f.model.Clip(id)
	assert.Empty(t, clip.Peaks)
}

func TestSubmitImported(t *testing.T) {
	big := mediatest.Video("/media/4k.mp4", 3840, 2160, 30, 4)
	small := mediatest.Video("/media/sd.mp4", 640, 360, 30, 4)
	f := newFixture(t, nil, big, small)
	bigIDs := f.importClips(t, big)
	smallIDs := f.importClips(t, small)

	require.NoError(t, f.d.SubmitImported(append(bigIDs, smallIDs...)))
	f.drain(t)

	video, _ := f.model.Clip(bigIDs[0])
	audio, _ := f.model.Clip(bigIDs[1])
	assert.Len(t, video.Thumbnails, 3)
	assert.Equal(t, models.ProxyReady, video.ProxyStatus)
	assert.Len(t, audio.Peaks, 20)

	sd, _ := f.model.Clip(smallIDs[0])
	assert.Equal(t, models.ProxyNone, sd.ProxyStatus, "small sources are not proxied")
	assert.Equal(t, 1, f.encoder.calls())
}

func TestWaveformSharedThroughStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	store, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	defer store.Close()

	path := filepath.Join(t.TempDir(), "voice.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	dec := mediatest.Audio(path, 44100, 1)

	f := newFixture(t, nil, dec)
	f.d.WithStore(store, time.Hour)
	id := f.importClips(t, dec)[0]

	_, err = f.d.Submit(id, KindWaveform)
	require.NoError(t, err)
	f.drain(t)

	fp, err := cache.Fingerprint(path)
	require.NoError(t, err)
	shared, err := store.GetPeaks(context.Background(), fp, 10)
	require.NoError(t, err)
	clip, _ := f.model.Clip(id)
	assert.Equal(t, clip.Peaks, shared)

	// a second process finds the peaks without decoding
	other := newFixture(t, nil)
	other.d.WithStore(store, time.Hour)
	otherID := other.importClips(t, dec)[0]
	_, err = other.d.Submit(otherID, KindWaveform)
	require.NoError(t, err)
	events := other.drain(t)
	require.Len(t, events, 1)
	assert.NoError(t, events[0].Err)
	assert.Equal(t, shared, events[0].Peaks)
}

func newSharedStore(t *testing.T) (*miniredis.Miniredis, *cache.Cache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestProxyBuildHoldsSharedLock(t *testing.T) {
	mr, store := newSharedStore(t)
	path := filepath.Join(t.TempDir(), "4k.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
	dec := mediatest.Silent(path, 3840, 2160, 30, 10)

	enc := newBlockingEncoder()
	f := newFixture(t, enc, dec)
	f.d.WithStore(store, time.Hour)
	id := f.importClips(t, dec)[0]
	fp, err := cache.Fingerprint(path)
	require.NoError(t, err)

	_, err = f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	<-enc.started
	assert.True(t, mr.Exists(proxyLockKey(fp)), "lock is held while encoding")

	close(enc.release)
	events := f.drain(t)
	require.Len(t, events, 1)
	require.NoError(t, events[0].Err)
	assert.False(t, mr.Exists(proxyLockKey(fp)), "lock is released once the proxy is published")

	shared, err := store.GetProxy(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, events[0].ProxyPath, shared)
}

func TestProxyWaitsForAnotherProcess(t *testing.T) {
	saved := proxyLockPoll
	proxyLockPoll = 5 * time.Millisecond
	t.Cleanup(func() { proxyLockPoll = saved })

	_, store := newSharedStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "4k.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
	dec := mediatest.Silent(path, 3840, 2160, 30, 10)

	f := newFixture(t, nil, dec)
	f.d.WithStore(store, time.Hour)
	id := f.importClips(t, dec)[0]
	fp, err := cache.Fingerprint(path)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := store.AcquireLock(ctx, proxyLockKey(fp), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.d.Pending(), "worker waits while the lock is held")
	assert.Equal(t, 0, f.encoder.calls())

	built := filepath.Join(dir, "built-elsewhere.mp4")
	require.NoError(t, os.WriteFile(built, []byte("proxy"), 0o644))
	require.NoError(t, store.SetProxy(ctx, fp, built, time.Hour))
	require.NoError(t, store.ReleaseLock(ctx, proxyLockKey(fp)))

	events := f.drain(t)
	require.Len(t, events, 1)
	require.NoError(t, events[0].Err)
	assert.Equal(t, built, events[0].ProxyPath)
	assert.Equal(t, 0, f.encoder.calls())

	clip, _ := f.model.Clip(id)
	assert.Equal(t, models.ProxyReady, clip.ProxyStatus)
}

func TestShutdownStopsWorkers(t *testing.T) {
	dec := mediatest.Silent("/media/a.mp4", 1920, 1080, 30, 10)
	enc := newBlockingEncoder()
	f := newFixture(t, enc, dec)
	id := f.importClips(t, dec)[0]

	_, err := f.d.Submit(id, KindProxy)
	require.NoError(t, err)
	<-enc.started

	require.NoError(t, f.d.Shutdown())
	assert.Equal(t, 0, f.d.Pending())

	_, err = f.d.Submit(id, KindThumbnail)
	assert.True(t, apperr.IsCancelled(err))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.AnalysisConfig{
		MaxConcurrent:   4,
		ProxyDir:        "/var/proxies",
		AutoProxy:       false,
		ProxyHeight:     720,
		WaveformBuckets: 600,
	}, config.ShutdownConfig{Worker: time.Second})

	assert.Equal(t, 4, opts.MaxConcurrent)
	assert.Equal(t, "/var/proxies", opts.ProxyDir)
	assert.False(t, opts.AutoProxy)
	assert.Equal(t, 720, opts.ProxyHeight)
	assert.Equal(t, 600, opts.WaveformBuckets)
	assert.Equal(t, time.Second, opts.StopBudget)

	def := OptionsFromConfig(config.AnalysisConfig{}, config.ShutdownConfig{})
	assert.Equal(t, DefaultOptions().MaxConcurrent, def.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, def.StopBudget)
}
