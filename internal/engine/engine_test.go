package engine

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/media/mediatest"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

const (
	testW = 64
	testH = 36
)

func newTestEngine(t *testing.T, decoders ...*mediatest.Decoder) (*Engine, *timeline.Model, *media.Pool) {
	t.Helper()
	model := timeline.New(timeline.Settings{Width: testW, Height: testH, FPS: 30, MasterGain: 1}, nil)
	open := mediatest.Opener(decoders...)
	pool := media.NewPoolWithOpenFunc(func(_ context.Context, path string) (*media.Source, error) {
		return open(path)
	})
	e := New(model, pool, nil, nil)
	t.Cleanup(e.Close)
	return e, model, pool
}

func solid(c color.RGBA) func(float64) color.RGBA {
	return func(float64) color.RGBA { return c }
}

func importClip(t *testing.T, m *timeline.Model, d *mediatest.Decoder, start int) []string {
	t.Helper()
	imp, err := m.ImportMedia(&d.Meta, start, timeline.NoTrack)
	require.NoError(t, err)
	return imp.ClipIDs
}

func syncEngine(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.Sync(context.Background())
	require.NoError(t, err)
}

func TestSyncRebuildsOnStructuralChange(t *testing.T) {
	d := mediatest.Video("/media/a.mp4", testW, testH, 30, 10)
	e, m, pool := newTestEngine(t, d)

	importClip(t, m, d, 0)
	hints, err := e.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, m.LayoutRevision(), e.Revision())
	assert.Equal(t, 2, e.ClipCount())
	assert.Equal(t, 2, pool.Refs("/media/a.mp4"), "linked pair shares one source")
	require.Len(t, hints, 1)
	assert.Equal(t, timeline.ChangeZoomToFit, hints[0].Kind)
}

func TestSyncAppliesIncrementalEditsWithoutRebuild(t *testing.T) {
	d := mediatest.Silent("/media/a.mp4", testW, testH, 30, 10)
	e, m, _ := newTestEngine(t, d)
	id := importClip(t, m, d, 0)[0]
	syncEngine(t, e)
	rev := e.Revision()

	require.NoError(t, m.SetOpacity(id, 0))
	syncEngine(t, e)

	assert.Equal(t, rev, e.Revision())
	frame := e.Evaluate(1)
	assert.Equal(t, uint8(0), frame.RGBAAt(10, 10).A, "opacity edit reached the registered clip")
}

func TestSyncAppliesMasterGain(t *testing.T) {
	d := mediatest.Audio("/media/a.wav", 44100, 2)
	e, m, _ := newTestEngine(t, d)
	importClip(t, m, d, 0)
	syncEngine(t, e)

	require.NoError(t, m.SetMasterGain(2))
	syncEngine(t, e)

	assert.Equal(t, 2.0, e.MasterGain())
	out := e.RenderAudio(0, 0.1)
	assert.InDelta(t, 1.0, out[0], 1e-6)
	assert.InDelta(t, -0.5, out[1], 1e-6)
}

func TestRebuildIsIdempotent(t *testing.T) {
	d := mediatest.Video("/media/a.mp4", testW, testH, 30, 10)
	e, m, pool := newTestEngine(t, d)
	importClip(t, m, d, 0)

	require.NoError(t, e.Rebuild(context.Background()))
	frame := e.Evaluate(2.5)
	audio := e.RenderAudio(2.5, 0.25)

	require.NoError(t, e.Rebuild(context.Background()))
	assert.Equal(t, frame.Pix, e.Evaluate(2.5).Pix)
	assert.Equal(t, audio, e.RenderAudio(2.5, 0.25))
	assert.Equal(t, 2, pool.Refs("/media/a.mp4"), "old references released")
}

func TestRebuildKeepsUnopenableClipsWithPlaceholder(t *testing.T) {
	e, m, _ := newTestEngine(t)
	info := &models.ProbeInfo{Path: "/media/gone.mp4", Kind: models.MediaVideo, Width: testW, Height: testH, FPS: 30, Duration: 4}
	_, err := m.ImportMedia(info, 0, timeline.NoTrack)
	require.NoError(t, err)

	err = e.Rebuild(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrOpenFailure))
	assert.Equal(t, 1, e.ClipCount(), "clip stays registered")

	px := e.Evaluate(1).RGBAAt(testW/2, testH/2)
	assert.Equal(t, media.PlaceholderColor, px)
}

func TestProxySwap(t *testing.T) {
	orig := mediatest.Silent("/media/4k.mp4", testW, testH, 30, 10)
	proxy := mediatest.Silent("/proxies/4k.mp4", testW/2, testH/2, 30, 10)
	proxy.Color = solid(color.RGBA{R: 200, A: 255})
	e, m, _ := newTestEngine(t, orig, proxy)

	id := importClip(t, m, orig, 0)[0]
	require.NoError(t, e.SetProxyMode(context.Background(), true))
	syncEngine(t, e)

	// still generating: the original is used
	require.NoError(t, m.SetProxyState(id, models.ProxyGenerating, ""))
	syncEngine(t, e)
	assert.False(t, e.Proxied(id))
	before := e.Evaluate(1)

	require.NoError(t, m.SetProxyState(id, models.ProxyReady, "/proxies/4k.mp4"))
	require.NoError(t, m.SetUseProxy(id, true))
	syncEngine(t, e)
	require.True(t, e.Proxied(id))

	after := e.Evaluate(1)
	assert.Equal(t, before.Rect, after.Rect)
	assert.Equal(t, uint8(200), after.RGBAAt(0, 0).R, "proxy frames are scaled to the same geometry")
	assert.Equal(t, before.RGBAAt(testW-1, testH-1).A, after.RGBAAt(testW-1, testH-1).A)
}

func TestProxyToggleIsIdentity(t *testing.T) {
	orig := mediatest.Video("/media/a.mp4", testW, testH, 30, 10)
	proxy := mediatest.Video("/proxies/a.mp4", testW/2, testH/2, 30, 10)
	proxy.Color = solid(color.RGBA{B: 255, A: 255})
	e, m, _ := newTestEngine(t, orig, proxy)

	id := importClip(t, m, orig, 0)[0]
	require.NoError(t, m.SetProxyState(id, models.ProxyReady, "/proxies/a.mp4"))
	require.NoError(t, m.SetUseProxy(id, true))
	syncEngine(t, e)

	times := []float64{0, 1.5, 4, 9.9}
	var frames [][]uint8
	var audio [][]float32
	for _, ts := range times {
		frames = append(frames, e.Evaluate(ts).Pix)
		audio = append(audio, e.RenderAudio(ts, 0.1))
	}

	require.NoError(t, e.SetProxyMode(context.Background(), true))
	assert.True(t, e.Proxied(id))
	require.NoError(t, e.SetProxyMode(context.Background(), false))
	assert.False(t, e.Proxied(id))

	for i, ts := range times {
		assert.Equal(t, frames[i], e.Evaluate(ts).Pix, "frame at %v", ts)
		assert.Equal(t, audio[i], e.RenderAudio(ts, 0.1), "audio at %v", ts)
	}
}

func TestProxyFallsBackWhenUnopenable(t *testing.T) {
	orig := mediatest.Silent("/media/a.mp4", testW, testH, 30, 10)
	e, m, _ := newTestEngine(t, orig)
	id := importClip(t, m, orig, 0)[0]
	require.NoError(t, m.SetProxyState(id, models.ProxyReady, "/proxies/missing.mp4"))
	require.NoError(t, m.SetUseProxy(id, true))

	require.NoError(t, e.SetProxyMode(context.Background(), true))
	assert.False(t, e.Proxied(id))
	assert.Equal(t, uint8(255), e.Evaluate(1).RGBAAt(1, 1).A)
}

func TestResizeOverridesOutputSize(t *testing.T) {
	d := mediatest.Silent("/media/a.mp4", testW, testH, 30, 10)
	e, m, _ := newTestEngine(t, d)
	importClip(t, m, d, 0)
	syncEngine(t, e)

	restore := e.Resize(32, 18)
	assert.Equal(t, image.Rect(0, 0, 32, 18), e.Evaluate(1).Rect)

	// a rebuild during export keeps the override
	require.NoError(t, e.Rebuild(context.Background()))
	w, h := e.Size()
	assert.Equal(t, []int{32, 18}, []int{w, h})

	restore()
	assert.Equal(t, image.Rect(0, 0, testW, testH), e.Evaluate(1).Rect)
}

func TestUpdateClipRejectsUnknownClip(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.UpdateClip(models.Clip{ID: "nope"})
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}
