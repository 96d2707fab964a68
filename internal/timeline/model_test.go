package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

func newModel() *Model {
	return New(DefaultSettings(), nil)
}

func videoProbe(path string, seconds float64) *models.ProbeInfo {
	return &models.ProbeInfo{
		Path: path, Kind: models.MediaVideo, KindName: "video",
		Width: 1920, Height: 1080, FPS: 30, Duration: seconds,
		SampleRate: 48000, Channels: 2,
	}
}

func addVideoClip(t *testing.T, m *Model, track, start, duration int) string {
	t.Helper()
	id, err := m.AddClip(models.Clip{Track: track, Start: start, Duration: duration, SourcePath: "/m/a.mp4", SourceDuration: 900, Opacity: 1})
	require.NoError(t, err)
	return id
}

func TestAddClipDefaults(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	rev := m.LayoutRevision()

	id := addVideoClip(t, m, v, 0, 30)
	c, ok := m.Clip(id)
	require.True(t, ok)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.MediaVideo, c.Kind)
	assert.Equal(t, models.CurveLinear, c.FadeInCurve)
	assert.Equal(t, models.IdentityTransform(), c.Transform)
	assert.Equal(t, models.ProxyNone, c.ProxyStatus)
	assert.Greater(t, m.LayoutRevision(), rev)
}

func TestAddClipRejectsInvalid(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	a := m.AddTrack(models.TrackAudio)

	tests := []struct {
		name string
		clip models.Clip
	}{
		{"missing track", models.Clip{Track: 5, Duration: 10, Opacity: 1}},
		{"zero duration", models.Clip{Track: v, Duration: 0, Opacity: 1}},
		{"negative start", models.Clip{Track: v, Start: -1, Duration: 10, Opacity: 1}},
		{"past source end", models.Clip{Track: v, Duration: 10, SourceOffset: 95, SourceDuration: 100, Opacity: 1}},
		{"fades too long", models.Clip{Track: v, Duration: 10, FadeIn: 6, FadeOut: 6, Opacity: 1}},
		{"video on audio track", models.Clip{Track: a, Kind: models.MediaVideo, Duration: 10, Opacity: 1}},
		{"audio on video track", models.Clip{Track: v, Kind: models.MediaAudio, Duration: 10, Opacity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AddClip(tt.clip)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.ErrInvariantViolation))
		})
	}
	assert.Equal(t, 0, m.ClipCount())
}

func TestRemoveTrackShiftsClipsAndSelection(t *testing.T) {
	m := newModel()
	v0 := m.AddTrack(models.TrackVideo)
	v1 := m.AddTrack(models.TrackVideo)
	v2 := m.AddTrack(models.TrackVideo)
	doomed := addVideoClip(t, m, v1, 0, 30)
	kept := addVideoClip(t, m, v2, 0, 30)
	require.NoError(t, m.SelectTrack(v0))
	require.NoError(t, m.SelectTrack(v2))
	require.NoError(t, m.Select(doomed, false))

	require.NoError(t, m.RemoveTrack(v1))

	assert.Equal(t, 2, m.TrackCount())
	_, ok := m.Clip(doomed)
	assert.False(t, ok)
	c, _ := m.Clip(kept)
	assert.Equal(t, 1, c.Track)
	assert.Equal(t, []int{0, 1}, m.SelectedTracks())
	assert.Empty(t, m.Selection())
	for i, tr := range m.Tracks() {
		assert.Equal(t, i, tr.Index)
	}
}

func TestRemoveTrackBreaksLinks(t *testing.T) {
	m := newModel()
	imp, err := m.ImportMedia(videoProbe("/m/a.mp4", 10), 0, NoTrack)
	require.NoError(t, err)
	video, audio := imp.ClipIDs[0], imp.ClipIDs[1]

	require.NoError(t, m.RemoveTrack(0))

	_, ok := m.Clip(video)
	assert.False(t, ok)
	c, ok := m.Clip(audio)
	require.True(t, ok)
	assert.False(t, c.Linked())
	assert.Equal(t, 0, c.Track)
}

func TestLinkAndUnlink(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	a := m.AddTrack(models.TrackAudio)
	vid := addVideoClip(t, m, v, 10, 30)
	aud, err := m.AddClip(models.Clip{Track: a, Start: 10, Duration: 30, SourcePath: "/m/a.mp4", Opacity: 1})
	require.NoError(t, err)

	require.NoError(t, m.Link(vid, aud))
	assert.Equal(t, []string{aud}, m.LinkedTo(vid))
	assert.Equal(t, []string{vid}, m.LinkedTo(aud))

	cv, _ := m.Clip(vid)
	ca, _ := m.Clip(aud)
	assert.Equal(t, cv.GroupID, ca.GroupID)

	require.NoError(t, m.Unlink(aud))
	assert.Empty(t, m.LinkedTo(vid))
	assert.Empty(t, m.LinkedTo(aud))
}

func TestLinkRejections(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	a := m.AddTrack(models.TrackAudio)
	vid := addVideoClip(t, m, v, 0, 30)
	shifted, err := m.AddClip(models.Clip{Track: a, Start: 5, Duration: 30, Opacity: 1})
	require.NoError(t, err)
	still, err := m.AddClip(models.Clip{Track: v, Kind: models.MediaImage, Start: 100, Duration: 30, Opacity: 1})
	require.NoError(t, err)
	aligned, err := m.AddClip(models.Clip{Track: a, Start: 100, Duration: 30, Opacity: 1})
	require.NoError(t, err)

	assert.Error(t, m.Link(vid, vid))
	assert.True(t, apperr.Is(m.Link(vid, shifted), apperr.ErrInvariantViolation))
	assert.True(t, apperr.Is(m.Link(still, aligned), apperr.ErrInvariantViolation))
	assert.True(t, apperr.Is(m.Link(vid, "missing"), apperr.ErrNotFound))
}

func TestLinkedMutationsPropagate(t *testing.T) {
	m := newModel()
	imp, err := m.ImportMedia(videoProbe("/m/a.mp4", 10), 0, NoTrack)
	require.NoError(t, err)
	video, audio := imp.ClipIDs[0], imp.ClipIDs[1]
	rev := m.LayoutRevision()

	require.NoError(t, m.Move(audio, 45))
	require.NoError(t, m.TrimEnd(video, 200))
	require.NoError(t, m.TrimStart(audio, 60))

	cv, _ := m.Clip(video)
	ca, _ := m.Clip(audio)
	assert.Equal(t, 60, cv.Start)
	assert.Equal(t, cv.Start, ca.Start)
	assert.Equal(t, cv.Duration, ca.Duration)
	assert.Equal(t, 140, cv.Duration)
	assert.Equal(t, 15, cv.SourceOffset)
	assert.Equal(t, rev, m.LayoutRevision(), "position edits are incremental")

	changes := m.DrainChanges()
	assert.Contains(t, changes, Change{Kind: ChangeClip, ClipID: video})
	assert.Contains(t, changes, Change{Kind: ChangeClip, ClipID: audio})
	assert.Empty(t, m.DrainChanges())
}

func TestLinkGroupMutateIsAtomic(t *testing.T) {
	m := newModel()
	imp, err := m.ImportMedia(videoProbe("/m/a.mp4", 10), 0, NoTrack)
	require.NoError(t, err)
	video, audio := imp.ClipIDs[0], imp.ClipIDs[1]

	// Trimming past the source end must fail for both clips.
	err = m.TrimEnd(video, 301)
	require.Error(t, err)

	cv, _ := m.Clip(video)
	ca, _ := m.Clip(audio)
	assert.Equal(t, 300, cv.Duration)
	assert.Equal(t, 300, ca.Duration)

	// A single linked clip cannot be moved on its own.
	err = m.mutateClip(audio, func(c *models.Clip) error {
		c.Start = 7
		return nil
	})
	assert.True(t, apperr.Is(err, apperr.ErrInvariantViolation))
}

func TestRemoveClipRemovesLinkGroup(t *testing.T) {
	m := newModel()
	imp, err := m.ImportMedia(videoProbe("/m/a.mp4", 10), 0, NoTrack)
	require.NoError(t, err)

	require.NoError(t, m.RemoveClip(imp.ClipIDs[1]))
	assert.Equal(t, 0, m.ClipCount())
	assert.True(t, apperr.Is(m.RemoveClip("nope"), apperr.ErrNotFound))
}

func TestIncrementalSetters(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	id := addVideoClip(t, m, v, 0, 90)
	rev := m.LayoutRevision()

	require.NoError(t, m.SetOpacity(id, 0.25))
	require.NoError(t, m.SetFades(id, 30, 15, models.CurveSmooth, models.CurveFast))
	require.NoError(t, m.SetTransform(id, models.Transform{X: 10, ScaleX: 2, ScaleY: 2, AnchorX: 0.5, AnchorY: 0.5}))
	require.NoError(t, m.SetEffects(id, []models.Effect{{Name: "invert", Path: "builtin:invert", Enabled: true}}))

	c, _ := m.Clip(id)
	assert.Equal(t, 0.25, c.Opacity)
	assert.Equal(t, 30, c.FadeIn)
	assert.Equal(t, models.CurveFast, c.FadeOutCurve)
	assert.Equal(t, 2.0, c.Transform.ScaleX)
	assert.Len(t, c.Effects, 1)
	assert.Equal(t, rev, m.LayoutRevision())

	assert.Error(t, m.SetOpacity(id, 1.5))
	assert.Error(t, m.SetFades(id, 60, 60, models.CurveLinear, models.CurveLinear))
}

func TestProxyStateTransitions(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	id := addVideoClip(t, m, v, 0, 90)

	rev := m.LayoutRevision()
	require.NoError(t, m.SetProxyState(id, models.ProxyGenerating, ""))
	assert.Equal(t, rev, m.LayoutRevision())

	require.NoError(t, m.SetProxyState(id, models.ProxyReady, "/proxies/a.mp4"))
	assert.Greater(t, m.LayoutRevision(), rev)

	c, _ := m.Clip(id)
	assert.Equal(t, models.ProxyReady, c.ProxyStatus)
	assert.Equal(t, "/proxies/a.mp4", c.ProxyPath)
}

func TestMoveToTrack(t *testing.T) {
	m := newModel()
	v0 := m.AddTrack(models.TrackVideo)
	v1 := m.AddTrack(models.TrackVideo)
	a := m.AddTrack(models.TrackAudio)
	id := addVideoClip(t, m, v0, 0, 30)

	require.NoError(t, m.MoveToTrack(id, v1))
	c, _ := m.Clip(id)
	assert.Equal(t, v1, c.Track)

	assert.Error(t, m.MoveToTrack(id, a))
}

func TestMaxFrameAndSourcePaths(t *testing.T) {
	m := newModel()
	assert.Equal(t, 0, m.MaxFrame())

	v := m.AddTrack(models.TrackVideo)
	addVideoClip(t, m, v, 0, 30)
	addVideoClip(t, m, v, 100, 50)

	assert.Equal(t, 150, m.MaxFrame())
	assert.Equal(t, []string{"/m/a.mp4"}, m.SourcePaths())
	assert.Len(t, m.ClipsAt(110), 1)
	assert.Empty(t, m.ClipsAt(60))
}

func TestSelection(t *testing.T) {
	m := newModel()
	v := m.AddTrack(models.TrackVideo)
	a := addVideoClip(t, m, v, 0, 30)
	b := addVideoClip(t, m, v, 30, 30)

	require.NoError(t, m.Select(a, false))
	require.NoError(t, m.Select(b, true))
	assert.Equal(t, []string{a, b}, m.Selection())

	require.NoError(t, m.Select(b, false))
	assert.Equal(t, []string{b}, m.Selection())
	ca, _ := m.Clip(a)
	assert.False(t, ca.Selected)

	m.ClearSelection()
	assert.Empty(t, m.Selection())
}

func TestSettings(t *testing.T) {
	m := New(Settings{MasterGain: 1}, nil)
	assert.Equal(t, DefaultSettings(), m.Settings())

	rev := m.LayoutRevision()
	require.NoError(t, m.SetResolution(1280, 720))
	require.NoError(t, m.SetFPS(25))
	assert.Equal(t, rev+2, m.LayoutRevision())

	require.NoError(t, m.SetMasterGain(0.5))
	assert.Equal(t, []Change{{Kind: ChangeMasterGain}}, m.DrainChanges())

	assert.Error(t, m.SetResolution(0, 720))
	assert.Error(t, m.SetFPS(0))
	assert.Error(t, m.SetMasterGain(-1))

	m.SetTimeFormat("beats")
	assert.Equal(t, models.TimeSMPTE, m.TimeFormat())
	assert.Equal(t, "beats", m.Settings().TimeFormat)
}
