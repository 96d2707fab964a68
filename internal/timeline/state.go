package timeline

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// State is a complete copy of the model, used for saving and loading
type State struct {
	Settings Settings
	Tracks   []models.Track
	Clips    []models.Clip // insertion order; GroupID carries links
	Playhead models.Playhead
	Markers  []models.Marker
	Regions  []models.Region
}

// Snapshot copies the whole model
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Settings: m.settings,
		Tracks:   append([]models.Track(nil), m.tracks...),
		Clips:    lo.Map(m.clips, func(c *models.Clip, _ int) models.Clip { return c.Clone() }),
		Playhead: m.playhead,
		Markers:  append([]models.Marker(nil), m.markers...),
		Regions:  append([]models.Region(nil), m.regions...),
	}
}

// Restore replaces the model contents with s after checking every invariant.
// On error the model is unchanged.
func (m *Model) Restore(s State) error {
	if s.Settings.Width <= 0 || s.Settings.Height <= 0 || s.Settings.FPS <= 0 {
		return apperr.Invariant("project settings %dx%d@%v are invalid", s.Settings.Width, s.Settings.Height, s.Settings.FPS)
	}

	tracks := make([]models.Track, len(s.Tracks))
	for i, t := range s.Tracks {
		if models.TrackKinds.Parse(t.Kind.Value) == nil {
			return apperr.Invariant("track %d has unknown kind %q", i, t.Kind.Value)
		}
		t.Index = i
		if t.Height < 1 {
			t.Height = models.DefaultTrackHeight
		}
		tracks[i] = t
	}

	clips := make([]*models.Clip, 0, len(s.Clips))
	byID := make(map[string]*models.Clip, len(s.Clips))
	groups := make(map[string][]string)
	for _, in := range s.Clips {
		c := in.Clone()
		if c.ID == "" {
			c.ID = newID()
		}
		if _, dup := byID[c.ID]; dup {
			return apperr.Invariant("duplicate clip id %s", c.ID)
		}
		if c.Track < 0 || c.Track >= len(tracks) {
			return apperr.Invariant("clip %s references missing track %d", c.ID, c.Track)
		}
		if c.Kind == (models.MediaKind{}) {
			c.Kind = lo.Ternary(tracks[c.Track].Kind == models.TrackAudio, models.MediaAudio, models.MediaVideo)
		}
		if c.Kind.TrackKind() != tracks[c.Track].Kind {
			return apperr.Invariant("clip %s is a %s clip on %s track %d", c.ID, c.Kind, tracks[c.Track].Kind, c.Track)
		}
		applyDefaults(&c)
		c.Selected = false
		if err := c.Validate(); err != nil {
			return apperr.Invariant("%s", err.Error())
		}
		clips = append(clips, &c)
		byID[c.ID] = &c
		if c.GroupID != "" {
			groups[c.GroupID] = append(groups[c.GroupID], c.ID)
		}
	}

	for g, ids := range groups {
		if len(ids) < 2 {
			byID[ids[0]].GroupID = ""
			delete(groups, g)
			continue
		}
		first := byID[ids[0]]
		for _, id := range ids[1:] {
			c := byID[id]
			if c.Start != first.Start || c.Duration != first.Duration {
				return apperr.Invariant("linked clips %s and %s differ in start or duration", first.ID, c.ID)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s.Settings
	m.tracks = tracks
	m.clips = clips
	m.byID = byID
	m.groups = groups
	m.splits = make(map[string]splitFades)
	m.playhead = s.Playhead
	m.playhead.Playing = false
	m.markers = append([]models.Marker(nil), s.Markers...)
	m.regions = append([]models.Region(nil), s.Regions...)
	m.selected = mapset.NewThreadUnsafeSet[string]()
	m.selectedTracks = mapset.NewThreadUnsafeSet[int]()
	m.changes = nil
	m.bump()
	return nil
}
