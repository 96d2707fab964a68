// Package timeline holds the project structure: tracks, clips, links, the
// playhead and ruler annotations. It is the single source of truth the engine
// reads from.
package timeline

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Settings are the project-wide parameters
type Settings struct {
	Width      int
	Height     int
	FPS        float64
	MasterGain float64
	// TimeFormat is kept verbatim so unknown values survive a save
	TimeFormat string
}

// DefaultSettings returns 1080p30 at unity gain
func DefaultSettings() Settings {
	return Settings{Width: 1920, Height: 1080, FPS: 30, MasterGain: 1, TimeFormat: models.TimeSMPTE.Value}
}

// ChangeKind classifies entries in the change log
type ChangeKind int

const (
	// ChangeClip is an incremental edit of one registered clip
	ChangeClip ChangeKind = iota
	// ChangeMasterGain means the master gain changed
	ChangeMasterGain
	// ChangeZoomToFit asks the view to fit the whole project
	ChangeZoomToFit
)

// Change is a non-structural edit the engine can apply without a rebuild
type Change struct {
	Kind   ChangeKind
	ClipID string
}

// Model is the timeline. All methods are safe for concurrent use and return copies.
type Model struct {
	mu       sync.RWMutex
	settings Settings
	tracks   []models.Track
	clips    []*models.Clip // insertion order
	byID     map[string]*models.Clip
	groups   map[string][]string
	splits   map[string]splitFades // keyed by right piece
	playhead models.Playhead
	markers  []models.Marker
	regions  []models.Region

	selected       mapset.Set[string]
	selectedTracks mapset.Set[int]

	revision uint64
	changes  []Change
	logger   *logging.Logger
}

// New creates an empty timeline
func New(settings Settings, logger *logging.Logger) *Model {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	def := DefaultSettings()
	if settings.Width <= 0 || settings.Height <= 0 {
		settings.Width, settings.Height = def.Width, def.Height
	}
	if settings.FPS <= 0 {
		settings.FPS = def.FPS
	}
	if settings.MasterGain < 0 {
		settings.MasterGain = def.MasterGain
	}
	if settings.TimeFormat == "" {
		settings.TimeFormat = def.TimeFormat
	}
	return &Model{
		settings:       settings,
		byID:           make(map[string]*models.Clip),
		groups:         make(map[string][]string),
		splits:         make(map[string]splitFades),
		playhead:       models.Playhead{Rate: 1},
		selected:       mapset.NewThreadUnsafeSet[string](),
		selectedTracks: mapset.NewThreadUnsafeSet[int](),
		logger:         logger.WithComponent("timeline"),
	}
}

// LayoutRevision is bumped on every structural change
func (m *Model) LayoutRevision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// DrainChanges returns and clears the incremental change log
func (m *Model) DrainChanges() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.Uniq(m.changes)
	m.changes = nil
	return out
}

func (m *Model) bump() {
	m.revision++
}

func (m *Model) touch(ids ...string) {
	for _, id := range ids {
		m.changes = append(m.changes, Change{Kind: ChangeClip, ClipID: id})
	}
}

// Settings

// Settings returns the project settings
func (m *Model) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// FPS returns the project frame rate
func (m *Model) FPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.FPS
}

// SetResolution changes the project resolution
func (m *Model) SetResolution(w, h int) error {
	if w <= 0 || h <= 0 {
		return apperr.Invariant("resolution %dx%d must be positive", w, h)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.Width, m.settings.Height = w, h
	m.bump()
	return nil
}

// SetFPS changes the project frame rate. Clip positions stay in frames.
func (m *Model) SetFPS(fps float64) error {
	if fps <= 0 {
		return apperr.Invariant("frame rate %v must be positive", fps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.FPS = fps
	m.bump()
	return nil
}

// SetMasterGain sets the gain applied after mixing
func (m *Model) SetMasterGain(gain float64) error {
	if gain < 0 {
		return apperr.Invariant("master gain %v must not be negative", gain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.MasterGain = gain
	m.changes = append(m.changes, Change{Kind: ChangeMasterGain})
	return nil
}

// SetTimeFormat stores the ruler preference
func (m *Model) SetTimeFormat(format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.TimeFormat = format
}

// TimeFormat returns the parsed ruler preference
func (m *Model) TimeFormat() models.TimeFormat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, _ := models.ParseTimeFormat(m.settings.TimeFormat)
	return f
}

// Tracks

// AddTrack appends a track and returns its index
func (m *Model) AddTrack(kind models.TrackKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addTrackLocked(kind)
}

func (m *Model) addTrackLocked(kind models.TrackKind) int {
	idx := len(m.tracks)
	m.tracks = append(m.tracks, models.Track{Kind: kind, Height: models.DefaultTrackHeight, Index: idx})
	m.bump()
	return idx
}

// RemoveTrack deletes a track and its clips. Higher tracks shift down by one.
func (m *Model) RemoveTrack(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.tracks) {
		return apperr.NotFound("track", itoa(index))
	}

	doomed := lo.FilterMap(m.clips, func(c *models.Clip, _ int) (string, bool) {
		return c.ID, c.Track == index
	})
	for _, id := range doomed {
		m.unlinkLocked(id)
		m.removeClipLocked(id)
	}

	m.tracks = append(m.tracks[:index], m.tracks[index+1:]...)
	for i := range m.tracks {
		m.tracks[i].Index = i
	}
	for _, c := range m.clips {
		if c.Track > index {
			c.Track--
		}
	}

	shifted := mapset.NewThreadUnsafeSet[int]()
	for _, t := range m.selectedTracks.ToSlice() {
		switch {
		case t < index:
			shifted.Add(t)
		case t > index:
			shifted.Add(t - 1)
		}
	}
	m.selectedTracks = shifted

	m.bump()
	m.logger.Debugf("Removed track %d with %d clips", index, len(doomed))
	return nil
}

// Tracks returns the tracks in order
func (m *Model) Tracks() []models.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Track(nil), m.tracks...)
}

// TrackCount returns the number of tracks
func (m *Model) TrackCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// SetTrackHeight changes the display height of a track
func (m *Model) SetTrackHeight(index, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.tracks) {
		return apperr.NotFound("track", itoa(index))
	}
	if height < 1 {
		return apperr.Invariant("track height %d must be positive", height)
	}
	m.tracks[index].Height = height
	return nil
}

// Queries

// Clips returns every clip in insertion order
func (m *Model) Clips() []models.Clip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.clips, func(c *models.Clip, _ int) models.Clip { return c.Clone() })
}

// Clip returns the clip with the given id
func (m *Model) Clip(id string) (models.Clip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return models.Clip{}, false
	}
	return c.Clone(), true
}

// ClipCount returns the number of clips
func (m *Model) ClipCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clips)
}

// ClipsOnTrack returns the clips of one track in insertion order
func (m *Model) ClipsOnTrack(track int) []models.Clip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.FilterMap(m.clips, func(c *models.Clip, _ int) (models.Clip, bool) {
		if c.Track != track {
			return models.Clip{}, false
		}
		return c.Clone(), true
	})
}

// ClipsAt returns the clips covering frame, in insertion order
func (m *Model) ClipsAt(frame float64) []models.Clip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.FilterMap(m.clips, func(c *models.Clip, _ int) (models.Clip, bool) {
		if !c.ActiveAt(frame) {
			return models.Clip{}, false
		}
		return c.Clone(), true
	})
}

// MaxFrame returns the end of the last clip
func (m *Model) MaxFrame() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxFrameLocked()
}

func (m *Model) maxFrameLocked() int {
	return lo.Max(lo.Map(m.clips, func(c *models.Clip, _ int) int { return c.End() }))
}

// SourcePaths returns the distinct media files referenced by clips
func (m *Model) SourcePaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := lo.Uniq(lo.Map(m.clips, func(c *models.Clip, _ int) string { return c.SourcePath }))
	sort.Strings(paths)
	return paths
}

// Selection

// Select marks a clip selected. Without additive the previous selection is cleared.
func (m *Model) Select(id string, additive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("clip", id)
	}
	if !additive {
		m.clearSelectionLocked()
	}
	c.Selected = true
	m.selected.Add(id)
	return nil
}

// Deselect removes a clip from the selection
func (m *Model) Deselect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		c.Selected = false
	}
	m.selected.Remove(id)
}

// ClearSelection deselects every clip and track
func (m *Model) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearSelectionLocked()
	m.selectedTracks.Clear()
}

func (m *Model) clearSelectionLocked() {
	for _, id := range m.selected.ToSlice() {
		if c, ok := m.byID[id]; ok {
			c.Selected = false
		}
	}
	m.selected.Clear()
}

// Selection returns the selected clip ids in insertion order
func (m *Model) Selection() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.FilterMap(m.clips, func(c *models.Clip, _ int) (string, bool) {
		return c.ID, m.selected.Contains(c.ID)
	})
}

// SelectTrack adds a track to the track selection
func (m *Model) SelectTrack(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.tracks) {
		return apperr.NotFound("track", itoa(index))
	}
	m.selectedTracks.Add(index)
	return nil
}

// SelectedTracks returns the selected track indices, ascending
func (m *Model) SelectedTracks() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.selectedTracks.ToSlice()
	sort.Ints(out)
	return out
}

func newID() string {
	return uuid.NewString()
}
