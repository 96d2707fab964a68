package timeline

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// AddClip registers a clip and returns its id. Missing defaults are filled in:
// an id, linear curves, the identity transform and the media kind implied by
// the track.
func (m *Model) AddClip(c models.Clip) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addClipLocked(c)
}

func (m *Model) addClipLocked(c models.Clip) (string, error) {
	if c.Track < 0 || c.Track >= len(m.tracks) {
		return "", apperr.Invariant("track %d does not exist", c.Track)
	}
	track := m.tracks[c.Track]
	if c.Kind == (models.MediaKind{}) {
		if track.Kind == models.TrackAudio {
			c.Kind = models.MediaAudio
		} else {
			c.Kind = models.MediaVideo
		}
	}
	if c.Kind.TrackKind() != track.Kind {
		return "", apperr.Invariant("%s clip cannot be placed on %s track %d", c.Kind, track.Kind, c.Track)
	}

	if c.ID == "" {
		c.ID = newID()
	}
	if _, exists := m.byID[c.ID]; exists {
		return "", apperr.Invariant("clip %s already exists", c.ID)
	}
	applyDefaults(&c)
	c.GroupID = ""
	c.Selected = false

	if err := c.Validate(); err != nil {
		return "", apperr.Invariant("%s", err.Error())
	}

	clip := c.Clone()
	m.clips = append(m.clips, &clip)
	m.byID[clip.ID] = &clip
	m.bump()
	return clip.ID, nil
}

func applyDefaults(c *models.Clip) {
	if c.FadeInCurve == (models.Curve{}) {
		c.FadeInCurve = models.CurveLinear
	}
	if c.FadeOutCurve == (models.Curve{}) {
		c.FadeOutCurve = models.CurveLinear
	}
	if c.Transform == (models.Transform{}) {
		c.Transform = models.IdentityTransform()
	}
	if c.ProxyStatus == (models.ProxyStatus{}) {
		c.ProxyStatus = models.ProxyNone
	}
}

// RemoveClip deletes a clip together with every clip linked to it
func (m *Model) RemoveClip(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("clip", id)
	}
	group := c.GroupID
	for _, member := range m.membersLocked(id) {
		m.removeClipLocked(member)
	}
	delete(m.groups, group)
	m.bump()
	return nil
}

func (m *Model) removeClipLocked(id string) {
	delete(m.byID, id)
	delete(m.splits, id)
	m.selected.Remove(id)
	m.clips = lo.Reject(m.clips, func(c *models.Clip, _ int) bool { return c.ID == id })
}

// membersLocked returns the ids of the clip's link group, or just the clip
func (m *Model) membersLocked(id string) []string {
	c := m.byID[id]
	if c == nil || c.GroupID == "" {
		return []string{id}
	}
	return append([]string(nil), m.groups[c.GroupID]...)
}

// Links

// Link pairs two clips so that they move and trim together. Both must start
// at the same frame, have the same duration, and be time-based media.
func (m *Model) Link(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a == b {
		return apperr.Invariant("a clip cannot be linked to itself")
	}
	ca, ok := m.byID[a]
	if !ok {
		return apperr.NotFound("clip", a)
	}
	cb, ok := m.byID[b]
	if !ok {
		return apperr.NotFound("clip", b)
	}
	if ca.GroupID != "" && ca.GroupID == cb.GroupID {
		return nil
	}
	if ca.Linked() || cb.Linked() {
		return apperr.Invariant("clip is already linked; unlink it first")
	}
	if ca.Kind == models.MediaImage || cb.Kind == models.MediaImage {
		return apperr.Invariant("still images cannot be linked to %s clips", lo.Ternary(ca.Kind == models.MediaImage, cb.Kind, ca.Kind))
	}
	if ca.Start != cb.Start || ca.Duration != cb.Duration {
		return apperr.Invariant("linked clips must share start and duration (%d+%d vs %d+%d)",
			ca.Start, ca.Duration, cb.Start, cb.Duration)
	}

	m.linkLocked(ca, cb)
	m.bump()
	return nil
}

func (m *Model) linkLocked(clips ...*models.Clip) string {
	group := newID()
	for _, c := range clips {
		c.GroupID = group
		m.groups[group] = append(m.groups[group], c.ID)
	}
	return group
}

// Unlink breaks the link group containing id. Both sides are released together.
func (m *Model) Unlink(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperr.NotFound("clip", id)
	}
	if m.unlinkLocked(id) {
		m.bump()
	}
	return nil
}

func (m *Model) unlinkLocked(id string) bool {
	c := m.byID[id]
	if c == nil || c.GroupID == "" {
		return false
	}
	group := c.GroupID
	for _, member := range m.groups[group] {
		if mc, ok := m.byID[member]; ok {
			mc.GroupID = ""
		}
	}
	delete(m.groups, group)
	return true
}

// LinkedTo returns the ids of the clips linked to id
func (m *Model) LinkedTo(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Without(m.membersLocked(id), id)
}

// LinkGroupMutate applies fn to every clip in id's link group and commits the
// result only if every clip stays valid and the group still shares start and
// duration. Changing the track of a clip is a structural change.
func (m *Model) LinkGroupMutate(id string, fn func(c *models.Clip) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperr.NotFound("clip", id)
	}
	return m.mutateLocked(m.membersLocked(id), fn)
}

func (m *Model) mutateLocked(ids []string, fn func(c *models.Clip) error) error {
	originals := make([]*models.Clip, len(ids))
	edited := make([]models.Clip, len(ids))
	for i, id := range ids {
		originals[i] = m.byID[id]
		edited[i] = originals[i].Clone()
		if err := fn(&edited[i]); err != nil {
			return err
		}
	}

	structural := false
	for i := range edited {
		e, o := &edited[i], originals[i]
		if e.ID != o.ID || e.GroupID != o.GroupID || e.Kind != o.Kind || e.SourcePath != o.SourcePath {
			return apperr.Invariant("clip %s: identity fields cannot be edited", o.ID)
		}
		if e.Start != edited[0].Start || e.Duration != edited[0].Duration {
			return apperr.Invariant("linked clips must share start and duration")
		}
		if o.Linked() && len(m.groups[o.GroupID]) > len(ids) && (e.Start != o.Start || e.Duration != o.Duration) {
			return apperr.Invariant("clip %s is linked; edit its position through the link group", o.ID)
		}
		if e.Track != o.Track {
			if e.Track < 0 || e.Track >= len(m.tracks) || m.tracks[e.Track].Kind != e.Kind.TrackKind() {
				return apperr.Invariant("clip %s cannot move to track %d", o.ID, e.Track)
			}
			structural = true
		}
		if e.UseProxy != o.UseProxy || e.ProxyPath != o.ProxyPath ||
			(e.ProxyStatus != o.ProxyStatus && (e.ProxyStatus == models.ProxyReady || o.ProxyStatus == models.ProxyReady)) {
			structural = true
		}
		if err := e.Validate(); err != nil {
			return apperr.Invariant("%s", err.Error())
		}
	}

	for i := range edited {
		*originals[i] = edited[i]
	}
	if structural {
		m.bump()
	} else {
		m.touch(ids...)
	}
	return nil
}

// mutateClip edits a single clip without touching its link partners
func (m *Model) mutateClip(id string, fn func(c *models.Clip) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperr.NotFound("clip", id)
	}
	return m.mutateLocked([]string{id}, fn)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
