package timeline

import (
	"image"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Move places the clip and its link partners at start
func (m *Model) Move(id string, start int) error {
	return m.LinkGroupMutate(id, func(c *models.Clip) error {
		c.Start = start
		return nil
	})
}

// MoveToTrack moves one clip to another track of the same kind
func (m *Model) MoveToTrack(id string, track int) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.Track = track
		return nil
	})
}

// TrimStart moves the in-point of the clip group to start, keeping the out-point
func (m *Model) TrimStart(id string, start int) error {
	return m.LinkGroupMutate(id, func(c *models.Clip) error {
		delta := start - c.Start
		c.Start += delta
		c.Duration -= delta
		c.SourceOffset += delta
		if c.Duration < 1 {
			return apperr.Invariant("trim would leave clip %s with %d frames", c.ID, c.Duration)
		}
		c.ClampFades()
		return nil
	})
}

// TrimEnd moves the out-point of the clip group to end
func (m *Model) TrimEnd(id string, end int) error {
	return m.LinkGroupMutate(id, func(c *models.Clip) error {
		c.Duration = end - c.Start
		if c.Duration < 1 {
			return apperr.Invariant("trim would leave clip %s with %d frames", c.ID, c.Duration)
		}
		c.ClampFades()
		return nil
	})
}

// SetOpacity sets the opacity level. On audio clips it is the volume.
func (m *Model) SetOpacity(id string, level float64) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.Opacity = level
		return nil
	})
}

// SetFades sets both fades and their curves
func (m *Model) SetFades(id string, fadeIn, fadeOut int, inCurve, outCurve models.Curve) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.FadeIn, c.FadeOut = fadeIn, fadeOut
		c.FadeInCurve, c.FadeOutCurve = inCurve, outCurve
		return nil
	})
}

// SetTransform replaces the clip transform
func (m *Model) SetTransform(id string, t models.Transform) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.Transform = t
		return nil
	})
}

// SetEffects replaces the effect list
func (m *Model) SetEffects(id string, effects []models.Effect) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.Effects = lo.Map(effects, func(e models.Effect, _ int) models.Effect { return e.Clone() })
		return nil
	})
}

// Rename changes the display name of a clip
func (m *Model) Rename(id, name string) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.Name = name
		return nil
	})
}

// SetUseProxy toggles whether the clip may be played from its proxy
func (m *Model) SetUseProxy(id string, use bool) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.UseProxy = use
		return nil
	})
}

// SetProxyState records a proxy lifecycle transition. Becoming or leaving
// Ready changes which source the engine decodes and is structural.
func (m *Model) SetProxyState(id string, status models.ProxyStatus, path string) error {
	return m.mutateClip(id, func(c *models.Clip) error {
		c.ProxyStatus = status
		if path != "" || status == models.ProxyNone {
			c.ProxyPath = path
		}
		return nil
	})
}

// SetPeaks stores waveform peaks on the clip
func (m *Model) SetPeaks(id string, peaks []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("clip", id)
	}
	c.Peaks = append([]float32(nil), peaks...)
	return nil
}

// SetThumbnails stores thumbnail frames on the clip
func (m *Model) SetThumbnails(id string, thumbs []*image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("clip", id)
	}
	c.Thumbnails = append([]*image.RGBA(nil), thumbs...)
	return nil
}

// SplitClip cuts the clip group at frame. The left pieces keep their ids and
// link group; the right pieces get new ids and a link group of their own.
// It returns the id of the right piece of the given clip.
func (m *Model) SplitClip(id string, frame int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return "", apperr.NotFound("clip", id)
	}
	if frame <= c.Start || frame >= c.End() {
		return "", apperr.Invariant("split frame %d is outside clip %s (%d-%d)", frame, id, c.Start, c.End())
	}

	members := m.membersLocked(id)
	rightGroup := ""
	if c.Linked() {
		rightGroup = newID()
	}

	var result string
	for _, memberID := range members {
		left := m.byID[memberID]
		origIn, origOut := left.FadeIn, left.FadeOut
		right := left.Clone()
		right.ID = newID()
		right.Start = frame
		right.Duration = left.End() - frame
		right.SourceOffset = left.SourceOffset + (frame - left.Start)
		right.FadeIn = 0
		right.GroupID = rightGroup
		right.ClampFades()

		left.Duration = frame - left.Start
		left.FadeOut = 0
		left.ClampFades()
		m.splits[right.ID] = splitFades{
			left:     left.ID,
			fadeIn:   origIn,
			fadeOut:  origOut,
			leftIn:   left.FadeIn,
			rightOut: right.FadeOut,
		}

		if right.Selected {
			m.selected.Add(right.ID)
		}
		pos := lo.IndexOf(m.clips, left)
		m.clips = append(m.clips[:pos+1], append([]*models.Clip{&right}, m.clips[pos+1:]...)...)
		m.byID[right.ID] = &right
		if rightGroup != "" {
			m.groups[rightGroup] = append(m.groups[rightGroup], right.ID)
		}
		if memberID == id {
			result = right.ID
		}
	}

	m.bump()
	return result, nil
}

// splitFades remembers the fades a clip had before SplitClip clamped them
// onto its pieces. JoinClips restores them while the pieces still carry the
// clamped values.
type splitFades struct {
	left             string
	fadeIn, fadeOut  int
	leftIn, rightOut int
}

// JoinClips merges right into left. They must be adjacent pieces of the same
// source on the same track; linked pieces are joined with their partners.
func (m *Model) JoinClips(leftID, rightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	left, ok := m.byID[leftID]
	if !ok {
		return apperr.NotFound("clip", leftID)
	}
	right, ok := m.byID[rightID]
	if !ok {
		return apperr.NotFound("clip", rightID)
	}
	if err := joinable(left, right); err != nil {
		return err
	}

	pairs := [][2]*models.Clip{{left, right}}
	if left.Linked() != right.Linked() {
		return apperr.Invariant("cannot join a linked clip with an unlinked one")
	}
	if left.Linked() {
		lefts := lo.Without(m.groups[left.GroupID], leftID)
		rights := lo.Without(m.groups[right.GroupID], rightID)
		if len(lefts) != len(rights) {
			return apperr.Invariant("link groups of %s and %s do not match", leftID, rightID)
		}
		for _, lid := range lefts {
			l := m.byID[lid]
			r, found := lo.Find(rights, func(rid string) bool { return joinable(l, m.byID[rid]) == nil })
			if !found {
				return apperr.Invariant("linked clip %s has no joinable partner", lid)
			}
			rights = lo.Without(rights, r)
			pairs = append(pairs, [2]*models.Clip{l, m.byID[r]})
		}
		delete(m.groups, right.GroupID)
	}

	for _, p := range pairs {
		l, r := p[0], p[1]
		fadeIn, fadeOut := l.FadeIn, r.FadeOut
		if s, ok := m.splits[r.ID]; ok && s.left == l.ID && s.leftIn == l.FadeIn && s.rightOut == r.FadeOut {
			fadeIn, fadeOut = s.fadeIn, s.fadeOut
		}
		l.Duration += r.Duration
		l.FadeIn, l.FadeOut = fadeIn, fadeOut
		l.FadeOutCurve = r.FadeOutCurve
		l.ClampFades()
		m.removeClipLocked(r.ID)
	}

	m.bump()
	return nil
}

func joinable(l, r *models.Clip) error {
	switch {
	case l.ID == r.ID:
		return apperr.Invariant("a clip cannot be joined with itself")
	case l.Track != r.Track:
		return apperr.Invariant("clips %s and %s are on different tracks", l.ID, r.ID)
	case l.SourcePath != r.SourcePath || l.Kind != r.Kind:
		return apperr.Invariant("clips %s and %s reference different media", l.ID, r.ID)
	case r.Start != l.End():
		return apperr.Invariant("clips %s and %s are not adjacent", l.ID, r.ID)
	case r.SourceOffset != l.SourceOffset+l.Duration:
		return apperr.Invariant("clips %s and %s are not contiguous in their source", l.ID, r.ID)
	}
	return nil
}
