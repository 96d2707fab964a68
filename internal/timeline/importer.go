package timeline

import (
	"math"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// StillSeconds is the default length given to imported still images
const StillSeconds = 5

// NoTrack asks ImportMedia to choose tracks itself
const NoTrack = -1

// Import describes the clips created by ImportMedia
type Import struct {
	ClipIDs []string
	// ZoomToFit is set when the project was empty before the import
	ZoomToFit bool
}

// ImportMedia places a probed file on the timeline at start. A video with
// sound becomes a linked video/audio pair; an audio file or still image becomes
// a single clip. A compatible preferred track is used as given; otherwise a
// video pair goes onto new tracks and single clips onto the first free
// compatible track.
func (m *Model) ImportMedia(info *models.ProbeInfo, start, preferred int) (Import, error) {
	if info == nil || info.Path == "" {
		return Import{}, apperr.Invariant("import needs a probed media file")
	}
	if start < 0 {
		return Import{}, apperr.Invariant("import position %d must not be negative", start)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fps := m.settings.FPS
	duration, sourceDuration := info.DurationFrames(fps), info.DurationFrames(fps)
	if info.Kind == models.MediaImage {
		duration = int(math.Round(StillSeconds * fps))
		sourceDuration = 0
	}
	if duration < 1 {
		return Import{}, apperr.Invariant("%s has no playable duration", filepath.Base(info.Path))
	}

	wasEmpty := len(m.clips) == 0
	end := start + duration
	base := models.Clip{
		Name:           filepath.Base(info.Path),
		Start:          start,
		Duration:       duration,
		SourcePath:     info.Path,
		SourceDuration: sourceDuration,
		Opacity:        1,
	}

	var ids []string
	add := func(kind models.MediaKind, track int) (*models.Clip, error) {
		c := base
		c.Kind = kind
		c.Track = track
		id, err := m.addClipLocked(c)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		return m.byID[id], nil
	}

	usePreferred := func(kind models.TrackKind) bool {
		return preferred >= 0 && preferred < len(m.tracks) && m.tracks[preferred].Kind == kind
	}

	switch {
	case info.Kind == models.MediaVideo && info.HasAudio():
		vTrack, aTrack := -1, -1
		if usePreferred(models.TrackVideo) {
			vTrack = preferred
			aTrack = m.freeTrackLocked(models.TrackAudio, start, end)
		}
		if vTrack < 0 {
			vTrack = m.addTrackLocked(models.TrackVideo)
		}
		if aTrack < 0 {
			aTrack = m.addTrackLocked(models.TrackAudio)
		}
		video, err := add(models.MediaVideo, vTrack)
		if err != nil {
			return Import{}, err
		}
		audio, err := add(models.MediaAudio, aTrack)
		if err != nil {
			m.removeClipLocked(video.ID)
			return Import{}, err
		}
		m.linkLocked(video, audio)

	case info.Kind == models.MediaAudio:
		track := m.pickTrackLocked(models.TrackAudio, preferred, usePreferred, start, end)
		if _, err := add(models.MediaAudio, track); err != nil {
			return Import{}, err
		}

	default:
		track := m.pickTrackLocked(models.TrackVideo, preferred, usePreferred, start, end)
		if _, err := add(info.Kind, track); err != nil {
			return Import{}, err
		}
	}

	if wasEmpty {
		m.changes = append(m.changes, Change{Kind: ChangeZoomToFit})
	}
	m.bump()
	m.logger.WithFields(map[string]interface{}{
		"path":   info.Path,
		"clips":  len(ids),
		"start":  start,
		"frames": duration,
	}).Info("Imported media")

	return Import{ClipIDs: ids, ZoomToFit: wasEmpty}, nil
}

func (m *Model) pickTrackLocked(kind models.TrackKind, preferred int, usePreferred func(models.TrackKind) bool, start, end int) int {
	if usePreferred(kind) {
		return preferred
	}
	if track := m.freeTrackLocked(kind, start, end); track >= 0 {
		return track
	}
	return m.addTrackLocked(kind)
}

// freeTrackLocked returns the lowest track of kind with nothing in [start, end), or -1
func (m *Model) freeTrackLocked(kind models.TrackKind, start, end int) int {
	for _, t := range m.tracks {
		if t.Kind != kind {
			continue
		}
		busy := lo.ContainsBy(m.clips, func(c *models.Clip) bool {
			return c.Track == t.Index && c.Overlaps(start, end)
		})
		if !busy {
			return t.Index
		}
	}
	return -1
}
