package timeline

import (
	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Playhead returns the current playhead
func (m *Model) Playhead() models.Playhead {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playhead
}

// SetPlayhead moves the playhead. Negative frames clamp to 0.
func (m *Model) SetPlayhead(frame float64) {
	if frame < 0 {
		frame = 0
	}
	m.mu.Lock()
	m.playhead.Frame = frame
	m.mu.Unlock()
}

// SetPlaying records whether playback is running
func (m *Model) SetPlaying(playing bool) {
	m.mu.Lock()
	m.playhead.Playing = playing
	m.mu.Unlock()
}

// SetRate records the playback rate. Negative rates play backwards.
func (m *Model) SetRate(rate float64) {
	m.mu.Lock()
	m.playhead.Rate = rate
	m.mu.Unlock()
}

// AddMarker adds a named point on the ruler and returns its index
func (m *Model) AddMarker(name string, frame int) (int, error) {
	if frame < 0 {
		return 0, apperr.Invariant("marker frame %d must not be negative", frame)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers = append(m.markers, models.Marker{Name: name, Frame: frame})
	return len(m.markers) - 1, nil
}

// RemoveMarker deletes the marker at index
func (m *Model) RemoveMarker(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.markers) {
		return apperr.NotFound("marker", itoa(index))
	}
	m.markers = append(m.markers[:index], m.markers[index+1:]...)
	return nil
}

// Markers returns the markers in insertion order
func (m *Model) Markers() []models.Marker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Marker(nil), m.markers...)
}

// AddRegion adds a named range and returns its index. A loop region replaces
// the loop flag of any other region.
func (m *Model) AddRegion(r models.Region) (int, error) {
	if r.Start < 0 || r.End <= r.Start {
		return 0, apperr.Invariant("region %d-%d is empty or negative", r.Start, r.End)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Loop {
		m.clearLoopLocked()
	}
	m.regions = append(m.regions, r)
	return len(m.regions) - 1, nil
}

// RemoveRegion deletes the region at index
func (m *Model) RemoveRegion(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.regions) {
		return apperr.NotFound("region", itoa(index))
	}
	m.regions = append(m.regions[:index], m.regions[index+1:]...)
	return nil
}

// SetLoopRegion makes the region at index the loop range; -1 clears looping
func (m *Model) SetLoopRegion(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= len(m.regions) {
		return apperr.NotFound("region", itoa(index))
	}
	m.clearLoopLocked()
	if index >= 0 {
		m.regions[index].Loop = true
	}
	return nil
}

func (m *Model) clearLoopLocked() {
	for i := range m.regions {
		m.regions[i].Loop = false
	}
}

// LoopRegion returns the region flagged for looping
func (m *Model) LoopRegion() (models.Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if r.Loop {
			return r, true
		}
	}
	return models.Region{}, false
}

// Regions returns the regions in insertion order
func (m *Model) Regions() []models.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Region(nil), m.regions...)
}
