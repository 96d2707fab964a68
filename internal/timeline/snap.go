package timeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// FormatTimecode renders frame as HH:MM:SS;FF at the nominal (rounded) frame rate
func FormatTimecode(frame int, fps float64) string {
	if frame < 0 {
		frame = 0
	}
	nominal := int(math.Round(fps))
	if nominal < 1 {
		nominal = 1
	}
	secs := frame / nominal
	return fmt.Sprintf("%02d:%02d:%02d;%02d", secs/3600, secs/60%60, secs%60, frame%nominal)
}

// FormatTime renders frame for the ruler in the given format
func FormatTime(frame int, fps float64, format models.TimeFormat) string {
	switch format {
	case models.TimeFrames:
		return fmt.Sprintf("%d", frame)
	case models.TimeSeconds:
		if fps <= 0 {
			return "0.00s"
		}
		return fmt.Sprintf("%.2fs", float64(frame)/fps)
	default:
		return FormatTimecode(frame, fps)
	}
}

// SnapPoints returns frame 0, the playhead and every clip edge except those of
// the excluded clips, ascending and without duplicates.
func (m *Model) SnapPoints(exclude ...string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	points := []int{0, int(math.Round(m.playhead.Frame))}
	for _, c := range m.clips {
		if lo.Contains(exclude, c.ID) {
			continue
		}
		points = append(points, c.Start, c.End())
	}
	points = lo.Uniq(points)
	sort.Ints(points)
	return points
}

// Snap returns the snap point closest to target if it lies within threshold
// frames, otherwise target itself.
func (m *Model) Snap(target, threshold int, exclude ...string) int {
	snapped, _ := snapTo(m.SnapPoints(exclude...), target, threshold)
	return snapped
}

// SnapMove returns the start for moving clip id near target so that either of
// its edges lands on a snap point. Edges of the clip's own link group are ignored.
func (m *Model) SnapMove(id string, target, threshold int) int {
	c, ok := m.Clip(id)
	if !ok {
		return target
	}
	points := m.SnapPoints(append(m.LinkedTo(id), id)...)

	start, startDist := snapTo(points, target, threshold)
	end, endDist := snapTo(points, target+c.Duration, threshold)
	if endDist < startDist {
		return end - c.Duration
	}
	return start
}

func snapTo(points []int, target, threshold int) (int, int) {
	best, bestDist := target, threshold+1
	for _, p := range points {
		d := p - target
		if d < 0 {
			d = -d
		}
		if d <= threshold && d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist
}
