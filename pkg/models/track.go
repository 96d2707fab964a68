package models

// DefaultTrackHeight is the display height given to new tracks
const DefaultTrackHeight = 60

// Track is one lane of the timeline. Height is display-only.
type Track struct {
	Kind   TrackKind `json:"kind"`
	Height int       `json:"height"`
	Index  int       `json:"-"`
}

// Playhead holds the current logical time of the timeline
type Playhead struct {
	Frame   float64 `json:"frame"`
	Playing bool    `json:"-"`
	Rate    float64 `json:"rate"`
}

// Marker is a named point on the ruler
type Marker struct {
	Name  string `json:"name"`
	Frame int    `json:"frame"`
}

// Region is a named range on the ruler. A region flagged Loop bounds looped playback.
type Region struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Loop  bool   `json:"loop,omitempty"`
}

// Contains reports whether frame lies inside the region
func (r Region) Contains(frame float64) bool {
	return frame >= float64(r.Start) && frame < float64(r.End)
}
