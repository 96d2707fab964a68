// Package project reads and writes the versioned project document.
package project

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Version is the schema version written by this package
const Version = 1

// Document is the persistent form of a project
type Document struct {
	Version int             `json:"version"`
	Project Settings        `json:"project"`
	Tracks  []Track         `json:"tracks"`
	Clips   []Clip          `json:"clips"`
	Markers []models.Marker `json:"markers"`
	Regions []models.Region `json:"regions"`
}

// Settings are the project-wide values
type Settings struct {
	Resolution [2]int  `json:"resolution"`
	FPS        float64 `json:"fps"`
	MasterGain float64 `json:"master_gain"`
	TimeFormat string  `json:"time_format"`
	Playhead   float64 `json:"playhead"`
}

// Track is one lane in display order
type Track struct {
	Kind   models.TrackKind `json:"kind"`
	Height int              `json:"height"`
}

// Clip is one clip in insertion order. Links are written on both sides.
type Clip struct {
	ID           string           `json:"id"`
	Track        int              `json:"track"`
	Name         string           `json:"name"`
	Start        int              `json:"start"`
	Duration     int              `json:"duration"`
	SourceOffset int              `json:"source_offset"`
	SourceRef    string           `json:"source_ref"`
	MediaKind    string           `json:"media_kind,omitempty"`
	LinkedToID   string           `json:"linked_to_id,omitempty"`
	Opacity      float64          `json:"opacity_level"`
	FadeIn       int              `json:"fade_in"`
	FadeOut      int              `json:"fade_out"`
	FadeInCurve  models.Curve     `json:"fade_in_curve"`
	FadeOutCurve models.Curve     `json:"fade_out_curve"`
	Transform    models.Transform `json:"transform"`
	Effects      []models.Effect  `json:"effects"`
	UseProxy     bool             `json:"use_proxy"`
	ProxyPath    string           `json:"proxy_path,omitempty"`
}

// FromState builds the document for a model snapshot. Source references are
// made canonical.
func FromState(s timeline.State) Document {
	doc := Document{
		Version: Version,
		Project: Settings{
			Resolution: [2]int{s.Settings.Width, s.Settings.Height},
			FPS:        s.Settings.FPS,
			MasterGain: s.Settings.MasterGain,
			TimeFormat: s.Settings.TimeFormat,
			Playhead:   s.Playhead.Frame,
		},
		Tracks:  make([]Track, 0, len(s.Tracks)),
		Clips:   make([]Clip, 0, len(s.Clips)),
		Markers: append([]models.Marker{}, s.Markers...),
		Regions: append([]models.Region{}, s.Regions...),
	}

	for _, t := range s.Tracks {
		doc.Tracks = append(doc.Tracks, Track{Kind: t.Kind, Height: t.Height})
	}

	// each member links to the next one in its group, wrapping around
	groups := lo.GroupBy(lo.Filter(s.Clips, func(c models.Clip, _ int) bool { return c.GroupID != "" }),
		func(c models.Clip) string { return c.GroupID })
	linkOf := make(map[string]string)
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		for i, c := range members {
			linkOf[c.ID] = members[(i+1)%len(members)].ID
		}
	}

	for _, c := range s.Clips {
		ref := c.SourcePath
		if canonical, err := media.Canonical(ref); err == nil {
			ref = canonical
		}
		effects := lo.Map(c.Effects, func(e models.Effect, _ int) models.Effect { return e.Clone() })
		if effects == nil {
			effects = []models.Effect{}
		}
		doc.Clips = append(doc.Clips, Clip{
			ID:           c.ID,
			Track:        c.Track,
			Name:         c.Name,
			Start:        c.Start,
			Duration:     c.Duration,
			SourceOffset: c.SourceOffset,
			SourceRef:    ref,
			MediaKind:    c.Kind.Value,
			LinkedToID:   linkOf[c.ID],
			Opacity:      c.Opacity,
			FadeIn:       c.FadeIn,
			FadeOut:      c.FadeOut,
			FadeInCurve:  lo.Ternary(c.FadeInCurve == models.Curve{}, models.CurveLinear, c.FadeInCurve),
			FadeOutCurve: lo.Ternary(c.FadeOutCurve == models.Curve{}, models.CurveLinear, c.FadeOutCurve),
			Transform:    c.Transform,
			Effects:      effects,
			UseProxy:     c.UseProxy,
			ProxyPath:    lo.Ternary(c.ProxyStatus == models.ProxyReady, c.ProxyPath, ""),
		})
	}
	return doc
}

// ToState converts the document into a model state. Link references are
// resolved into link groups named after their first member.
func (d Document) ToState() (timeline.State, error) {
	s := timeline.State{
		Settings: timeline.Settings{
			Width:      d.Project.Resolution[0],
			Height:     d.Project.Resolution[1],
			FPS:        d.Project.FPS,
			MasterGain: d.Project.MasterGain,
			TimeFormat: d.Project.TimeFormat,
		},
		Playhead: models.Playhead{Frame: d.Project.Playhead, Rate: 1},
		Markers:  append([]models.Marker{}, d.Markers...),
		Regions:  append([]models.Region{}, d.Regions...),
	}

	for _, t := range d.Tracks {
		s.Tracks = append(s.Tracks, models.Track{Kind: t.Kind, Height: t.Height})
	}

	groupOf, err := d.linkGroups()
	if err != nil {
		return timeline.State{}, err
	}

	for _, c := range d.Clips {
		clip := models.Clip{
			ID:           c.ID,
			Name:         c.Name,
			Track:        c.Track,
			Start:        c.Start,
			Duration:     c.Duration,
			SourceOffset: c.SourceOffset,
			SourcePath:   c.SourceRef,
			GroupID:      groupOf[c.ID],
			Opacity:      c.Opacity,
			FadeIn:       c.FadeIn,
			FadeOut:      c.FadeOut,
			FadeInCurve:  c.FadeInCurve,
			FadeOutCurve: c.FadeOutCurve,
			Transform:    c.Transform,
			Effects:      lo.Map(c.Effects, func(e models.Effect, _ int) models.Effect { return e.Clone() }),
			UseProxy:     c.UseProxy,
			ProxyPath:    c.ProxyPath,
			ProxyStatus:  lo.Ternary(c.ProxyPath != "", models.ProxyReady, models.ProxyNone),
		}
		switch {
		case c.MediaKind != "":
			kind := models.MediaKinds.Parse(c.MediaKind)
			if kind == nil {
				return timeline.State{}, apperr.Invariant("clip %s has unknown media kind %q", c.ID, c.MediaKind)
			}
			clip.Kind = *kind
		case c.Track >= 0 && c.Track < len(d.Tracks) && d.Tracks[c.Track].Kind == models.TrackAudio:
			// documents written before media_kind was recorded
			clip.Kind = models.MediaAudio
		default:
			clip.Kind = models.MediaVideo
		}
		s.Clips = append(s.Clips, clip)
	}
	return s, nil
}

// linkGroups joins clips connected by linked_to_id references
func (d Document) linkGroups() (map[string]string, error) {
	parent := make(map[string]string, len(d.Clips))
	for _, c := range d.Clips {
		if c.ID == "" {
			return nil, apperr.Invariant("clip %q has no id", c.Name)
		}
		parent[c.ID] = c.ID
	}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}

	order := make(map[string]int, len(d.Clips))
	for i, c := range d.Clips {
		order[c.ID] = i
	}
	for _, c := range d.Clips {
		if c.LinkedToID == "" {
			continue
		}
		if _, ok := parent[c.LinkedToID]; !ok {
			return nil, apperr.Invariant("clip %s links to unknown clip %s", c.ID, c.LinkedToID)
		}
		a, b := find(c.ID), find(c.LinkedToID)
		if a == b {
			continue
		}
		// the earliest clip stays the root so group names are stable
		if order[b] < order[a] {
			a, b = b, a
		}
		parent[b] = a
	}

	size := make(map[string]int)
	for _, c := range d.Clips {
		size[find(c.ID)]++
	}
	groups := make(map[string]string)
	for _, c := range d.Clips {
		if root := find(c.ID); size[root] > 1 {
			groups[c.ID] = root
		}
	}
	return groups, nil
}

// Encode writes the document as indented JSON
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	return nil
}

// Decode reads a document. A missing version is read as version 1; newer
// versions are rejected.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode project: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = Version
	}
	if doc.Version > Version {
		return Document{}, apperr.Invariant("project version %d is newer than supported version %d", doc.Version, Version)
	}
	if doc.Tracks == nil {
		doc.Tracks = []Track{}
	}
	if doc.Clips == nil {
		doc.Clips = []Clip{}
	}
	if doc.Markers == nil {
		doc.Markers = []models.Marker{}
	}
	if doc.Regions == nil {
		doc.Regions = []models.Region{}
	}
	for i := range doc.Clips {
		if doc.Clips[i].Effects == nil {
			doc.Clips[i].Effects = []models.Effect{}
		}
	}
	return doc, nil
}
