package models

import (
	"fmt"

	"github.com/orsinium-labs/enum"
)

// TrackKind distinguishes video tracks from audio tracks
type TrackKind enum.Member[string]

// MediaKind is the kind of a decoded media file
type MediaKind enum.Member[string]

// Curve selects the envelope shape used by fades
type Curve enum.Member[string]

// ProxyStatus tracks the lifecycle of a clip's low-resolution copy
type ProxyStatus enum.Member[string]

var (
	TrackVideo = TrackKind{Value: "video"}
	TrackAudio = TrackKind{Value: "audio"}
	TrackKinds = enum.New(TrackVideo, TrackAudio)

	MediaVideo = MediaKind{Value: "video"}
	MediaImage = MediaKind{Value: "image"}
	MediaAudio = MediaKind{Value: "audio"}
	MediaKinds = enum.New(MediaVideo, MediaImage, MediaAudio)

	CurveLinear = Curve{Value: "linear"}
	CurveFast   = Curve{Value: "fast"}
	CurveSlow   = Curve{Value: "slow"}
	CurveSmooth = Curve{Value: "smooth"}
	CurveSharp  = Curve{Value: "sharp"}
	Curves      = enum.New(CurveLinear, CurveFast, CurveSlow, CurveSmooth, CurveSharp)

	ProxyNone       = ProxyStatus{Value: "none"}
	ProxyGenerating = ProxyStatus{Value: "generating"}
	ProxyReady      = ProxyStatus{Value: "ready"}
	ProxyError      = ProxyStatus{Value: "error"}
	ProxyStatuses   = enum.New(ProxyNone, ProxyGenerating, ProxyReady, ProxyError)
)

func (k TrackKind) String() string { return k.Value }

// MarshalText implements encoding.TextMarshaler
func (k TrackKind) MarshalText() ([]byte, error) { return []byte(k.Value), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (k *TrackKind) UnmarshalText(b []byte) error {
	parsed := TrackKinds.Parse(string(b))
	if parsed == nil {
		return fmt.Errorf("unknown track kind %q", string(b))
	}
	*k = *parsed
	return nil
}

func (k MediaKind) String() string { return k.Value }

// TrackKind returns the kind of track a clip of this media kind lives on
func (k MediaKind) TrackKind() TrackKind {
	if k == MediaAudio {
		return TrackAudio
	}
	return TrackVideo
}

func (c Curve) String() string { return c.Value }

// MarshalText implements encoding.TextMarshaler. The zero curve is written as linear.
func (c Curve) MarshalText() ([]byte, error) {
	if c.Value == "" {
		return []byte(CurveLinear.Value), nil
	}
	return []byte(c.Value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Curve) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = CurveLinear
		return nil
	}
	parsed := Curves.Parse(string(b))
	if parsed == nil {
		return fmt.Errorf("unknown envelope curve %q", string(b))
	}
	*c = *parsed
	return nil
}

// ParseCurve returns the curve with the given name, or linear when unknown
func ParseCurve(name string) Curve {
	if parsed := Curves.Parse(name); parsed != nil {
		return *parsed
	}
	return CurveLinear
}

func (s ProxyStatus) String() string {
	if s.Value == "" {
		return ProxyNone.Value
	}
	return s.Value
}

// TimeFormat is the ruler display preference. It never affects evaluation.
type TimeFormat enum.Member[string]

var (
	TimeSMPTE   = TimeFormat{Value: "smpte"}
	TimeFrames  = TimeFormat{Value: "frames"}
	TimeSeconds = TimeFormat{Value: "seconds"}
	TimeFormats = enum.New(TimeSMPTE, TimeFrames, TimeSeconds)
)

func (f TimeFormat) String() string { return f.Value }

// ParseTimeFormat returns the known format for name. Missing or unknown names
// fall back to SMPTE and report ok=false.
func ParseTimeFormat(name string) (TimeFormat, bool) {
	if parsed := TimeFormats.Parse(name); parsed != nil {
		return *parsed, true
	}
	return TimeSMPTE, false
}
