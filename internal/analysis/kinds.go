package analysis

import (
	"image"

	"github.com/orsinium-labs/enum"
)

// Kind is a background worker kind
type Kind enum.Member[string]

var (
	KindWaveform  = Kind{Value: "waveform"}
	KindThumbnail = Kind{Value: "thumbnail"}
	KindProxy     = Kind{Value: "proxy"}
	Kinds         = enum.New(KindWaveform, KindThumbnail, KindProxy)
)

func (k Kind) String() string { return k.Value }

// priority orders queued work: cheap, visible results first
func (k Kind) priority() int {
	switch k {
	case KindWaveform:
		return 10
	case KindThumbnail:
		return 5
	default:
		return 1
	}
}

// Indicator is the global proxy state shown to the user
type Indicator enum.Member[string]

var (
	IndicatorNone       = Indicator{Value: "none"}
	IndicatorGenerating = Indicator{Value: "generating"}
	IndicatorReady      = Indicator{Value: "ready"}
	IndicatorError      = Indicator{Value: "error"}
	Indicators          = enum.New(IndicatorNone, IndicatorGenerating, IndicatorReady, IndicatorError)
)

func (i Indicator) String() string { return i.Value }

// Color is the badge color for the indicator
func (i Indicator) Color() string {
	switch i {
	case IndicatorGenerating:
		return "orange"
	case IndicatorReady:
		return "green"
	case IndicatorError:
		return "red"
	default:
		return ""
	}
}

// Event is the tagged completion record a worker posts to the dispatcher.
// Exactly one of the result fields is set on success; Err is set on failure.
type Event struct {
	ClipID string
	Kind   Kind
	Err    error

	Peaks      []float32
	Thumbnails []*image.RGBA
	ProxyPath  string
}

// Failed reports whether the worker failed
func (e Event) Failed() bool { return e.Err != nil }
