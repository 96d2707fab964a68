package models

import (
	"encoding/json"
	"testing"
)

func TestCurveTextRoundTrip(t *testing.T) {
	for _, c := range Curves.Members() {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("Failed to marshal %s: %v", c, err)
		}

		var got Curve
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Failed to unmarshal %s: %v", data, err)
		}
		if got != c {
			t.Errorf("Expected %s, got %s", c, got)
		}
	}
}

func TestCurveZeroValue(t *testing.T) {
	var c Curve
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if string(data) != `"linear"` {
		t.Errorf("Expected zero curve to marshal as linear, got %s", data)
	}

	if err := json.Unmarshal([]byte(`"wobbly"`), &c); err == nil {
		t.Error("Expected error for unknown curve")
	}
	if ParseCurve("wobbly") != CurveLinear {
		t.Error("Expected ParseCurve to fall back to linear")
	}
}

func TestTrackKindUnmarshal(t *testing.T) {
	var k TrackKind
	if err := json.Unmarshal([]byte(`"audio"`), &k); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if k != TrackAudio {
		t.Errorf("Expected audio, got %s", k)
	}
	if err := json.Unmarshal([]byte(`"subtitle"`), &k); err == nil {
		t.Error("Expected error for unknown track kind")
	}
}

func TestMediaKindTrackKind(t *testing.T) {
	tests := []struct {
		kind MediaKind
		want TrackKind
	}{
		{MediaVideo, TrackVideo},
		{MediaImage, TrackVideo},
		{MediaAudio, TrackAudio},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.TrackKind(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseTimeFormat(t *testing.T) {
	if f, ok := ParseTimeFormat("frames"); !ok || f != TimeFrames {
		t.Errorf("Expected frames, got %s (%v)", f, ok)
	}
	if f, ok := ParseTimeFormat("beats"); ok || f != TimeSMPTE {
		t.Errorf("Expected smpte fallback, got %s (%v)", f, ok)
	}
}

func TestClipValidate(t *testing.T) {
	base := Clip{ID: "c1", Start: 0, Duration: 100, Opacity: 1, SourceDuration: 300}

	tests := []struct {
		name    string
		mutate  func(c *Clip)
		wantErr bool
	}{
		{"valid", func(c *Clip) {}, false},
		{"zero duration", func(c *Clip) { c.Duration = 0 }, true},
		{"negative start", func(c *Clip) { c.Start = -1 }, true},
		{"negative offset", func(c *Clip) { c.SourceOffset = -5 }, true},
		{"past source end", func(c *Clip) { c.SourceOffset = 250 }, true},
		{"unbounded source", func(c *Clip) { c.SourceDuration = 0; c.SourceOffset = 1000 }, false},
		{"fades too long", func(c *Clip) { c.FadeIn = 60; c.FadeOut = 50 }, true},
		{"fades fill clip", func(c *Clip) { c.FadeIn = 50; c.FadeOut = 50 }, false},
		{"opacity too high", func(c *Clip) { c.Opacity = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClipClampFades(t *testing.T) {
	c := Clip{Duration: 40, FadeIn: 30, FadeOut: 30}
	c.ClampFades()
	if c.FadeIn != 30 || c.FadeOut != 10 {
		t.Errorf("Expected fades 30/10, got %d/%d", c.FadeIn, c.FadeOut)
	}

	c = Clip{Duration: 20, FadeIn: 30, FadeOut: 5}
	c.ClampFades()
	if c.FadeIn != 20 || c.FadeOut != 0 {
		t.Errorf("Expected fades 20/0, got %d/%d", c.FadeIn, c.FadeOut)
	}
}

func TestClipCloneIsDeep(t *testing.T) {
	amount := 0.5
	c := Clip{
		Effects: []Effect{{Name: "b", Params: EffectParams{Amount: &amount, Plugin: map[string]any{"k": 1}}}},
		Peaks:   []float32{0.1, 0.2},
	}

	cp := c.Clone()
	*cp.Effects[0].Params.Amount = 0.9
	cp.Effects[0].Params.Plugin["k"] = 2
	cp.Peaks[0] = 1

	if *c.Effects[0].Params.Amount != 0.5 {
		t.Error("Clone shared the amount pointer")
	}
	if c.Effects[0].Params.Plugin["k"] != 1 {
		t.Error("Clone shared the plugin map")
	}
	if c.Peaks[0] != 0.1 {
		t.Error("Clone shared the peaks slice")
	}
}

func TestEffectParamsToMap(t *testing.T) {
	amount := 0.25
	p := EffectParams{Amount: &amount, Plugin: map[string]any{"radius": 3.0}}

	m := p.ToMap()
	if m["amount"] != 0.25 || m["radius"] != 3.0 {
		t.Errorf("Unexpected params map: %v", m)
	}
	if !(EffectParams{}).IsZero() {
		t.Error("Expected empty params to be zero")
	}
}

func TestProbeInfoNativeSize(t *testing.T) {
	p := ProbeInfo{Width: 1080, Height: 1920, Rotation: 90}
	w, h := p.NativeSize()
	if w != 1920 || h != 1080 {
		t.Errorf("Expected native 1920x1080, got %dx%d", w, h)
	}
	if !p.Portrait() {
		t.Error("Expected portrait")
	}
	if got := (&ProbeInfo{Duration: 10}).DurationFrames(30); got != 300 {
		t.Errorf("Expected 300 frames, got %d", got)
	}
}

func TestNormalizeRotation(t *testing.T) {
	tests := map[int]int{0: 0, 90: 90, -90: 270, 270: 270, 180: 180, -180: 180, 360: 0, 450: 90, 89: 90}
	for in, want := range tests {
		if got := NormalizeRotation(in); got != want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRegionContains(t *testing.T) {
	r := Region{Start: 10, End: 20}
	if !r.Contains(10) || r.Contains(20) || !r.Contains(19.5) {
		t.Error("Region bounds are half-open [start, end)")
	}
}

func TestExportConfigValue(t *testing.T) {
	cfg := ExportConfig{Width: 1280, Height: 720, FPS: 30, TotalFrames: 90}

	value, err := cfg.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var scanned ExportConfig
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	if scanned != cfg {
		t.Errorf("Expected %+v, got %+v", cfg, scanned)
	}
	if cfg.Duration() != 3 {
		t.Errorf("Expected 3s, got %v", cfg.Duration())
	}
}
