package effects

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestBuiltins(t *testing.T) {
	amount := 0.5
	tests := []struct {
		name   string
		effect models.Effect
		in     color.RGBA
		want   color.RGBA
	}{
		{"invert", models.Effect{Path: "builtin:invert", Enabled: true}, color.RGBA{10, 20, 30, 255}, color.RGBA{245, 235, 225, 255}},
		{"invert premultiplied", models.Effect{Path: "builtin:invert", Enabled: true}, color.RGBA{10, 20, 30, 128}, color.RGBA{118, 108, 98, 128}},
		{"grayscale", models.Effect{Path: "builtin:grayscale", Enabled: true}, color.RGBA{255, 0, 0, 255}, color.RGBA{76, 76, 76, 255}},
		{"brightness", models.Effect{Path: "builtin:brightness", Enabled: true, Params: models.EffectParams{Amount: &amount}}, color.RGBA{100, 200, 40, 255}, color.RGBA{150, 255, 60, 255}},
		{"brightness default", models.Effect{Path: "builtin:brightness", Enabled: true}, color.RGBA{100, 200, 40, 255}, color.RGBA{100, 200, 40, 255}},
		{"disabled", models.Effect{Path: "builtin:invert", Enabled: false}, color.RGBA{10, 20, 30, 255}, color.RGBA{10, 20, 30, 255}},
	}

	r := NewRegistry(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Apply(tt.effect, solid(tt.in), 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.RGBAAt(1, 1))
		})
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	r := NewRegistry(nil)
	in := solid(color.RGBA{10, 20, 30, 255})
	_, err := r.Apply(models.Effect{Path: "builtin:invert", Enabled: true}, in, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, in.RGBAAt(0, 0))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	calls := 0
	first := func(in, out *image.RGBA, _ float64, _ map[string]any) error {
		calls++
		copy(out.Pix, in.Pix)
		return nil
	}
	r.Register("custom", first)
	r.Register("custom", func(*image.RGBA, *image.RGBA, float64, map[string]any) error {
		return errors.New("second registration must be ignored")
	})

	_, err := r.Apply(models.Effect{Path: "custom", Enabled: true}, solid(color.RGBA{A: 255}), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPluginLoadedOnce(t *testing.T) {
	r := NewRegistry(nil)
	opens := 0
	r.open = func(path string) (Func, error) {
		opens++
		return nil, errors.New("not a plug-in")
	}

	e := models.Effect{Name: "glow", Path: "/fx/glow.so", Enabled: true}
	in := solid(color.RGBA{1, 2, 3, 255})
	for i := 0; i < 3; i++ {
		out, err := r.Apply(e, in, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLoad)
		assert.Same(t, in, out)
	}
	assert.Equal(t, 1, opens)

	_, err := r.Load("builtin:nope")
	assert.ErrorIs(t, err, ErrLoad)
}

func TestPluginParamsAndTime(t *testing.T) {
	r := NewRegistry(nil)
	var gotT float64
	var gotParams map[string]any
	r.open = func(string) (Func, error) {
		return func(in, out *image.RGBA, t float64, params map[string]any) error {
			gotT, gotParams = t, params
			copy(out.Pix, in.Pix)
			return nil
		}, nil
	}

	amount := 2.0
	e := models.Effect{Path: "/fx/p.so", Enabled: true, Params: models.EffectParams{
		Amount: &amount,
		Plugin: map[string]any{"radius": 3.0},
	}}
	_, err := r.Apply(e, solid(color.RGBA{A: 255}), 1.25)
	require.NoError(t, err)
	assert.Equal(t, 1.25, gotT)
	assert.Equal(t, map[string]any{"radius": 3.0, "amount": 2.0}, gotParams)
}

func TestApplyAllSkipsFailures(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("boom", func(*image.RGBA, *image.RGBA, float64, map[string]any) error {
		return errors.New("boom")
	})

	effects := []models.Effect{
		{Name: "boom", Path: "boom", Enabled: true},
		{Name: "invert", Path: "builtin:invert", Enabled: true},
	}
	out, err := r.ApplyAll(effects, solid(color.RGBA{0, 0, 0, 255}), 0)
	require.Error(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 0))
}
