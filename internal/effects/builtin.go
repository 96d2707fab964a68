package effects

import (
	"image"
)

// Invert inverts the color channels, leaving alpha
func Invert(in, out *image.RGBA, _ float64, _ map[string]any) error {
	for i := 0; i+3 < len(in.Pix); i += 4 {
		a := in.Pix[i+3]
		out.Pix[i] = a - in.Pix[i]
		out.Pix[i+1] = a - in.Pix[i+1]
		out.Pix[i+2] = a - in.Pix[i+2]
		out.Pix[i+3] = a
	}
	return nil
}

// Grayscale replaces color with Rec. 601 luma
func Grayscale(in, out *image.RGBA, _ float64, _ map[string]any) error {
	for i := 0; i+3 < len(in.Pix); i += 4 {
		y := (299*uint32(in.Pix[i]) + 587*uint32(in.Pix[i+1]) + 114*uint32(in.Pix[i+2]) + 500) / 1000
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = uint8(y), uint8(y), uint8(y)
		out.Pix[i+3] = in.Pix[i+3]
	}
	return nil
}

// Brightness scales color by 1+amount, where amount comes from the params and
// defaults to 0. Channels are clamped to alpha to stay premultiplied.
func Brightness(in, out *image.RGBA, _ float64, params map[string]any) error {
	amount := 0.0
	switch v := params["amount"].(type) {
	case float64:
		amount = v
	case int:
		amount = float64(v)
	}
	factor := 1 + amount
	if factor < 0 {
		factor = 0
	}
	for i := 0; i+3 < len(in.Pix); i += 4 {
		a := float64(in.Pix[i+3])
		for c := 0; c < 3; c++ {
			v := float64(in.Pix[i+c])*factor + 0.5
			if v > a {
				v = a
			}
			out.Pix[i+c] = uint8(v)
		}
		out.Pix[i+3] = in.Pix[i+3]
	}
	return nil
}
