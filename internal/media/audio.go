package media

// ResampleLinear stretches or squeezes interleaved stereo content onto
// outFrames sample frames using per-channel linear interpolation. The first
// input frame maps to the first output frame and the span is preserved.
func ResampleLinear(in []float32, outFrames int) []float32 {
	out := make([]float32, outFrames*2)
	inFrames := len(in) / 2
	if outFrames == 0 || inFrames == 0 {
		return out
	}
	if inFrames == outFrames {
		copy(out, in)
		return out
	}

	step := float64(inFrames) / float64(outFrames)
	for i := 0; i < outFrames; i++ {
		p := float64(i) * step
		j := int(p)
		f := float32(p - float64(j))
		k := j + 1
		if k >= inFrames {
			k = inFrames - 1
		}
		out[2*i] = in[2*j]*(1-f) + in[2*k]*f
		out[2*i+1] = in[2*j+1]*(1-f) + in[2*k+1]*f
	}
	return out
}

// Reverse returns interleaved stereo content with the frame order reversed
func Reverse(in []float32) []float32 {
	n := len(in) / 2
	out := make([]float32, n*2)
	for i := 0; i < n; i++ {
		out[2*i] = in[2*(n-1-i)]
		out[2*i+1] = in[2*(n-1-i)+1]
	}
	return out
}

// FramesFor returns the number of 44.1 kHz sample frames covering seconds
func FramesFor(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds*SampleRate + 0.5)
}
