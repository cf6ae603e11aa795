package audio

// Hook transforms a sample buffer in a post-processing chain.
type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PeakNormalize scales samples so the peak amplitude reaches the given
// target (commonly just below 1.0). Silent input is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	var peak float32
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}

	if peak == 0 {
		return samples
	}

	out := make([]float32, len(samples))

	gain := target / peak
	for i, s := range samples {
		out[i] = s * gain
	}

	return out
}

// DCBlock removes DC offset with a one-pole high-pass filter.
func DCBlock(samples []float32) []float32 {
	const r = float32(0.995)

	out := make([]float32, len(samples))

	var prevIn, prevOut float32
	for i, s := range samples {
		out[i] = s - prevIn + r*prevOut
		prevIn = s
		prevOut = out[i]
	}

	return out
}

// FadeIn applies a linear ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(float64(sampleRate) * ms / 1000)
	if n <= 0 || len(samples) == 0 {
		return samples
	}

	n = min(n, len(samples))

	out := make([]float32, len(samples))
	copy(out, samples)

	for i := range n {
		out[i] *= float32(i) / float32(n)
	}

	return out
}

// FadeOut applies a linear ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(float64(sampleRate) * ms / 1000)
	if n <= 0 || len(samples) == 0 {
		return samples
	}

	n = min(n, len(samples))

	out := make([]float32, len(samples))
	copy(out, samples)

	start := len(samples) - n
	for i := range n {
		out[start+i] *= float32(n-1-i) / float32(n)
	}

	return out
}
