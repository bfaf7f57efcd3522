package audio

// DefaultFadeSamples returns the number of samples covered by the standard
// ≈5 ms boundary fade at the given sample rate.
func DefaultFadeSamples(sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return sampleRate * 5 / 1000
}

// FadeIn applies an in-place linear amplitude ramp from 0 to 1 over the first
// fadeSamples int16 samples of pcm. Shorter inputs are ramped over their full
// length. The ramp suppresses the click produced by a non-zero first sample.
func FadeIn(pcm []byte, fadeSamples int) {
	n := len(pcm) / 2
	if fadeSamples > n {
		fadeSamples = n
	}
	if fadeSamples <= 0 {
		return
	}
	for i := range fadeSamples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		scaled := int16(float64(s) * float64(i) / float64(fadeSamples))
		pcm[i*2] = byte(scaled)
		pcm[i*2+1] = byte(scaled >> 8)
	}
}

// FadeOut applies an in-place linear amplitude ramp from 1 to 0 over the last
// fadeSamples int16 samples of pcm.
func FadeOut(pcm []byte, fadeSamples int) {
	n := len(pcm) / 2
	if fadeSamples > n {
		fadeSamples = n
	}
	if fadeSamples <= 0 {
		return
	}
	start := n - fadeSamples
	for i := range fadeSamples {
		idx := start + i
		s := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		scaled := int16(float64(s) * float64(fadeSamples-1-i) / float64(fadeSamples))
		pcm[idx*2] = byte(scaled)
		pcm[idx*2+1] = byte(scaled >> 8)
	}
}
