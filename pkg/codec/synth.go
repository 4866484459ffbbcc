package codec

import (
	"math"
)

// Tone parameters
const (
	SampleRate   = 44100
	ToneDuration = 0.3 // seconds per character
	Amplitude    = 0.5
)

// SamplesPerTone returns the number of samples in one tone segment at
// sampleRate. At 44100 Hz this is 13230.
func SamplesPerTone(sampleRate int) int {
	return int(math.Round(ToneDuration * float64(sampleRate)))
}

// Synthesize renders message as concatenated sine tones, one per rune,
// at SampleRate. Runes missing from table use FallbackFrequency.
func Synthesize(message string, table *FrequencyTable) []float64 {
	n := SamplesPerTone(SampleRate)
	runes := []rune(message)
	signal := make([]float64, 0, len(runes)*n)

	for _, c := range runes {
		freq, ok := table.Frequency(c)
		if !ok {
			freq = FallbackFrequency
		}
		signal = appendTone(signal, freq, n)
	}

	return signal
}

// Tone returns a single tone segment of n samples
func Tone(freq float64, n int) []float64 {
	return appendTone(make([]float64, 0, n), freq, n)
}

// appendTone appends 0.5*sin(2*pi*f*t) for t spaced over
// [0, ToneDuration) with n points. The end point is excluded.
func appendTone(dst []float64, freq float64, n int) []float64 {
	if n <= 0 {
		return dst
	}
	step := ToneDuration / float64(n)
	for i := 0; i < n; i++ {
		t := float64(i) * step
		dst = append(dst, Amplitude*math.Sin(2*math.Pi*freq*t))
	}
	return dst
}
