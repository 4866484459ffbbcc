package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Floor is reported for silent input, in dBFS
const Floor = -100.0

// ClipThreshold is the absolute sample level treated as clipping
const ClipThreshold = 0.98

// LevelData represents signal level measurements
type LevelData struct {
	Samples   int     `json:"samples"`
	Duration  float64 `json:"duration"`  // seconds
	RMSLevel  float32 `json:"rms"`       // RMS level in dBFS
	PeakLevel float32 `json:"peak"`      // Peak level in dBFS
	Peak      float64 `json:"peak_abs"`  // Largest absolute sample
	Clipping  bool    `json:"clipping"`  // True if any sample reached ClipThreshold
	ClipCount int     `json:"clip_count"`
}

// SpectrumData represents FFT spectrum analysis
type SpectrumData struct {
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"`  // Magnitude spectrum in dB
	FreqStep   float32   `json:"freq_step"` // Frequency per bin in Hz
}

// Levels computes RMS and peak levels of samples in [-1, 1]
func Levels(samples []float64, sampleRate int) LevelData {
	data := LevelData{
		Samples:   len(samples),
		RMSLevel:  Floor,
		PeakLevel: Floor,
	}
	if len(samples) == 0 {
		return data
	}
	if sampleRate > 0 {
		data.Duration = float64(len(samples)) / float64(sampleRate)
	}

	for _, s := range samples {
		a := math.Abs(s)
		if a > data.Peak {
			data.Peak = a
		}
		if a >= ClipThreshold {
			data.ClipCount++
		}
	}
	data.Clipping = data.ClipCount > 0

	rms := floats.Norm(samples, 2) / math.Sqrt(float64(len(samples)))
	data.RMSLevel = toDB(rms)
	data.PeakLevel = toDB(data.Peak)

	return data
}

// Spectrum returns the Hann-windowed magnitude spectrum of segment in dB
func Spectrum(segment []float64, sampleRate int) SpectrumData {
	data := SpectrumData{SampleRate: sampleRate}
	n := len(segment)
	if n == 0 {
		return data
	}

	windowed := make([]float64, n)
	copy(windowed, segment)
	if n > 1 {
		window.Apply(windowed, window.Hann)
	}

	coeffs := fft.FFTReal(windowed)
	data.Spectrum = make([]float32, n/2+1)
	for i := range data.Spectrum {
		data.Spectrum[i] = toDB(cmplx.Abs(coeffs[i]))
	}
	data.FreqStep = float32(sampleRate) / float32(n)

	return data
}

// Reduce max-pools the spectrum into at most bins buckets
func (s SpectrumData) Reduce(bins int) SpectrumData {
	if bins <= 0 || len(s.Spectrum) <= bins {
		return s
	}

	group := (len(s.Spectrum) + bins - 1) / bins
	out := make([]float32, 0, bins)
	for start := 0; start < len(s.Spectrum); start += group {
		end := start + group
		if end > len(s.Spectrum) {
			end = len(s.Spectrum)
		}
		peak := s.Spectrum[start]
		for _, v := range s.Spectrum[start+1 : end] {
			if v > peak {
				peak = v
			}
		}
		out = append(out, peak)
	}

	return SpectrumData{
		SampleRate: s.SampleRate,
		Spectrum:   out,
		FreqStep:   s.FreqStep * float32(group),
	}
}

func toDB(v float64) float32 {
	if v <= 0 {
		return Floor
	}
	return float32(20.0 * math.Log10(v))
}
