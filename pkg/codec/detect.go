package codec

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Backend selects the FFT implementation used for peak detection
type Backend string

const (
	BackendGoDSP Backend = "go-dsp"
	BackendGonum Backend = "gonum"
)

// ParseBackend validates a backend name. An empty name selects go-dsp.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", BackendGoDSP:
		return BackendGoDSP, nil
	case BackendGonum:
		return BackendGonum, nil
	default:
		return "", fmt.Errorf("unknown FFT backend %q", name)
	}
}

// Detector estimates the dominant frequency of a tone segment
type Detector struct {
	backend Backend

	windows sync.Map // segment length -> []float64 Hann window
	scratch sync.Pool
}

// NewDetector creates a detector using the given FFT backend
func NewDetector(backend Backend) *Detector {
	if backend == "" {
		backend = BackendGoDSP
	}
	return &Detector{
		backend: backend,
		scratch: sync.Pool{
			New: func() interface{} {
				buf := make([]float64, 0, SamplesPerTone(SampleRate))
				return &buf
			},
		},
	}
}

// Backend returns the FFT backend in use
func (d *Detector) Backend() Backend {
	return d.backend
}

var defaultDetector = NewDetector(BackendGoDSP)

// DetectPeak estimates the dominant frequency of segment with the
// default detector
func DetectPeak(segment []float64, sampleRate int) float64 {
	return defaultDetector.DetectPeak(segment, sampleRate)
}

// DetectPeak applies a Hann window, finds the largest real-DFT magnitude
// bin and refines it by parabolic interpolation over its neighbours.
// Edge bins are not refined. Returns 0 for an empty segment.
func (d *Detector) DetectPeak(segment []float64, sampleRate int) float64 {
	n := len(segment)
	if n == 0 {
		return 0
	}

	spectrum := d.Magnitudes(segment)
	peakIndex := floats.MaxIdx(spectrum)

	bin := float64(peakIndex)
	if peakIndex > 0 && peakIndex < len(spectrum)-1 {
		bin += parabolicOffset(spectrum[peakIndex-1], spectrum[peakIndex], spectrum[peakIndex+1])
	}

	return bin * float64(sampleRate) / float64(n)
}

// parabolicOffset returns the vertex offset of the parabola through
// three equally spaced points. A flat or degenerate fit yields 0.
func parabolicOffset(alpha, beta, gamma float64) float64 {
	denom := alpha - 2*beta + gamma
	if denom == 0 {
		return 0
	}
	p := 0.5 * (alpha - gamma) / denom
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return p
}

// Magnitudes returns the floor(n/2)+1 magnitude bins of the
// Hann-windowed segment
func (d *Detector) Magnitudes(segment []float64) []float64 {
	n := len(segment)
	if n == 0 {
		return nil
	}

	bufPtr := d.scratch.Get().(*[]float64)
	defer d.scratch.Put(bufPtr)

	windowed := (*bufPtr)[:0]
	for i, w := range d.hann(n) {
		windowed = append(windowed, segment[i]*w)
	}
	*bufPtr = windowed

	var coeffs []complex128
	switch d.backend {
	case BackendGonum:
		coeffs = fourier.NewFFT(n).Coefficients(nil, windowed)
	default:
		coeffs = fft.FFTReal(windowed)
	}

	bins := n/2 + 1
	mags := make([]float64, bins)
	for i := 0; i < bins; i++ {
		mags[i] = cmplx.Abs(coeffs[i])
	}
	return mags
}

// hann returns the cached symmetric Hann window of length n
func (d *Detector) hann(n int) []float64 {
	if w, ok := d.windows.Load(n); ok {
		return w.([]float64)
	}

	var w []float64
	if n <= 1 {
		w = []float64{1}
	} else {
		w = window.Hann(n)
	}
	actual, _ := d.windows.LoadOrStore(n, w)
	return actual.([]float64)
}
