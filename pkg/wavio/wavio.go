// Package wavio stores and loads mono sample buffers as PCM WAV files.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultBitDepth is used when no bit depth option is given
const DefaultBitDepth = 16

const pcmFormat = 1

var (
	ErrInvalidWAV        = errors.New("invalid WAV file")
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
)

// WaveformReadError reports a waveform that could not be read or parsed
type WaveformReadError struct {
	Op   string
	Path string
	Err  error
}

func (e *WaveformReadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("waveform %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("waveform %s: %v", e.Op, e.Err)
}

func (e *WaveformReadError) Unwrap() error {
	return e.Err
}

// Option configures Write
type Option func(*writeOptions)

type writeOptions struct {
	bitDepth int
}

// WithBitDepth selects 16, 24 or 32-bit PCM output
func WithBitDepth(bits int) Option {
	return func(o *writeOptions) {
		o.bitDepth = bits
	}
}

// ValidBitDepth reports whether bits can be written
func ValidBitDepth(bits int) bool {
	return bits == 16 || bits == 24 || bits == 32
}

// Write encodes samples in [-1, 1] as a mono PCM WAV. Samples outside
// the range are clipped.
func Write(w io.WriteSeeker, samples []float64, sampleRate int, opts ...Option) error {
	o := writeOptions{bitDepth: DefaultBitDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if !ValidBitDepth(o.bitDepth) {
		return fmt.Errorf("unsupported bit depth %d", o.bitDepth)
	}

	scale := float64(int64(1)<<(o.bitDepth-1) - 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(clip(s) * scale))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: o.bitDepth,
	}

	enc := wav.NewEncoder(w, sampleRate, o.bitDepth, 1, pcmFormat)
	// Write is called even for an empty buffer so the header is emitted
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return nil
}

// WriteFile writes samples to a WAV file at path
func WriteFile(path string, samples []float64, sampleRate int, opts ...Option) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := Write(f, samples, sampleRate, opts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a PCM WAV into samples in [-1, 1] and its sample rate.
// Multi-channel frames are averaged into one channel.
func Read(r io.ReadSeeker) ([]float64, int, error) {
	samples, rate, err := read(r)
	if err != nil {
		return nil, 0, &WaveformReadError{Op: "read", Err: err}
	}
	return samples, rate, nil
}

// ReadFile reads a WAV file from path
func ReadFile(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &WaveformReadError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	samples, rate, err := read(f)
	if err != nil {
		return nil, 0, &WaveformReadError{Op: "read", Path: path, Err: err}
	}
	return samples, rate, nil
}

func read(r io.ReadSeeker) ([]float64, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	if dec.WavAudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, 0, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode PCM data: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	scale := float64(int64(1) << (bitDepth - 1))
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			v := buf.Data[i*channels+ch]
			if bitDepth == 8 {
				v -= 128
			}
			sum += float64(v)
		}
		samples[i] = sum / float64(channels) / scale
	}

	return samples, buf.Format.SampleRate, nil
}

func clip(s float64) float64 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	case math.IsNaN(s):
		return 0
	}
	return s
}
