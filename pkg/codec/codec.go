// Package codec maps text onto key-dependent audio tones and back.
//
// Each character becomes a 0.3 s sine tone whose frequency is chosen by
// a permutation of a fixed alphabet seeded from the key. Decoding
// windows the waveform, estimates each window's peak frequency and maps
// it to the closest table entry. A wrong key decodes to a well-formed
// but wrong message; nothing authenticates the key.
package codec

// Option configures a Codec
type Option func(*Codec)

// WithWorkers bounds the number of goroutines used per decode
func WithWorkers(n int) Option {
	return func(c *Codec) {
		c.workers = n
	}
}

// WithBackend selects the FFT backend used by the detector
func WithBackend(b Backend) Option {
	return func(c *Codec) {
		c.backend = b
	}
}

// Codec bundles a detector and decoder. It holds no per-call state and
// is safe for concurrent use.
type Codec struct {
	workers int
	backend Backend
	decoder *Decoder
}

// New creates a Codec
func New(opts ...Option) *Codec {
	c := &Codec{backend: BackendGoDSP}
	for _, opt := range opts {
		opt(c)
	}
	c.decoder = NewDecoder(NewDetector(c.backend), c.workers)
	return c
}

// Backend returns the configured FFT backend
func (c *Codec) Backend() Backend {
	return c.backend
}

// Workers returns the decoder's worker count
func (c *Codec) Workers() int {
	return c.decoder.workers
}

// Encode renders message as tones keyed by key
func (c *Codec) Encode(message, key string) []float64 {
	return Synthesize(message, GenerateTable(key))
}

// Decode recovers a message from samples recorded at sampleRate
func (c *Codec) Decode(samples []float64, sampleRate int, key string) string {
	return c.decoder.Decode(samples, sampleRate, GenerateTable(key))
}

// DecodeWindows decodes and returns per-window detail. fn, if not nil,
// receives each window in order.
func (c *Codec) DecodeWindows(samples []float64, sampleRate int, key string, fn func(WindowResult)) []WindowResult {
	return c.decoder.DecodeWindows(samples, sampleRate, GenerateTable(key), fn)
}

var defaultCodec = New()

// Encode renders message with the default codec
func Encode(message, key string) []float64 {
	return defaultCodec.Encode(message, key)
}

// Decode recovers a message with the default codec
func Decode(samples []float64, sampleRate int, key string) string {
	return defaultCodec.Decode(samples, sampleRate, key)
}
