package codec

import (
	"math"

	"gonum.org/v1/gonum/mathext/prng"
)

// Alphabet is the fixed character set in its unshuffled order
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789 .,?!" +
	"áčďéěíňóřšťúůýž" +
	"ÁČĎÉĚÍŇÓŘŠŤÚŮÝŽ"

// Frequency plan
const (
	MinFrequency      = 1000.0
	MaxFrequency      = 6000.0
	FallbackFrequency = 1500.0
	Placeholder       = '?'
)

// FrequencyTable maps the key-permuted alphabet onto evenly spaced
// frequencies. chars[i] is assigned freqs[i]; freqs is ascending.
type FrequencyTable struct {
	chars []rune
	freqs []float64
	index map[rune]int
}

// Seed returns the shuffle seed for a key: the sum of its code points.
// Keys with equal sums share a table.
func Seed(key string) uint64 {
	var sum uint64
	for _, r := range key {
		sum += uint64(r)
	}
	return sum
}

// GenerateTable derives the frequency table for key. The permutation is
// produced by MT19937 (init_genrand seeding, low 32 bits of the seed)
// driving a descending Fisher-Yates shuffle with masked rejection
// sampling, so tables match WAV files produced by earlier encoders.
func GenerateTable(key string) *FrequencyTable {
	chars := []rune(Alphabet)

	src := prng.NewMT19937()
	src.Seed(Seed(key))
	for i := len(chars) - 1; i > 0; i-- {
		j := boundedUint32(src, uint32(i))
		chars[i], chars[j] = chars[j], chars[i]
	}

	return newFrequencyTable(chars)
}

func newFrequencyTable(chars []rune) *FrequencyTable {
	t := &FrequencyTable{
		chars: chars,
		freqs: linspace(MinFrequency, MaxFrequency, len(chars)),
		index: make(map[rune]int, len(chars)),
	}
	for i, c := range chars {
		t.index[c] = i
	}
	return t
}

// boundedUint32 draws a uniform value in [0, bound] by masking 32-bit
// outputs to the smallest covering bit mask and redrawing on overshoot.
func boundedUint32(src *prng.MT19937, bound uint32) uint32 {
	if bound == 0 {
		return 0
	}
	mask := bound
	mask |= mask >> 1
	mask |= mask >> 2
	mask |= mask >> 4
	mask |= mask >> 8
	mask |= mask >> 16
	for {
		if v := src.Uint32() & mask; v <= bound {
			return v
		}
	}
}

// linspace returns n points from start to stop inclusive. The last
// point is pinned to stop.
func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = float64(i)*step + start
	}
	out[n-1] = stop
	return out
}

// Len returns the number of table entries
func (t *FrequencyTable) Len() int {
	return len(t.chars)
}

// Chars returns the permuted alphabet in ascending frequency order
func (t *FrequencyTable) Chars() string {
	return string(t.chars)
}

// Frequencies returns a copy of the table frequencies in ascending order
func (t *FrequencyTable) Frequencies() []float64 {
	out := make([]float64, len(t.freqs))
	copy(out, t.freqs)
	return out
}

// Frequency returns the frequency assigned to c
func (t *FrequencyTable) Frequency(c rune) (float64, bool) {
	i, ok := t.index[c]
	if !ok {
		return 0, false
	}
	return t.freqs[i], true
}

// Char returns the character assigned to exactly freq
func (t *FrequencyTable) Char(freq float64) (rune, bool) {
	for i, f := range t.freqs {
		if f == freq {
			return t.chars[i], true
		}
	}
	return 0, false
}

// Nearest returns the table entry closest to freq. Entries are scanned
// in ascending frequency and the first minimum wins. An empty table
// yields Placeholder.
func (t *FrequencyTable) Nearest(freq float64) (rune, float64) {
	if len(t.freqs) == 0 {
		return Placeholder, 0
	}
	best := 0
	bestDiff := math.Abs(t.freqs[0] - freq)
	for i := 1; i < len(t.freqs); i++ {
		if d := math.Abs(t.freqs[i] - freq); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return t.chars[best], t.freqs[best]
}

// CharToFreq returns the forward map used for encoding
func (t *FrequencyTable) CharToFreq() map[rune]float64 {
	m := make(map[rune]float64, len(t.chars))
	for i, c := range t.chars {
		m[c] = t.freqs[i]
	}
	return m
}

// FreqToChar returns the reverse map used for decoding
func (t *FrequencyTable) FreqToChar() map[float64]rune {
	m := make(map[float64]rune, len(t.freqs))
	for i, f := range t.freqs {
		m[f] = t.chars[i]
	}
	return m
}

