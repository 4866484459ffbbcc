package codec

import (
	"runtime"
	"strings"
	"sync"
)

// WindowResult describes the detection outcome for one tone window
type WindowResult struct {
	Index          int     `json:"index"`
	Offset         int     `json:"offset"`
	Frequency      float64 `json:"frequency"`
	TableFrequency float64 `json:"table_frequency"`
	Char           string  `json:"char"`
}

// Decoder splits a waveform into tone windows and classifies each one
type Decoder struct {
	detector *Detector
	workers  int
}

// NewDecoder creates a decoder. workers <= 0 uses one worker per CPU.
func NewDecoder(detector *Detector, workers int) *Decoder {
	if detector == nil {
		detector = defaultDetector
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Decoder{
		detector: detector,
		workers:  workers,
	}
}

// Decode recovers the message from samples. Trailing samples that do
// not fill a whole window are ignored.
func (d *Decoder) Decode(samples []float64, sampleRate int, table *FrequencyTable) string {
	results := d.DecodeWindows(samples, sampleRate, table, nil)

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(r.Char)
	}
	return sb.String()
}

// DecodeWindows runs detection over every full window. Windows are
// processed concurrently; results and callbacks are delivered in window
// order once all windows are done.
func (d *Decoder) DecodeWindows(samples []float64, sampleRate int, table *FrequencyTable, fn func(WindowResult)) []WindowResult {
	size := SamplesPerTone(sampleRate)
	if size <= 0 {
		return []WindowResult{}
	}
	count := len(samples) / size
	results := make([]WindowResult, count)
	if count == 0 {
		return results
	}

	workers := d.workers
	if workers > count {
		workers = count
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.classify(samples, i, size, sampleRate, table)
			}
		}()
	}

	for i := 0; i < count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if fn != nil {
		for _, r := range results {
			fn(r)
		}
	}
	return results
}

func (d *Decoder) classify(samples []float64, i, size, sampleRate int, table *FrequencyTable) WindowResult {
	offset := i * size
	freq := d.detector.DetectPeak(samples[offset:offset+size], sampleRate)
	c, tableFreq := table.Nearest(freq)
	return WindowResult{
		Index:          i,
		Offset:         offset,
		Frequency:      freq,
		TableFrequency: tableFreq,
		Char:           string(c),
	}
}
