package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dougsko/tonecodec/pkg/analysis"
	"github.com/dougsko/tonecodec/pkg/codec"
	"github.com/dougsko/tonecodec/pkg/keyhash"
	"github.com/dougsko/tonecodec/pkg/verbose"
	"github.com/dougsko/tonecodec/pkg/wavio"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <encode|decode|hash> [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  encode -key K -message \"Hi\" -output hi.wav\n")
	fmt.Fprintf(os.Stderr, "  decode -key K -input hi.wav\n")
	fmt.Fprintf(os.Stderr, "  hash -text \"correct horse\"\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "encode":
		err = runEncode(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "hash":
		err = runHash(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// keyFlags registers -key and -passphrase on fs
func keyFlags(fs *flag.FlagSet) func() string {
	key := fs.String("key", "", "Key string (any text, including empty)")
	passphrase := fs.String("passphrase", "", "Derive the key as the SHA-256 hex of this text")
	return func() string {
		// An explicit -passphrase "" still derives a key
		given := false
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "passphrase" {
				given = true
			}
		})
		if given {
			verbose.Printf("Deriving key from passphrase")
			return keyhash.Derive(*passphrase)
		}
		return *key
	}
}

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	key := keyFlags(fs)
	var (
		message = fs.String("message", "", "Message to encode")
		output  = fs.String("output", "", "Output WAV file")
		bits    = fs.Int("bits", wavio.DefaultBitDepth, "PCM bit depth (16, 24 or 32)")
		stats   = fs.Bool("stats", false, "Show signal statistics")
		verb    = fs.Bool("v", false, "Verbose output")
	)
	fs.Parse(args)
	verbose.SetEnabled(*verb)

	if *output == "" {
		return fmt.Errorf("-output is required")
	}

	k := key()
	table := codec.GenerateTable(k)
	verbose.Printf("Key fingerprint %s, seed %d", keyhash.Fingerprint(k), codec.Seed(k))

	unmapped := 0
	for _, r := range *message {
		if _, ok := table.Frequency(r); !ok {
			unmapped++
		}
	}
	if unmapped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d character(s) outside the alphabet will decode incorrectly\n", unmapped)
	}

	samples := codec.Synthesize(*message, table)
	if err := wavio.WriteFile(*output, samples, codec.SampleRate, wavio.WithBitDepth(*bits)); err != nil {
		return err
	}

	fmt.Printf("✓ Encoded %d characters to %s\n", len([]rune(*message)), *output)

	if *stats {
		levels := analysis.Levels(samples, codec.SampleRate)
		fmt.Printf("Signal Stats:\n")
		fmt.Printf("  Samples:  %d (%.2f seconds)\n", levels.Samples, levels.Duration)
		fmt.Printf("  Rate:     %d Hz, %d-bit\n", codec.SampleRate, *bits)
		fmt.Printf("  Peak:     %.1f dBFS\n", levels.PeakLevel)
		fmt.Printf("  RMS:      %.1f dBFS\n", levels.RMSLevel)
		fmt.Printf("  Tones:    %d x %d samples\n", len([]rune(*message)), codec.SamplesPerTone(codec.SampleRate))
	}

	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	key := keyFlags(fs)
	var (
		input   = fs.String("input", "", "Input WAV file")
		backend = fs.String("backend", string(codec.BackendGoDSP), "FFT backend (go-dsp or gonum)")
		workers = fs.Int("workers", 0, "Decode workers (0 uses every CPU)")
		verb    = fs.Bool("v", false, "Show per-window detection")
	)
	fs.Parse(args)
	verbose.SetEnabled(*verb)

	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	b, err := codec.ParseBackend(*backend)
	if err != nil {
		return err
	}

	samples, rate, err := wavio.ReadFile(*input)
	if err != nil {
		return err
	}
	verbose.Printf("Read %d samples at %d Hz", len(samples), rate)

	c := codec.New(codec.WithBackend(b), codec.WithWorkers(*workers))
	windows := c.DecodeWindows(samples, rate, key(), func(w codec.WindowResult) {
		verbose.Printf("window %3d @%8d: %8.2f Hz -> %8.2f Hz %q", w.Index, w.Offset, w.Frequency, w.TableFrequency, w.Char)
	})

	message := ""
	for _, w := range windows {
		message += w.Char
	}
	fmt.Println(message)
	return nil
}

func runHash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	text := fs.String("text", "", "Text to hash into a key")
	fs.Parse(args)

	fmt.Println(keyhash.Derive(*text))
	return nil
}
