package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dougsko/tonecodec/pkg/codec"
	"github.com/dougsko/tonecodec/pkg/config"
	"github.com/dougsko/tonecodec/pkg/keyhash"
	"github.com/dougsko/tonecodec/pkg/protocol"
	"github.com/dougsko/tonecodec/pkg/storage"
)

func TestNewCoreEngine(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Without Storage", func(t *testing.T) {
		cfg := createTestConfig(tempDir)
		cfg.Storage.DatabasePath = ""

		engine, err := NewCoreEngine(cfg, filepath.Join(tempDir, "a.sock"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer engine.Stop()

		if engine.recordStore() != nil {
			t.Error("Expected no record store without a database path")
		}
		records, err := engine.History(storage.RecordQuery{})
		if err != nil || len(records) != 0 {
			t.Errorf("Expected empty history, got %v (%v)", records, err)
		}
	})

	t.Run("Unknown Backend", func(t *testing.T) {
		cfg := createTestConfig(tempDir)
		cfg.Codec.FFTBackend = "fftw"

		if _, err := NewCoreEngine(cfg, filepath.Join(tempDir, "b.sock")); err == nil {
			t.Error("Expected error for unknown FFT backend")
		}
	})

	t.Run("Status", func(t *testing.T) {
		cfg := createTestConfig(tempDir)
		cfg.Codec.Workers = 3
		cfg.Codec.FFTBackend = "gonum"

		engine, err := NewCoreEngine(cfg, filepath.Join(tempDir, "c.sock"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer engine.Stop()

		status := engine.Status()
		if status.Backend != "gonum" {
			t.Errorf("Expected backend gonum, got %s", status.Backend)
		}
		if status.Workers != 3 {
			t.Errorf("Expected 3 workers, got %d", status.Workers)
		}
		if status.AlphabetSize != 97 {
			t.Errorf("Expected alphabet size 97, got %d", status.AlphabetSize)
		}
		if !status.Storage {
			t.Error("Expected storage to be enabled")
		}
	})
}

func TestCoreEngineCodec(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-codec-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	engine, err := NewCoreEngine(createTestConfig(tempDir), filepath.Join(tempDir, "codec.sock"))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Stop()

	t.Run("Encode And Decode", func(t *testing.T) {
		encoded := engine.Encode("Hi", "test")
		if len(encoded.Samples) != 26460 {
			t.Fatalf("Expected 26460 samples, got %d", len(encoded.Samples))
		}
		if encoded.KeyFingerprint != "9f86d081884c" {
			t.Errorf("Expected fingerprint 9f86d081884c, got %s", encoded.KeyFingerprint)
		}

		decoded := engine.Decode(encoded.Samples, encoded.SampleRate, "test")
		if decoded.Message != "Hi" {
			t.Errorf("Expected Hi, got %q", decoded.Message)
		}
		if len(decoded.Windows) != 2 {
			t.Errorf("Expected 2 windows, got %d", len(decoded.Windows))
		}
		if decoded.JobID == encoded.JobID {
			t.Error("Expected distinct job ids")
		}
	})

	t.Run("Wrong Key", func(t *testing.T) {
		decoded := engine.Decode(codec.Encode("Hi", "test"), codec.SampleRate, "fail")
		if decoded.Message != "Ťí" {
			t.Errorf("Expected Ťí, got %q", decoded.Message)
		}
	})

	t.Run("Decode Stream", func(t *testing.T) {
		var chars []string
		result := engine.DecodeStream(codec.Encode("abc", "k"), codec.SampleRate, "k", func(w codec.WindowResult) {
			chars = append(chars, w.Char)
		})
		if strings.Join(chars, "") != "abc" || result.Message != "abc" {
			t.Errorf("Expected streamed abc, got %v / %q", chars, result.Message)
		}
	})

	t.Run("Encode To Default Path", func(t *testing.T) {
		result, err := engine.EncodeToFile("Ahoj", "k", "")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if filepath.Dir(result.Path) != filepath.Join(tempDir, "out") {
			t.Errorf("Expected file in output directory, got %s", result.Path)
		}
		if !strings.HasSuffix(result.Path, result.JobID+".wav") {
			t.Errorf("Expected file named after job id, got %s", result.Path)
		}

		decoded, err := engine.DecodeFile(result.Path, "k")
		if err != nil {
			t.Fatalf("Failed to decode file: %v", err)
		}
		if decoded.Message != "Ahoj" {
			t.Errorf("Expected Ahoj, got %q", decoded.Message)
		}
		if decoded.SampleRate != codec.SampleRate {
			t.Errorf("Expected sample rate %d, got %d", codec.SampleRate, decoded.SampleRate)
		}
	})

	t.Run("Decode Missing File", func(t *testing.T) {
		_, err := engine.DecodeFile(filepath.Join(tempDir, "missing.wav"), "k")
		if err == nil {
			t.Fatal("Expected error for missing file")
		}

		failed, err := engine.History(storage.RecordQuery{FailedOnly: true})
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(failed) != 1 || failed[0].Operation != protocol.OpDecode {
			t.Errorf("Expected one failed decode record, got %+v", failed)
		}
	})

	t.Run("Messages Not Stored By Default", func(t *testing.T) {
		records, err := engine.History(storage.RecordQuery{Limit: 100})
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(records) < 7 {
			t.Fatalf("Expected at least 7 records, got %d", len(records))
		}
		for _, r := range records {
			if r.Message != "" {
				t.Errorf("Expected message text to be withheld, got %q", r.Message)
			}
			if r.KeyFingerprint == "" || r.JobID == "" {
				t.Errorf("Expected job id and fingerprint, got %+v", r)
			}
		}
	})
}

func TestCoreEngineStoreMessages(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-messages-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	cfg := createTestConfig(tempDir)
	cfg.Storage.StoreMessages = true

	engine, err := NewCoreEngine(cfg, filepath.Join(tempDir, "m.sock"))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Stop()

	engine.Encode("Dobrý den.", "k")

	records, err := engine.History(storage.RecordQuery{Operation: protocol.OpEncode})
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Message != "Dobrý den." {
		t.Errorf("Expected stored message, got %q", records[0].Message)
	}
	if records[0].MessageLength != 10 {
		t.Errorf("Expected message length 10, got %d", records[0].MessageLength)
	}
}

func TestCoreEngineSubscribe(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-subscribe-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	engine, err := NewCoreEngine(createTestConfig(tempDir), filepath.Join(tempDir, "s.sock"))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Stop()

	id, records := engine.Subscribe()
	result := engine.Encode("x", "k")

	select {
	case rec := <-records:
		if rec.JobID != result.JobID {
			t.Errorf("Expected job %s, got %s", result.JobID, rec.JobID)
		}
		if rec.ID == 0 {
			t.Error("Expected stored row id on published record")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for record")
	}

	engine.Unsubscribe(id)
	if _, ok := <-records; ok {
		t.Error("Expected channel to be closed after unsubscribe")
	}
}

func TestCoreEngineRecord(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-record-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	engine, err := NewCoreEngine(createTestConfig(tempDir), filepath.Join(tempDir, "r.sock"))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Stop()

	result := engine.Encode("Hi", "test")

	rec, err := engine.Record(result.JobID)
	if err != nil {
		t.Fatalf("Failed to look up record: %v", err)
	}
	if rec.Operation != protocol.OpEncode {
		t.Errorf("Expected operation ENCODE, got %s", rec.Operation)
	}
	if rec.KeyFingerprint != keyhash.Fingerprint("test") {
		t.Errorf("Expected fingerprint %s, got %s", keyhash.Fingerprint("test"), rec.KeyFingerprint)
	}

	if _, err := engine.Record("missing"); err != storage.ErrRecordNotFound {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestCheckMessage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DatabasePath = ""
	cfg.Codec.MaxMessageChars = 3

	engine, err := NewCoreEngine(cfg, "")
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := engine.CheckMessage("ěšč"); err != nil {
		t.Errorf("Expected three runes to fit, got: %v", err)
	}
	if err := engine.CheckMessage("ěščř"); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("Expected ErrMessageTooLong, got: %v", err)
	}

	cfg.Codec.MaxMessageChars = 0
	if err := engine.CheckMessage(strings.Repeat("a", 5000)); err != nil {
		t.Errorf("Expected no limit when unset, got: %v", err)
	}
}

func TestCoreEngineStart(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-start-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	cfg := createTestConfig(tempDir)
	socketPath := filepath.Join(tempDir, "test.sock")

	t.Run("Successful Start", func(t *testing.T) {
		engine, err := NewCoreEngine(cfg, socketPath)
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}

		if err := engine.Start(); err != nil {
			t.Fatalf("Failed to start engine: %v", err)
		}

		if !engine.isRunning() {
			t.Error("Expected engine to be running")
		}
		if _, err := os.Stat(socketPath); os.IsNotExist(err) {
			t.Error("Expected socket file to be created")
		}

		engine.Stop()

		if engine.isRunning() {
			t.Error("Expected engine to be stopped")
		}
		if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
			t.Error("Expected socket file to be removed")
		}
	})

	t.Run("Start with Invalid Socket Path", func(t *testing.T) {
		engine, err := NewCoreEngine(cfg, "/invalid/path/test.sock")
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		defer engine.Stop()

		if err := engine.Start(); err == nil {
			t.Error("Expected error when starting with invalid socket path")
		}
	})
}

func TestHandleCommand(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tonecodec-engine-command-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	engine, err := NewCoreEngine(createTestConfig(tempDir), filepath.Join(tempDir, "cmd.sock"))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Stop()

	run := func(line string) *protocol.Response {
		t.Helper()
		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", line, err)
		}
		return engine.handleCommand(cmd)
	}

	t.Run("Unknown Command", func(t *testing.T) {
		resp := run("TRANSMIT")
		if resp.Success || !strings.Contains(resp.Error, "unknown command") {
			t.Errorf("Expected unknown command error, got %+v", resp)
		}
	})

	t.Run("Hash Key", func(t *testing.T) {
		resp := run("HASHKEY:test")
		if !resp.Success {
			t.Fatalf("Expected success, got %s", resp.Error)
		}
		if resp.Data["key"] != "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08" {
			t.Errorf("Unexpected key %v", resp.Data["key"])
		}
	})

	t.Run("Encode With Passphrase", func(t *testing.T) {
		path := filepath.Join(tempDir, "pass.wav")
		resp := run(`{"type":"ENCODE","args":{"passphrase":"test","message":"Hi","path":"` + path + `"}}`)
		if !resp.Success {
			t.Fatalf("Expected success, got %s", resp.Error)
		}

		decoded, err := engine.DecodeFile(path, keyhash.Derive("test"))
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if decoded.Message != "Hi" {
			t.Errorf("Expected Hi, got %q", decoded.Message)
		}
	})

	t.Run("Relative Paths Stay In Output Directory", func(t *testing.T) {
		resp := run(`{"type":"ENCODE","args":{"key":"k","message":"Hi","path":"nested/rel.wav"}}`)
		if !resp.Success {
			t.Fatalf("Expected success, got %s", resp.Error)
		}
		want := filepath.Join(tempDir, "out", "nested", "rel.wav")
		if resp.Data["path"] != want {
			t.Errorf("Expected path %s, got %v", want, resp.Data["path"])
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("Expected file at %s: %v", want, err)
		}

		resp = run(`{"type":"DECODE","args":{"key":"k","path":"nested/rel.wav"}}`)
		if !resp.Success {
			t.Fatalf("Expected relative decode to succeed, got %s", resp.Error)
		}
	})

	t.Run("Escaping Paths Rejected", func(t *testing.T) {
		for _, line := range []string{
			`{"type":"ENCODE","args":{"key":"k","message":"Hi","path":"../escape.wav"}}`,
			`{"type":"DECODE","args":{"key":"k","path":"../../etc/passwd"}}`,
		} {
			resp := run(line)
			if resp.Success || !strings.Contains(resp.Error, "escapes the output directory") {
				t.Errorf("Expected escape error for %s, got %+v", line, resp)
			}
		}
		if _, err := os.Stat(filepath.Join(tempDir, "escape.wav")); !os.IsNotExist(err) {
			t.Error("Expected no file written outside the output directory")
		}
	})

	t.Run("Encode Message Too Long", func(t *testing.T) {
		engine.config.Codec.MaxMessageChars = 4
		defer func() { engine.config.Codec.MaxMessageChars = 1024 }()

		resp := run(`{"type":"ENCODE","args":{"key":"k","message":"Hello"}}`)
		if resp.Success || !strings.Contains(resp.Error, "message too long") {
			t.Errorf("Expected message too long error, got %+v", resp)
		}
	})

	t.Run("Decode Requires Path", func(t *testing.T) {
		resp := run(`{"type":"DECODE","args":{"key":"k"}}`)
		if resp.Success {
			t.Error("Expected error without path")
		}
	})

	t.Run("History Bad Limit", func(t *testing.T) {
		resp := run("HISTORY:many")
		if resp.Success {
			t.Error("Expected error for bad limit")
		}
	})
}

// Helper function to create a basic test configuration
func createTestConfig(tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Codec.Workers = 2
	cfg.Codec.OutputDirectory = filepath.Join(tempDir, "out")
	cfg.Storage.DatabasePath = filepath.Join(tempDir, "test.db")
	cfg.Storage.MaxRecords = 1000
	cfg.Logging.Level = "error"
	return cfg
}
