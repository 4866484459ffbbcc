package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary directory for test files
	tempDir, err := os.MkdirTemp("", "tonecodec-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Valid Config", func(t *testing.T) {
		configContent := `
codec:
  workers: 4
  fft_backend: "gonum"
  bit_depth: 24
  output_directory: "/tmp/tones"

web:
  port: 9090
  bind_address: "127.0.0.1"
  max_upload_mb: 8

api:
  unix_socket: "/tmp/test-tonecodecd.sock"

storage:
  database_path: "/tmp/tonecodec.db"
  max_records: 5000
  store_messages: true

logging:
  level: "debug"
  file: "/var/log/tonecodec.log"
  console: false
  structured: true
  max_size: 50
`
		configPath := filepath.Join(tempDir, "valid.yaml")
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		// Test parsed values
		if config.Codec.Workers != 4 {
			t.Errorf("Expected 4 workers, got %d", config.Codec.Workers)
		}
		if config.Codec.FFTBackend != "gonum" {
			t.Errorf("Expected FFT backend gonum, got %s", config.Codec.FFTBackend)
		}
		if config.Codec.BitDepth != 24 {
			t.Errorf("Expected bit depth 24, got %d", config.Codec.BitDepth)
		}
		if config.Codec.OutputDirectory != "/tmp/tones" {
			t.Errorf("Expected output directory /tmp/tones, got %s", config.Codec.OutputDirectory)
		}
		if config.Web.Port != 9090 {
			t.Errorf("Expected web port 9090, got %d", config.Web.Port)
		}
		if config.MaxUploadBytes() != 8<<20 {
			t.Errorf("Expected upload limit %d, got %d", 8<<20, config.MaxUploadBytes())
		}
		if config.API.UnixSocket != "/tmp/test-tonecodecd.sock" {
			t.Errorf("Expected unix socket /tmp/test-tonecodecd.sock, got %s", config.API.UnixSocket)
		}
		if config.Storage.MaxRecords != 5000 {
			t.Errorf("Expected max records 5000, got %d", config.Storage.MaxRecords)
		}
		if !config.Storage.StoreMessages {
			t.Error("Expected store_messages to be true")
		}
		if config.Logging.Level != "debug" {
			t.Errorf("Expected log level debug, got %s", config.Logging.Level)
		}
		if config.Logging.Console {
			t.Error("Expected console logging to be disabled")
		}
		if !config.Logging.Structured {
			t.Error("Expected structured logging")
		}
		if config.Logging.MaxSize != 50 {
			t.Errorf("Expected max size 50, got %d", config.Logging.MaxSize)
		}
	})

	t.Run("Config With Defaults", func(t *testing.T) {
		// Minimal config that should get defaults applied
		configContent := `
web:
  port: 8081
`
		configPath := filepath.Join(tempDir, "minimal.yaml")
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		// Test default values
		if config.Codec.Workers != 0 {
			t.Errorf("Expected default workers 0, got %d", config.Codec.Workers)
		}
		if config.Codec.FFTBackend != "go-dsp" {
			t.Errorf("Expected default FFT backend go-dsp, got %s", config.Codec.FFTBackend)
		}
		if config.Codec.BitDepth != 16 {
			t.Errorf("Expected default bit depth 16, got %d", config.Codec.BitDepth)
		}
		if config.Codec.MaxMessageChars != 1024 {
			t.Errorf("Expected default max message chars 1024, got %d", config.Codec.MaxMessageChars)
		}
		if config.Web.Port != 8081 {
			t.Errorf("Expected web port 8081, got %d", config.Web.Port)
		}
		if config.Web.BindAddress != "0.0.0.0" {
			t.Errorf("Expected default bind address 0.0.0.0, got %s", config.Web.BindAddress)
		}
		if config.Web.MaxUploadMB != 32 {
			t.Errorf("Expected default upload limit 32, got %d", config.Web.MaxUploadMB)
		}
		if config.API.UnixSocket != "/tmp/tonecodecd.sock" {
			t.Errorf("Expected default unix socket, got %s", config.API.UnixSocket)
		}
		if config.Storage.MaxRecords != 10000 {
			t.Errorf("Expected default max records 10000, got %d", config.Storage.MaxRecords)
		}
		if config.Storage.StoreMessages {
			t.Error("Expected store_messages to default to false")
		}
		if config.Logging.Level != "info" {
			t.Errorf("Expected default log level info, got %s", config.Logging.Level)
		}
		if !config.Logging.Console {
			t.Error("Expected console logging to default to true")
		}
		if !config.Logging.Compress {
			t.Error("Expected compression to default to true")
		}
		if config.Logging.MaxBackups != 3 || config.Logging.MaxAge != 28 {
			t.Errorf("Expected rotation defaults 3/28, got %d/%d", config.Logging.MaxBackups, config.Logging.MaxAge)
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tempDir, "nonexistent.yaml"))
		if err == nil {
			t.Error("Expected error for missing file, got nil")
		}
		if !strings.Contains(err.Error(), "failed to read config file") {
			t.Errorf("Expected read error, got: %v", err)
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "invalid.yaml")
		if err := os.WriteFile(configPath, []byte("codec: [unclosed"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		_, err := LoadConfig(configPath)
		if err == nil {
			t.Error("Expected error for invalid YAML, got nil")
		}
		if !strings.Contains(err.Error(), "failed to parse config file") {
			t.Errorf("Expected parse error, got: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Defaults Are Valid", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Errorf("Expected no error for default config, got: %v", err)
		}
	})

	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "Negative Workers",
			modify: func(c *Config) { c.Codec.Workers = -1 },
			errMsg: "codec workers must not be negative",
		},
		{
			name:   "Unknown Backend",
			modify: func(c *Config) { c.Codec.FFTBackend = "fftw" },
			errMsg: "unknown FFT backend",
		},
		{
			name:   "Bad Bit Depth",
			modify: func(c *Config) { c.Codec.BitDepth = 12 },
			errMsg: "unsupported bit depth 12",
		},
		{
			name:   "Negative Message Cap",
			modify: func(c *Config) { c.Codec.MaxMessageChars = -1 },
			errMsg: "max message chars must not be negative",
		},
		{
			name:   "Bad Port",
			modify: func(c *Config) { c.Web.Port = 70000 },
			errMsg: "invalid web port",
		},
		{
			name:   "Negative Retention",
			modify: func(c *Config) { c.Storage.MaxRecords = -5 },
			errMsg: "max records must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestConfigIntegration(t *testing.T) {
	// Test the full flow: load -> validate
	tempDir, err := os.MkdirTemp("", "tonecodec-config-integration")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configContent := `
codec:
  fft_backend: "go-dsp"
  bit_depth: 32

storage:
  database_path: "` + filepath.Join(tempDir, "history.db") + `"

logging:
  level: "info"
  console: true
`

	configPath := filepath.Join(tempDir, "integration.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		t.Fatalf("Failed to validate config: %v", err)
	}

	if config.Codec.BitDepth != 32 {
		t.Errorf("Expected bit depth 32, got %d", config.Codec.BitDepth)
	}
	if config.Storage.DatabasePath != filepath.Join(tempDir, "history.db") {
		t.Errorf("Expected database path in temp dir, got %s", config.Storage.DatabasePath)
	}

	// Verify defaults were applied
	if config.Storage.MaxRecords != 10000 {
		t.Errorf("Expected default max records, got %d", config.Storage.MaxRecords)
	}
}
