package config

import (
	"fmt"
	"os"

	"github.com/dougsko/tonecodec/pkg/codec"
	"github.com/dougsko/tonecodec/pkg/wavio"
	"gopkg.in/yaml.v2"
)

// Config represents the tonecodec configuration
type Config struct {
	Codec struct {
		Workers         int    `yaml:"workers"` // 0 uses every CPU
		FFTBackend      string `yaml:"fft_backend"`
		BitDepth        int    `yaml:"bit_depth"`
		OutputDirectory string `yaml:"output_directory"`
		MaxMessageChars int    `yaml:"max_message_chars"`
	} `yaml:"codec"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
		MaxUploadMB int    `yaml:"max_upload_mb"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath  string `yaml:"database_path"`
		MaxRecords    int    `yaml:"max_records"`
		StoreMessages bool   `yaml:"store_messages"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`    // megabytes
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`     // days
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.Logging.Console = true
	config.Logging.Compress = true
	config.applyDefaults()
	return &config
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	// Booleans that default to true must be set before parsing
	config.Logging.Console = true
	config.Logging.Compress = true
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Codec.FFTBackend == "" {
		c.Codec.FFTBackend = string(codec.BackendGoDSP)
	}
	if c.Codec.BitDepth == 0 {
		c.Codec.BitDepth = wavio.DefaultBitDepth
	}
	if c.Codec.OutputDirectory == "" {
		c.Codec.OutputDirectory = "./out"
	}
	if c.Codec.MaxMessageChars == 0 {
		c.Codec.MaxMessageChars = 1024
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Web.MaxUploadMB == 0 {
		c.Web.MaxUploadMB = 32
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/tonecodecd.sock"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./tonecodec.db"
	}
	if c.Storage.MaxRecords == 0 {
		c.Storage.MaxRecords = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Codec.Workers < 0 {
		return fmt.Errorf("codec workers must not be negative")
	}
	if _, err := codec.ParseBackend(c.Codec.FFTBackend); err != nil {
		return err
	}
	if !wavio.ValidBitDepth(c.Codec.BitDepth) {
		return fmt.Errorf("unsupported bit depth %d", c.Codec.BitDepth)
	}
	if c.Codec.MaxMessageChars < 0 {
		return fmt.Errorf("max message chars must not be negative")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	if c.Web.MaxUploadMB < 0 {
		return fmt.Errorf("max upload size must not be negative")
	}
	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("max records must not be negative")
	}
	return nil
}

// MaxUploadBytes returns the request body limit for uploads
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Web.MaxUploadMB) << 20
}
