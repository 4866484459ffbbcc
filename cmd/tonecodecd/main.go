package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/tonecodec/pkg/config"
	"github.com/dougsko/tonecodec/pkg/engine"
	"github.com/dougsko/tonecodec/pkg/logging"
)

var (
	configPath = flag.String("config", "", "Configuration file path (defaults are used when empty)")
	version    = flag.Bool("version", false, "Show version information")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("tonecodecd version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "tonecodecd version %s starting...", engine.Version)
	logging.Infof("main", "FFT backend: %s, workers: %d, bit depth: %d",
		cfg.Codec.FFTBackend, cfg.Codec.Workers, cfg.Codec.BitDepth)
	logging.Infof("main", "Web API: http://%s:%d/api/v1", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Info("main", "tonecodecd started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "tonecodecd stopped")
}
