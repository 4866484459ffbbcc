package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dougsko/tonecodec/pkg/client"
	"github.com/dougsko/tonecodec/pkg/config"
	"github.com/dougsko/tonecodec/pkg/engine"
	"github.com/dougsko/tonecodec/pkg/logging"
	"github.com/gin-gonic/gin"
)

// Daemon runs the core engine and its HTTP API
type Daemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	router       *gin.Engine
	webServer    *http.Server

	socketPath string
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = "/tmp/tonecodecd.sock"
	}

	coreEngine, err := engine.NewCoreEngine(cfg, socketPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create core engine: %w", err)
	}

	daemon := &Daemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   socketPath,
		coreEngine:   coreEngine,
		socketClient: client.NewSocketClient(socketPath),
	}

	daemon.setupWebServer()

	return daemon, nil
}

// Start starts the core engine and the web server
func (d *Daemon) Start() error {
	logging.Info("daemon", "Starting tonecodecd daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Errorf("daemon", "Web server shutdown error: %v", err)
		}
	}

	if err := d.coreEngine.Stop(); err != nil {
		logging.Errorf("daemon", "Core engine shutdown error: %v", err)
	}

	d.wg.Wait()

	logging.Info("daemon", "Daemon stopped")
	return nil
}

// setupWebServer initializes the router and HTTP server
func (d *Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.MaxMultipartMemory = d.config.MaxUploadBytes()

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.POST("/key", d.handleHashKey)
		api.POST("/encode", d.limitBody(), d.handleEncode)
		api.POST("/decode", d.limitBody(), d.handleDecode)
		api.POST("/analyze", d.limitBody(), d.handleAnalyze)
		api.GET("/history", d.handleGetHistory)
		api.GET("/history/:job", d.handleGetRecord)
		api.GET("/stats", d.handleGetStats)
		api.POST("/cleanup", d.handleCleanup)
	}

	router.GET("/ws/decode", d.handleDecodeWebSocket)
	router.GET("/ws/events", d.handleEventsWebSocket)

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}
}

// requestLogger logs each request through the component logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("http", c.Request.Method+" "+c.Request.URL.Path, logging.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}

// limitBody caps upload size at web.max_upload_mb
func (d *Daemon) limitBody() gin.HandlerFunc {
	limit := d.config.MaxUploadBytes()
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
