package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/dougsko/tonecodec/pkg/analysis"
	"github.com/dougsko/tonecodec/pkg/codec"
	"github.com/dougsko/tonecodec/pkg/keyhash"
	"github.com/dougsko/tonecodec/pkg/logging"
	"github.com/dougsko/tonecodec/pkg/protocol"
	"github.com/dougsko/tonecodec/pkg/storage"
	"github.com/dougsko/tonecodec/pkg/wavio"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const defaultSpectrumBins = 512

// keyRequest carries either a literal key or a passphrase to hash
type keyRequest struct {
	Key        string  `json:"key" form:"key"`
	Passphrase *string `json:"passphrase" form:"passphrase"`
}

func (k keyRequest) resolve() string {
	if k.Passphrase != nil {
		return keyhash.Derive(*k.Passphrase)
	}
	return k.Key
}

type encodeRequest struct {
	keyRequest
	Message  string `json:"message"`
	BitDepth int    `json:"bit_depth"`
}

// handleGetStatus returns the daemon status
func (d *Daemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleHashKey derives a key from a passphrase
func (d *Daemon) handleHashKey(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	key := keyhash.Derive(req.Text)
	c.JSON(http.StatusOK, gin.H{
		"key":         key,
		"fingerprint": keyhash.Fingerprint(key),
	})
}

// handleEncode synthesizes a message and returns it as a WAV file
func (d *Daemon) handleEncode(c *gin.Context) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := d.coreEngine.CheckMessage(req.Message); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	bits := req.BitDepth
	if bits == 0 {
		bits = d.config.Codec.BitDepth
	}
	if !wavio.ValidBitDepth(bits) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported bit depth: %d", bits)})
		return
	}

	result := d.coreEngine.Encode(req.Message, req.resolve())

	data, err := renderWAV(result.Samples, result.SampleRate, bits)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Job-ID", result.JobID)
	c.Header("X-Key-Fingerprint", result.KeyFingerprint)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, result.JobID))
	c.Data(http.StatusOK, "audio/wav", data)
}

// renderWAV encodes samples through a temporary file, since the WAV
// encoder needs to seek back and patch its header
func renderWAV(samples []float64, sampleRate, bits int) ([]byte, error) {
	f, err := os.CreateTemp("", "tonecodecd-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := wavio.Write(f, samples, sampleRate, wavio.WithBitDepth(bits)); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// readUpload reads the WAV file posted in the "file" form field
func readUpload(c *gin.Context) ([]float64, int, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, 0, fmt.Errorf("file is required: %w", err)
	}

	f, err := header.Open()
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	return wavio.Read(f)
}

// uploadStatus maps an upload error to a status code
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return http.StatusRequestEntityTooLarge
	}
	var readErr *wavio.WaveformReadError
	if errors.As(err, &readErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// handleDecode decodes an uploaded WAV file
func (d *Daemon) handleDecode(c *gin.Context) {
	var key keyRequest
	if err := c.ShouldBind(&key); err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	samples, rate, err := readUpload(c)
	if err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	result := d.coreEngine.Decode(samples, rate, key.resolve())
	c.JSON(http.StatusOK, result)
}

// handleAnalyze reports levels and a reduced spectrum for an uploaded WAV file
func (d *Daemon) handleAnalyze(c *gin.Context) {
	bins, err := strconv.Atoi(c.DefaultQuery("bins", strconv.Itoa(defaultSpectrumBins)))
	if err != nil || bins <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bins parameter"})
		return
	}

	samples, rate, err := readUpload(c)
	if err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"levels":   analysis.Levels(samples, rate),
		"spectrum": analysis.Spectrum(samples, rate).Reduce(bins),
	})
}

// handleGetHistory returns stored job records
func (d *Daemon) handleGetHistory(c *gin.Context) {
	query := storage.RecordQuery{
		Operation:      strings.ToUpper(c.Query("operation")),
		KeyFingerprint: c.Query("key"),
		FailedOnly:     c.Query("failed") == "true",
	}

	var err error
	if query.Limit, err = strconv.Atoi(c.DefaultQuery("limit", "50")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}
	if query.Offset, err = strconv.Atoi(c.DefaultQuery("offset", "0")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})
		return
	}
	switch query.Operation {
	case "", protocol.OpEncode, protocol.OpDecode:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operation parameter"})
		return
	}

	records, err := d.coreEngine.History(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"limit":   query.Limit,
		"offset":  query.Offset,
	})
}

// handleGetRecord returns one job record
func (d *Daemon) handleGetRecord(c *gin.Context) {
	record, err := d.coreEngine.Record(c.Param("job"))
	if errors.Is(err, storage.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleGetStats returns history statistics
func (d *Daemon) handleGetStats(c *gin.Context) {
	stats, err := d.socketClient.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleCleanup applies the history retention limit
func (d *Daemon) handleCleanup(c *gin.Context) {
	removed, err := d.socketClient.Cleanup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// streamMessage is one frame sent to a decode stream client
type streamMessage struct {
	Type    string              `json:"type"`
	Window  *codec.WindowResult `json:"window,omitempty"`
	Level   *analysis.LevelData `json:"level,omitempty"`
	JobID   string              `json:"job_id,omitempty"`
	Message string              `json:"message,omitempty"`
	Windows int                 `json:"windows,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// handleDecodeWebSocket decodes WAV payloads and streams per-window
// results. The client first sends {"key": ...} or {"passphrase": ...}
// as text, then any number of binary WAV messages.
func (d *Daemon) handleDecodeWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("websocket", "upgrade error: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(d.config.MaxUploadBytes())

	var key keyRequest
	if err := conn.ReadJSON(&key); err != nil {
		conn.WriteJSON(streamMessage{Type: "error", Error: "expected key message: " + err.Error()})
		return
	}
	resolved := key.resolve()

	logging.Info("websocket", "decode stream opened", logging.Fields{
		"remote": c.Request.RemoteAddr,
		"key":    keyhash.Fingerprint(resolved),
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warnf("websocket", "decode stream read error: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			conn.WriteJSON(streamMessage{Type: "error", Error: "expected binary WAV message"})
			continue
		}

		samples, rate, err := wavio.Read(bytes.NewReader(payload))
		if err != nil {
			conn.WriteJSON(streamMessage{Type: "error", Error: err.Error()})
			continue
		}

		var writeErr error
		size := codec.SamplesPerTone(rate)
		result := d.coreEngine.DecodeStream(samples, rate, resolved, func(w codec.WindowResult) {
			if writeErr != nil {
				return
			}
			level := analysis.Levels(samples[w.Offset:w.Offset+size], rate)
			window := w
			writeErr = conn.WriteJSON(streamMessage{Type: "window", Window: &window, Level: &level})
		})
		if writeErr != nil {
			logging.Warnf("websocket", "decode stream write error: %v", writeErr)
			return
		}

		if err := conn.WriteJSON(streamMessage{
			Type:    "done",
			JobID:   result.JobID,
			Message: result.Message,
			Windows: len(result.Windows),
		}); err != nil {
			return
		}
	}
}

// handleEventsWebSocket streams every completed job record
func (d *Daemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("websocket", "upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, records := d.coreEngine.Subscribe()
	defer d.coreEngine.Unsubscribe(id)

	// Reader goroutine notices when the client goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-closed:
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				logging.Warnf("websocket", "events write error: %v", err)
				return
			}
		}
	}
}
