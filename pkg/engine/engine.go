// Package engine runs the codec behind a Unix control socket and keeps
// job history.
//
// Anyone who can connect to the socket can make the daemon read and
// write WAV files. Relative paths in ENCODE and DECODE commands resolve
// under codec.output_directory and may not leave it; absolute paths are
// used as given, so socket access should be limited to trusted users.
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dougsko/tonecodec/pkg/codec"
	"github.com/dougsko/tonecodec/pkg/config"
	"github.com/dougsko/tonecodec/pkg/keyhash"
	"github.com/dougsko/tonecodec/pkg/logging"
	"github.com/dougsko/tonecodec/pkg/protocol"
	"github.com/dougsko/tonecodec/pkg/storage"
	"github.com/dougsko/tonecodec/pkg/wavio"
	"github.com/rs/xid"
)

// Version is reported by STATUS
const Version = "0.1.0"

// maxCommandSize bounds one line on the control socket
const maxCommandSize = 1 << 20

// ErrMessageTooLong is returned for messages over codec.max_message_chars
var ErrMessageTooLong = errors.New("message too long")

// EncodeResult describes a finished encode job
type EncodeResult struct {
	JobID          string    `json:"job_id"`
	KeyFingerprint string    `json:"key_fingerprint"`
	Samples        []float64 `json:"-"`
	SampleRate     int       `json:"sample_rate"`
	SampleCount    int       `json:"samples"`
	Path           string    `json:"path,omitempty"`
}

// DecodeResult describes a finished decode job
type DecodeResult struct {
	JobID          string               `json:"job_id"`
	KeyFingerprint string               `json:"key_fingerprint"`
	Message        string               `json:"message"`
	Windows        []codec.WindowResult `json:"windows"`
	SampleRate     int                  `json:"sample_rate"`
	SampleCount    int                  `json:"samples"`
	Path           string               `json:"path,omitempty"`
}

// CoreEngine owns the codec, the history store and the control socket
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time

	codec *codec.Codec
	store *storage.RecordStore // nil when history is disabled

	subscribers map[int]chan protocol.Record
	nextSubID   int
	subMutex    sync.RWMutex
}

// NewCoreEngine creates a new core engine. History is kept when the
// configuration names a database path.
func NewCoreEngine(cfg *config.Config, socketPath string) (*CoreEngine, error) {
	backend, err := codec.ParseBackend(cfg.Codec.FFTBackend)
	if err != nil {
		return nil, err
	}

	e := &CoreEngine{
		config:      cfg,
		socketPath:  socketPath,
		startTime:   time.Now(),
		codec:       codec.New(codec.WithWorkers(cfg.Codec.Workers), codec.WithBackend(backend)),
		subscribers: make(map[int]chan protocol.Record),
	}

	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewRecordStore(cfg.Storage.DatabasePath, cfg.Storage.MaxRecords)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	return e, nil
}

// Start starts the Unix socket server
func (e *CoreEngine) Start() error {
	// Remove existing socket file
	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}

	// Set socket permissions (readable/writable by owner and group)
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "failed to set socket permissions: %v", err)
	}

	e.mutex.Lock()
	e.listener = listener
	e.running = true
	e.mutex.Unlock()

	logging.Info("engine", "Core engine listening", logging.Fields{
		"socket":  e.socketPath,
		"backend": string(e.codec.Backend()),
	})

	go e.acceptConnections(listener)

	return nil
}

// Stop stops the socket server and closes the history store
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	wasRunning := e.running
	e.running = false
	listener := e.listener
	e.listener = nil
	e.mutex.Unlock()

	if listener != nil {
		listener.Close()
	}
	if wasRunning {
		os.Remove(e.socketPath)
	}

	e.subMutex.Lock()
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	e.subMutex.Unlock()

	e.mutex.Lock()
	store := e.store
	e.store = nil
	e.mutex.Unlock()

	if store != nil {
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close record store: %w", err)
		}
	}

	return nil
}

func (e *CoreEngine) recordStore() *storage.RecordStore {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.store
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// Codec returns the engine's codec
func (e *CoreEngine) Codec() *codec.Codec {
	return e.codec
}

// CheckMessage reports ErrMessageTooLong when message has more runes
// than the configured limit
func (e *CoreEngine) CheckMessage(message string) error {
	limit := e.config.Codec.MaxMessageChars
	if n := utf8.RuneCountInString(message); limit > 0 && n > limit {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, limit)
	}
	return nil
}

// resolvePath places relative paths under the output directory
func (e *CoreEngine) resolvePath(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("path %q escapes the output directory", path)
	}
	return filepath.Join(e.config.Codec.OutputDirectory, path), nil
}

// Encode synthesizes message under key
func (e *CoreEngine) Encode(message, key string) *EncodeResult {
	started := time.Now()
	samples := e.codec.Encode(message, key)

	result := &EncodeResult{
		JobID:          xid.New().String(),
		KeyFingerprint: keyhash.Fingerprint(key),
		Samples:        samples,
		SampleRate:     codec.SampleRate,
		SampleCount:    len(samples),
	}

	e.record(protocol.Record{
		JobID:          result.JobID,
		Operation:      protocol.OpEncode,
		KeyFingerprint: result.KeyFingerprint,
		MessageLength:  len([]rune(message)),
		Message:        message,
		Samples:        result.SampleCount,
		SampleRate:     result.SampleRate,
	}, started)

	return result
}

// EncodeToFile encodes message and writes it as a WAV file. An empty
// path writes <job id>.wav into the configured output directory.
func (e *CoreEngine) EncodeToFile(message, key, path string) (*EncodeResult, error) {
	started := time.Now()
	samples := e.codec.Encode(message, key)

	result := &EncodeResult{
		JobID:          xid.New().String(),
		KeyFingerprint: keyhash.Fingerprint(key),
		Samples:        samples,
		SampleRate:     codec.SampleRate,
		SampleCount:    len(samples),
		Path:           path,
	}
	if result.Path == "" {
		result.Path = filepath.Join(e.config.Codec.OutputDirectory, result.JobID+".wav")
	}

	rec := protocol.Record{
		JobID:          result.JobID,
		Operation:      protocol.OpEncode,
		KeyFingerprint: result.KeyFingerprint,
		MessageLength:  len([]rune(message)),
		Message:        message,
		Samples:        result.SampleCount,
		SampleRate:     result.SampleRate,
		Path:           result.Path,
	}

	err := e.writeWAV(result.Path, samples)
	if err != nil {
		rec.Error = err.Error()
	}
	e.record(rec, started)

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *CoreEngine) writeWAV(path string, samples []float64) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return wavio.WriteFile(path, samples, codec.SampleRate, wavio.WithBitDepth(e.config.Codec.BitDepth))
}

// Decode recovers the message carried by samples
func (e *CoreEngine) Decode(samples []float64, sampleRate int, key string) *DecodeResult {
	return e.DecodeStream(samples, sampleRate, key, nil)
}

// DecodeStream decodes like Decode and calls fn for every window in order
func (e *CoreEngine) DecodeStream(samples []float64, sampleRate int, key string, fn func(codec.WindowResult)) *DecodeResult {
	started := time.Now()
	result := e.decode(samples, sampleRate, key, fn, started)
	e.recordDecode(result, "", started)
	return result
}

func (e *CoreEngine) decode(samples []float64, sampleRate int, key string, fn func(codec.WindowResult), started time.Time) *DecodeResult {
	windows := e.codec.DecodeWindows(samples, sampleRate, key, fn)

	message := make([]rune, 0, len(windows))
	for _, w := range windows {
		message = append(message, []rune(w.Char)...)
	}

	result := &DecodeResult{
		JobID:          xid.New().String(),
		KeyFingerprint: keyhash.Fingerprint(key),
		Message:        string(message),
		Windows:        windows,
		SampleRate:     sampleRate,
		SampleCount:    len(samples),
	}

	logging.WithFields(logging.Fields{
		"job":     result.JobID,
		"key":     result.KeyFingerprint,
		"windows": len(windows),
	}).Debugf("engine", "decoded in %s", time.Since(started))

	return result
}

func (e *CoreEngine) recordDecode(result *DecodeResult, errText string, started time.Time) {
	e.record(protocol.Record{
		JobID:          result.JobID,
		Operation:      protocol.OpDecode,
		KeyFingerprint: result.KeyFingerprint,
		MessageLength:  len([]rune(result.Message)),
		Message:        result.Message,
		Samples:        result.SampleCount,
		SampleRate:     result.SampleRate,
		Path:           result.Path,
		Error:          errText,
	}, started)
}

// DecodeFile reads a WAV file and decodes it
func (e *CoreEngine) DecodeFile(path, key string) (*DecodeResult, error) {
	started := time.Now()

	samples, rate, err := wavio.ReadFile(path)
	if err != nil {
		failed := &DecodeResult{
			JobID:          xid.New().String(),
			KeyFingerprint: keyhash.Fingerprint(key),
			Path:           path,
		}
		e.recordDecode(failed, err.Error(), started)
		return nil, err
	}

	result := e.decode(samples, rate, key, nil, started)
	result.Path = path
	e.recordDecode(result, "", started)
	return result, nil
}

// record logs a finished job, stores it and publishes it to subscribers
func (e *CoreEngine) record(rec protocol.Record, started time.Time) {
	rec.Timestamp = time.Now()
	rec.DurationMS = float64(time.Since(started).Microseconds()) / 1000

	fields := logging.Fields{
		"job":     rec.JobID,
		"key":     rec.KeyFingerprint,
		"length":  rec.MessageLength,
		"samples": rec.Samples,
	}
	if rec.Path != "" {
		fields["path"] = rec.Path
	}
	if rec.Failed() {
		fields["error"] = rec.Error
		logging.Error("engine", rec.Operation+" failed", fields)
	} else {
		logging.Info("engine", rec.Operation+" complete", fields)
	}

	if !e.config.Storage.StoreMessages {
		rec.Message = ""
	}

	if store := e.recordStore(); store != nil {
		id, err := store.StoreRecord(rec)
		if err != nil {
			logging.Errorf("engine", "failed to store record %s: %v", rec.JobID, err)
		} else {
			rec.ID = id
		}
	}

	e.publish(rec)
}

// Subscribe returns a channel that receives every completed record
func (e *CoreEngine) Subscribe() (int, <-chan protocol.Record) {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	e.nextSubID++
	ch := make(chan protocol.Record, 32)
	e.subscribers[e.nextSubID] = ch
	return e.nextSubID, ch
}

// Unsubscribe stops delivery to a subscriber and closes its channel
func (e *CoreEngine) Unsubscribe(id int) {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	if ch, ok := e.subscribers[id]; ok {
		close(ch)
		delete(e.subscribers, id)
	}
}

func (e *CoreEngine) publish(rec protocol.Record) {
	e.subMutex.RLock()
	defer e.subMutex.RUnlock()

	for id, ch := range e.subscribers {
		select {
		case ch <- rec:
		default:
			logging.Warnf("engine", "subscriber %d is full, dropping record %s", id, rec.JobID)
		}
	}
}

// History returns stored records matching query
func (e *CoreEngine) History(query storage.RecordQuery) ([]protocol.Record, error) {
	store := e.recordStore()
	if store == nil {
		return []protocol.Record{}, nil
	}
	records, err := store.GetRecords(query)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []protocol.Record{}
	}
	return records, nil
}

// Record returns the stored record for jobID
func (e *CoreEngine) Record(jobID string) (*protocol.Record, error) {
	store := e.recordStore()
	if store == nil {
		return nil, storage.ErrRecordNotFound
	}
	return store.GetRecord(jobID)
}

// Stats returns history statistics
func (e *CoreEngine) Stats() (*storage.RecordStats, error) {
	store := e.recordStore()
	if store == nil {
		return &storage.RecordStats{}, nil
	}
	return store.GetRecordStats()
}

// Cleanup applies the record retention limit
func (e *CoreEngine) Cleanup() (int64, error) {
	store := e.recordStore()
	if store == nil {
		return 0, nil
	}
	removed, err := store.CleanupOldRecords()
	if err != nil {
		return 0, err
	}
	logging.Infof("engine", "cleanup removed %d records", removed)
	return removed, nil
}

// Status returns the current engine status
func (e *CoreEngine) Status() protocol.Status {
	return protocol.Status{
		Version:      Version,
		Uptime:       time.Since(e.startTime).Round(time.Second).String(),
		StartTime:    e.startTime,
		Backend:      string(e.codec.Backend()),
		Workers:      e.codec.Workers(),
		AlphabetSize: len([]rune(codec.Alphabet)),
		SampleRate:   codec.SampleRate,
		BitDepth:     e.config.Codec.BitDepth,
		Storage:      e.recordStore() != nil,
	}
}

// acceptConnections accepts and handles socket connections
func (e *CoreEngine) acceptConnections(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if e.isRunning() {
				logging.Errorf("engine", "socket accept error: %v", err)
				continue
			}
			return
		}

		go e.handleConnection(conn)
	}
}

// handleConnection handles a single socket connection
func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCommandSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.handleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		// Close connection after QUIT command
		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}
