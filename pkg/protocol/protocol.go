package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Record is one encode or decode job kept in the history store
type Record struct {
	ID             int64     `json:"id"`
	JobID          string    `json:"job_id"`
	Timestamp      time.Time `json:"timestamp"`
	Operation      string    `json:"operation"`
	KeyFingerprint string    `json:"key_fingerprint"`
	MessageLength  int       `json:"message_length"`
	Message        string    `json:"message,omitempty"` // only kept when store_messages is on
	Samples        int       `json:"samples"`
	SampleRate     int       `json:"sample_rate"`
	Path           string    `json:"path,omitempty"`
	DurationMS     float64   `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// Failed reports whether the job ended with an error
func (r Record) Failed() bool {
	return r.Error != ""
}

// Status represents the current daemon status
type Status struct {
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	Backend      string    `json:"fft_backend"`
	Workers      int       `json:"workers"`
	AlphabetSize int       `json:"alphabet_size"`
	SampleRate   int       `json:"sample_rate"`
	BitDepth     int       `json:"bit_depth"`
	Storage      bool      `json:"storage"`
}

// ParseCommand parses a text or JSON command into a Command struct.
// Text commands look like TYPE[:args]; JSON commands are objects with
// "type" and "args" members.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(text, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return nil, fmt.Errorf("invalid JSON command: %w", err)
		}
		cmd.Type = strings.ToUpper(strings.TrimSpace(cmd.Type))
		if cmd.Type == "" {
			return nil, fmt.Errorf("command type is required")
		}
		if cmd.Args == nil {
			cmd.Args = make(map[string]interface{})
		}
		return &cmd, nil
	}

	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	switch cmd.Type {
	case CmdEncode, CmdDecode:
		// Keys and messages may contain ':' so only JSON is accepted
		return nil, fmt.Errorf("%s requires the JSON command form", cmd.Type)
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case CmdHistory:
			// HISTORY:10 or HISTORY:ENCODE:10
			historyParts := strings.SplitN(args, ":", 2)
			op := strings.ToUpper(historyParts[0])
			if op == OpEncode || op == OpDecode {
				cmd.Args["operation"] = op
				if len(historyParts) > 1 {
					cmd.Args["limit"] = historyParts[1]
				}
			} else {
				cmd.Args["limit"] = args
			}

		case CmdHashKey:
			// HASHKEY:correct horse battery staple
			cmd.Args["text"] = args
		}
	}

	return cmd, nil
}

// StringArg returns a string argument or ""
func (c *Command) StringArg(name string) string {
	switch v := c.Args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// IntArg returns an integer argument, accepting JSON numbers and text
func (c *Command) IntArg(name string, def int) (int, error) {
	switch v := c.Args[name].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", name, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s: %v", name, v)
	}
}

// HasArg reports whether the command carries the named argument
func (c *Command) HasArg(name string) bool {
	_, ok := c.Args[name]
	return ok
}

// String returns the JSON encoding of the command
func (c *Command) String() string {
	data, _ := json.Marshal(c)
	return string(data)
}

// String converts a Response to a JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdPing    = "PING"
	CmdStatus  = "STATUS"
	CmdEncode  = "ENCODE"
	CmdDecode  = "DECODE"
	CmdHashKey = "HASHKEY"
	CmdHistory = "HISTORY"
	CmdStats   = "STATS"
	CmdCleanup = "CLEANUP"
	CmdQuit    = "QUIT"
)

// Job operations
const (
	OpEncode = "ENCODE"
	OpDecode = "DECODE"
)
