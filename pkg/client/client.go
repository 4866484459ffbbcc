package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/tonecodec/pkg/protocol"
)

const maxResponseSize = 16 << 20

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

// SetTimeout changes the per-command deadline
func (c *SocketClient) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a text command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// SendJSON sends a command in its JSON form
func (c *SocketClient) SendJSON(cmdType string, args map[string]interface{}) (*protocol.Response, error) {
	cmd := &protocol.Command{Type: cmdType, Args: args}
	return c.SendCommand(cmd.String())
}

// decodeField converts one member of a response's data into out
func decodeField(resp *protocol.Response, field string, out interface{}) error {
	value, ok := resp.Data[field]
	if !ok {
		return fmt.Errorf("%s not found in response", field)
	}

	// Convert to JSON and back to parse properly
	raw, _ := json.Marshal(value)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return nil
}

func checkResponse(resp *protocol.Response, err error) (*protocol.Response, error) {
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := checkResponse(c.SendCommand(protocol.CmdPing))
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := checkResponse(c.SendCommand(protocol.CmdStatus))
	if err != nil {
		return nil, err
	}

	var status protocol.Status
	if err := decodeField(resp, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// EncodeResponse is the daemon's answer to an ENCODE command
type EncodeResponse struct {
	JobID          string `json:"job_id"`
	Path           string `json:"path"`
	Samples        int    `json:"samples"`
	SampleRate     int    `json:"sample_rate"`
	KeyFingerprint string `json:"key_fingerprint"`
}

// EncodeFile asks the daemon to encode message into a WAV file. An
// empty path lets the daemon choose one in its output directory.
func (c *SocketClient) EncodeFile(message, key, path string) (*EncodeResponse, error) {
	resp, err := checkResponse(c.SendJSON(protocol.CmdEncode, map[string]interface{}{
		"message": message,
		"key":     key,
		"path":    path,
	}))
	if err != nil {
		return nil, err
	}

	out := &EncodeResponse{}
	out.JobID, _ = resp.Data["job_id"].(string)
	out.Path, _ = resp.Data["path"].(string)
	out.KeyFingerprint, _ = resp.Data["key_fingerprint"].(string)
	if v, ok := resp.Data["samples"].(float64); ok {
		out.Samples = int(v)
	}
	if v, ok := resp.Data["sample_rate"].(float64); ok {
		out.SampleRate = int(v)
	}
	return out, nil
}

// DecodeResponse is the daemon's answer to a DECODE command
type DecodeResponse struct {
	JobID          string `json:"job_id"`
	KeyFingerprint string `json:"key_fingerprint"`
	Message        string `json:"message"`
	SampleRate     int    `json:"sample_rate"`
	Samples        int    `json:"samples"`
	Path           string `json:"path"`
	Windows        []struct {
		Index          int     `json:"index"`
		Frequency      float64 `json:"frequency"`
		TableFrequency float64 `json:"table_frequency"`
		Char           string  `json:"char"`
	} `json:"windows"`
}

// DecodeFile asks the daemon to decode a WAV file it can read
func (c *SocketClient) DecodeFile(path, key string) (*DecodeResponse, error) {
	resp, err := checkResponse(c.SendJSON(protocol.CmdDecode, map[string]interface{}{
		"path": path,
		"key":  key,
	}))
	if err != nil {
		return nil, err
	}

	var out DecodeResponse
	if err := decodeField(resp, "result", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HashKey derives a key string from text on the daemon
func (c *SocketClient) HashKey(text string) (string, error) {
	resp, err := checkResponse(c.SendJSON(protocol.CmdHashKey, map[string]interface{}{
		"text": text,
	}))
	if err != nil {
		return "", err
	}

	key, ok := resp.Data["key"].(string)
	if !ok {
		return "", fmt.Errorf("key not found in response")
	}
	return key, nil
}

// GetHistory gets recent job records
func (c *SocketClient) GetHistory(limit int) ([]protocol.Record, error) {
	cmd := protocol.CmdHistory
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdHistory, limit)
	}

	resp, err := checkResponse(c.SendCommand(cmd))
	if err != nil {
		return nil, err
	}

	if _, ok := resp.Data["records"]; !ok {
		return []protocol.Record{}, nil
	}
	var records []protocol.Record
	if err := decodeField(resp, "records", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetStats returns the daemon's history statistics as raw JSON values
func (c *SocketClient) GetStats() (map[string]interface{}, error) {
	resp, err := checkResponse(c.SendCommand(protocol.CmdStats))
	if err != nil {
		return nil, err
	}

	var stats map[string]interface{}
	if err := decodeField(resp, "stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Cleanup applies the daemon's retention limit and returns how many
// records were removed
func (c *SocketClient) Cleanup() (int64, error) {
	resp, err := checkResponse(c.SendCommand(protocol.CmdCleanup))
	if err != nil {
		return 0, err
	}

	removed, _ := resp.Data["removed"].(float64)
	return int64(removed), nil
}
