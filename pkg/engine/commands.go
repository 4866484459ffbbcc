package engine

import (
	"fmt"
	"time"

	"github.com/dougsko/tonecodec/pkg/keyhash"
	"github.com/dougsko/tonecodec/pkg/protocol"
	"github.com/dougsko/tonecodec/pkg/storage"
)

const defaultHistoryLimit = 50

// handleCommand processes a single command
func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.Status(),
		})

	case protocol.CmdEncode:
		return e.handleEncode(cmd)

	case protocol.CmdDecode:
		return e.handleDecode(cmd)

	case protocol.CmdHashKey:
		return e.handleHashKey(cmd)

	case protocol.CmdHistory:
		return e.handleHistory(cmd)

	case protocol.CmdStats:
		stats, err := e.Stats()
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("stats error: %v", err))
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"stats": stats,
		})

	case protocol.CmdCleanup:
		removed, err := e.Cleanup()
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("cleanup error: %v", err))
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"removed": removed,
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

// commandKey returns the key argument, deriving it from "passphrase"
// when that is given instead
func commandKey(cmd *protocol.Command) string {
	if cmd.HasArg("passphrase") {
		return keyhash.Derive(cmd.StringArg("passphrase"))
	}
	return cmd.StringArg("key")
}

// handleEncode writes message to a WAV file
func (e *CoreEngine) handleEncode(cmd *protocol.Command) *protocol.Response {
	message := cmd.StringArg("message")
	if err := e.CheckMessage(message); err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("encode error: %v", err))
	}

	path, err := e.resolvePath(cmd.StringArg("path"))
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("encode error: %v", err))
	}

	result, err := e.EncodeToFile(message, commandKey(cmd), path)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("encode error: %v", err))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"job_id":          result.JobID,
		"path":            result.Path,
		"samples":         result.SampleCount,
		"sample_rate":     result.SampleRate,
		"key_fingerprint": result.KeyFingerprint,
	})
}

// handleDecode decodes a WAV file
func (e *CoreEngine) handleDecode(cmd *protocol.Command) *protocol.Response {
	if cmd.StringArg("path") == "" {
		return protocol.NewErrorResponse("path is required")
	}

	path, err := e.resolvePath(cmd.StringArg("path"))
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("decode error: %v", err))
	}

	result, err := e.DecodeFile(path, commandKey(cmd))
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("decode error: %v", err))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"result": result,
	})
}

// handleHashKey derives a key from text
func (e *CoreEngine) handleHashKey(cmd *protocol.Command) *protocol.Response {
	key := keyhash.Derive(cmd.StringArg("text"))
	return protocol.NewSuccessResponse(map[string]interface{}{
		"key":         key,
		"fingerprint": keyhash.Fingerprint(key),
	})
}

// handleHistory returns stored job records
func (e *CoreEngine) handleHistory(cmd *protocol.Command) *protocol.Response {
	limit, err := cmd.IntArg("limit", defaultHistoryLimit)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	records, err := e.History(storage.RecordQuery{
		Limit:     limit,
		Operation: cmd.StringArg("operation"),
	})
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("history error: %v", err))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}
