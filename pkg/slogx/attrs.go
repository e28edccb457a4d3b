package slogx

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr with the given key and a string representation of the byte slice value.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer creates a slog.Attr with the provided key and the string representation
// of the given fmt.Stringer value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// RunID tags a log line with the run it belongs to.
func RunID(id uuid.UUID) slog.Attr {
	return slog.String(KeyRunID, id.String())
}

// Tool tags a log line with a tool name and call id.
func Tool(name, callID string) slog.Attr {
	return slog.Group("tool", slog.String("name", name), slog.String("call_id", callID))
}

const (
	// KeyLoggerName is the attribute key for the logger name.
	KeyLoggerName = "logger"
	// KeyRunID is the attribute key for a run identifier.
	KeyRunID = "run_id"
)

// LoggerName returns an attribute for the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
