package entity

import (
	"encoding/json"
	"log"
)

// Logger receives structured diagnostics emitted by the engine, in
// particular the detailed source errors that are logged rather than
// returned to callers.
//
// This is intentionally minimal to avoid coupling the engine to a specific
// logging library. Implementations should treat fields as a stable
// machine-readable contract.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// NewLogger returns the default stdlib-backed Logger.
func NewLogger() Logger { return defaultLogger{} }

type defaultLogger struct{}

func (defaultLogger) Log(level string, msg string, fields map[string]any) {
	// Best-effort structured printing using stdlib log.
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[entity] level=%s msg=%s fields=%v", level, msg, fields)
		return
	}
	log.Printf("[entity] %s", string(b))
}
