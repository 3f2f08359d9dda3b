package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sif3.org/internal/auth"
	"sif3.org/internal/obs"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return obs.ContextWithRequestID(ctx, requestID)
}

// LogEvent writes an audit log entry enriched with request and session context.
// Session tokens are masked; only a short prefix is written.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if token, ok := auth.SessionTokenFromContext(ctx); ok {
		entry["session"] = MaskToken(token)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// MaskToken keeps the first six characters of a secret-bearing value.
func MaskToken(token string) string {
	const keep = 6
	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "***"
}
