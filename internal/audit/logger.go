package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Actions recorded by the application.
const (
	ActionLogin       = "login"
	ActionLogout      = "logout"
	ActionTokensPurge = "tokens_purge"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`    // provider user id
	Details   string    `json:"details,omitempty"` // free form, never tokens
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit events as one JSON object per line.
type Logger struct {
	service string
	out     zerolog.Logger
	now     func() time.Time
}

// New creates a Logger writing to w, or to stdout when w is nil.
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		service: service,
		out:     zerolog.New(w),
		now:     time.Now,
	}
}

// Log records an audit event. A nil Logger discards it.
func (l *Logger) Log(_ context.Context, action, user, details string, err error) {
	if l == nil {
		return
	}

	event := Event{
		Timestamp: l.now().UTC(),
		Service:   l.service,
		Action:    action,
		User:      user,
		Details:   details,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		l.out.Error().Err(marshalErr).
			Str("action", action).
			Str("user", user).
			Msg("failed to marshal audit event")
		return
	}
	l.out.Log().RawJSON("audit_event", entry).Msg("")
}
