// pkg/logging/events.go - structured events for external monitoring tools

package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// LogEvent represents one action within a monitoring session. Events are
// written as JSON Lines to the events file.
type LogEvent struct {
	EventID   string                 `json:"event_id"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	EventType string                 `json:"event_type"` // installer, verification, diagnostics, preflight, session
	Action    string                 `json:"action"`
	Status    string                 `json:"status"` // started, progress, completed, failed
	Message   string                 `json:"message"`
	Attempt   int                    `json:"attempt,omitempty"`
	Duration  *time.Duration         `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Source    SourceInfo             `json:"source"`
}

// SourceInfo tracks where an event originated.
type SourceInfo struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Line     int    `json:"line"`
}

// EventOption allows customizing log events
type EventOption func(*LogEvent)

// WithAttempt sets the installer attempt number.
func WithAttempt(attempt int) EventOption {
	return func(e *LogEvent) {
		e.Attempt = attempt
	}
}

// WithDuration sets the duration for the event
func WithDuration(duration time.Duration) EventOption {
	return func(e *LogEvent) {
		e.Duration = &duration
	}
}

// WithError sets the error message for the event
func WithError(err error) EventOption {
	return func(e *LogEvent) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithContext adds context information to the event
func WithContext(key string, value interface{}) EventOption {
	return func(e *LogEvent) {
		if e.Context == nil {
			e.Context = make(map[string]interface{})
		}
		e.Context[key] = value
	}
}

// WithLevel sets the log level for the event
func WithLevel(level string) EventOption {
	return func(e *LogEvent) {
		e.Level = level
	}
}

// LogEvent writes a structured event to the events file.
func (l *Logger) LogEvent(eventType, action, status, message string, opts ...EventOption) error {
	event := LogEvent{
		EventType: eventType,
		Action:    action,
		Status:    status,
		Message:   message,
		Level:     "INFO",
	}

	if pc, file, line, ok := runtime.Caller(3); ok {
		event.Source.File = filepath.Base(file)
		event.Source.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			event.Source.Function = filepath.Base(fn.Name())
		}
	}

	for _, opt := range opts {
		opt(&event)
	}
	return l.writeEvent(event)
}

func (l *Logger) writeEvent(event LogEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.eventsFile == nil {
		return nil
	}

	event.SessionID = l.config.SessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.eventsFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return l.eventsFile.Sync()
}

// ReadEvents loads every event from a JSON Lines file, skipping malformed lines.
func ReadEvents(path string) ([]LogEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event LogEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
