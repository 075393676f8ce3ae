package logger

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventType identifies the kind of a log entry.
type EventType string

const (
	// EventRunCommand is logged when a program is started.
	EventRunCommand EventType = "run_command"
	// EventBuiltin is logged when a builtin runs in the shell process.
	EventBuiltin EventType = "builtin"
	// EventStartFailure is logged when a program could not be started.
	EventStartFailure EventType = "start_failure"
	// EventRedirectFailure is logged when a redirection target couldn't be bound.
	EventRedirectFailure EventType = "redirect_failure"
	// EventWarning is logged for non-fatal diagnostics.
	EventWarning EventType = "warning"
	// EventJobDone is logged when a job finishes.
	EventJobDone EventType = "job_done"
)

// Fields holds the event payload. Values must be convertible by
// structpb.NewValue, use Strings to convert string slices.
type Fields map[string]interface{}

// Strings converts a string slice into a list structpb accepts.
func Strings(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// LogEntry is a single decoded event.
type LogEntry struct {
	Time      time.Time
	SessionID string
	Type      EventType
	Fields    Fields
}

// GetString returns the string field with the given key or "".
func (le *LogEntry) GetString(key string) string {
	s, _ := le.Fields[key].(string)
	return s
}

// GetStrings returns the string list field with the given key.
func (le *LogEntry) GetStrings(key string) []string {
	list, _ := le.Fields[key].([]interface{})
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetInt returns the numeric field with the given key or 0.
func (le *LogEntry) GetInt(key string) int {
	switch v := le.Fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (le *LogEntry) toProto() (*structpb.Struct, error) {
	fields := le.Fields
	if fields == nil {
		fields = Fields{}
	}
	return structpb.NewStruct(map[string]interface{}{
		"timestamp_micros": float64(le.Time.UnixNano() / int64(time.Microsecond)),
		"session_id":       le.SessionID,
		"type":             string(le.Type),
		"fields":           map[string]interface{}(fields),
	})
}

func fromProto(s *structpb.Struct) *LogEntry {
	raw := s.AsMap()
	le := &LogEntry{Fields: Fields{}}
	if micros, ok := raw["timestamp_micros"].(float64); ok {
		le.Time = time.UnixMicro(int64(micros)).UTC()
	}
	le.SessionID, _ = raw["session_id"].(string)
	if t, ok := raw["type"].(string); ok {
		le.Type = EventType(t)
	}
	if fields, ok := raw["fields"].(map[string]interface{}); ok {
		le.Fields = fields
	}
	return le
}

// MarshalJSON implements json.Marshaler using the protojson encoding.
func (le *LogEntry) MarshalJSON() ([]byte, error) {
	msg, err := le.toProto()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(msg)
}

// LogRecorder is a callback that stores events in an external datastore.
type LogRecorder func(le *LogEntry) error

// Logger captures execution events for later reporting.
type Logger struct {
	Record LogRecorder

	// now is overridable for tests.
	now func() time.Time
}

// NewJSONLinesLogRecorder creates a Logger that exports logs in newline
// delimited JSON object format.
func NewJSONLinesLogRecorder(w io.Writer) *Logger {
	var mu sync.Mutex
	return &Logger{
		Record: func(le *LogEntry) error {
			entry, err := le.MarshalJSON()
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			_, err = fmt.Fprintln(w, string(entry))
			return err
		},
	}
}

// Discard creates a Logger that drops every event.
func Discard() *Logger {
	return &Logger{
		Record: func(*LogEntry) error { return nil },
	}
}

func (l *Logger) record(sessionID string, eventType EventType, fields Fields) error {
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	return l.Record(&LogEntry{
		Time:      now(),
		SessionID: sessionID,
		Type:      eventType,
		Fields:    fields,
	})
}

// NewSession creates a logger with a fresh session ID.
func (l *Logger) NewSession() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: uuid.NewString()}
}

// Sessionless creates a logger without a session ID.
func (l *Logger) Sessionless() *SessionLogger {
	return &SessionLogger{Logger: l}
}

// SessionLogger logs messages with a shared session ID.
type SessionLogger struct {
	*Logger
	sessionID string
}

// SessionID returns the ID attached to every event.
func (l *SessionLogger) SessionID() string {
	return l.sessionID
}

// Record stores an event.
func (l *SessionLogger) Record(eventType EventType, fields Fields) error {
	return l.record(l.sessionID, eventType, fields)
}
