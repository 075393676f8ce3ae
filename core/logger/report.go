package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var rawEntry json.RawMessage
		if err := decoder.Decode(&rawEntry); err != nil {
			return err
		}

		var msg structpb.Struct
		if err := protojson.Unmarshal(rawEntry, &msg); err != nil {
			return err
		}

		handler(fromProto(&msg))
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	Sessions       StrCounter `json:"sessions"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	RunCommand      RunCommandReport `json:"run_command_report"`
	Builtin         BuiltinReport    `json:"builtin_report"`
	StartFailure    *PathCounter     `json:"start_failures"`
	RedirectFailure *PathCounter     `json:"redirect_failures"`
	Warning         *PathCounter     `json:"warnings"`
	JobDone         JobDoneReport    `json:"job_done_report"`
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		StartFailure:    NewPathCounter("command", "error"),
		RedirectFailure: NewPathCounter("command", "error"),
		Warning:         NewPathCounter("command", "error"),
	}
}

// Update adds an entry to the report.
func (r *Report) Update(le *LogEntry) {
	r.LogEntries++
	if le.SessionID != "" {
		r.Sessions.Increment(le.SessionID)
	}

	switch le.Type {
	case EventRunCommand:
		r.RunCommand.update(le)
	case EventBuiltin:
		r.Builtin.update(le)
	case EventStartFailure:
		r.StartFailure.Increment(commandName(le), le.GetString("error"))
	case EventRedirectFailure:
		r.RedirectFailure.Increment(commandName(le), le.GetString("error"))
	case EventWarning:
		r.Warning.Increment(commandName(le), le.GetString("error"))
	case EventJobDone:
		r.JobDone.update(le)
	default:
		r.InvalidEntries.Increment(fmt.Sprintf("%q", le.Type))
	}
}

func commandName(le *LogEntry) string {
	if argv := le.GetStrings("command"); len(argv) > 0 {
		return argv[0]
	}
	return ""
}

// RunCommandReport counts started programs.
type RunCommandReport struct {
	// Name of the resolved command
	ResolvedCommandPaths StrCounter `json:"resolved_command_paths"`
	// Name of the command
	CommandNames StrCounter `json:"command_names"`
	// Number of commands started in the background
	Background int `json:"background"`
}

func (r *RunCommandReport) update(le *LogEntry) {
	r.ResolvedCommandPaths.Increment(le.GetString("path"))
	r.CommandNames.Increment(commandName(le))
	if bg, _ := le.Fields["background"].(bool); bg {
		r.Background++
	}
}

// BuiltinReport counts builtins run by the shell.
type BuiltinReport struct {
	CommandNames StrCounter `json:"command_names"`
}

func (r *BuiltinReport) update(le *LogEntry) {
	r.CommandNames.Increment(commandName(le))
}

// JobDoneReport counts finished jobs by exit status.
type JobDoneReport struct {
	Count    int        `json:"count"`
	Statuses StrCounter `json:"statuses"`
}

func (r *JobDoneReport) update(le *LogEntry) {
	r.Count++
	r.Statuses.Increment(fmt.Sprintf("%d", le.GetInt("status")))
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for the given key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts the number of tuples seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// Get returns the count for the given tuple.
func (ctr *PathCounter) Get(vals ...string) int {
	return ctr.internal[toKey(vals...)]
}

// MarshalJSON implemnts custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	out := []Count{}
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
