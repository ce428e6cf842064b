// Package perf records per-run timing telemetry as append-only JSON Lines.
// Emission is best-effort: a tracker never returns an error to the pipeline
// it is measuring.
package perf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

type event struct {
	Label    string  `json:"label"`
	Duration float64 `json:"duration,omitempty"`
	Value    any     `json:"value,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type record struct {
	Timestamp     string         `json:"timestamp"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	TotalDuration float64        `json:"total_duration"`
	Events        []event        `json:"events"`
	Metadata      map[string]any `json:"metadata"`
	Error         string         `json:"error,omitempty"`
}

// Tracker measures named spans within one operation and writes a single
// JSONL record when finished. Safe for use from the goroutines of one run.
type Tracker struct {
	mu       sync.Mutex
	path     string
	name     string
	metadata map[string]any
	events   []event
	started  time.Time
	status   string
	errMsg   string
	finished bool
	log      *zap.Logger
}

func NewTracker(path, name string, metadata map[string]any, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	md := map[string]any{}
	for k, v := range metadata {
		md[k] = v
	}
	return &Tracker{
		path:     path,
		name:     name,
		metadata: md,
		started:  time.Now(),
		status:   "pending",
		log:      log.Named("perf"),
	}
}

// Span starts a timed span; the returned func records its duration and, when
// non-nil, the error that ended it.
func (t *Tracker) Span(label string) func(err error) {
	start := time.Now()
	return func(err error) {
		ev := event{Label: label, Duration: time.Since(start).Seconds()}
		if err != nil {
			ev.Error = err.Error()
		}
		t.mu.Lock()
		t.events = append(t.events, ev)
		t.mu.Unlock()
	}
}

// MarkEvent records a labeled value without a duration (fallback flags etc).
func (t *Tracker) MarkEvent(label string, value any) {
	t.mu.Lock()
	t.events = append(t.events, event{Label: label, Value: value})
	t.mu.Unlock()
}

// AddMetadata merges keys into the record metadata; nil values are skipped.
func (t *Tracker) AddMetadata(kv map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range kv {
		if v != nil {
			t.metadata[k] = v
		}
	}
}

// SetStatus overrides the final status; err may be empty.
func (t *Tracker) SetStatus(status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	if errMsg != "" {
		t.errMsg = errMsg
	}
}

// Finish writes the JSONL record once. Write failures are logged and
// swallowed: telemetry must never mask the outcome of the measured run.
func (t *Tracker) Finish(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true

	final := t.status
	if final == "pending" {
		final = status
	}
	rec := record{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Name:          t.name,
		Status:        final,
		TotalDuration: time.Since(t.started).Seconds(),
		Events:        t.events,
		Metadata:      t.metadata,
		Error:         t.errMsg,
	}
	if rec.Events == nil {
		rec.Events = []event{}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		t.log.Warn("marshal telemetry record", zap.Error(err))
		return
	}
	if err := appendLine(t.path, line); err != nil {
		t.log.Warn("write telemetry record", zap.String("path", t.path), zap.Error(err))
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	// One pre-formatted line per write; interleaving across processes is
	// acceptable because each write is a single append.
	_, err = f.Write(append(line, '\n'))
	return err
}
