package sync

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the NDJSON event kinds emitted by an EventWriter over
// the course of one run.
type EventType string

const (
	EventStart   EventType = "start"
	EventCreate  EventType = "create"
	EventUpdate  EventType = "update"
	EventSkip    EventType = "skip"
	EventDelete  EventType = "delete"
	EventError   EventType = "error"
	EventSummary EventType = "summary"
)

// Event is one line of NDJSON output, grounded on the teacher's JSON report
// shape (format.go's printSyncJSON) but restructured as a stream of discrete
// events rather than one report object, so a caller can follow a long run
// live instead of waiting for it to finish.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Stats     *Stats    `json:"stats,omitempty"`
}

// EventWriter serializes Events as newline-delimited JSON to an underlying
// writer, one JSON object per line. All events between one Start and its
// matching Summary share a run ID, so a consumer following the watch
// command's repeated resyncs on one EventWriter can tell which lines belong
// to which pass.
type EventWriter struct {
	w     io.Writer
	runID string
}

// NewEventWriter wraps w for NDJSON event output.
func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

func (e *EventWriter) emit(ev Event) error {
	ev.Timestamp = ev.Timestamp.UTC()
	ev.RunID = e.runID

	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	blob = append(blob, '\n')
	_, err = e.w.Write(blob)
	return err
}

// Start begins a new run, assigning it a fresh run ID, and emits the
// start-of-run event.
func (e *EventWriter) Start(now time.Time) error {
	e.runID = uuid.New().String()
	return e.emit(Event{Type: EventStart, Timestamp: now})
}

// Action emits a per-path event for one action. RunOneWay emits these for
// the planned actions before they execute.
func (e *EventWriter) Action(now time.Time, typ EventType, path string, size int64, reason string) error {
	return e.emit(Event{Type: typ, Timestamp: now, Path: path, Size: size, Reason: reason})
}

// Failure emits an error event for one path.
func (e *EventWriter) Failure(now time.Time, path string, err error) error {
	return e.emit(Event{Type: EventError, Timestamp: now, Path: path, Error: err.Error()})
}

// Summary emits the final stats snapshot.
func (e *EventWriter) Summary(now time.Time, stats Stats) error {
	return e.emit(Event{Type: EventSummary, Timestamp: now, Stats: &stats})
}

// ActionTypeToEvent maps a completed SyncAction's type to the event it
// reports as.
func ActionTypeToEvent(t ActionType) EventType {
	switch t {
	case ActionCreate:
		return EventCreate
	case ActionUpdate:
		return EventUpdate
	case ActionDelete:
		return EventDelete
	default:
		return EventSkip
	}
}
