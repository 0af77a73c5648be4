package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// EventRecord is a structured record describing a server-level event. It is
// the shape emitted to the optional external event sink (spec.md §6): a
// consumer on the other end of a message bus topic can filter on Server and
// Timestamp without parsing the free-form Log text.
type EventRecord struct {
	Server    string    `json:"server"`
	Log       string    `json:"log"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink publishes EventRecords. It is always safe to call Publish on a
// nil or misconfigured sink; failures are swallowed because the sink is a
// best-effort side channel, never a dependency of the deployment or proxy
// path.
type EventSink struct {
	server string
	logger *slog.Logger
	closer io.Closer
}

// NewEventSink opens a JSON-lines event sink writing to path. Initialization
// is best-effort: if path can't be opened, NewEventSink returns a sink whose
// Publish calls are no-ops, and the error so the caller can log a warning.
func NewEventSink(server, path string) (*EventSink, error) {
	if path == "" {
		return &EventSink{server: server}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return &EventSink{server: server}, err
	}

	return &EventSink{
		server: server,
		logger: slog.New(slog.NewJSONHandler(f, nil)),
		closer: f,
	}, nil
}

// Publish emits a single event record. No-op if the sink has no backing
// writer (construction failed or no path was configured).
func (s *EventSink) Publish(message string) {
	if s == nil || s.logger == nil {
		return
	}
	rec := EventRecord{Server: s.server, Log: message, Timestamp: time.Now()}
	s.logger.Info("event",
		slog.String("server", rec.Server),
		slog.String("log", rec.Log),
		slog.Time("timestamp", rec.Timestamp),
	)
}

// Close releases the sink's underlying writer, if any.
func (s *EventSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
