package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InstanceLogger writes the append-only per-instance log file described in
// spec.md §6 (`[<ISO-8601 timestamp>] <message>\n`), and mirrors every line
// through the engine's structured Logger so instance activity also shows up
// in the server's own log stream.
type InstanceLogger struct {
	mu   sync.Mutex
	file *os.File
	log  Logger
}

// NewInstanceLogger opens (creating if necessary) app.log inside dir.
func NewInstanceLogger(dir string, log Logger) (*InstanceLogger, error) {
	path := filepath.Join(dir, "app.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening instance log %s: %w", path, err)
	}
	return &InstanceLogger{file: f, log: log}, nil
}

// Printf appends a timestamped line to the instance log and mirrors it to
// the engine logger at Info level.
func (l *InstanceLogger) Printf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	l.mu.Lock()
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format(time.RFC3339), message)
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info(message)
	}
}

// Close closes the underlying log file.
func (l *InstanceLogger) Close() error {
	return l.file.Close()
}

// LogPath returns the path to app.log inside dir, without opening it.
func LogPath(dir string) string {
	return filepath.Join(dir, "app.log")
}
