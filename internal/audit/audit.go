// Package audit provides append-only audit logging for rwlock events.
// This is a local, CLI-side log: it records what this process observed
// and attempted, independent of the remote store the lock state lives in.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types for audit log entries.
const (
	EventAcquireExclusive = "acquire_exclusive" // OK reply to acquire_exclusive
	EventAcquireShared    = "acquire_shared"    // OK reply to acquire_shared
	EventBlocked          = "blocked"           // BLOCKED reply (enqueued; retried while the retry budget lasts)
	EventRelease          = "release"           // Release invoked (idempotent; may be a no-op)
	EventRefresh          = "refresh"           // TTL successfully extended
	EventExpired          = "expired"           // Refresh found no live grant
	EventFlush            = "flush"             // Administrative flush of all four keys
)

// Event represents a single audit log entry.
// Each event is serialized as one JSON line in the audit log.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Event     string         `json:"event"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	Host      string         `json:"host"`
	PID       int            `json:"pid"`
	AgentID   string         `json:"agent_id,omitempty"`
	TTLSec    float64        `json:"ttl_sec,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

const auditFileName = "audit.log"

// Injectable function for testability.
var openFileFn = os.OpenFile

// Writer appends audit events to a JSONL file.
// All writes are non-blocking: errors are logged to stderr, never returned.
type Writer struct {
	dir string
}

// NewWriter creates a Writer that will append to <dir>/audit.log.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Emit appends an event to the audit log.
// This method never returns an error. If writing fails, the error is logged to stderr.
// This ensures lock operations are never blocked by audit failures.
// Emit on a nil Writer does nothing.
func (w *Writer) Emit(e *Event) {
	if w == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rwlockd: audit marshal error: %v\n", err)
		return
	}
	data = append(data, '\n')

	path := filepath.Join(w.dir, auditFileName)

	// O_APPEND is atomic on POSIX for writes smaller than PIPE_BUF (typically 4096 bytes).
	// Our events are well under this limit.
	f, err := openFileFn(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // G304: path is controlled
	if err != nil {
		fmt.Fprintf(os.Stderr, "rwlockd: audit open error: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "rwlockd: audit write error: %v\n", err)
		return
	}

	if err := f.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "rwlockd: audit sync error: %v\n", err)
	}
}
