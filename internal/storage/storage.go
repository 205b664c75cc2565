package storage

import "time"

// Event is one applied verdict. It carries no message text: the log feeds
// the (date, label, count) metrics and nothing else.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	MessageID  string    `json:"message_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	DryRun     bool      `json:"dry_run,omitempty"`
}

// Recorder persists verdict events.
// Load returns events in the order they were appended.
// Implementations must be safe for concurrent use.
type Recorder interface {
	Append(events ...Event) error
	Load() ([]Event, error)
}
