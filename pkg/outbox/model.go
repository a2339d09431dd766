package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// MaxRetries is how many failed dispatches an event gets before it stays failed.
const MaxRetries = 10

// Event is a message written in the same transaction as the state change it
// announces and published later by a Relay.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Retryable reports whether a failed event should be picked up again.
func (e Event) Retryable() bool {
	return e.Status == StatusFailed && e.RetryCount < MaxRetries
}
