package resilience

import (
	"time"
)

// Push targets recorded in the dead-letter queue.
const (
	TargetSalesforce = "salesforce"
	TargetNotion     = "notion"
)

// DLQEntry is one failed CRM push parked for replay. Payload holds the
// exact serialized record, so replaying never needs a pipeline re-run.
type DLQEntry struct {
	ID           string    `json:"id"`
	Target       string    `json:"target"`
	EntityID     string    `json:"entity_id"`
	Payload      []byte    `json:"payload"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter selects entries when draining the queue.
type DLQFilter struct {
	Target string `json:"target,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has attempts left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError labels an error "transient" or "permanent" for the
// queue. Permanent entries wait for an operator; transient ones are
// picked up by the replay loop.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// ReplayBackoff spaces DLQ replays out: 5m, 10m, 20m, ... capped at 6h.
func ReplayBackoff(retryCount int) time.Duration {
	shift := min(max(retryCount-1, 0), 7)
	d := 5 * time.Minute << shift
	if d > 6*time.Hour {
		d = 6 * time.Hour
	}
	return d
}
