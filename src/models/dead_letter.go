package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is the terminal record of an event that exhausted all retry
// attempts. Dead letters are retained for manual inspection and are never
// retried automatically.
type DeadLetter struct {
	ID         uuid.UUID       `json:"id"`
	EventID    string          `json:"event_id"`
	Kind       EventKind       `json:"kind"`
	TenantID   string          `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error"`
	FailedAt   time.Time       `json:"failed_at"`
	RequeuedAt *time.Time      `json:"requeued_at,omitempty"`
}
