package domain

import "time"

// Outcome of a query exchange.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Exchange is the audit record of one query sent to the query service.
// It is kept for diagnostics and never replayed into a transcript.
type Exchange struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Query          string    `json:"query"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Mode           string    `json:"mode"`
	CreatedAt      time.Time `json:"created_at"`
}

// Failed reports whether the exchange ended with the fallback message.
func (e *Exchange) Failed() bool {
	return e.Outcome == OutcomeFailed
}
