package deadletter

import "time"

// DeadLetter represents a row in the dead_letters table: one routed
// downstream failure as the daemon received it.
type DeadLetter struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Subject    string    `json:"subject"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Causes     []byte    `json:"causes,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
