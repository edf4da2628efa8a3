package quarantine

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a quarantine transition attempt.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
	StatusAlreadyQuarantined
	StatusRecovered
)

// String returns the canonical label for a status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusAlreadyQuarantined:
		return "ALREADY_QUARANTINED"
	case StatusRecovered:
		return "RECOVERED"
	default:
		return "PENDING"
	}
}

// MarshalJSON encodes the status as its label.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event is one append-only entry in the quarantine event log. Every
// transition attempt produces an event, whatever its outcome.
type Event struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     string    `json:"device_id"`
	Reason       string    `json:"reason"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func newEvent(deviceID, reason string, status Status, errMsg string) *Event {
	return &Event{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		Reason:       reason,
		Status:       status,
		Timestamp:    time.Now().UTC(),
		ErrorMessage: errMsg,
	}
}
