package device

import "time"

const (
	// DefaultTrustScore is the score assigned to a device on first sight.
	DefaultTrustScore = 50.0

	// TrustThreshold is the score at or above which a device is trusted.
	TrustThreshold = 70.0
)

// Device is the trust record for a single network-connected device.
//
// Trusted is derived from TrustScore and the two are only ever written
// together; a reader must never observe them disagreeing.
type Device struct {
	DeviceID            string     `json:"device_id"`
	TrustScore          float64    `json:"trust_score"`
	Trusted             bool       `json:"trusted"`
	Quarantined         bool       `json:"quarantined"`
	QuarantineReason    string     `json:"quarantine_reason,omitempty"`
	QuarantineTimestamp *time.Time `json:"quarantine_timestamp,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// New creates a device record at the default baseline score.
func New(deviceID string) *Device {
	now := time.Now().UTC()
	return &Device{
		DeviceID:   deviceID,
		TrustScore: DefaultTrustScore,
		Trusted:    DefaultTrustScore >= TrustThreshold,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetScore updates the score and re-derives the trusted flag, keeping the
// invariant in one place.
func (d *Device) SetScore(score float64) {
	d.TrustScore = score
	d.Trusted = score >= TrustThreshold
	d.UpdatedAt = time.Now().UTC()
}
