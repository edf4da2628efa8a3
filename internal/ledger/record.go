package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// MaterialChange is the minimum absolute score delta that gets ledgered.
// Sub-threshold adjustments still apply to the device record but are noise
// at ledger granularity.
const MaterialChange = 0.5

// Severity classifies the magnitude of a single score transition.
// The ordering is structural: higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical label for a severity.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MarshalJSON encodes the severity as its label.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SeverityFor classifies an absolute score delta.
func SeverityFor(delta float64) Severity {
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta >= 20:
		return SeverityCritical
	case delta >= 10:
		return SeverityHigh
	case delta >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Factors are the five boolean signals evaluated per telemetry event.
// AnomalyDetected is inverted relative to the others: true is unfavorable.
type Factors struct {
	IdentityPassed   bool `json:"identity_passed"`
	ContextPassed    bool `json:"context_passed"`
	FirmwareValid    bool `json:"firmware_valid"`
	AnomalyDetected  bool `json:"anomaly_detected"`
	CompliancePassed bool `json:"compliance_passed"`
}

// AllPassed reports whether every factor was favorable.
func (f Factors) AllPassed() bool {
	return f.IdentityPassed && f.ContextPassed && f.FirmwareValid &&
		!f.AnomalyDetected && f.CompliancePassed
}

// ChangeRecord is one immutable entry in the trust change ledger.
type ChangeRecord struct {
	ID           uuid.UUID          `json:"id"`
	DeviceID     string             `json:"device_id"`
	OldScore     float64            `json:"old_score"`
	NewScore     float64            `json:"new_score"`
	ScoreChange  float64            `json:"score_change"`
	Timestamp    time.Time          `json:"timestamp"`
	ChangeReason string             `json:"change_reason"`
	Severity     Severity           `json:"severity"`
	Factors      Factors            `json:"factors"`
	Context      telemetry.Snapshot `json:"context"`
}

// NewChangeRecord builds a ledger entry for a score transition, deriving the
// delta, severity, and human-readable reason.
func NewChangeRecord(deviceID string, oldScore, newScore float64, factors Factors, snapshot telemetry.Snapshot) *ChangeRecord {
	delta := newScore - oldScore
	return &ChangeRecord{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		OldScore:     oldScore,
		NewScore:     newScore,
		ScoreChange:  delta,
		Timestamp:    time.Now().UTC(),
		ChangeReason: ReasonFor(factors),
		Severity:     SeverityFor(delta),
		Factors:      factors,
		Context:      snapshot,
	}
}

// ReasonFor summarizes which factors drove a transition. Unfavorable
// factors dominate the text; an all-clear event gets a fixed summary.
func ReasonFor(f Factors) string {
	var parts []string
	if !f.IdentityPassed {
		parts = append(parts, "Identity verification failed")
	}
	if !f.ContextPassed {
		parts = append(parts, "Unusual location or network context")
	}
	if !f.FirmwareValid {
		parts = append(parts, "Firmware invalid or outdated")
	}
	if f.AnomalyDetected {
		parts = append(parts, "Anomalies detected")
	}
	if !f.CompliancePassed {
		parts = append(parts, "Compliance violation")
	}
	if len(parts) == 0 {
		return "All trust factors passed"
	}
	return strings.Join(parts, ", ")
}
