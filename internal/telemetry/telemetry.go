// Package telemetry defines the normalized telemetry event consumed by the
// trust pipeline.
//
// Upstream collectors deliver one flattened attribute map per device event.
// Normalization happens once at the ingestion boundary: coordinates arrive as
// an explicit Coordinates value rather than an opaque payload probed at
// runtime, and all numeric fields are plain float64s.
package telemetry

import "time"

// Coordinates is the normalized GPS position attached to an event.
// Present is false when the collector supplied no position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Present   bool    `json:"present"`
}

// Event is a single device telemetry report.
type Event struct {
	DeviceID         string      `json:"device_id"`
	Timestamp        time.Time   `json:"timestamp"`
	CertificateValid bool        `json:"certificate_valid"`
	PatchStatus      string      `json:"patch_status"` // up_to_date, outdated, unknown
	FirmwareVersion  string      `json:"firmware_version"`
	Location         string      `json:"location"`
	IPAddress        string      `json:"ip_address"`
	CPUUsage         float64     `json:"cpu_usage"`
	MemoryUsage      float64     `json:"memory_usage"`
	NetworkUsage     float64     `json:"network_usage"`
	AnomalyScore     float64     `json:"anomaly_score"`
	MalwareDetected  bool        `json:"malware_signature_detected"`
	Coordinates      Coordinates `json:"coordinates"`
}

// Snapshot is the slice of an Event that gets frozen into a ledger record:
// where the device was and what it was doing when its score moved.
type Snapshot struct {
	Location     string  `json:"location"`
	IPAddress    string  `json:"ip_address"`
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
	NetworkUsage float64 `json:"network_usage"`
}

// Snapshot extracts the ledger context snapshot from an event.
func (e *Event) Snapshot() Snapshot {
	return Snapshot{
		Location:     e.Location,
		IPAddress:    e.IPAddress,
		CPUUsage:     e.CPUUsage,
		MemoryUsage:  e.MemoryUsage,
		NetworkUsage: e.NetworkUsage,
	}
}
