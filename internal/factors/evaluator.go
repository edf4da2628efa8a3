// Package factors evaluates the boolean trust signals derived from a
// telemetry event: identity, context stability, firmware validity, and
// compliance. The anomaly signal comes from the anomaly detector and is
// filled in by the ingest pipeline.
package factors

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// Config is the immutable evaluator configuration, loaded once at startup.
// None of its maps are mutated after construction.
type Config struct {
	// KnownLocations is the set of approved locations. Empty = any location
	// passes the context check.
	KnownLocations map[string]bool

	// MinFirmwareVersion is the lowest acceptable dotted version. Empty
	// disables the minimum-version check.
	MinFirmwareVersion string

	// RevokedFirmware lists versions with known vulnerabilities.
	RevokedFirmware map[string]bool
}

// Evaluator turns telemetry events into factor booleans. The per-device
// last-IP table is the only mutable state; it is evaluator-internal and
// device-scoped.
type Evaluator struct {
	cfg Config

	mu     sync.Mutex
	lastIP map[string]string
}

// NewEvaluator creates an Evaluator with the given configuration.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg, lastIP: make(map[string]string)}
}

// Evaluate computes the identity, context, firmware, and compliance factors
// for one event. AnomalyDetected is left false for the caller to fill.
func (e *Evaluator) Evaluate(ev *telemetry.Event) ledger.Factors {
	return ledger.Factors{
		IdentityPassed:   ev.CertificateValid,
		ContextPassed:    e.contextStable(ev),
		FirmwareValid:    e.firmwareValid(ev.FirmwareVersion),
		CompliancePassed: compliancePassed(ev),
	}
}

// contextStable checks the reported location against the approved set and
// the source IP against the device's previous sighting. A first sighting
// establishes the baseline and passes.
func (e *Evaluator) contextStable(ev *telemetry.Event) bool {
	if len(e.cfg.KnownLocations) > 0 && ev.Location != "" && !e.cfg.KnownLocations[ev.Location] {
		return false
	}

	if ev.IPAddress == "" {
		return true
	}
	e.mu.Lock()
	prev, seen := e.lastIP[ev.DeviceID]
	e.lastIP[ev.DeviceID] = ev.IPAddress
	e.mu.Unlock()

	return !seen || prev == ev.IPAddress
}

func (e *Evaluator) firmwareValid(version string) bool {
	if version == "" {
		return false
	}
	if e.cfg.RevokedFirmware[version] {
		return false
	}
	if e.cfg.MinFirmwareVersion == "" {
		return true
	}
	return compareVersions(version, e.cfg.MinFirmwareVersion) >= 0
}

func compliancePassed(ev *telemetry.Event) bool {
	if ev.MalwareDetected {
		return false
	}
	return ev.PatchStatus == "" || ev.PatchStatus == "up_to_date"
}

// compareVersions compares dotted numeric versions: -1, 0, or 1.
// Non-numeric segments compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
