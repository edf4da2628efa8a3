// Package risk composes the device directory and the trust change ledger
// into per-device risk assessments, short-horizon score predictions, and a
// system-wide overview.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/ledger"
)

// FactorRisk classifies one factor category by its recent failure rate.
// The ordering is structural: higher values are worse, NoData sorts lowest.
type FactorRisk int

const (
	FactorNoData FactorRisk = iota
	FactorLowRisk
	FactorMediumRisk
	FactorHighRisk
)

// String returns the canonical label for a factor risk.
func (f FactorRisk) String() string {
	switch f {
	case FactorHighRisk:
		return "HIGH_RISK"
	case FactorMediumRisk:
		return "MEDIUM_RISK"
	case FactorLowRisk:
		return "LOW_RISK"
	default:
		return "NO_DATA"
	}
}

// MarshalJSON encodes the factor risk as its label.
func (f FactorRisk) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// Assessment is the full risk picture for one device.
type Assessment struct {
	DeviceID              string                `json:"device_id"`
	CurrentTrustScore     float64               `json:"current_trust_score"`
	Quarantined           bool                  `json:"quarantined"`
	RiskLevel             ledger.RiskLevel      `json:"risk_level"`
	RiskTrend             ledger.Trend          `json:"risk_trend"`
	RiskFactors           map[string]FactorRisk `json:"risk_factors"`
	ActiveThreats         []string              `json:"active_threats"`
	RecentAnomalies       int                   `json:"recent_anomalies"`
	LocationChanges       int                   `json:"location_changes"`
	ComplianceIssues      int                   `json:"compliance_issues"`
	IdentityIssues        int                   `json:"identity_issues"`
	PredictedTrustScore   float64               `json:"predicted_trust_score_24h"`
	PredictedRisk         ledger.RiskLevel      `json:"predicted_risk"`
	ConfidenceLevel       float64               `json:"confidence_level"`
	Recommendations       []string              `json:"recommendations"`
	AssessedAt            time.Time             `json:"assessed_at"`
}

// Overview is the system-wide risk summary.
type Overview struct {
	TotalDevices           int            `json:"total_devices"`
	RiskDistribution       map[string]int `json:"risk_distribution"`
	HighRiskDevices        []string       `json:"high_risk_devices"`
	DevicesWithRecentIssue []string       `json:"devices_with_recent_issues"`
	SystemHealthScore      float64        `json:"system_health_score"`
	GeneratedAt            time.Time      `json:"generated_at"`
}

// factor category names used as RiskFactors keys.
const (
	categoryIdentity   = "identity"
	categoryLocation   = "location"
	categoryBehavior   = "behavior"
	categoryCompliance = "compliance"
	categoryFirmware   = "firmware"
)

// assessmentWindow is the trailing window feeding factor rates and counts.
const assessmentWindow = 24 * time.Hour

// threatWindow is the trailing window feeding active-threat flags.
const threatWindow = time.Hour

// Assessor answers per-device and system-wide risk queries.
type Assessor struct {
	directory device.Directory
	store     ledger.Store
	logger    *zap.Logger
}

// NewAssessor creates an Assessor.
func NewAssessor(directory device.Directory, store ledger.Store, logger *zap.Logger) *Assessor {
	return &Assessor{directory: directory, store: store, logger: logger}
}

// Assess evaluates one device. An unknown device is an error; degraded data
// sources lower the confidence level instead of failing the assessment.
func (a *Assessor) Assess(ctx context.Context, deviceID string) (*Assessment, error) {
	d, err := a.directory.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", deviceID, err)
	}

	now := time.Now().UTC()
	as := &Assessment{
		DeviceID:          deviceID,
		CurrentTrustScore: d.TrustScore,
		Quarantined:       d.Quarantined,
		RiskLevel:         deviceRisk(d),
		RiskFactors:       map[string]FactorRisk{},
		ActiveThreats:     []string{},
		AssessedAt:        now,
	}

	records, err := a.store.ChangesSince(ctx, deviceID, now.Add(-assessmentWindow))
	if err != nil {
		// Degrade: assessment stands on the device record alone.
		a.logger.Warn("ledger unavailable during assessment",
			zap.String("device_id", deviceID), zap.Error(err))
		as.RiskTrend = ledger.TrendInsufficientData
		for _, cat := range []string{categoryIdentity, categoryLocation, categoryBehavior, categoryCompliance, categoryFirmware} {
			as.RiskFactors[cat] = FactorNoData
		}
		as.PredictedTrustScore = d.TrustScore
		as.PredictedRisk = as.RiskLevel
		as.ConfidenceLevel = 0.1
		as.Recommendations = recommendations(as)
		return as, nil
	}

	as.RiskTrend = trendOf(records)
	as.RiskFactors = factorRisks(records)
	a.fillCounts(as, records)
	a.fillThreats(as, records, now)
	a.fillPrediction(as, records, d.TrustScore)
	as.Recommendations = recommendations(as)
	return as, nil
}

// deviceRisk is the device-level overlay: "is this device dangerous now".
func deviceRisk(d *device.Device) ledger.RiskLevel {
	switch {
	case d.Quarantined || d.TrustScore < 30:
		return ledger.RiskCritical
	case d.TrustScore < 50:
		return ledger.RiskHigh
	case d.TrustScore < 70:
		return ledger.RiskMedium
	default:
		return ledger.RiskLow
	}
}

// scoreRisk classifies a bare score with the device-level thresholds.
func scoreRisk(score float64) ledger.RiskLevel {
	switch {
	case score < 30:
		return ledger.RiskCritical
	case score < 50:
		return ledger.RiskHigh
	case score < 70:
		return ledger.RiskMedium
	default:
		return ledger.RiskLow
	}
}

func trendOf(newestFirst []*ledger.ChangeRecord) ledger.Trend {
	if len(newestFirst) < 3 {
		return ledger.TrendInsufficientData
	}
	n := 5
	if len(newestFirst) < n {
		n = len(newestFirst)
	}
	var sum float64
	for _, r := range newestFirst[:n] {
		sum += r.ScoreChange
	}
	avg := sum / float64(n)
	switch {
	case avg > 2:
		return ledger.TrendImproving
	case avg < -2:
		return ledger.TrendDegrading
	default:
		return ledger.TrendStable
	}
}

// factorRisks rates each category by its failure share of the window.
func factorRisks(records []*ledger.ChangeRecord) map[string]FactorRisk {
	out := map[string]FactorRisk{
		categoryIdentity:   FactorNoData,
		categoryLocation:   FactorNoData,
		categoryBehavior:   FactorNoData,
		categoryCompliance: FactorNoData,
		categoryFirmware:   FactorNoData,
	}
	if len(records) == 0 {
		return out
	}

	total := float64(len(records))
	fails := map[string]float64{}
	for _, r := range records {
		if !r.Factors.IdentityPassed {
			fails[categoryIdentity]++
		}
		if !r.Factors.ContextPassed {
			fails[categoryLocation]++
		}
		if r.Factors.AnomalyDetected {
			fails[categoryBehavior]++
		}
		if !r.Factors.CompliancePassed {
			fails[categoryCompliance]++
		}
		if !r.Factors.FirmwareValid {
			fails[categoryFirmware]++
		}
	}

	for cat := range out {
		rate := fails[cat] / total
		switch {
		case rate > 0.30:
			out[cat] = FactorHighRisk
		case rate > 0.10:
			out[cat] = FactorMediumRisk
		default:
			out[cat] = FactorLowRisk
		}
	}
	return out
}

func (a *Assessor) fillCounts(as *Assessment, records []*ledger.ChangeRecord) {
	for _, r := range records {
		if r.Factors.AnomalyDetected {
			as.RecentAnomalies++
		}
		if !r.Factors.CompliancePassed {
			as.ComplianceIssues++
		}
		if !r.Factors.IdentityPassed {
			as.IdentityIssues++
		}
	}
	as.LocationChanges = locationChanges(records)
}

// locationChanges counts transitions between distinct ledger locations,
// walking oldest to newest.
func locationChanges(newestFirst []*ledger.ChangeRecord) int {
	changes := 0
	prev := ""
	for i := len(newestFirst) - 1; i >= 0; i-- {
		loc := newestFirst[i].Context.Location
		if loc == "" {
			continue
		}
		if prev != "" && loc != prev {
			changes++
		}
		prev = loc
	}
	return changes
}

func (a *Assessor) fillThreats(as *Assessment, records []*ledger.ChangeRecord, now time.Time) {
	cutoff := now.Add(-threatWindow)
	var lastHour []*ledger.ChangeRecord
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			lastHour = append(lastHour, r)
		}
	}

	anomalies, identityFails, complianceFails := 0, 0, 0
	for _, r := range lastHour {
		if r.Factors.AnomalyDetected {
			anomalies++
		}
		if !r.Factors.IdentityPassed {
			identityFails++
		}
		if !r.Factors.CompliancePassed {
			complianceFails++
		}
	}

	if anomalies > 0 {
		as.ActiveThreats = append(as.ActiveThreats, "Anomalous behavior detected in the last hour")
	}
	if identityFails > 0 {
		as.ActiveThreats = append(as.ActiveThreats, "Identity verification failures in the last hour")
	}
	if n := locationChanges(lastHour); n > 3 {
		as.ActiveThreats = append(as.ActiveThreats, fmt.Sprintf("Rapid location movement: %d changes in the last hour", n))
	}
	if complianceFails > 0 {
		as.ActiveThreats = append(as.ActiveThreats, "Compliance violations in the last hour")
	}
}

// fillPrediction extrapolates the 24h average per-event change another 24
// hours out by doubling it. A crude heuristic, kept advisory on purpose.
func (a *Assessor) fillPrediction(as *Assessment, records []*ledger.ChangeRecord, current float64) {
	n := len(records)
	if n == 0 {
		as.PredictedTrustScore = current
		as.PredictedRisk = scoreRisk(current)
		as.ConfidenceLevel = 0.3
		return
	}

	var sum float64
	for _, r := range records {
		sum += r.ScoreChange
	}
	predicted := current + (sum/float64(n))*2
	if predicted < 0 {
		predicted = 0
	}
	if predicted > 100 {
		predicted = 100
	}

	confidence := 0.3 + 0.1*float64(n)
	if confidence > 0.9 {
		confidence = 0.9
	}

	as.PredictedTrustScore = predicted
	as.PredictedRisk = scoreRisk(predicted)
	as.ConfidenceLevel = confidence
}

// Overview summarizes risk across the whole fleet. A fault assessing one
// device never aborts the batch: that device degrades to neutral values.
func (a *Assessor) Overview(ctx context.Context) (*Overview, error) {
	devices, err := a.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk overview: %w", err)
	}

	now := time.Now().UTC()
	ov := &Overview{
		TotalDevices: len(devices),
		RiskDistribution: map[string]int{
			ledger.RiskLow.String():      0,
			ledger.RiskMedium.String():   0,
			ledger.RiskHigh.String():     0,
			ledger.RiskCritical.String(): 0,
		},
		HighRiskDevices:        []string{},
		DevicesWithRecentIssue: []string{},
		GeneratedAt:            now,
	}

	var scoreSum float64
	for _, d := range devices {
		level := deviceRisk(d)
		ov.RiskDistribution[level.String()]++
		if level >= ledger.RiskHigh {
			ov.HighRiskDevices = append(ov.HighRiskDevices, d.DeviceID)
		}
		scoreSum += d.TrustScore
	}
	if len(devices) > 0 {
		ov.SystemHealthScore = scoreSum / float64(len(devices))
	}

	degrading, err := a.store.DevicesWithRecentDegradation(ctx, now.Add(-assessmentWindow))
	if err != nil {
		// Best-effort aggregate: report what we have.
		a.logger.Warn("degradation query failed during overview", zap.Error(err))
	} else {
		ov.DevicesWithRecentIssue = degrading
	}
	return ov, nil
}

// IsNotFound reports whether an assessment error means the device is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, device.ErrNotFound)
}
