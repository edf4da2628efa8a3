package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
)

// Trend classifies the direction of a device's recent score movement.
type Trend int

const (
	TrendInsufficientData Trend = iota
	TrendStable
	TrendImproving
	TrendDegrading
)

// String returns the canonical label for a trend.
func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "IMPROVING"
	case TrendDegrading:
		return "DEGRADING"
	case TrendStable:
		return "STABLE"
	default:
		return "INSUFFICIENT_DATA"
	}
}

// MarshalJSON encodes the trend as its label.
func (t Trend) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// RiskLevel is an ordered risk classification. Higher values are worse.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the canonical label for a risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "CRITICAL"
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MarshalJSON encodes the risk level as its label.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Pattern is a recurring grouping among a device's negative score changes.
type Pattern struct {
	Kind        string `json:"kind"` // recurring_location, temporal
	Key         string `json:"key"`  // location name, or hour of day "HH:00"
	Occurrences int    `json:"occurrences"`
	Description string `json:"description"`
}

// Analysis is the output of AnalyzeChanges over a time window.
type Analysis struct {
	DeviceID        string          `json:"device_id"`
	WindowHours     int             `json:"window_hours"`
	TotalChanges    int             `json:"total_changes"`
	NetScoreChange  float64         `json:"net_score_change"`
	ImprovingCount  int             `json:"improving_count"`
	DegradingCount  int             `json:"degrading_count"`
	FactorFailures  map[string]int  `json:"factor_failures"`
	Trend           Trend           `json:"trend"`
	CriticalEvents  []*ChangeRecord `json:"critical_events"`
	Patterns        []Pattern       `json:"patterns"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	Summary         string          `json:"summary"`
	CurrentScore    float64         `json:"current_score"`
}

// trendSampleSize is how many of the most recent records feed the trend.
const trendSampleSize = 5

// patternMinOccurrences is the minimum cluster size reported as a pattern.
const patternMinOccurrences = 3

// Analyzer derives trends, patterns, and risk classifications from the
// recorded change series.
type Analyzer struct {
	store     Store
	directory device.Directory
	logger    *zap.Logger
}

// NewAnalyzer creates an Analyzer over the given store and device directory.
func NewAnalyzer(store Store, directory device.Directory, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: store, directory: directory, logger: logger}
}

// AnalyzeChanges summarizes a device's ledger activity over the trailing
// window. A missing device record degrades to the neutral default score so
// the analysis stays computable.
func (a *Analyzer) AnalyzeChanges(ctx context.Context, deviceID string, windowHours int) (*Analysis, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	records, err := a.store.ChangesSince(ctx, deviceID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("analyze changes for %s: %w", deviceID, err)
	}

	score := device.DefaultTrustScore
	if d, err := a.directory.FindByID(ctx, deviceID); err == nil {
		score = d.TrustScore
	} else if !errors.Is(err, device.ErrNotFound) {
		a.logger.Warn("device lookup failed during analysis; using neutral score",
			zap.String("device_id", deviceID), zap.Error(err))
	}

	an := &Analysis{
		DeviceID:       deviceID,
		WindowHours:    windowHours,
		FactorFailures: make(map[string]int),
		CurrentScore:   score,
		CriticalEvents: []*ChangeRecord{},
		Patterns:       []Pattern{},
	}

	for _, r := range records {
		an.TotalChanges++
		an.NetScoreChange += r.ScoreChange
		if r.ScoreChange > 0 {
			an.ImprovingCount++
		} else if r.ScoreChange < 0 {
			an.DegradingCount++
		}
		if !r.Factors.IdentityPassed {
			an.FactorFailures["identity"]++
		}
		if !r.Factors.ContextPassed {
			an.FactorFailures["context"]++
		}
		if !r.Factors.FirmwareValid {
			an.FactorFailures["firmware"]++
		}
		if r.Factors.AnomalyDetected {
			an.FactorFailures["anomaly"]++
		}
		if !r.Factors.CompliancePassed {
			an.FactorFailures["compliance"]++
		}
	}

	// records arrive newest first; critical events are the top 5 by recency.
	for _, r := range records {
		if r.Severity >= SeverityHigh {
			an.CriticalEvents = append(an.CriticalEvents, r)
			if len(an.CriticalEvents) == 5 {
				break
			}
		}
	}

	an.Trend = classifyTrend(records)
	an.Patterns = detectPatterns(records)
	an.RiskLevel = windowRisk(score, records)
	an.Summary = summarize(an)
	return an, nil
}

// classifyTrend averages the score change over the most recent records.
func classifyTrend(newestFirst []*ChangeRecord) Trend {
	if len(newestFirst) < 3 {
		return TrendInsufficientData
	}

	n := trendSampleSize
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
		return TrendImproving
	case avg < -2:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// detectPatterns clusters negative changes by location and by hour of day.
func detectPatterns(records []*ChangeRecord) []Pattern {
	byLocation := make(map[string]int)
	byHour := make(map[int]int)
	for _, r := range records {
		if r.ScoreChange >= 0 {
			continue
		}
		if r.Context.Location != "" {
			byLocation[r.Context.Location]++
		}
		byHour[r.Timestamp.Hour()]++
	}

	patterns := []Pattern{}
	for loc, n := range byLocation {
		if n >= patternMinOccurrences {
			patterns = append(patterns, Pattern{
				Kind:        "recurring_location",
				Key:         loc,
				Occurrences: n,
				Description: fmt.Sprintf("%d trust degradations at location %q", n, loc),
			})
		}
	}
	for hour, n := range byHour {
		if n >= patternMinOccurrences {
			patterns = append(patterns, Pattern{
				Kind:        "temporal",
				Key:         fmt.Sprintf("%02d:00", hour),
				Occurrences: n,
				Description: fmt.Sprintf("%d trust degradations around %02d:00 UTC", n, hour),
			})
		}
	}
	return patterns
}

// windowRisk classifies risk relative to the analysis window. This is
// distinct from the device-level overlay: it answers "is this device
// trending badly", not "is it dangerous right now".
func windowRisk(score float64, newestFirst []*ChangeRecord) RiskLevel {
	for _, r := range newestFirst {
		if r.Severity == SeverityCritical {
			return RiskCritical
		}
	}
	if score < 30 {
		return RiskCritical
	}

	recentDegrading := 0
	n := trendSampleSize
	if len(newestFirst) < n {
		n = len(newestFirst)
	}
	for _, r := range newestFirst[:n] {
		if r.ScoreChange < 0 {
			recentDegrading++
		}
	}

	switch {
	case score < 50 || recentDegrading >= 3:
		return RiskHigh
	case score < 70 || recentDegrading >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func summarize(an *Analysis) string {
	if an.TotalChanges == 0 {
		return fmt.Sprintf("No trust changes recorded in the last %dh; current score %.1f", an.WindowHours, an.CurrentScore)
	}
	return fmt.Sprintf("%d trust changes in the last %dh (net %+.1f, %d improving / %d degrading); trend %s; risk %s",
		an.TotalChanges, an.WindowHours, an.NetScoreChange,
		an.ImprovingCount, an.DegradingCount, an.Trend, an.RiskLevel)
}
