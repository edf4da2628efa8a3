package risk_test

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/risk"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

var ctx = context.Background()

type fixture struct {
	dir      *device.MemoryDirectory
	store    *ledger.MemoryStore
	assessor *risk.Assessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := device.NewMemoryDirectory()
	store := ledger.NewMemoryStore()
	return &fixture{
		dir:      dir,
		store:    store,
		assessor: risk.NewAssessor(dir, store, zap.NewNop()),
	}
}

func (f *fixture) saveDevice(t *testing.T, id string, score float64, quarantined bool) {
	t.Helper()
	d := device.New(id)
	d.SetScore(score)
	d.Quarantined = quarantined
	if err := f.dir.Save(ctx, d); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) appendAt(t *testing.T, id string, ts time.Time, delta float64, factors ledger.Factors, loc string) {
	t.Helper()
	rec := ledger.NewChangeRecord(id, 50, 50+delta, factors, telemetry.Snapshot{Location: loc})
	rec.Timestamp = ts
	if err := f.store.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func TestAssess_deviceRiskLevels(t *testing.T) {
	cases := []struct {
		score       float64
		quarantined bool
		want        ledger.RiskLevel
	}{
		{85, false, ledger.RiskLow},
		{65, false, ledger.RiskMedium},
		{45, false, ledger.RiskHigh},
		{25, false, ledger.RiskCritical},
		{85, true, ledger.RiskCritical}, // quarantine dominates the score
	}
	for _, c := range cases {
		f := newFixture(t)
		f.saveDevice(t, "dev-1", c.score, c.quarantined)
		as, err := f.assessor.Assess(ctx, "dev-1")
		if err != nil {
			t.Fatal(err)
		}
		if as.RiskLevel != c.want {
			t.Errorf("score=%v quarantined=%v: risk=%s, want %s", c.score, c.quarantined, as.RiskLevel, c.want)
		}
	}
}

func TestAssess_unknownDevice(t *testing.T) {
	f := newFixture(t)
	if _, err := f.assessor.Assess(ctx, "ghost"); !risk.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestAssess_factorRiskRates(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "dev-1", 60, false)
	now := time.Now().UTC()

	// 10 records: 4 identity failures (40% -> HIGH_RISK), 2 compliance
	// failures (20% -> MEDIUM_RISK), zero firmware failures (LOW_RISK).
	for i := 0; i < 10; i++ {
		factors := ledger.Factors{
			IdentityPassed:   i >= 4,
			ContextPassed:    true,
			FirmwareValid:    true,
			CompliancePassed: i >= 2,
		}
		f.appendAt(t, "dev-1", now.Add(-time.Duration(i+1)*time.Minute), -1, factors, "")
	}

	as, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := as.RiskFactors["identity"]; got != risk.FactorHighRisk {
		t.Errorf("identity = %s, want HIGH_RISK", got)
	}
	if got := as.RiskFactors["compliance"]; got != risk.FactorMediumRisk {
		t.Errorf("compliance = %s, want MEDIUM_RISK", got)
	}
	if got := as.RiskFactors["firmware"]; got != risk.FactorLowRisk {
		t.Errorf("firmware = %s, want LOW_RISK", got)
	}
	if as.IdentityIssues != 4 || as.ComplianceIssues != 2 {
		t.Errorf("counts: identity=%d compliance=%d", as.IdentityIssues, as.ComplianceIssues)
	}
}

func TestAssess_emptyWindowIsNoData(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "dev-1", 80, false)

	as, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	for cat, fr := range as.RiskFactors {
		if fr != risk.FactorNoData {
			t.Errorf("category %s = %s, want NO_DATA", cat, fr)
		}
	}
	if as.RiskTrend != ledger.TrendInsufficientData {
		t.Errorf("trend = %s, want INSUFFICIENT_DATA", as.RiskTrend)
	}
	// No events: prediction falls back to the current score.
	if as.PredictedTrustScore != 80 {
		t.Errorf("prediction = %v, want 80", as.PredictedTrustScore)
	}
}

func TestAssess_activeThreats(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "dev-1", 60, false)
	now := time.Now().UTC()

	// Within the last hour: anomalies plus five location hops.
	locations := []string{"lab", "lobby", "dock", "garage", "roof", "lab"}
	for i, loc := range locations {
		f.appendAt(t, "dev-1", now.Add(-time.Duration(50-i)*time.Minute), -6,
			ledger.Factors{AnomalyDetected: true, IdentityPassed: true, ContextPassed: true, FirmwareValid: true, CompliancePassed: true}, loc)
	}

	as, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(as.ActiveThreats) < 2 {
		t.Fatalf("active threats = %v, want anomaly and location flags", as.ActiveThreats)
	}
	if as.LocationChanges != 5 {
		t.Errorf("location changes = %d, want 5", as.LocationChanges)
	}
}

func TestAssess_prediction(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "dev-1", 60, false)
	now := time.Now().UTC()

	// Four events averaging -3: predicted change = -6, score 54.
	for i := 0; i < 4; i++ {
		f.appendAt(t, "dev-1", now.Add(-time.Duration(i+1)*time.Minute), -3, ledger.Factors{}, "")
	}

	as, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if as.PredictedTrustScore != 54 {
		t.Errorf("prediction = %v, want 54", as.PredictedTrustScore)
	}
	// Confidence: 0.3 + 0.1*4 = 0.7.
	if math.Abs(as.ConfidenceLevel-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want 0.7", as.ConfidenceLevel)
	}
	if as.PredictedRisk != ledger.RiskMedium {
		t.Errorf("predicted risk = %s, want MEDIUM", as.PredictedRisk)
	}
}

func TestAssess_recommendationsAreDeterministic(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "dev-1", 40, false)
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		f.appendAt(t, "dev-1", now.Add(-time.Duration(i+1)*time.Minute), -5,
			ledger.Factors{IdentityPassed: true, ContextPassed: true, CompliancePassed: true}, "")
	}

	first, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.assessor.Assess(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Recommendations) == 0 {
		t.Fatal("no recommendations for a high-risk device")
	}
	for i := range first.Recommendations {
		if first.Recommendations[i] != second.Recommendations[i] {
			t.Errorf("recommendations differ between identical assessments")
		}
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	f.saveDevice(t, "healthy", 90, false)
	f.saveDevice(t, "watchlist", 60, false)
	f.saveDevice(t, "bad", 40, false)
	f.saveDevice(t, "locked", 20, true)
	now := time.Now().UTC()

	f.appendAt(t, "bad", now.Add(-time.Hour), -10, ledger.Factors{}, "")

	ov, err := f.assessor.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.TotalDevices != 4 {
		t.Errorf("total = %d, want 4", ov.TotalDevices)
	}
	if ov.RiskDistribution["LOW"] != 1 || ov.RiskDistribution["MEDIUM"] != 1 ||
		ov.RiskDistribution["HIGH"] != 1 || ov.RiskDistribution["CRITICAL"] != 1 {
		t.Errorf("distribution = %v", ov.RiskDistribution)
	}
	if len(ov.HighRiskDevices) != 2 {
		t.Errorf("high risk devices = %v, want [bad locked]", ov.HighRiskDevices)
	}
	if want := (90.0 + 60 + 40 + 20) / 4; ov.SystemHealthScore != want {
		t.Errorf("health = %v, want %v", ov.SystemHealthScore, want)
	}
	if len(ov.DevicesWithRecentIssue) != 1 || ov.DevicesWithRecentIssue[0] != "bad" {
		t.Errorf("recent issues = %v, want [bad]", ov.DevicesWithRecentIssue)
	}
}
