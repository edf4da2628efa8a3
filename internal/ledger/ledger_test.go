package ledger_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

var ctx = context.Background()

func TestSeverityFor_thresholds(t *testing.T) {
	cases := []struct {
		delta float64
		want  ledger.Severity
	}{
		{-32, ledger.SeverityCritical},
		{20, ledger.SeverityCritical},
		{-12, ledger.SeverityHigh},
		{10, ledger.SeverityHigh},
		{-5, ledger.SeverityMedium},
		{5, ledger.SeverityMedium},
		{4.9, ledger.SeverityLow},
		{0.5, ledger.SeverityLow},
	}
	for _, c := range cases {
		if got := ledger.SeverityFor(c.delta); got != c.want {
			t.Errorf("SeverityFor(%v) = %s, want %s", c.delta, got, c.want)
		}
	}
}

func TestNewChangeRecord_reasonText(t *testing.T) {
	rec := ledger.NewChangeRecord("dev-1", 50, 18, ledger.Factors{
		ContextPassed: true,
		FirmwareValid: true,
	}, telemetry.Snapshot{})

	want := "Identity verification failed, Anomalies detected, Compliance violation"
	if rec.ChangeReason != want {
		t.Errorf("ChangeReason = %q, want %q", rec.ChangeReason, want)
	}
	if rec.ScoreChange != -32 {
		t.Errorf("ScoreChange = %v, want -32", rec.ScoreChange)
	}
	if rec.Severity != ledger.SeverityCritical {
		t.Errorf("Severity = %s, want CRITICAL", rec.Severity)
	}

	clean := ledger.NewChangeRecord("dev-1", 50, 56.5, ledger.Factors{
		IdentityPassed: true, ContextPassed: true, FirmwareValid: true, CompliancePassed: true,
	}, telemetry.Snapshot{})
	if clean.ChangeReason != "All trust factors passed" {
		t.Errorf("clean ChangeReason = %q", clean.ChangeReason)
	}
}

// appendAt inserts a record with a caller-chosen timestamp and delta.
func appendAt(t *testing.T, s ledger.Store, deviceID string, ts time.Time, delta float64, loc string) {
	t.Helper()
	rec := ledger.NewChangeRecord(deviceID, 50, 50+delta, ledger.Factors{}, telemetry.Snapshot{Location: loc})
	rec.Timestamp = ts
	if err := s.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStore_changesSinceOrdering(t *testing.T) {
	s := ledger.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)

	appendAt(t, s, "dev-1", base.Add(10*time.Minute), 1, "")
	appendAt(t, s, "dev-1", base.Add(30*time.Minute), 2, "")
	appendAt(t, s, "dev-1", base.Add(20*time.Minute), 3, "")
	appendAt(t, s, "dev-2", base.Add(25*time.Minute), 4, "")

	recs, err := s.ChangesSince(ctx, "dev-1", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.After(recs[i-1].Timestamp) {
			t.Error("records not ordered newest first")
		}
	}

	// Cutoff excludes older records.
	recs, _ = s.ChangesSince(ctx, "dev-1", base.Add(15*time.Minute))
	if len(recs) != 2 {
		t.Errorf("cutoff query: got %d records, want 2", len(recs))
	}
}

func TestMemoryStore_recentDegradation(t *testing.T) {
	s := ledger.NewMemoryStore()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)

	appendAt(t, s, "fading", now.Add(-30*time.Minute), -4, "")
	appendAt(t, s, "fading", now.Add(-20*time.Minute), -3, "")
	appendAt(t, s, "steady", now.Add(-30*time.Minute), -4, "")
	appendAt(t, s, "steady", now.Add(-20*time.Minute), 2, "")
	appendAt(t, s, "old-news", now.Add(-2*time.Hour), -50, "")

	ids, err := s.DevicesWithRecentDegradation(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "fading" {
		t.Errorf("degrading devices = %v, want [fading]", ids)
	}
}

func TestMemoryStore_purgeBefore(t *testing.T) {
	s := ledger.NewMemoryStore()
	now := time.Now().UTC()

	appendAt(t, s, "dev-1", now.Add(-48*time.Hour), -10, "")
	appendAt(t, s, "dev-1", now.Add(-30*time.Minute), -10, "")

	purged, err := s.PurgeBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	recs, _ := s.ChangesSince(ctx, "dev-1", now.Add(-72*time.Hour))
	if len(recs) != 1 {
		t.Errorf("remaining records = %d, want 1", len(recs))
	}
}

func newAnalyzer(s ledger.Store, dir device.Directory) *ledger.Analyzer {
	return ledger.NewAnalyzer(s, dir, zap.NewNop())
}

func TestAnalyzeChanges_trend(t *testing.T) {
	now := time.Now().UTC()
	dir := device.NewMemoryDirectory()

	t.Run("improving", func(t *testing.T) {
		s := ledger.NewMemoryStore()
		for i := 0; i < 5; i++ {
			appendAt(t, s, "dev-1", now.Add(-time.Duration(i)*time.Minute), 3, "")
		}
		an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "dev-1", 24)
		if err != nil {
			t.Fatal(err)
		}
		if an.Trend != ledger.TrendImproving {
			t.Errorf("trend = %s, want IMPROVING", an.Trend)
		}
	})

	t.Run("degrading", func(t *testing.T) {
		s := ledger.NewMemoryStore()
		for i := 0; i < 5; i++ {
			appendAt(t, s, "dev-1", now.Add(-time.Duration(i)*time.Minute), -3, "")
		}
		an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "dev-1", 24)
		if err != nil {
			t.Fatal(err)
		}
		if an.Trend != ledger.TrendDegrading {
			t.Errorf("trend = %s, want DEGRADING", an.Trend)
		}
	})

	t.Run("insufficient data", func(t *testing.T) {
		s := ledger.NewMemoryStore()
		appendAt(t, s, "dev-1", now, -3, "")
		appendAt(t, s, "dev-1", now.Add(-time.Minute), -3, "")
		an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "dev-1", 24)
		if err != nil {
			t.Fatal(err)
		}
		if an.Trend != ledger.TrendInsufficientData {
			t.Errorf("trend = %s, want INSUFFICIENT_DATA", an.Trend)
		}
	})
}

func TestAnalyzeChanges_patterns(t *testing.T) {
	s := ledger.NewMemoryStore()
	dir := device.NewMemoryDirectory()
	ts := time.Date(2026, 3, 14, 2, 15, 0, 0, time.UTC)

	// Three negative changes at the same location, same hour of day.
	for i := 0; i < 3; i++ {
		appendAt(t, s, "dev-1", ts.Add(time.Duration(i)*time.Minute), -6, "loading-dock")
	}
	// Positive changes never form patterns.
	appendAt(t, s, "dev-1", ts.Add(5*time.Minute), 6, "loading-dock")

	an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "dev-1", 24*365)
	if err != nil {
		t.Fatal(err)
	}

	var haveLocation, haveTemporal bool
	for _, p := range an.Patterns {
		switch p.Kind {
		case "recurring_location":
			if p.Key == "loading-dock" && p.Occurrences == 3 {
				haveLocation = true
			}
		case "temporal":
			if p.Key == "02:00" && p.Occurrences == 3 {
				haveTemporal = true
			}
		}
	}
	if !haveLocation {
		t.Errorf("missing recurring_location pattern: %+v", an.Patterns)
	}
	if !haveTemporal {
		t.Errorf("missing temporal pattern: %+v", an.Patterns)
	}
}

func TestAnalyzeChanges_windowRiskAndCriticalEvents(t *testing.T) {
	s := ledger.NewMemoryStore()
	dir := device.NewMemoryDirectory()
	now := time.Now().UTC()

	d := device.New("dev-1")
	d.SetScore(80)
	if err := dir.Save(ctx, d); err != nil {
		t.Fatal(err)
	}

	// One CRITICAL record forces CRITICAL window risk even at a high score.
	appendAt(t, s, "dev-1", now.Add(-10*time.Minute), -25, "")
	appendAt(t, s, "dev-1", now.Add(-20*time.Minute), 1, "")
	appendAt(t, s, "dev-1", now.Add(-30*time.Minute), 1, "")

	an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "dev-1", 24)
	if err != nil {
		t.Fatal(err)
	}
	if an.RiskLevel != ledger.RiskCritical {
		t.Errorf("risk = %s, want CRITICAL", an.RiskLevel)
	}
	if len(an.CriticalEvents) != 1 {
		t.Errorf("critical events = %d, want 1", len(an.CriticalEvents))
	}
	if an.CurrentScore != 80 {
		t.Errorf("current score = %v, want 80", an.CurrentScore)
	}
}

func TestAnalyzeChanges_emptyWindow(t *testing.T) {
	s := ledger.NewMemoryStore()
	dir := device.NewMemoryDirectory()

	an, err := newAnalyzer(s, dir).AnalyzeChanges(ctx, "ghost", 24)
	if err != nil {
		t.Fatal(err)
	}
	if an.TotalChanges != 0 {
		t.Errorf("total changes = %d, want 0", an.TotalChanges)
	}
	if an.Trend != ledger.TrendInsufficientData {
		t.Errorf("trend = %s, want INSUFFICIENT_DATA", an.Trend)
	}
	// Unknown device degrades to the neutral default score.
	if an.CurrentScore != device.DefaultTrustScore {
		t.Errorf("current score = %v, want %v", an.CurrentScore, device.DefaultTrustScore)
	}
}
