package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelmesh/trustplane/internal/anomaly"
	"github.com/sentinelmesh/trustplane/internal/api"
	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/factors"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/pipeline"
	"github.com/sentinelmesh/trustplane/internal/quarantine"
	"github.com/sentinelmesh/trustplane/internal/risk"
	"github.com/sentinelmesh/trustplane/internal/scoring"
)

const testAdminSecret = "super-secret"

type testStack struct {
	router    *gin.Engine
	directory *device.MemoryDirectory
	engine    *scoring.Engine
	manager   *quarantine.Manager
}

// setupRouter wires the full API surface over in-memory stores, with admin
// auth enabled.
func setupRouter(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	directory := device.NewMemoryDirectory()
	store := ledger.NewMemoryStore()
	recorder := ledger.NewRecorder(store, logger)
	engine := scoring.NewEngine(directory, recorder, logger)
	events := quarantine.NewMemoryEventLog()
	manager := quarantine.NewManager(directory, quarantine.NewNoopDisabler(logger), events, logger)
	engine.OnStatusChange(manager.HandleStatusChange)

	evaluator := factors.NewEvaluator(factors.Config{
		KnownLocations:     map[string]bool{"hq": true, "warehouse": true},
		MinFirmwareVersion: "1.0.0",
	})
	detector := anomaly.NewDetector(100)
	processor := pipeline.NewProcessor(directory, evaluator, detector, engine, logger)

	analyzer := ledger.NewAnalyzer(store, directory, logger)
	assessor := risk.NewAssessor(directory, store, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	tokens := api.NewTokenIssuer([]byte("test-signing-key"), "https://trustplane.test", time.Hour)

	r := gin.New()
	v1 := r.Group("/api/v1")
	api.NewTelemetryHandler(processor, logger).Register(v1)
	api.NewTrustHandler(directory, engine, tokens, logger).Register(v1)
	api.NewChangesHandler(store, analyzer, tokens, logger).Register(v1)
	api.NewRiskHandler(assessor, logger).Register(v1)
	api.NewQuarantineHandler(manager, tokens, logger).Register(v1)
	api.NewAuthHandler(string(hash), tokens, logger).Register(v1)

	return &testStack{router: r, directory: directory, engine: engine, manager: manager}
}

func (s *testStack) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// operatorToken exchanges the admin secret for a bearer token.
func (s *testStack) operatorToken(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
		"operator": "alice",
		"secret":   testAdminSecret,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("token issuance: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == "" {
		t.Fatal("expected a token in the response")
	}
	return resp["token"]
}

func cleanEvent(deviceID string) map[string]any {
	return map[string]any{
		"device_id":         deviceID,
		"certificate_valid": true,
		"patch_status":      "up_to_date",
		"firmware_version":  "1.2.0",
		"location":          "hq",
		"ip_address":        "10.0.0.5",
	}
}

func TestTelemetryIngest_enrollsAndScores(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var result map[string]any
	json.Unmarshal(w.Body.Bytes(), &result)
	if got := result["new_score"].(float64); got != 56.5 {
		t.Errorf("expected new_score 56.5, got %v", got)
	}

	w = s.do(t, http.MethodGet, "/api/v1/devices/dev-1/trust", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var d map[string]any
	json.Unmarshal(w.Body.Bytes(), &d)
	if got := d["trust_score"].(float64); got != 56.5 {
		t.Errorf("expected trust_score 56.5, got %v", got)
	}
}

func TestTelemetryIngest_400_missingDeviceID(t *testing.T) {
	s := setupRouter(t)

	ev := cleanEvent("dev-1")
	delete(ev, "device_id")
	w := s.do(t, http.MethodPost, "/api/v1/telemetry", ev, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTrust_404_unknownDevice(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodGet, "/api/v1/devices/ghost/trust", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBreakdown_includesWeightsAndThreshold(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	w := s.do(t, http.MethodGet, "/api/v1/devices/dev-1/trust/breakdown", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if got := resp["trust_threshold"].(float64); got != 70.0 {
		t.Errorf("expected trust_threshold 70, got %v", got)
	}
	if _, ok := resp["weights"].(map[string]any); !ok {
		t.Error("expected a weights object in the breakdown")
	}
}

func TestSimulate_pureAndCorrect(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodPost, "/api/v1/trust/simulate", map[string]any{
		"current_score": 50.0,
		"factors": map[string]any{
			"identity_passed":   true,
			"context_passed":    true,
			"firmware_valid":    true,
			"anomaly_detected":  false,
			"compliance_passed": true,
		},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]any
	json.Unmarshal(w.Body.Bytes(), &result)
	if got := result["new_score"].(float64); got != 56.5 {
		t.Errorf("expected simulated new_score 56.5, got %v", got)
	}

	// Simulation must not create the device.
	w = s.do(t, http.MethodGet, "/api/v1/devices/sim-only/trust", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("simulate must have no side effects, got %d", w.Code)
	}
}

func TestSimulate_400_scoreOutOfRange(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodPost, "/api/v1/trust/simulate", map[string]any{
		"current_score": 140.0,
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestResetTrust_requiresOperatorToken(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	body := map[string]any{"baseline": 50.0, "actor": "alice"}

	w := s.do(t, http.MethodPost, "/api/v1/devices/dev-1/trust/reset", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token := s.operatorToken(t)
	w = s.do(t, http.MethodPost, "/api/v1/devices/dev-1/trust/reset", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]any
	json.Unmarshal(w.Body.Bytes(), &result)
	if got := result["new_score"].(float64); got != 50.0 {
		t.Errorf("expected reset to 50, got %v", got)
	}
}

func TestResetTrust_400_baselineOutOfRange(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/devices/dev-1/trust/reset", map[string]any{
		"baseline": 150.0,
		"actor":    "alice",
	}, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthToken_401_wrongSecret(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
		"operator": "mallory",
		"secret":   "guess",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListChanges_returnsLedgerTimeline(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	w := s.do(t, http.MethodGet, "/api/v1/devices/dev-1/changes?days=7", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if got := int(resp["count"].(float64)); got != 2 {
		t.Errorf("expected 2 ledger records, got %d", got)
	}
}

func TestListChanges_400_badDays(t *testing.T) {
	s := setupRouter(t)

	for _, q := range []string{"days=0", "days=abc", "days=500"} {
		w := s.do(t, http.MethodGet, "/api/v1/devices/dev-1/changes?"+q, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestAnalyzeChanges_200(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	w := s.do(t, http.MethodGet, "/api/v1/devices/dev-1/changes/analysis?hours=24", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if got := int(resp["total_changes"].(float64)); got != 1 {
		t.Errorf("expected 1 change in the window, got %d", got)
	}
}

func TestPurge_requiresTokenAndReportsCount(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	body := map[string]any{"older_than_days": 30}
	w := s.do(t, http.MethodPost, "/api/v1/ledger/purge", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token := s.operatorToken(t)
	w = s.do(t, http.MethodPost, "/api/v1/ledger/purge", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	// Nothing is 30 days old yet.
	if got := int(resp["purged"].(float64)); got != 0 {
		t.Errorf("expected 0 purged, got %d", got)
	}
}

func TestQuarantineFlow_manualAndConflict(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)
	token := s.operatorToken(t)
	auth := map[string]string{"Authorization": "Bearer " + token}

	body := map[string]string{"reason": "manual isolation during incident"}
	w := s.do(t, http.MethodPost, "/api/v1/devices/dev-1/quarantine", body, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Second quarantine is idempotent and reported as a conflict.
	w = s.do(t, http.MethodPost, "/api/v1/devices/dev-1/quarantine", body, auth)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-quarantine, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/v1/quarantine", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list map[string]any
	json.Unmarshal(w.Body.Bytes(), &list)
	if got := int(list["count"].(float64)); got != 1 {
		t.Errorf("expected 1 quarantined device, got %d", got)
	}

	// Release is refused while the score sits below the trust threshold.
	w = s.do(t, http.MethodPost, "/api/v1/devices/dev-1/quarantine/release", nil, auth)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 releasing below threshold, got %d: %s", w.Code, w.Body.String())
	}

	// Two more clean events push the score to 69.5, a third past 70.
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)
	}
	w = s.do(t, http.MethodPost, "/api/v1/devices/dev-1/quarantine/release", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 releasing recovered device, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/v1/devices/dev-1/quarantine/events", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events map[string]any
	json.Unmarshal(w.Body.Bytes(), &events)
	if got := int(events["count"].(float64)); got < 3 {
		t.Errorf("expected at least 3 quarantine events, got %d", got)
	}
}

func TestRisk_assessAndOverview(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent("dev-1"), nil)

	w := s.do(t, http.MethodGet, "/api/v1/devices/dev-1/risk", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a map[string]any
	json.Unmarshal(w.Body.Bytes(), &a)
	if a["risk_level"] != "MEDIUM" {
		t.Errorf("expected MEDIUM risk at score 56.5, got %v", a["risk_level"])
	}

	w = s.do(t, http.MethodGet, "/api/v1/risk/overview", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var o map[string]any
	json.Unmarshal(w.Body.Bytes(), &o)
	if got := int(o["total_devices"].(float64)); got != 1 {
		t.Errorf("expected 1 device in the overview, got %d", got)
	}
}

func TestRisk_404_unknownDevice(t *testing.T) {
	s := setupRouter(t)

	w := s.do(t, http.MethodGet, "/api/v1/devices/ghost/risk", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListDevices_200(t *testing.T) {
	s := setupRouter(t)
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/api/v1/telemetry", cleanEvent(fmt.Sprintf("dev-%d", i)), nil)
	}

	w := s.do(t, http.MethodGet, "/api/v1/devices", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if got := int(resp["count"].(float64)); got != 3 {
		t.Errorf("expected 3 devices, got %d", got)
	}
}
