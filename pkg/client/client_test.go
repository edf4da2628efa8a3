package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentinelmesh/trustplane/pkg/client"
)

var ctx = context.Background()

// ── Stub server ─────────────────────────────────────────────────────────

func stubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["secret"] != "letmein" {
			http.Error(w, `{"error":"invalid secret"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "op-token-123"})
	})

	mux.HandleFunc("/api/v1/telemetry", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"device_id":    "dev-1",
			"old_score":    50.0,
			"new_score":    56.5,
			"score_change": 6.5,
			"trusted":      false,
			"recorded":     true,
		})
	})

	mux.HandleFunc("/api/v1/devices/dev-1/trust", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"device_id":   "dev-1",
			"trust_score": 56.5,
			"trusted":     false,
		})
	})

	mux.HandleFunc("/api/v1/devices/ghost/trust", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"device not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/devices/dev-1/trust/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer op-token-123" {
			http.Error(w, `{"error":"operator token required"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"device_id": "dev-1",
			"new_score": 50.0,
		})
	})

	mux.HandleFunc("/api/v1/devices/dev-1/quarantine", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"already quarantined"}`, http.StatusConflict)
	})

	mux.HandleFunc("/api/v1/risk/overview", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total_devices":       3,
			"system_health_score": 61.5,
			"risk_distribution":   map[string]int{"LOW": 1, "MEDIUM": 2},
		})
	})

	return httptest.NewServer(mux)
}

func TestSubmitTelemetry(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	result, err := c.SubmitTelemetry(ctx, client.TelemetryEvent{
		DeviceID:         "dev-1",
		CertificateValid: true,
	})
	if err != nil {
		t.Fatalf("SubmitTelemetry: %v", err)
	}
	if result.NewScore != 56.5 {
		t.Errorf("expected new score 56.5, got %v", result.NewScore)
	}
	if !result.Recorded {
		t.Error("expected the adjustment to be recorded")
	}
}

func TestGetTrust_notFound(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	if _, err := c.GetTrust(ctx, "ghost"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthenticate_attachesToken(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	// Reset is refused before authentication.
	if _, err := c.ResetTrust(ctx, "dev-1", 50, "alice"); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized before auth, got %v", err)
	}

	token, err := c.Authenticate(ctx, "alice", "letmein")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "op-token-123" {
		t.Errorf("unexpected token %q", token)
	}

	result, err := c.ResetTrust(ctx, "dev-1", 50, "alice")
	if err != nil {
		t.Fatalf("ResetTrust after auth: %v", err)
	}
	if result.NewScore != 50.0 {
		t.Errorf("expected reset to 50, got %v", result.NewScore)
	}
}

func TestAuthenticate_badSecret(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	if _, err := c.Authenticate(ctx, "mallory", "guess"); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestQuarantine_conflict(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL, client.WithToken("op-token-123"))

	if _, err := c.QuarantineDevice(ctx, "dev-1", "incident"); !errors.Is(err, client.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRiskOverview(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	o, err := c.RiskOverview(ctx)
	if err != nil {
		t.Fatalf("RiskOverview: %v", err)
	}
	if o.TotalDevices != 3 {
		t.Errorf("expected 3 devices, got %d", o.TotalDevices)
	}
	if o.RiskDistribution["MEDIUM"] != 2 {
		t.Errorf("expected 2 MEDIUM devices, got %d", o.RiskDistribution["MEDIUM"])
	}
}
