// Package client is the Go SDK for the trust plane API: telemetry
// submission, trust score queries, risk assessment, change history, and the
// quarantine surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server reports an unknown device.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when the server rejects the operator token.
var ErrUnauthorized = errors.New("unauthorized")

// ErrConflict is returned for quarantine state conflicts, such as
// re-quarantining an isolated device or releasing one below the threshold.
var ErrConflict = errors.New("conflict")

// TelemetryEvent is a device telemetry report.
type TelemetryEvent struct {
	DeviceID         string      `json:"device_id"`
	Timestamp        time.Time   `json:"timestamp,omitempty"`
	CertificateValid bool        `json:"certificate_valid"`
	PatchStatus      string      `json:"patch_status,omitempty"`
	FirmwareVersion  string      `json:"firmware_version,omitempty"`
	Location         string      `json:"location,omitempty"`
	IPAddress        string      `json:"ip_address,omitempty"`
	CPUUsage         float64     `json:"cpu_usage,omitempty"`
	MemoryUsage      float64     `json:"memory_usage,omitempty"`
	NetworkUsage     float64     `json:"network_usage,omitempty"`
	AnomalyScore     float64     `json:"anomaly_score,omitempty"`
	MalwareDetected  bool        `json:"malware_signature_detected,omitempty"`
	Coordinates      Coordinates `json:"coordinates,omitempty"`
}

// Coordinates is an optional device position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Present   bool    `json:"present"`
}

// AdjustResult is the outcome of a score adjustment returned by telemetry
// submission, simulation, and reset.
type AdjustResult struct {
	DeviceID    string  `json:"device_id"`
	OldScore    float64 `json:"old_score"`
	NewScore    float64 `json:"new_score"`
	ScoreChange float64 `json:"score_change"`
	Trusted     bool    `json:"trusted"`
	StatusFlip  bool    `json:"status_flip"`
	Recorded    bool    `json:"recorded"`
}

// DeviceTrust is a device's trust record.
type DeviceTrust struct {
	DeviceID            string     `json:"device_id"`
	TrustScore          float64    `json:"trust_score"`
	Trusted             bool       `json:"trusted"`
	Quarantined         bool       `json:"quarantined"`
	QuarantineReason    string     `json:"quarantine_reason,omitempty"`
	QuarantineTimestamp *time.Time `json:"quarantine_timestamp,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Factors mirrors the five boolean trust signals.
type Factors struct {
	IdentityPassed   bool `json:"identity_passed"`
	ContextPassed    bool `json:"context_passed"`
	FirmwareValid    bool `json:"firmware_valid"`
	AnomalyDetected  bool `json:"anomaly_detected"`
	CompliancePassed bool `json:"compliance_passed"`
}

// Weight is a factor's reward/penalty pair.
type Weight struct {
	Reward  float64 `json:"reward"`
	Penalty float64 `json:"penalty"`
}

// Breakdown is the trust breakdown for a device: the current score plus the
// weight table governing adjustments.
type Breakdown struct {
	DeviceID       string            `json:"device_id"`
	TrustScore     float64           `json:"trust_score"`
	Trusted        bool              `json:"trusted"`
	TrustThreshold float64           `json:"trust_threshold"`
	Weights        map[string]Weight `json:"weights"`
}

// ChangeRecord is one ledger entry.
type ChangeRecord struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	OldScore     float64   `json:"old_score"`
	NewScore     float64   `json:"new_score"`
	ScoreChange  float64   `json:"score_change"`
	Timestamp    time.Time `json:"timestamp"`
	ChangeReason string    `json:"change_reason"`
	Severity     string    `json:"severity"`
	Factors      Factors   `json:"factors"`
}

// ChangeTimeline is a device's ledger timeline.
type ChangeTimeline struct {
	DeviceID string         `json:"device_id"`
	Days     int            `json:"days"`
	Count    int            `json:"count"`
	Changes  []ChangeRecord `json:"changes"`
}

// Pattern is a recurring cluster of negative changes.
type Pattern struct {
	Kind        string `json:"kind"`
	Key         string `json:"key"`
	Occurrences int    `json:"occurrences"`
	Description string `json:"description"`
}

// Analysis is a window analysis of a device's change history.
type Analysis struct {
	DeviceID       string         `json:"device_id"`
	WindowHours    int            `json:"window_hours"`
	TotalChanges   int            `json:"total_changes"`
	NetScoreChange float64        `json:"net_score_change"`
	ImprovingCount int            `json:"improving_count"`
	DegradingCount int            `json:"degrading_count"`
	FactorFailures map[string]int `json:"factor_failures"`
	Trend          string         `json:"trend"`
	CriticalEvents []ChangeRecord `json:"critical_events"`
	Patterns       []Pattern      `json:"patterns"`
	RiskLevel      string         `json:"risk_level"`
	Summary        string         `json:"summary"`
	CurrentScore   float64        `json:"current_score"`
}

// Assessment is a device risk assessment.
type Assessment struct {
	DeviceID            string            `json:"device_id"`
	CurrentTrustScore   float64           `json:"current_trust_score"`
	Quarantined         bool              `json:"quarantined"`
	RiskLevel           string            `json:"risk_level"`
	RiskTrend           string            `json:"risk_trend"`
	RiskFactors         map[string]string `json:"risk_factors"`
	ActiveThreats       []string          `json:"active_threats"`
	RecentAnomalies     int               `json:"recent_anomalies"`
	LocationChanges     int               `json:"location_changes"`
	ComplianceIssues    int               `json:"compliance_issues"`
	IdentityIssues      int               `json:"identity_issues"`
	PredictedTrustScore float64           `json:"predicted_trust_score_24h"`
	PredictedRisk       string            `json:"predicted_risk"`
	ConfidenceLevel     float64           `json:"confidence_level"`
	Recommendations     []string          `json:"recommendations"`
	AssessedAt          time.Time         `json:"assessed_at"`
}

// Overview is the fleet-wide risk overview.
type Overview struct {
	TotalDevices           int            `json:"total_devices"`
	RiskDistribution       map[string]int `json:"risk_distribution"`
	HighRiskDevices        []string       `json:"high_risk_devices"`
	DevicesWithRecentIssue []string       `json:"devices_with_recent_issues"`
	SystemHealthScore      float64        `json:"system_health_score"`
	GeneratedAt            time.Time      `json:"generated_at"`
}

// QuarantineEvent is one quarantine lifecycle event.
type QuarantineEvent struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Client talks to a trust plane server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken attaches a pre-obtained operator token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client connected to baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authenticate exchanges the admin secret for an operator token and attaches
// it to subsequent requests.
func (c *Client) Authenticate(ctx context.Context, operator, secret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/token",
		map[string]string{"operator": operator, "secret": secret}, &resp)
	if err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// SubmitTelemetry sends one telemetry event and returns the resulting score
// adjustment.
func (c *Client) SubmitTelemetry(ctx context.Context, ev TelemetryEvent) (*AdjustResult, error) {
	var result AdjustResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/telemetry", ev, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTrust returns a device's trust record.
func (c *Client) GetTrust(ctx context.Context, deviceID string) (*DeviceTrust, error) {
	var d DeviceTrust
	if err := c.call(ctx, http.MethodGet, "/api/v1/devices/"+deviceID+"/trust", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetBreakdown returns a device's trust breakdown.
func (c *Client) GetBreakdown(ctx context.Context, deviceID string) (*Breakdown, error) {
	var b Breakdown
	if err := c.call(ctx, http.MethodGet, "/api/v1/devices/"+deviceID+"/trust/breakdown", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListDevices returns all known devices.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceTrust, error) {
	var resp struct {
		Devices []DeviceTrust `json:"devices"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Simulate runs a what-if adjustment with no server-side effects.
func (c *Client) Simulate(ctx context.Context, currentScore float64, factors Factors) (*AdjustResult, error) {
	var result AdjustResult
	err := c.call(ctx, http.MethodPost, "/api/v1/trust/simulate", map[string]any{
		"current_score": currentScore,
		"factors":       factors,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResetTrust force-sets a device's score. Requires an operator token.
func (c *Client) ResetTrust(ctx context.Context, deviceID string, baseline float64, actor string) (*AdjustResult, error) {
	var result AdjustResult
	err := c.call(ctx, http.MethodPost, "/api/v1/devices/"+deviceID+"/trust/reset", map[string]any{
		"baseline": baseline,
		"actor":    actor,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChanges returns a device's ledger timeline over the trailing window.
func (c *Client) ListChanges(ctx context.Context, deviceID string, days int) (*ChangeTimeline, error) {
	path := "/api/v1/devices/" + deviceID + "/changes"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var tl ChangeTimeline
	if err := c.call(ctx, http.MethodGet, path, nil, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}

// AnalyzeChanges returns a window analysis of a device's change history.
func (c *Client) AnalyzeChanges(ctx context.Context, deviceID string, hours int) (*Analysis, error) {
	path := "/api/v1/devices/" + deviceID + "/changes/analysis"
	if hours > 0 {
		path += "?hours=" + strconv.Itoa(hours)
	}
	var a Analysis
	if err := c.call(ctx, http.MethodGet, path, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PurgeLedger deletes ledger records older than the retention horizon and
// returns how many were removed. Requires an operator token.
func (c *Client) PurgeLedger(ctx context.Context, olderThanDays int) (int64, error) {
	var resp struct {
		Purged int64 `json:"purged"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/ledger/purge",
		map[string]int{"older_than_days": olderThanDays}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// GetRisk returns a device's risk assessment.
func (c *Client) GetRisk(ctx context.Context, deviceID string) (*Assessment, error) {
	var a Assessment
	if err := c.call(ctx, http.MethodGet, "/api/v1/devices/"+deviceID+"/risk", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// RiskOverview returns the fleet-wide risk overview.
func (c *Client) RiskOverview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/risk/overview", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListQuarantined returns all currently quarantined devices.
func (c *Client) ListQuarantined(ctx context.Context) ([]DeviceTrust, error) {
	var resp struct {
		Devices []DeviceTrust `json:"devices"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/quarantine", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// QuarantineDevice manually isolates a device. Requires an operator token.
func (c *Client) QuarantineDevice(ctx context.Context, deviceID, reason string) (*QuarantineEvent, error) {
	var e QuarantineEvent
	err := c.call(ctx, http.MethodPost, "/api/v1/devices/"+deviceID+"/quarantine",
		map[string]string{"reason": reason}, &e)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ReleaseDevice releases a quarantined device. Requires an operator token.
func (c *Client) ReleaseDevice(ctx context.Context, deviceID string) (*QuarantineEvent, error) {
	var e QuarantineEvent
	err := c.call(ctx, http.MethodPost, "/api/v1/devices/"+deviceID+"/quarantine/release", nil, &e)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// QuarantineEvents returns a device's quarantine history, newest first.
func (c *Client) QuarantineEvents(ctx context.Context, deviceID string, limit int) ([]QuarantineEvent, error) {
	path := "/api/v1/devices/" + deviceID + "/quarantine/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Events []QuarantineEvent `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// call executes one JSON request/response round trip, attaching the operator
// token when present and mapping HTTP error classes to sentinel errors.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", path, errorMessage(body), ErrConflict)
	case resp.StatusCode >= 300:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
