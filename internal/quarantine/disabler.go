package quarantine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Disabler is the external collaborator that actually cuts off a device on
// the device-management backend. Quarantine marking proceeds locally whatever
// this call returns, but the outcome is always recorded.
type Disabler interface {
	Disable(ctx context.Context, deviceID string) error
}

// HTTPDisabler calls a device-management backend over HTTP:
// POST {baseURL}/devices/{id}/disable.
type HTTPDisabler struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDisabler creates an HTTPDisabler. timeout bounds each disable call.
func NewHTTPDisabler(baseURL string, timeout time.Duration) *HTTPDisabler {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDisabler{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Disable implements Disabler.
func (d *HTTPDisabler) Disable(ctx context.Context, deviceID string) error {
	url := fmt.Sprintf("%s/devices/%s/disable", d.baseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build disable request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("disable %s: %w", deviceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("disable %s: backend returned %s", deviceID, resp.Status)
	}
	return nil
}

// NoopDisabler logs disable calls without contacting any backend. Used in
// development when no device-management endpoint is configured.
type NoopDisabler struct {
	logger *zap.Logger
}

// NewNoopDisabler creates a NoopDisabler.
func NewNoopDisabler(logger *zap.Logger) *NoopDisabler {
	return &NoopDisabler{logger: logger}
}

// Disable implements Disabler.
func (d *NoopDisabler) Disable(_ context.Context, deviceID string) error {
	d.logger.Info("noop disable (no device backend configured)",
		zap.String("device_id", deviceID))
	return nil
}
