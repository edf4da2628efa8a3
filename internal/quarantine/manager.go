// Package quarantine implements the device isolation lifecycle: a device
// whose trust classification drops is disabled on the external backend and
// marked quarantined locally; one that recovers above the trust threshold is
// released. Every transition attempt is logged, whatever its outcome.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/scoring"
)

// ErrScoreBelowThreshold is returned by Release when the device's score has
// not recovered to the trust threshold.
var ErrScoreBelowThreshold = errors.New("trust score below release threshold")

// MetricsRecordFunc is an optional callback for recording quarantine
// transitions.
type MetricsRecordFunc func(status Status)

// Manager drives the quarantine state machine.
type Manager struct {
	directory device.Directory
	disabler  Disabler
	events    EventLog
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewManager creates a Manager.
func NewManager(directory device.Directory, disabler Disabler, events EventLog, logger *zap.Logger) *Manager {
	return &Manager{
		directory: directory,
		disabler:  disabler,
		events:    events,
		logger:    logger,
	}
}

// SetMetricsRecorder configures an optional transition metrics callback.
func (m *Manager) SetMetricsRecorder(f MetricsRecordFunc) {
	m.onMetrics = f
}

// HandleStatusChange reacts to a trusted-classification flip from the scoring
// engine. It is invoked inside the device's scoring critical section, so
// transitions for one device never interleave.
func (m *Manager) HandleStatusChange(ctx context.Context, change scoring.StatusChange) {
	var err error
	if change.Trusted {
		_, err = m.Release(ctx, change.DeviceID)
	} else {
		_, err = m.Quarantine(ctx, change.DeviceID, change.Reason)
	}
	if err != nil {
		m.logger.Error("quarantine transition failed",
			zap.String("device_id", change.DeviceID),
			zap.Bool("trusted", change.Trusted),
			zap.Error(err),
		)
	}
}

// Quarantine isolates a device. The external disable call may fail; the local
// quarantine mark is applied regardless and the failure is recorded on the
// event, never retried here. Re-quarantining an already-quarantined device is
// a no-op with an ALREADY_QUARANTINED event and no second disable call.
func (m *Manager) Quarantine(ctx context.Context, deviceID, reason string) (*Event, error) {
	d, err := m.directory.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("quarantine %s: %w", deviceID, err)
	}

	if d.Quarantined {
		return m.log(ctx, newEvent(deviceID, reason, StatusAlreadyQuarantined, ""))
	}

	status := StatusSuccess
	errMsg := ""
	if disableErr := m.disabler.Disable(ctx, deviceID); disableErr != nil {
		status = StatusFailed
		errMsg = disableErr.Error()
		m.logger.Warn("device disable call failed; quarantining locally anyway",
			zap.String("device_id", deviceID),
			zap.Error(disableErr),
		)
	}

	now := time.Now().UTC()
	d.Quarantined = true
	d.QuarantineReason = reason
	d.QuarantineTimestamp = &now
	d.UpdatedAt = now
	if err := m.directory.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("mark quarantined %s: %w", deviceID, err)
	}

	m.logger.Info("device quarantined",
		zap.String("device_id", deviceID),
		zap.String("reason", reason),
		zap.String("status", status.String()),
	)
	return m.log(ctx, newEvent(deviceID, reason, status, errMsg))
}

// Release clears a device's quarantine once its score is back at or above the
// trust threshold. Releasing a device that is not quarantined is a no-op.
func (m *Manager) Release(ctx context.Context, deviceID string) (*Event, error) {
	d, err := m.directory.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", deviceID, err)
	}
	if !d.Quarantined {
		return nil, nil
	}
	if d.TrustScore < device.TrustThreshold {
		return nil, fmt.Errorf("release %s: score %.1f: %w", deviceID, d.TrustScore, ErrScoreBelowThreshold)
	}

	d.Quarantined = false
	d.QuarantineReason = ""
	d.QuarantineTimestamp = nil
	d.UpdatedAt = time.Now().UTC()
	if err := m.directory.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("clear quarantine %s: %w", deviceID, err)
	}

	m.logger.Info("device released from quarantine",
		zap.String("device_id", deviceID),
		zap.Float64("score", d.TrustScore),
	)
	return m.log(ctx, newEvent(deviceID, "trust score recovered", StatusRecovered, ""))
}

// Quarantined lists all currently quarantined devices.
func (m *Manager) Quarantined(ctx context.Context) ([]*device.Device, error) {
	all, err := m.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	var out []*device.Device
	for _, d := range all {
		if d.Quarantined {
			out = append(out, d)
		}
	}
	return out, nil
}

// Events returns a device's quarantine event history, newest first.
func (m *Manager) Events(ctx context.Context, deviceID string, limit int) ([]*Event, error) {
	return m.events.ByDevice(ctx, deviceID, limit)
}

func (m *Manager) log(ctx context.Context, e *Event) (*Event, error) {
	if err := m.events.Append(ctx, e); err != nil {
		// Losing an event is reportable but must not fail the transition.
		m.logger.Error("quarantine event append failed",
			zap.String("device_id", e.DeviceID),
			zap.Error(err),
		)
	}
	if m.onMetrics != nil {
		m.onMetrics(e.Status)
	}
	return e, nil
}
