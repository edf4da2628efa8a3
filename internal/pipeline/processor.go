// Package pipeline glues the telemetry flow together: factor evaluation,
// anomaly detection, and the trust score adjustment.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/anomaly"
	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/factors"
	"github.com/sentinelmesh/trustplane/internal/scoring"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// MetricsRecordFunc is an optional callback for recording processed events.
type MetricsRecordFunc func(anomalyDetected bool)

// Processor consumes telemetry events and drives the scoring engine.
type Processor struct {
	directory device.Directory
	evaluator *factors.Evaluator
	detector  *anomaly.Detector
	engine    *scoring.Engine
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(directory device.Directory, evaluator *factors.Evaluator, detector *anomaly.Detector, engine *scoring.Engine, logger *zap.Logger) *Processor {
	return &Processor{
		directory: directory,
		evaluator: evaluator,
		detector:  detector,
		engine:    engine,
		logger:    logger,
	}
}

// SetMetricsRecorder configures an optional event metrics callback.
func (p *Processor) SetMetricsRecorder(f MetricsRecordFunc) {
	p.onMetrics = f
}

// Process handles one telemetry event: an unseen device is enrolled at the
// default baseline, the five factors are evaluated, and the score adjusted.
func (p *Processor) Process(ctx context.Context, ev *telemetry.Event) (*scoring.Result, error) {
	if ev.DeviceID == "" {
		return nil, fmt.Errorf("process telemetry: missing device id")
	}

	exists, err := p.directory.Exists(ctx, ev.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("process telemetry for %s: %w", ev.DeviceID, err)
	}
	if !exists {
		if err := p.directory.Save(ctx, device.New(ev.DeviceID)); err != nil {
			return nil, fmt.Errorf("enroll device %s: %w", ev.DeviceID, err)
		}
		p.logger.Info("device enrolled at baseline",
			zap.String("device_id", ev.DeviceID),
			zap.Float64("score", device.DefaultTrustScore),
		)
	}

	f := p.evaluator.Evaluate(ev)
	f.AnomalyDetected = p.detector.Observe(ev.DeviceID, ev.AnomalyScore)

	res, err := p.engine.Adjust(ctx, ev.DeviceID, f, ev.Snapshot())
	if err != nil {
		return nil, err
	}

	if p.onMetrics != nil {
		p.onMetrics(f.AnomalyDetected)
	}
	return res, nil
}
