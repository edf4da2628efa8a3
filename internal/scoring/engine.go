// Package scoring implements the trust score engine: a deterministic
// adjustment function over five boolean factors, applied to the device
// directory under per-device mutual exclusion.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// ErrBaselineOutOfRange is returned by Reset when the requested baseline
// falls outside the valid score range.
var ErrBaselineOutOfRange = errors.New("baseline out of range [0,100]")

// Result is the outcome of one score adjustment.
type Result struct {
	DeviceID    string  `json:"device_id"`
	OldScore    float64 `json:"old_score"`
	NewScore    float64 `json:"new_score"`
	ScoreChange float64 `json:"score_change"`
	Trusted     bool    `json:"trusted"`
	StatusFlip  bool    `json:"status_flip"` // trusted classification changed
	Recorded    bool    `json:"recorded"`    // a ledger record was written
}

// StatusChange describes a trusted-classification flip. Listeners are invoked
// synchronously inside the device's critical section, so transitions for a
// single device are totally ordered.
type StatusChange struct {
	DeviceID string
	Trusted  bool
	Score    float64
	Reason   string
	Snapshot telemetry.Snapshot
}

// StatusListener receives trusted-flip notifications.
type StatusListener func(ctx context.Context, change StatusChange)

// changeRecorder is the ledger write interface the engine needs.
// *ledger.Recorder satisfies it.
type changeRecorder interface {
	Record(ctx context.Context, deviceID string, oldScore, newScore float64, factors ledger.Factors, snapshot telemetry.Snapshot) (*ledger.ChangeRecord, error)
	RecordReset(ctx context.Context, deviceID string, oldScore, baseline float64, actor string) (*ledger.ChangeRecord, error)
}

// Engine adjusts device trust scores. All writes to a device's trust state
// flow through here, serialized per device.
type Engine struct {
	directory device.Directory
	recorder  changeRecorder // nil = no ledger writes
	weights   WeightTable
	logger    *zap.Logger

	listenerMu sync.RWMutex
	listener   StatusListener

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine creates an Engine. recorder may be nil to disable ledger writes.
func NewEngine(directory device.Directory, recorder *ledger.Recorder, logger *zap.Logger) *Engine {
	e := &Engine{
		directory: directory,
		weights:   DefaultWeights(),
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
	if recorder != nil {
		e.recorder = recorder
	}
	return e
}

// OnStatusChange registers the listener invoked when a device's trusted
// classification flips. The listener runs inside the device's critical
// section and must not call back into the engine.
func (e *Engine) OnStatusChange(l StatusListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listener = l
}

// Weights returns the engine's weight table, for score breakdown queries.
func (e *Engine) Weights() WeightTable {
	return e.weights
}

// deviceLock returns the mutex owning the device's trust state.
func (e *Engine) deviceLock(deviceID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[deviceID] = mu
	}
	return mu
}

// Adjust applies one factor evaluation to a device's trust score.
//
// The read-modify-write of the device record, the conditional ledger append,
// and any status-flip notification all happen under the device's lock, so
// concurrent telemetry for the same device cannot interleave. Unknown devices
// are an error: the scoring path never fabricates a score.
func (e *Engine) Adjust(ctx context.Context, deviceID string, factors ledger.Factors, snapshot telemetry.Snapshot) (*Result, error) {
	mu := e.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	d, err := e.directory.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("adjust %s: %w", deviceID, err)
	}

	oldScore := d.TrustScore
	wasTrusted := d.Trusted
	newScore := clamp(oldScore + e.weights.Delta(factors))

	d.SetScore(newScore)
	if err := e.directory.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save adjusted score for %s: %w", deviceID, err)
	}

	res := &Result{
		DeviceID:    deviceID,
		OldScore:    oldScore,
		NewScore:    newScore,
		ScoreChange: newScore - oldScore,
		Trusted:     d.Trusted,
		StatusFlip:  d.Trusted != wasTrusted,
	}

	if e.recorder != nil && math.Abs(res.ScoreChange) >= ledger.MaterialChange {
		if _, err := e.recorder.Record(ctx, deviceID, oldScore, newScore, factors, snapshot); err != nil {
			// The score is already applied; a ledger fault must not undo it.
			e.logger.Error("ledger write failed", zap.String("device_id", deviceID), zap.Error(err))
		} else {
			res.Recorded = true
		}
	}

	if res.StatusFlip {
		e.notify(ctx, StatusChange{
			DeviceID: deviceID,
			Trusted:  d.Trusted,
			Score:    newScore,
			Reason:   statusReason(factors, d.Trusted),
			Snapshot: snapshot,
		})
	}

	e.logger.Debug("trust score adjusted",
		zap.String("device_id", deviceID),
		zap.Float64("old_score", oldScore),
		zap.Float64("new_score", newScore),
		zap.Bool("trusted", d.Trusted),
	)
	return res, nil
}

// Simulate performs the adjustment arithmetic against a hypothetical current
// score without touching any state.
func (e *Engine) Simulate(current float64, factors ledger.Factors) Result {
	newScore := clamp(current + e.weights.Delta(factors))
	return Result{
		OldScore:    current,
		NewScore:    newScore,
		ScoreChange: newScore - current,
		Trusted:     newScore >= device.TrustThreshold,
	}
}

// Reset force-sets a device's score to a baseline. The transition is always
// ledgered as an administrative reset, whatever its magnitude, and a
// trusted flip still notifies the status listener.
func (e *Engine) Reset(ctx context.Context, deviceID string, baseline float64, actor string) (*Result, error) {
	if baseline < 0 || baseline > 100 {
		return nil, fmt.Errorf("reset %s: baseline %.1f: %w", deviceID, baseline, ErrBaselineOutOfRange)
	}

	mu := e.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	d, err := e.directory.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("reset %s: %w", deviceID, err)
	}

	oldScore := d.TrustScore
	wasTrusted := d.Trusted
	d.SetScore(baseline)
	if err := e.directory.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save reset score for %s: %w", deviceID, err)
	}

	res := &Result{
		DeviceID:    deviceID,
		OldScore:    oldScore,
		NewScore:    baseline,
		ScoreChange: baseline - oldScore,
		Trusted:     d.Trusted,
		StatusFlip:  d.Trusted != wasTrusted,
	}

	if e.recorder != nil {
		if _, err := e.recorder.RecordReset(ctx, deviceID, oldScore, baseline, actor); err != nil {
			e.logger.Error("ledger reset write failed", zap.String("device_id", deviceID), zap.Error(err))
		} else {
			res.Recorded = true
		}
	}

	if res.StatusFlip {
		e.notify(ctx, StatusChange{
			DeviceID: deviceID,
			Trusted:  d.Trusted,
			Score:    baseline,
			Reason:   fmt.Sprintf("administrative reset by %s", actor),
		})
	}
	return res, nil
}

func (e *Engine) notify(ctx context.Context, change StatusChange) {
	e.listenerMu.RLock()
	l := e.listener
	e.listenerMu.RUnlock()
	if l != nil {
		l(ctx, change)
	}
}

func statusReason(f ledger.Factors, trusted bool) string {
	if trusted {
		return "trust score recovered above threshold"
	}
	return "trust score below threshold: " + ledger.ReasonFor(f)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
