package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/telemetry"
)

// Recorder builds change records and appends them to a Store. It is the
// single write path into the ledger; callers never construct entries by hand.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record ledgers a score transition with its factor and context snapshot.
func (r *Recorder) Record(ctx context.Context, deviceID string, oldScore, newScore float64, factors Factors, snapshot telemetry.Snapshot) (*ChangeRecord, error) {
	rec := NewChangeRecord(deviceID, oldScore, newScore, factors, snapshot)
	if err := r.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("record trust change: %w", err)
	}
	return rec, nil
}

// RecordReset ledgers an administrative baseline reset. Resets are always
// recorded, whatever their magnitude.
func (r *Recorder) RecordReset(ctx context.Context, deviceID string, oldScore, baseline float64, actor string) (*ChangeRecord, error) {
	rec := NewChangeRecord(deviceID, oldScore, baseline, Factors{}, telemetry.Snapshot{})
	rec.ChangeReason = fmt.Sprintf("Administrative reset to %.1f by %s", baseline, actor)
	if err := r.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("record trust reset: %w", err)
	}

	r.logger.Info("trust score administratively reset",
		zap.String("device_id", deviceID),
		zap.Float64("old_score", oldScore),
		zap.Float64("baseline", baseline),
		zap.String("actor", actor),
	)
	return rec, nil
}
