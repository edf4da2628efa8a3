// Package ledger records materially sized trust score transitions and derives
// trends, patterns, and risk classifications from the recorded series.
//
// Entries are append-only. The only deletion path is PurgeBefore, the
// retention sweep. Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"context"
	"time"
)

// Store is the persistence interface for the trust change ledger.
type Store interface {
	// Append adds a record to the ledger.
	Append(ctx context.Context, rec *ChangeRecord) error

	// ChangesSince returns a device's records with Timestamp >= cutoff,
	// ordered most recent first.
	ChangesSince(ctx context.Context, deviceID string, cutoff time.Time) ([]*ChangeRecord, error)

	// RecentChanges returns a device's most recent records, newest first,
	// up to limit.
	RecentChanges(ctx context.Context, deviceID string, limit int) ([]*ChangeRecord, error)

	// DevicesWithRecentDegradation returns the IDs of devices whose summed
	// score change since cutoff is below -5.0.
	DevicesWithRecentDegradation(ctx context.Context, cutoff time.Time) ([]string, error)

	// PurgeBefore deletes records older than cutoff and returns the number
	// removed. This is the only deletion path.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// degradationThreshold is the summed recent delta below which a device counts
// as recently degrading.
const degradationThreshold = -5.0
