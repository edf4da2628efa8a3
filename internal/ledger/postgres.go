package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists the trust change ledger to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const changeColumns = `id, device_id, old_score, new_score, score_change, timestamp,
	change_reason, severity, identity_passed, context_passed, firmware_valid,
	anomaly_detected, compliance_passed, location, ip_address, cpu_usage,
	memory_usage, network_usage`

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, rec *ChangeRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trust_changes (`+changeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.DeviceID, rec.OldScore, rec.NewScore, rec.ScoreChange, rec.Timestamp,
		rec.ChangeReason, int(rec.Severity), rec.Factors.IdentityPassed, rec.Factors.ContextPassed,
		rec.Factors.FirmwareValid, rec.Factors.AnomalyDetected, rec.Factors.CompliancePassed,
		rec.Context.Location, rec.Context.IPAddress, rec.Context.CPUUsage,
		rec.Context.MemoryUsage, rec.Context.NetworkUsage,
	)
	if err != nil {
		return fmt.Errorf("insert trust change: %w", err)
	}

	s.logger.Debug("trust change recorded",
		zap.String("device_id", rec.DeviceID),
		zap.Float64("score_change", rec.ScoreChange),
		zap.String("severity", rec.Severity.String()),
	)
	return nil
}

// ChangesSince implements Store.
func (s *PostgresStore) ChangesSince(ctx context.Context, deviceID string, cutoff time.Time) ([]*ChangeRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+changeColumns+` FROM trust_changes
		 WHERE device_id = $1 AND timestamp >= $2
		 ORDER BY timestamp DESC`,
		deviceID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query trust changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// RecentChanges implements Store.
func (s *PostgresStore) RecentChanges(ctx context.Context, deviceID string, limit int) ([]*ChangeRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+changeColumns+` FROM trust_changes
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent trust changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// DevicesWithRecentDegradation implements Store.
func (s *PostgresStore) DevicesWithRecentDegradation(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT device_id FROM trust_changes
		 WHERE timestamp >= $1
		 GROUP BY device_id
		 HAVING SUM(score_change) < $2
		 ORDER BY device_id ASC`,
		cutoff, degradationThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("query degrading devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PurgeBefore implements Store.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM trust_changes WHERE timestamp < $1", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge trust changes: %w", err)
	}

	purged := tag.RowsAffected()
	if purged > 0 {
		s.logger.Info("trust change ledger purged",
			zap.Int64("records", purged),
			zap.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}

// rowScanner matches both pgx.Rows and pgx.Row.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChanges(rows rowScanner) ([]*ChangeRecord, error) {
	var out []*ChangeRecord
	for rows.Next() {
		rec := &ChangeRecord{}
		var severity int
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &rec.OldScore, &rec.NewScore, &rec.ScoreChange, &rec.Timestamp,
			&rec.ChangeReason, &severity, &rec.Factors.IdentityPassed, &rec.Factors.ContextPassed,
			&rec.Factors.FirmwareValid, &rec.Factors.AnomalyDetected, &rec.Factors.CompliancePassed,
			&rec.Context.Location, &rec.Context.IPAddress, &rec.Context.CPUUsage,
			&rec.Context.MemoryUsage, &rec.Context.NetworkUsage,
		); err != nil {
			return nil, fmt.Errorf("scan trust change row: %w", err)
		}
		rec.Severity = Severity(severity)
		out = append(out, rec)
	}
	return out, rows.Err()
}
