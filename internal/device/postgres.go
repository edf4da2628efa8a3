package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory persists device trust records to PostgreSQL.
// It implements the Directory interface.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory creates a PostgresDirectory backed by the given pool.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Exists implements Directory.
func (r *PostgresDirectory) Exists(ctx context.Context, deviceID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM devices WHERE device_id = $1)", deviceID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("device exists %s: %w", deviceID, err)
	}
	return ok, nil
}

// FindByID implements Directory.
func (r *PostgresDirectory) FindByID(ctx context.Context, deviceID string) (*Device, error) {
	d := &Device{}
	err := r.db.QueryRow(ctx,
		`SELECT device_id, trust_score, trusted, quarantined,
		        COALESCE(quarantine_reason, ''), quarantine_at, created_at, updated_at
		 FROM devices WHERE device_id = $1`, deviceID,
	).Scan(
		&d.DeviceID, &d.TrustScore, &d.Trusted, &d.Quarantined,
		&d.QuarantineReason, &d.QuarantineTimestamp, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", deviceID, err)
	}
	return d, nil
}

// Save implements Directory. Score and trusted flag land in one statement so
// a reader can never observe them disagreeing.
func (r *PostgresDirectory) Save(ctx context.Context, d *Device) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO devices (
			device_id, trust_score, trusted, quarantined,
			quarantine_reason, quarantine_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			trust_score = EXCLUDED.trust_score,
			trusted = EXCLUDED.trusted,
			quarantined = EXCLUDED.quarantined,
			quarantine_reason = EXCLUDED.quarantine_reason,
			quarantine_at = EXCLUDED.quarantine_at,
			updated_at = EXCLUDED.updated_at`,
		d.DeviceID, d.TrustScore, d.Trusted, d.Quarantined,
		nullIfEmpty(d.QuarantineReason), d.QuarantineTimestamp, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save device %s: %w", d.DeviceID, err)
	}
	return nil
}

// List implements Directory.
func (r *PostgresDirectory) List(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.Query(ctx,
		`SELECT device_id, trust_score, trusted, quarantined,
		        COALESCE(quarantine_reason, ''), quarantine_at, created_at, updated_at
		 FROM devices ORDER BY device_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(
			&d.DeviceID, &d.TrustScore, &d.Trusted, &d.Quarantined,
			&d.QuarantineReason, &d.QuarantineTimestamp, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
