package quarantine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLog is the persistence interface for quarantine events.
type EventLog interface {
	// Append adds an event to the log.
	Append(ctx context.Context, e *Event) error

	// ByDevice returns a device's events, newest first, up to limit
	// (0 = no limit).
	ByDevice(ctx context.Context, deviceID string, limit int) ([]*Event, error)
}

// MemoryEventLog is an in-memory, thread-safe EventLog implementation.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryEventLog creates an empty MemoryEventLog.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

// Append implements EventLog.
func (l *MemoryEventLog) Append(_ context.Context, e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *e
	l.events = append(l.events, &cp)
	return nil
}

// ByDevice implements EventLog.
func (l *MemoryEventLog) ByDevice(_ context.Context, deviceID string, limit int) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Event
	for _, e := range l.events {
		if e.DeviceID == deviceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PostgresEventLog persists quarantine events to PostgreSQL.
type PostgresEventLog struct {
	db *pgxpool.Pool
}

// NewPostgresEventLog creates a PostgresEventLog backed by the given pool.
func NewPostgresEventLog(db *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{db: db}
}

// Append implements EventLog.
func (l *PostgresEventLog) Append(ctx context.Context, e *Event) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO quarantine_events (id, device_id, reason, status, timestamp, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DeviceID, e.Reason, int(e.Status), e.Timestamp, nullIfEmpty(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert quarantine event: %w", err)
	}
	return nil
}

// ByDevice implements EventLog.
func (l *PostgresEventLog) ByDevice(ctx context.Context, deviceID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := l.db.Query(ctx,
		`SELECT id, device_id, reason, status, timestamp, COALESCE(error_message, '')
		 FROM quarantine_events
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query quarantine events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var status int
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Reason, &status, &e.Timestamp, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan quarantine event: %w", err)
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
