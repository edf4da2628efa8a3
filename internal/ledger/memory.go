package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*ChangeRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec *ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// ChangesSince implements Store.
func (s *MemoryStore) ChangesSince(_ context.Context, deviceID string, cutoff time.Time) ([]*ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ChangeRecord
	for _, r := range s.records {
		if r.DeviceID == deviceID && !r.Timestamp.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// RecentChanges implements Store.
func (s *MemoryStore) RecentChanges(_ context.Context, deviceID string, limit int) ([]*ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ChangeRecord
	for _, r := range s.records {
		if r.DeviceID == deviceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DevicesWithRecentDegradation implements Store.
func (s *MemoryStore) DevicesWithRecentDegradation(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]float64)
	for _, r := range s.records {
		if !r.Timestamp.Before(cutoff) {
			sums[r.DeviceID] += r.ScoreChange
		}
	}

	var out []string
	for id, sum := range sums {
		if sum < degradationThreshold {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PurgeBefore implements Store.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var purged int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return purged, nil
}

func sortNewestFirst(recs []*ChangeRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
