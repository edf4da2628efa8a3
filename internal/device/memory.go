package device

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory is an in-memory, thread-safe Directory implementation.
type MemoryDirectory struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{devices: make(map[string]*Device)}
}

// Exists implements Directory.
func (m *MemoryDirectory) Exists(_ context.Context, deviceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.devices[deviceID]
	return ok, nil
}

// FindByID implements Directory.
func (m *MemoryDirectory) FindByID(_ context.Context, deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// Save implements Directory.
func (m *MemoryDirectory) Save(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.DeviceID] = &cp
	return nil
}

// List implements Directory. Records are returned sorted by device ID so
// aggregate queries are stable across calls.
func (m *MemoryDirectory) List(_ context.Context) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}
