// Package device holds the per-device trust record and the directory that
// stores it.
//
// Two implementations of the Directory interface are provided:
//   - MemoryDirectory: in-process, for testing and single-node deployments.
//   - PostgresDirectory: durable, for production use.
package device

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a device is not present in the directory.
var ErrNotFound = errors.New("device not found")

// Directory is the persistence interface for device trust records.
type Directory interface {
	// Exists reports whether a record exists for the device.
	Exists(ctx context.Context, deviceID string) (bool, error)

	// FindByID returns the device record, or ErrNotFound.
	FindByID(ctx context.Context, deviceID string) (*Device, error)

	// Save upserts the device record.
	Save(ctx context.Context, d *Device) error

	// List returns all device records.
	List(ctx context.Context) ([]*Device, error)
}
