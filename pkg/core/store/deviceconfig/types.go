package deviceconfig

import (
	"context"
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by Set when the device configuration
// changed after it was read.
var ErrVersionConflict = errors.New("device config version conflict")

// Store reads and replaces the configuration blob pushed to a device.
type Store interface {
	// GetLatest returns the newest configuration version of the device.
	// A device without any configuration yields an empty config.
	GetLatest(ctx context.Context, deviceID string) (*DeviceConfig, error)
	// Set replaces the whole configuration blob. On success cfg carries
	// the new version and update time.
	Set(ctx context.Context, deviceID string, cfg *DeviceConfig) error
}

func versionKey(version int64) string {
	return fmt.Sprintf("%020d", version)
}
