package deviceconfig

import (
	"context"
	"fmt"
	"io"
	"time"

	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"
)

type configDoc struct {
	ID       string    `docstore:"id"`
	DeviceID string    `docstore:"deviceID"`
	Version  int64     `docstore:"version"`
	Updated  time.Time `docstore:"updated"`
	Data     string    `docstore:"data"`
}

type configDocStore struct {
	coll *docstore.Collection
	now  func() time.Time
}

// NewConfigDocStore create a device config store using a gocloud.dev/docstore
// collection keyed by the "id" field. Every Set adds a new version document.
func NewConfigDocStore(coll *docstore.Collection) Store {
	return &configDocStore{
		coll: coll,
		now:  time.Now,
	}
}

// GetLatest scans every version document of the device and keeps the
// highest version. Drivers may apply Limit before OrderBy, so neither is used.
func (s *configDocStore) GetLatest(ctx context.Context, deviceID string) (*DeviceConfig, error) {
	iter := s.coll.
		Query().
		Where("deviceID", "=", deviceID).
		Get(ctx)
	defer iter.Stop()

	var latest *configDoc
	for {
		doc := &configDoc{}
		err := iter.Next(ctx, doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query config of %s: %w", deviceID, err)
		}
		if latest == nil || doc.Version > latest.Version {
			latest = doc
		}
	}
	if latest == nil {
		return &DeviceConfig{}, nil
	}

	cfg, err := ParseDeviceConfig([]byte(latest.Data))
	if err != nil {
		return nil, fmt.Errorf("parse config of %s: %w", deviceID, err)
	}
	cfg.Version = latest.Version
	cfg.UpdatedAt = latest.Updated
	return cfg, nil
}

func (s *configDocStore) Set(ctx context.Context, deviceID string, cfg *DeviceConfig) error {
	blob, err := cfg.MarshalJSON()
	if err != nil {
		return err
	}

	version := cfg.Version + 1
	doc := &configDoc{
		ID:       deviceID + "/" + versionKey(version),
		DeviceID: deviceID,
		Version:  version,
		Updated:  s.now().UTC(),
		Data:     string(blob),
	}
	err = s.coll.Create(ctx, doc)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.AlreadyExists {
			return fmt.Errorf("config of %s at version %d: %w", deviceID, cfg.Version, ErrVersionConflict)
		}
		return fmt.Errorf("create config of %s: %w", deviceID, err)
	}

	cfg.stored(blob)
	cfg.Version = doc.Version
	cfg.UpdatedAt = doc.Updated
	return nil
}
