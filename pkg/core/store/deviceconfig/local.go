package deviceconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// configLocalStore saves device config versions on the local filesystem
type configLocalStore struct {
	db  *bolt.DB
	now func() time.Time
}

const configBucketPrefix = "config_"

type localRecord struct {
	Updated time.Time       `json:"updated"`
	Data    json.RawMessage `json:"data"`
}

func NewConfigLocalStore(db *bolt.DB) Store {
	return &configLocalStore{
		db:  db,
		now: time.Now,
	}
}

func (s *configLocalStore) GetLatest(ctx context.Context, deviceID string) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}
	err := s.db.View(func(tx *bolt.Tx) error {
		buck := tx.Bucket([]byte(configBucketPrefix + deviceID))
		if buck == nil {
			return nil
		}

		k, v := buck.Cursor().Last()
		if k == nil {
			return nil
		}

		version, err := strconv.ParseInt(string(k), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version key %q: %w", k, err)
		}

		record := localRecord{}
		if err := json.Unmarshal(v, &record); err != nil {
			return err
		}

		parsed, err := ParseDeviceConfig(record.Data)
		if err != nil {
			return err
		}
		parsed.Version = version
		parsed.UpdatedAt = record.Updated
		cfg = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read config of %s: %w", deviceID, err)
	}
	return cfg, nil
}

func (s *configLocalStore) Set(ctx context.Context, deviceID string, cfg *DeviceConfig) error {
	blob, err := cfg.MarshalJSON()
	if err != nil {
		return err
	}

	record := localRecord{
		Updated: s.now().UTC(),
		Data:    blob,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	version := cfg.Version + 1
	err = s.db.Update(func(tx *bolt.Tx) error {
		buck, err := tx.CreateBucketIfNotExists([]byte(configBucketPrefix + deviceID))
		if err != nil {
			return err
		}

		var current int64
		if k, _ := buck.Cursor().Last(); k != nil {
			current, err = strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version key %q: %w", k, err)
			}
		}
		if current != cfg.Version {
			return ErrVersionConflict
		}

		return buck.Put([]byte(versionKey(version)), value)
	})
	if err != nil {
		return fmt.Errorf("write config of %s: %w", deviceID, err)
	}

	cfg.stored(blob)
	cfg.Version = version
	cfg.UpdatedAt = record.Updated
	return nil
}
