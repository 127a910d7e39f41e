package deviceconfig

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	cloudiot "google.golang.org/api/cloudiot/v1"
	"google.golang.org/api/googleapi"
)

type cloudIoTStore struct {
	svc      *cloudiot.Service
	project  string
	region   string
	registry string
	logger   *log.Entry
}

// NewCloudIoTStore keeps device configurations in a Cloud IoT Core registry.
func NewCloudIoTStore(svc *cloudiot.Service, project, region, registry string) Store {
	return &cloudIoTStore{
		svc:      svc,
		project:  project,
		region:   region,
		registry: registry,
		logger:   log.WithField("module", "device-config"),
	}
}

func (s *cloudIoTStore) devicePath(deviceID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s", s.project, s.region, s.registry, deviceID)
}

func (s *cloudIoTStore) GetLatest(ctx context.Context, deviceID string) (*DeviceConfig, error) {
	resp, err := s.svc.Projects.Locations.Registries.Devices.ConfigVersions.
		List(s.devicePath(deviceID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list config versions of %s: %w", deviceID, err)
	}

	var latest *cloudiot.DeviceConfig
	for _, dc := range resp.DeviceConfigs {
		if latest == nil || dc.Version > latest.Version {
			latest = dc
		}
	}
	if latest == nil {
		s.logger.Infof("device %s has no config yet", deviceID)
		return &DeviceConfig{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(latest.BinaryData)
	if err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", deviceID, err)
	}
	cfg, err := ParseDeviceConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config of %s: %w", deviceID, err)
	}

	cfg.Version = latest.Version
	if latest.CloudUpdateTime != "" {
		cfg.UpdatedAt, err = time.Parse(time.RFC3339Nano, latest.CloudUpdateTime)
		if err != nil {
			return nil, fmt.Errorf("parse update time of %s: %w", deviceID, err)
		}
	}
	return cfg, nil
}

func (s *cloudIoTStore) Set(ctx context.Context, deviceID string, cfg *DeviceConfig) error {
	blob, err := cfg.MarshalJSON()
	if err != nil {
		return err
	}

	req := &cloudiot.ModifyCloudToDeviceConfigRequest{
		BinaryData:      base64.StdEncoding.EncodeToString(blob),
		VersionToUpdate: cfg.Version,
	}
	dc, err := s.svc.Projects.Locations.Registries.Devices.
		ModifyCloudToDeviceConfig(s.devicePath(deviceID), req).
		Context(ctx).
		Do()
	if err != nil {
		if isVersionMismatch(err) {
			return fmt.Errorf("config of %s at version %d: %w", deviceID, cfg.Version, ErrVersionConflict)
		}
		return fmt.Errorf("modify config of %s: %w", deviceID, err)
	}

	cfg.stored(blob)
	cfg.Version = dc.Version
	if t, err := time.Parse(time.RFC3339Nano, dc.CloudUpdateTime); err == nil {
		cfg.UpdatedAt = t
	}
	return nil
}

// Cloud IoT answers FAILED_PRECONDITION (HTTP 400) when versionToUpdate is
// no longer the current version.
func isVersionMismatch(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "version")
}
