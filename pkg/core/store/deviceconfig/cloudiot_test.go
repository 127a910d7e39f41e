package deviceconfig

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cloudiot "google.golang.org/api/cloudiot/v1"
	"google.golang.org/api/option"
)

const testDevicePath = "/v1/projects/proj/locations/us-central1/registries/reg/devices/cam-1"

func newTestCloudIoTStore(t *testing.T, handler http.HandlerFunc) Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := cloudiot.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewCloudIoTStore(svc, "proj", "us-central1", "reg")
}

func TestCloudIoTGetLatestPicksNewestVersion(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{"dashboard_url":"C","mode":"kiosk"}`))
	old := base64.StdEncoding.EncodeToString([]byte(`{"dashboard_url":"A"}`))

	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, testDevicePath+"/configVersions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceConfigs":[
			{"version":"7","cloudUpdateTime":"2020-01-02T03:04:05.123456Z","binaryData":"` + blob + `"},
			{"version":"6","cloudUpdateTime":"2020-01-01T00:00:00Z","binaryData":"` + old + `"}
		]}`))
	})

	cfg, err := store.GetLatest(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, "C", cfg.DashboardURL)
	assert.Equal(t, int64(7), cfg.Version)
	assert.True(t, time.Date(2020, 1, 2, 3, 4, 5, 123456000, time.UTC).Equal(cfg.UpdatedAt))
}

func TestCloudIoTGetLatestWithoutVersions(t *testing.T) {
	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	cfg, err := store.GetLatest(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.DashboardURL)
	assert.True(t, cfg.UpdatedAt.IsZero())
}

func TestCloudIoTGetLatestMalformedBlob(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`not json`))
	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceConfigs":[{"version":"1","binaryData":"` + blob + `"}]}`))
	})

	_, err := store.GetLatest(context.Background(), "cam-1")
	require.Error(t, err)
}

func TestCloudIoTSetSendsWholeBlob(t *testing.T) {
	var got struct {
		BinaryData      string `json:"binaryData"`
		VersionToUpdate string `json:"versionToUpdate"`
	}
	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, testDevicePath+":modifyCloudToDeviceConfig", r.URL.Path)
		body, err := ioutil.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"8","cloudUpdateTime":"2020-01-02T03:05:00Z"}`))
	})

	cfg, err := ParseDeviceConfig([]byte(`{"dashboard_url":"C","mode":"kiosk"}`))
	require.NoError(t, err)
	cfg.Version = 7
	cfg.DashboardURL = "A"

	require.NoError(t, store.Set(context.Background(), "cam-1", cfg))
	assert.Equal(t, "7", got.VersionToUpdate)

	blob, err := base64.StdEncoding.DecodeString(got.BinaryData)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dashboard_url":"A","mode":"kiosk"}`, string(blob))
	assert.Equal(t, int64(8), cfg.Version)
}

func TestCloudIoTSetDetectsConflict(t *testing.T) {
	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"The requested version 7 does not match the current version 8.","status":"FAILED_PRECONDITION"}}`))
	})

	err := store.Set(context.Background(), "cam-1", &DeviceConfig{DashboardURL: "A", Version: 7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

func TestCloudIoTSetSurfacesAPIErrors(t *testing.T) {
	store := newTestCloudIoTStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"permission denied"}}`))
	})

	err := store.Set(context.Background(), "cam-1", &DeviceConfig{DashboardURL: "A"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrVersionConflict))
}
