package api

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"com.aviebrantz.vision-router/pkg/config"
	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/docstore/memdocstore"
)

func newTestServer(t *testing.T) (*ApiServer, deviceconfig.Store) {
	t.Helper()
	coll, err := memdocstore.OpenCollection("id", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coll.Close() })

	store := deviceconfig.NewConfigDocStore(coll)
	return NewServer(store, config.APIServerConfig{Port: 8080}), store
}

func doGet(t *testing.T, as *ApiServer, target string) (int, map[string]interface{}) {
	t.Helper()
	res, err := as.app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)
	out := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(body, &out))
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	as, _ := newTestServer(t)

	status, body := doGet(t, as, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestGetDeviceConfig(t *testing.T) {
	as, store := newTestServer(t)
	cfg, err := deviceconfig.ParseDeviceConfig([]byte(`{"dashboard_url":"A","volume":2}`))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "cam-1", cfg))

	status, body := doGet(t, as, "/devices/cam-1/config")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "A", body["dashboard_url"])
	assert.Equal(t, float64(1), body["version"])
	fields := body["config"].(map[string]interface{})
	assert.Equal(t, float64(2), fields["volume"])
}

func TestGetDeviceConfigNotFound(t *testing.T) {
	as, _ := newTestServer(t)

	status, _ := doGet(t, as, "/devices/unknown/config")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetImageKeys(t *testing.T) {
	as, _ := newTestServer(t)

	status, body := doGet(t, as, "/devices/cam-1/keys?time="+url.QueryEscape("2020-06-01T11:59:03+02:00"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "original/cam-1/2020-06-01/09/5903.jpg", body["original"])
	assert.Equal(t, "annotated/cam-1/2020-06-01/09/5903.jpg", body["annotated"])

	status, _ = doGet(t, as, "/devices/cam-1/keys?time=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)
}
