package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL+"/v1/")
}

func TestPredictSendsSingleKeyedInstance(t *testing.T) {
	var got predictRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/proj/models/detector:predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"predictions":[{"detection_classes":[53.0, 48.0],"detection_scores":[0.9, 0.3]}]}`))
	})

	result, err := client.Predict(context.Background(), "proj", "detector", []byte{0xff, 0xd8})
	require.NoError(t, err)

	require.Len(t, got.Instances, 1)
	assert.Equal(t, "1", got.Instances[0].Key)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}), got.Instances[0].Image.B64)

	assert.Equal(t, []int{53, 48}, result.ClassIDs)
	assert.Equal(t, []float64{0.9, 0.3}, result.Scores)
}

func TestPredictMalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.Predict(context.Background(), "proj", "detector", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))

	var svcErr *ServiceError
	assert.False(t, errors.As(err, &svcErr))
}

func TestPredictServiceError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Prediction failed: unknown model"}`))
	})

	_, err := client.Predict(context.Background(), "proj", "detector", nil)
	require.Error(t, err)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "proj", svcErr.Project)
	assert.Equal(t, "detector", svcErr.Model)
	assert.Contains(t, svcErr.Error(), "unknown model")
	assert.False(t, errors.Is(err, ErrMalformedResponse))
}

func TestPredictEmptyPredictions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[]}`))
	})

	_, err := client.Predict(context.Background(), "proj", "detector", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestPredictTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(srv.Client(), srv.URL)
	srv.Close()

	_, err := client.Predict(context.Background(), "proj", "detector", nil)
	require.Error(t, err)
}
