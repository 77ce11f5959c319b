package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver("test", reg)
	require.NoError(t, err)

	o.RecordStorageOperation("file-releases", "put", time.Millisecond, nil)
	o.RecordStorageOperation("file-releases", "get", time.Millisecond, interfaces.NotFound("missing"))
	o.RecordStorageOperation("file-releases", "get", time.Millisecond, errors.New("unclassified"))
	o.RecordMetadataLookup("releases", "hit")
	o.RecordDeploy("releases", nil, 200, time.Millisecond)
	o.RecordDeploy("releases", interfaces.ErrCapacityExceeded, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.storageErrors.WithLabelValues("file-releases", "get", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.storageErrors.WithLabelValues("file-releases", "get", "backend_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.metadataLookups.WithLabelValues("releases", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deploys.WithLabelValues("releases", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deploys.WithLabelValues("releases", "capacity_exceeded")))
	assert.Equal(t, 200.0, testutil.ToFloat64(o.deployedBytes.WithLabelValues("releases")))
}

func TestNewObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewObserver("test", reg)
	require.NoError(t, err)
	second, err := NewObserver("test", reg)
	require.NoError(t, err)

	second.RecordMetadataLookup("releases", "miss")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.metadataLookups.WithLabelValues("releases", "miss")))
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "ok", KindLabel(nil))
	assert.Equal(t, "invalid_path", KindLabel(interfaces.ErrInvalidPath))
	assert.Equal(t, "policy_denied", KindLabel(interfaces.ErrPolicyDenied))
	assert.Equal(t, "backend_failure", KindLabel(interfaces.ErrBackendFailure))
}

func TestMetricsServer_Handler(t *testing.T) {
	srv, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Observer().RecordDeploy("releases", nil, 10, time.Millisecond)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_deploys_total{repository="releases",result="ok"} 1`)
}
