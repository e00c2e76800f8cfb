package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_HealthBeforeRegistriesOpen(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "starting", report.Status)
	assert.Empty(t, report.Registries)

	// A source with nothing open yet is still starting
	s.SetStatus(func() []RegistryStatus { return nil })
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/health").Code)
}

func TestServer_HealthReportsRegistryCounts(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9191})
	s.SetStatus(func() []RegistryStatus {
		return []RegistryStatus{
			{Role: "staging", Root: "mem://staging", Algorithm: "sha256", Files: 3, OpenWriters: 1},
			{Role: "permanent", Root: "mem://permanent", Algorithm: "sha256", Files: 2, OpenReaders: 2},
		}
	})

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	require.Len(t, report.Registries, 2)
	assert.Equal(t, 3, report.Registries[0].Files)
	assert.Equal(t, 1, report.Registries[0].OpenWriters)
	assert.Equal(t, 2, report.Registries[1].OpenReaders)
}

func TestServer_IndexAndMetrics(t *testing.T) {
	InitRegistry()
	s := NewServer(ServerConfig{})

	index := get(t, s, "/")
	assert.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "/health")

	assert.Equal(t, http.StatusNotFound, get(t, s, "/nope").Code)

	m := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "go_goroutines")
}
