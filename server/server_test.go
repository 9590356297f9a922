package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/registry"
	"ocm.software/open-component-model/contribution/server"
	"ocm.software/open-component-model/contribution/storage/memory"
)

type env struct {
	coordinator *coordinator.Coordinator
	registry    *registry.Registry
	server      *server.Server
}

func newEnv(t *testing.T, opts ...registry.Option) *env {
	t.Helper()
	reg := registry.New(opts...)
	c := coordinator.New(reg, nil, coordinator.WithStorage(memory.New()))
	return &env{
		coordinator: c,
		registry:    reg,
		server:      server.New(c, server.WithGatherer(prometheus.NewRegistry())),
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(t.Context(), method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestContributionLifecycle(t *testing.T) {
	e := newEnv(t)
	foo := contribution.Contribution{Name: "foo", Description: "first", Content: []byte("<component/>")}

	rec := e.do(t, http.MethodPost, "/contributions", foo)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, foo, decode[contribution.Contribution](t, rec))

	rec = e.do(t, http.MethodPost, "/contributions", foo)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/contributions/foo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[server.Status](t, rec)
	assert.True(t, status.Persisted)
	assert.False(t, status.Installed)
	assert.Equal(t, "first", status.Description)

	rec = e.do(t, http.MethodPost, "/contributions/foo/install", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[server.InstallResult](t, rec).Installed)

	rec = e.do(t, http.MethodPost, "/contributions/foo/install", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPut, "/contributions/foo", contribution.Contribution{Content: []byte("v2")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("v2"), decode[contribution.Contribution](t, rec).Content)

	rec = e.do(t, http.MethodDelete, "/contributions/foo?uninstall=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, live := e.registry.Lookup("foo")
	assert.False(t, live)

	rec = e.do(t, http.MethodGet, "/contributions/foo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"a", "b", "c"} {
		rec := e.do(t, http.MethodPost, "/contributions?install="+boolString(name != "b"), contribution.New(name, nil))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/contributions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := decode[[]server.Status](t, rec)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Persisted)
		assert.Equal(t, s.Name != "b", s.Installed, s.Name)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestRequestErrors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"get unknown", http.MethodGet, "/contributions/missing", nil, http.StatusNotFound},
		{"update unknown", http.MethodPut, "/contributions/missing", contribution.New("missing", nil), http.StatusNotFound},
		{"update mismatched name", http.MethodPut, "/contributions/a", contribution.New("b", nil), http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/contributions/missing", nil, http.StatusNotFound},
		{"install unknown", http.MethodPost, "/contributions/missing/install", nil, http.StatusNotFound},
		{"add without name", http.MethodPost, "/contributions", contribution.Contribution{}, http.StatusBadRequest},
		{"add unknown field", http.MethodPost, "/contributions", map[string]any{"name": "x", "color": "red"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUninstallWithoutRecord(t *testing.T) {
	e := newEnv(t)
	_, ok, err := e.registry.Deploy(t.Context(), contribution.New("orphan", nil))
	require.NoError(t, err)
	require.True(t, ok)

	rec := e.do(t, http.MethodPost, "/contributions/orphan/uninstall", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, live := e.registry.Lookup("orphan")
	assert.False(t, live)
}

func TestStartAndStop(t *testing.T) {
	e := newEnv(t, registry.WithActivator(func(_ context.Context, c *contribution.Contribution) error {
		if c.Name == "broken" {
			return errors.New("cannot activate")
		}
		return nil
	}))
	for _, c := range []*contribution.Contribution{
		contribution.New("ok", nil),
		contribution.New("broken", nil),
		{Name: "off", Disabled: true},
	} {
		_, _, err := e.coordinator.AddContribution(t.Context(), c)
		require.NoError(t, err)
	}

	rec := e.do(t, http.MethodPost, "/start", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	result := decode[server.ReplayResult](t, rec)
	assert.Equal(t, []string{"ok"}, result.Succeeded)
	assert.Equal(t, []string{"broken"}, result.Failed)
	assert.Equal(t, []string{"off"}, result.Skipped)
	assert.Contains(t, result.Error, "cannot activate")

	rec = e.do(t, http.MethodPost, "/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[server.ReplayResult](t, rec)
	assert.Equal(t, []string{"ok", "broken"}, result.Succeeded)
	assert.Empty(t, result.Error)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/live", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/metrics", nil).Code)

	require.NoError(t, e.coordinator.Shutdown(t.Context()))
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/contributions", nil).Code)
}
