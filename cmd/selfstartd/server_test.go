package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/selfstart/internal/config"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

func testDeps(t *testing.T) *dependencies {
	t.Helper()
	return wireDependencies(runtime.NewFakeAdapter(), registry.NewMemory(), zerolog.Nop())
}

func TestHandleHealth(t *testing.T) {
	deps := testDeps(t)
	cfg := config.Default()
	srv := newServer(&cfg, deps, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus_UnknownContainerIsNotFound(t *testing.T) {
	deps := testDeps(t)
	cfg := config.Default()
	srv := newServer(&cfg, deps, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/status?name=missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithAuth_RejectsMissingToken(t *testing.T) {
	deps := testDeps(t)
	cfg := config.Default()
	cfg.EnableAuth = true
	cfg.APIToken = "secret"
	srv := newServer(&cfg, deps, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/containers", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/containers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDiscoveryRegister_PersistsService(t *testing.T) {
	deps := testDeps(t)
	cfg := config.Default()
	srv := newServer(&cfg, deps, zerolog.Nop())

	body := `{"name":"web","container_id":"c1","service_type":"web","status":"running",
		"min_replicas":1,"max_replicas":1,"current_replicas":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/discovery/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v2/discovery/web", nil)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
