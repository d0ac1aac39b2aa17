package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/config"
	"github.com/CageChen/contentbridge/internal/middleware"
	"github.com/CageChen/contentbridge/internal/remote"
	"github.com/CageChen/contentbridge/internal/remote/remotetest"
)

func newTestRouter(t *testing.T, allowedOrigins ...string) (http.Handler, *remotetest.Server) {
	t.Helper()
	upstream := remotetest.NewServer()
	t.Cleanup(upstream.Close)

	registry := prometheus.NewRegistry()
	client, err := remote.NewClient(remote.Options{
		BaseURL:     upstream.URL(),
		Credentials: remote.StaticToken("tok"),
		Registerer:  registry,
	})
	require.NoError(t, err)

	r, err := newRouter(client, registry, allowedOrigins, zap.NewNop())
	require.NoError(t, err)
	return r, upstream
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRouter_Healthz(t *testing.T) {
	r, _ := newTestRouter(t)

	w := get(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_ServesForm(t *testing.T) {
	r, _ := newTestRouter(t)

	w := get(r, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "GitHub Content Bridge")

	w = get(r, "/app.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/file")
}

func TestRouter_FileAndMetrics(t *testing.T) {
	r, upstream := newTestRouter(t)
	upstream.Put("acme", "docs", "README.md", "# Docs")

	w := get(r, "/api/file?owner=acme&repo=docs&path=README.md")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"content":"# Docs"`)

	w = get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "contentbridge_github_request_duration_seconds")
}

func send(h http.Handler, method, target, origin, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_ForeignOriginCannotWrite(t *testing.T) {
	r, upstream := newTestRouter(t)
	sha := upstream.Put("acme", "docs", "README.md", "# Docs")
	const evil = "https://evil.example"

	w := send(r, http.MethodOptions, "/api/file", evil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = send(r, http.MethodDelete, "/api/file", evil,
		`{"owner":"acme","repo":"docs","path":"README.md","sha":"`+sha+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = send(r, http.MethodPut, "/api/file", evil,
		`{"owner":"acme","repo":"docs","path":"README.md","content":"pwned","sha":"`+sha+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	content, ok := upstream.Content("acme", "docs", "README.md")
	require.True(t, ok)
	assert.Equal(t, "# Docs", content)
}

func TestRouter_SameOriginCanWrite(t *testing.T) {
	r, upstream := newTestRouter(t)
	sha := upstream.Put("acme", "docs", "README.md", "# Docs")

	// httptest requests are addressed to example.com.
	w := send(r, http.MethodDelete, "/api/file", "http://example.com",
		`{"owner":"acme","repo":"docs","path":"README.md","sha":"`+sha+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_AllowedOriginPreflight(t *testing.T) {
	const dev = "http://localhost:5173"
	r, _ := newTestRouter(t, dev)

	w := send(r, http.MethodOptions, "/api/file", dev, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, dev, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestRouter_WithoutMetrics(t *testing.T) {
	r, err := newRouter(nil, nil, nil, zap.NewNop())
	require.NoError(t, err)

	w := get(r, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewCredentials(t *testing.T) {
	t.Setenv("CB_TEST_TOKEN", "")

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("from-file\n"), 0600))

	cfg := config.DefaultConfig()
	cfg.TokenEnv = "CB_TEST_TOKEN"
	cfg.TokenFile = tokenFile
	cfg.WatchTokenFile = false

	creds, stop := newCredentials(cfg, zap.NewNop())
	defer stop()

	assert.Equal(t, "from-file", creds.Token())

	t.Setenv("CB_TEST_TOKEN", "from-env")
	assert.Equal(t, "from-env", creds.Token())
}

func TestNewCredentials_EnvOnly(t *testing.T) {
	t.Setenv("CB_TEST_TOKEN", "")

	cfg := config.DefaultConfig()
	cfg.TokenEnv = "CB_TEST_TOKEN"

	creds, stop := newCredentials(cfg, zap.NewNop())
	defer stop()

	assert.Len(t, creds, 1)
	assert.Empty(t, creds.Token())
}
