package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/99designs/keyring"

	"github.com/collectdesk/convo/internal/config"
)

const tenantPrefix = "/api/v1/tenants/acme"

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	fn()

	_ = w.Close()
	os.Stdout = old
	<-done
	return buf.String()
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	fn()

	_ = w.Close()
	os.Stderr = old
	<-done
	return buf.String()
}

// setupTestEnv points the CLI at a test server through CONVO_* variables and
// isolates cache and keyring state.
func setupTestEnv(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("CONVO_BASE_URL", server.URL)
	t.Setenv("CONVO_API_TOKEN", "test-token")
	t.Setenv("CONVO_TENANT_ID", "acme")
	t.Setenv("CONVO_CABLE_URL", "")
	t.Setenv("CONVO_OPERATOR_ID", "")
	t.Setenv("CONVO_OUTPUT", "text")
	t.Setenv("CONVO_CONFIG", "")
	t.Setenv("CONVO_PROFILE", "")
	t.Setenv("CONVO_NO_CACHE", "")
	t.Setenv("CONVO_MAX_RATE_LIMIT_RETRIES", "0")
	t.Setenv("CONVO_MAX_5XX_RETRIES", "0")
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	withEmptyKeyring(t)
	return server
}

func withEmptyKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	t.Cleanup(config.SetOpenKeyring(func(keyring.Config) (keyring.Keyring, error) {
		return ring, nil
	}))
}

func jsonResponse(statusCode int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(body))
	}
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// routeHandler maps "METHOD /path" to handlers and records every request.
type routeHandler struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []recordedRequest
}

func newRouteHandler() *routeHandler {
	return &routeHandler{routes: make(map[string]http.HandlerFunc)}
}

func (rh *routeHandler) On(method, path string, handler http.HandlerFunc) *routeHandler {
	rh.routes[method+" "+path] = handler
	return rh
}

func (rh *routeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	rh.mu.Lock()
	rh.requests = append(rh.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	handler, ok := rh.routes[r.Method+" "+r.URL.Path]
	rh.mu.Unlock()
	if ok {
		handler(w, r)
		return
	}
	http.NotFound(w, r)
}

func (rh *routeHandler) Requests() []recordedRequest {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return append([]recordedRequest(nil), rh.requests...)
}

func (rh *routeHandler) Called(method, path string) bool {
	for _, r := range rh.Requests() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}
