package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/store"
)

const quickRepliesJSON = `[
	{"id":"q1","shortcut":"boleto","content":"Segue o boleto atualizado"},
	{"id":"q2","shortcut":"hello","content":"Hi! How can I help?"}
]`

func TestQuickCommandMatches(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/quick_replies", jsonResponse(http.StatusOK, quickRepliesJSON))
	setupTestEnv(t, h)

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"quick", "/bol"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "SHORTCUT")
	assert.Contains(t, out, "/boleto")
	assert.NotContains(t, out, "/hello")
}

func TestQuickCommandCachesCatalog(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/quick_replies", jsonResponse(http.StatusOK, quickRepliesJSON))
	setupTestEnv(t, h)

	for range 2 {
		_ = captureStdout(t, func() {
			require.NoError(t, Execute(context.Background(), []string{"quick", "/hel"}))
		})
	}
	assert.Len(t, h.Requests(), 1, "second lookup should be served from cache")

	_ = captureStdout(t, func() {
		require.NoError(t, Execute(context.Background(), []string{"quick", "/hel", "--refresh"}))
	})
	assert.Len(t, h.Requests(), 2)
}

func TestQuickCommandSelect(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/quick_replies", jsonResponse(http.StatusOK, quickRepliesJSON))
	setupTestEnv(t, h)

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"quick", "/bol", "--select", "0"})
	})
	require.NoError(t, err)
	assert.Equal(t, "Segue o boleto atualizado", strings.TrimSpace(out))
}

func TestQuickCommandDidYouMean(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/quick_replies", jsonResponse(http.StatusOK, quickRepliesJSON))
	setupTestEnv(t, h)

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"quick", "/bolto", "-o", "json"})
	})
	require.NoError(t, err)

	var res quickResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Matches)
	require.NotEmpty(t, res.DidYouMean)
	assert.Equal(t, "boleto", res.DidYouMean[0].Shortcut)
}

func TestQuickCommandRequiresPrefix(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/quick_replies", jsonResponse(http.StatusOK, quickRepliesJSON))
	setupTestEnv(t, h)

	var err error
	_ = captureStderr(t, func() {
		err = Execute(context.Background(), []string{"quick", "boleto"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `input must start with "/"`)
}

func TestSLACommand(t *testing.T) {
	now := time.Now().UTC()
	body := fmt.Sprintf(`{"payload":[
		{"id":"c1","remote_identity":"+5511999","display_name":"Ana","status":"open","created_at":%q,"last_activity_at":%q,"sla_deadline_at":%q},
		{"id":"c2","remote_identity":"+5511888","status":"closed","created_at":%q,"last_activity_at":%q,"sla_deadline_at":%q},
		{"id":"c3","remote_identity":"+5511777","status":"waiting","created_at":%q,"last_activity_at":%q}
	]}`,
		now.Add(-time.Minute).Format(time.RFC3339), now.Format(time.RFC3339), now.Add(4*time.Hour).Format(time.RFC3339),
		now.Add(-2*time.Hour).Format(time.RFC3339), now.Format(time.RFC3339), now.Add(-time.Hour).Format(time.RFC3339),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/conversations", jsonResponse(http.StatusOK, body))
	setupTestEnv(t, h)

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"sla", "-o", "json"})
	})
	require.NoError(t, err)

	var res struct {
		Conversations []struct {
			ConversationID string `json:"conversation_id"`
			Name           string `json:"name"`
			State          string `json:"state"`
		} `json:"conversations"`
		Summary map[string]int `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Conversations, 2, "closed conversations are skipped")

	states := map[string]string{}
	for _, c := range res.Conversations {
		states[c.ConversationID] = c.State
	}
	assert.Equal(t, "on_track", states["c1"])
	assert.Equal(t, "none", states["c3"])
	assert.Equal(t, 1, res.Summary["on_track"])
	assert.Equal(t, 1, res.Summary["none"])
	assert.Equal(t, 0, res.Summary["expired"])
}

func TestSLACommandSingleConversation(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	body := fmt.Sprintf(`{"id":"c2","remote_identity":"+5511888","status":"closed","created_at":%q,"last_activity_at":%q,"sla_deadline_at":%q}`,
		past.Add(-time.Hour).Format(time.RFC3339), past.Format(time.RFC3339), past.Format(time.RFC3339))
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/conversations/c2", jsonResponse(http.StatusOK, body))
	setupTestEnv(t, h)

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"sla", "c2"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "c2")
	assert.Contains(t, out, "expired")
}

func TestSLACommandNotFound(t *testing.T) {
	h := newRouteHandler().On(http.MethodGet, tenantPrefix+"/conversations/missing", jsonResponse(http.StatusNotFound, `{"error":"conversation not found"}`))
	setupTestEnv(t, h)

	var err error
	_ = captureStderr(t, func() {
		err = Execute(context.Background(), []string{"sla", "missing"})
	})
	require.Error(t, err)
	assert.Equal(t, exitNotFound, ExitCode(err))
}

func TestAuthLoginStatusLogout(t *testing.T) {
	setupTestEnv(t, newRouteHandler())
	t.Setenv("CONVO_BASE_URL", "")
	t.Setenv("CONVO_PROFILE", "")

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{
			"auth", "login", "--url", "https://desk.example.com/", "--token", "secret-token-1234", "--tenant", "acme", "--operator", "op-7",
		})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Credentials saved.")
	assert.Contains(t, out, "https://desk.example.com")

	out = captureStdout(t, func() {
		err = Execute(context.Background(), []string{"auth", "status", "-o", "json"})
	})
	require.NoError(t, err)
	var status authStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Authenticated)
	assert.Equal(t, "keyring", status.Source)
	assert.Equal(t, "default", status.Profile)
	assert.Equal(t, "https://desk.example.com", status.BaseURL)
	assert.Equal(t, "wss://desk.example.com/cable", status.CableURL)
	assert.Equal(t, "op-7", status.OperatorID)
	assert.Equal(t, "*************1234", status.Token)

	out = captureStdout(t, func() {
		err = Execute(context.Background(), []string{"auth", "logout"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, `Profile "default" removed.`)

	_ = captureStderr(t, func() {
		err = Execute(context.Background(), []string{"auth", "status"})
	})
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))
}

func TestAuthLoginNamedProfile(t *testing.T) {
	setupTestEnv(t, newRouteHandler())
	t.Setenv("CONVO_BASE_URL", "")
	t.Setenv("CONVO_PROFILE", "")

	_ = captureStdout(t, func() {
		require.NoError(t, Execute(context.Background(), []string{
			"--profile", "night", "auth", "login", "--url", "https://night.example.com", "--token", "tok-night", "--tenant", "acme-night",
		}))
	})
	p, err := config.LoadProfile("night")
	require.NoError(t, err)
	assert.Equal(t, "acme-night", p.TenantID)

	current, err := config.CurrentProfile()
	require.NoError(t, err)
	assert.Equal(t, "night", current)
}

func TestAuthLoginValidation(t *testing.T) {
	setupTestEnv(t, newRouteHandler())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing url", []string{"auth", "login", "--token", "t", "--tenant", "a"}, "--url is required"},
		{"missing token", []string{"auth", "login", "--url", "https://x.example.com", "--tenant", "a"}, "--token is required"},
		{"missing tenant", []string{"auth", "login", "--url", "https://x.example.com", "--token", "t"}, "--tenant is required"},
		{"bad scheme", []string{"auth", "login", "--url", "ftp://x.example.com", "--token", "t", "--tenant", "a"}, "scheme must be http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			_ = captureStderr(t, func() {
				err = Execute(context.Background(), tt.args)
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAuthStatusFromEnvironment(t *testing.T) {
	server := setupTestEnv(t, newRouteHandler())

	var err error
	out := captureStdout(t, func() {
		err = Execute(context.Background(), []string{"auth", "status"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "environment")
	assert.Contains(t, out, server.URL)
	assert.NotContains(t, out, "test-token")
}

func TestNotConfigured(t *testing.T) {
	setupTestEnv(t, newRouteHandler())
	t.Setenv("CONVO_BASE_URL", "")
	t.Setenv("CONVO_PROFILE", "")

	var err error
	stderr := captureStderr(t, func() {
		err = Execute(context.Background(), []string{"send", "c1", "hi"})
	})
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))
	assert.Contains(t, stderr, "convo auth login")
}

func TestJSONErrorOutput(t *testing.T) {
	h := newRouteHandler().On(http.MethodPatch, tenantPrefix+"/conversations/c1/status", jsonResponse(http.StatusUnauthorized, `{"error":"token revoked"}`))
	setupTestEnv(t, h)

	var err error
	stderr := captureStderr(t, func() {
		err = Execute(context.Background(), []string{"status", "c1", "open", "-o", "json"})
	})
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))

	var payload errorJSON
	require.NoError(t, json.Unmarshal([]byte(stderr), &payload))
	assert.Equal(t, exitAuth, payload.ExitCode)
	assert.Contains(t, payload.Error, "token revoked")
}

func TestJQRequiresJSONOutput(t *testing.T) {
	setupTestEnv(t, newRouteHandler())

	var err error
	_ = captureStderr(t, func() {
		err = Execute(context.Background(), []string{"version", "--jq", ".version", "-o", "text"})
	})
	require.Error(t, err)
	assert.Equal(t, exitUsage, ExitCode(err))
}

func TestUnknownCommand(t *testing.T) {
	setupTestEnv(t, newRouteHandler())

	var err error
	stderr := captureStderr(t, func() {
		err = Execute(context.Background(), []string{"frobnicate"})
	})
	require.Error(t, err)
	assert.Equal(t, exitUsage, ExitCode(err))
	assert.Contains(t, stderr, "unknown command")
}

func TestVersionCommand(t *testing.T) {
	setupTestEnv(t, newRouteHandler())

	out := captureStdout(t, func() {
		require.NoError(t, Execute(context.Background(), []string{"version"}))
	})
	assert.Contains(t, out, version)

	out = captureStdout(t, func() {
		require.NoError(t, Execute(context.Background(), []string{"version", "--jq", ".version"}))
	})
	assert.Equal(t, fmt.Sprintf("%q", version), strings.TrimSpace(out))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitGeneric},
		{"auth", &api.AuthError{Reason: "bad token"}, exitAuth},
		{"not configured", config.ErrNotConfigured, exitAuth},
		{"rate limit", &api.RateLimitError{RetryAfter: time.Second}, exitRateLimit},
		{"not found", &api.APIError{StatusCode: http.StatusNotFound}, exitNotFound},
		{"unknown conversation", fmt.Errorf("mark read: %w", store.ErrUnknownConversation), exitNotFound},
		{"server error", &api.APIError{StatusCode: http.StatusServiceUnavailable}, exitTransport},
		{"circuit breaker", &api.CircuitBreakerError{}, exitTransport},
		{"deadline", context.DeadlineExceeded, exitTransport},
		{"usage", errors.New(`unknown flag: --nope`), exitUsage},
		{"handled", &handledError{err: errors.New("x"), exitCode: exitNotFound}, exitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	assert.Empty(t, HandleError(nil))
	assert.Contains(t, HandleError(&api.RateLimitError{RetryAfter: 2 * time.Second}), "retry after 2s")
	assert.Contains(t, HandleError(&api.CircuitBreakerError{}), "circuit breaker")
	assert.Contains(t, HandleError(&api.APIError{StatusCode: 422, Body: "invalid", RequestID: "req-1"}), "Request ID: req-1")
	assert.Contains(t, HandleError(errors.New("dial tcp: connection refused")), "Connection refused")
	assert.Equal(t, "Error: boom\n", HandleError(errors.New("boom")))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "****5678", maskToken("12345678"))
	assert.Empty(t, maskToken(""))
}
