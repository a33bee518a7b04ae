package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/outbound"
	"github.com/collectdesk/convo/internal/store"
)

// HandleError renders an error with suggestions for the operator.
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder
	var (
		apiErr      *api.APIError
		rateErr     *api.RateLimitError
		breakerErr  *api.CircuitBreakerError
		authErr     *api.AuthError
		sendErr     *outbound.SendError
		conflictErr *store.ConflictError
	)

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No credentials configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: convo auth login --url URL --token TOKEN --tenant TENANT\n")
		msg.WriteString("  - Or set CONVO_BASE_URL, CONVO_API_TOKEN and CONVO_TENANT_ID\n")

	case errors.As(err, &rateErr):
		fmt.Fprintf(&msg, "Rate limit exceeded (retry after %s).\n", rateErr.RetryAfter)

	case errors.As(err, &breakerErr):
		msg.WriteString("Service temporarily unavailable (circuit breaker open).\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Wait 30 seconds and retry\n")

	case errors.As(err, &authErr):
		fmt.Fprintf(&msg, "Authentication failed: %s\n\n", authErr.Reason)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: convo auth status\n")
		msg.WriteString("  - Verify your API token is valid for this tenant\n")

	case errors.As(err, &sendErr):
		fmt.Fprintf(&msg, "Send failed, message %s marked failed: %s\n", sendErr.MessageID, api.Reason(sendErr.Err))

	case errors.As(err, &conflictErr):
		fmt.Fprintf(&msg, "Local state conflict on message %s: %v\n", conflictErr.MessageID, conflictErr.Err)

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "API error (HTTP %d): %s\n", apiErr.StatusCode, apiErr.Body)
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "Request ID: %s\n", apiErr.RequestID)
		}

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the backend URL: convo auth status\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}
	return msg.String()
}

type errorJSON struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
	Status   int    `json:"status,omitempty"`
}

func errorPayload(err error) errorJSON {
	out := errorJSON{Error: err.Error(), ExitCode: ExitCode(err)}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		out.Status = apiErr.StatusCode
		out.Error = apiErr.Body
	}
	return out
}
