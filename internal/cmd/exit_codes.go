package cmd

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/spf13/pflag"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/store"
	"github.com/collectdesk/convo/internal/suggest"
)

const (
	exitOK        = 0
	exitGeneric   = 1
	exitUsage     = 2
	exitAuth      = 3
	exitNotFound  = 4
	exitRateLimit = 5
	exitTransport = 6
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	var handled *handledError
	if errors.As(err, &handled) && handled.exitCode != 0 {
		return handled.exitCode
	}

	switch {
	case api.IsAuthError(err), errors.Is(err, config.ErrNotConfigured):
		return exitAuth
	case api.IsRateLimitError(err):
		return exitRateLimit
	case api.IsNotFoundError(err), errors.Is(err, store.ErrUnknownConversation):
		return exitNotFound
	case api.IsCircuitBreakerError(err), isTransportError(err):
		return exitTransport
	case isUsageError(err):
		return exitUsage
	default:
		return exitGeneric
	}
}

func isTransportError(err error) bool {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var streamErr *suggest.StreamError
	if errors.As(err, &streamErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func isUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"accepts ",
		"requires at least",
		"requires exactly",
		"invalid argument",
		"invalid output format",
		"invalid conversation status",
		"must be",
		"is required",
		"requires --output",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
