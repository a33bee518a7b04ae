package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/outfmt"
)

var errAlreadyHandled = errors.New("error already printed")

// handledError marks an error whose message was already printed by RunE.
type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string { return e.err.Error() }

func (e *handledError) Unwrap() []error { return []error{e.err, errAlreadyHandled} }

// RunE prints a friendly error before handing it back to cobra.
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		if outfmt.IsJSON(cmd.Context()) {
			_ = outfmt.WriteJSON(cmd.ErrOrStderr(), errorPayload(err), true)
		} else {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
		}
		return &handledError{err: err, exitCode: ExitCode(err)}
	}
}

func newFormatter(cmd *cobra.Command) *outfmt.Formatter {
	return outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
