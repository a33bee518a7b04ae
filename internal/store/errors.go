package store

import (
	"errors"
	"fmt"
)

// ErrUnknownConversation is returned by operations that need an already
// loaded conversation.
var ErrUnknownConversation = errors.New("unknown conversation")

// ConflictError reports two deliveries of one message identity that disagree
// on immutable fields. It points at a faulty data source; the mutation that
// triggered it was not applied.
type ConflictError struct {
	MessageID string
	Err       error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message %s: immutable fields changed: %v", e.MessageID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
