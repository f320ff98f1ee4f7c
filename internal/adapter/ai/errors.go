package ai

import (
	"context"
	"errors"

	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// classifyCallError turns a failed call made under a derived timeout context
// into the error the caller should see. Cancellation of the caller's own ctx
// is returned unchanged so it is never retried; the client's own timeout and
// transport failures become *port.TransientError.
func classifyCallError(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	var transient *port.TransientError
	var fatal *port.FatalError
	if errors.As(err, &transient) || errors.As(err, &fatal) {
		return err
	}
	return &port.TransientError{Err: err}
}
