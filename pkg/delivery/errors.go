package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the group or recipient could not be resolved.
	ErrNotFound = errors.New("delivery: recipient not found")

	// ErrValidation means the request is missing fields or carries a bad attachment.
	ErrValidation = errors.New("delivery: invalid request")

	// ErrNoMessageSent means every delivery path of a reply failed.
	ErrNoMessageSent = errors.New("delivery: no message could be sent")
)

// PartialError reports the first failed part of a multi-part send.
// Parts before it were delivered and stay delivered.
type PartialError struct {
	Delivered int
	Part      string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("delivery: %s failed after %d part(s) sent: %v", e.Part, e.Delivered, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
