package backend

import (
	"errors"
	"fmt"
)

// maxErrorBody bounds how much of a response body is kept on errors.
const maxErrorBody = 256

// TransportError reports a timeout or network failure.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend transport %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response that could not be decoded.
type ProtocolError struct {
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("backend protocol %s (status %d): %v", e.Path, e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d", e.Path, e.Status)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a decode failure.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func truncate(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "..."
}
