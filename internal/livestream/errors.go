package livestream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord wraps every invariant violation.
	ErrInvalidRecord = errors.New("invalid stream record")

	// ErrKeyImmutable is returned when an update tries to change a stream key.
	ErrKeyImmutable = errors.New("stream key is immutable")

	// ErrInvalidStatus is returned for unknown status names.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidURL is returned when no stream id can be parsed from a link.
	ErrInvalidURL = errors.New("no stream id in url")

	// ErrInvalidRequest is returned for command arguments that fail validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// NotFoundError is returned when a command references an unknown stream key.
type NotFoundError struct {
	StreamKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("stream %q not found", e.StreamKey)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, msg)
}

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
