package youtube

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBroadcastNotFound is returned by GetBroadcast when the id is unknown.
var ErrBroadcastNotFound = errors.New("broadcast not found")

// ExternalAPIError is any non-2xx response from the live-video API. It is
// returned as-is and never retried by this package.
type ExternalAPIError struct {
	Operation  string
	StatusCode int
	RawBody    string
}

func (e *ExternalAPIError) Error() string {
	body := strings.TrimSpace(e.RawBody)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("youtube %s: status %d: %s", e.Operation, e.StatusCode, body)
}

// AsExternalAPIError unwraps err to an *ExternalAPIError if there is one.
func AsExternalAPIError(err error) (*ExternalAPIError, bool) {
	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Resource identifies an external resource left behind after a failure.
type Resource struct {
	Kind string // "liveStream" or "liveBroadcast"
	ID   string
}

func (r Resource) String() string {
	return r.Kind + "/" + r.ID
}

// PartialCreateError reports a CreateScheduledBroadcast that failed after at
// least one external resource had been created. Leftover lists the resources
// that compensation could not delete; it is empty when cleanup succeeded.
type PartialCreateError struct {
	Step     string
	Err      error
	Leftover []Resource
}

func (e *PartialCreateError) Error() string {
	msg := fmt.Sprintf("create broadcast failed at %s: %v", e.Step, e.Err)
	if len(e.Leftover) > 0 {
		ids := make([]string, len(e.Leftover))
		for i, r := range e.Leftover {
			ids[i] = r.String()
		}
		msg += " (needs cleanup: " + strings.Join(ids, ", ") + ")"
	}
	return msg
}

func (e *PartialCreateError) Unwrap() error {
	return e.Err
}
