// Package tokenstore hands out OAuth access tokens for the live-video API.
// Refreshing tokens is someone else's job; this package only answers
// "is there a usable token right now".
package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MinRemaining is how long a token must still be valid to be handed out.
const MinRemaining = 5 * time.Minute

// ErrMissingCredentials is returned when no valid access token is available.
var ErrMissingCredentials = &MissingCredentialsError{Reason: "no valid access token"}

// MissingCredentialsError reports why no token could be handed out.
type MissingCredentialsError struct {
	Reason string
}

func (e *MissingCredentialsError) Error() string {
	return "missing credentials: " + e.Reason
}

// Is makes every MissingCredentialsError match ErrMissingCredentials.
func (e *MissingCredentialsError) Is(target error) bool {
	_, ok := target.(*MissingCredentialsError)
	return ok
}

// IsMissingCredentials reports whether err is a MissingCredentialsError.
func IsMissingCredentials(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}

// Source hands out a valid access token on demand.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static is a Source backed by a fixed token, typically from the environment.
type Static string

// Token implements Source.
func (s Static) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", &MissingCredentialsError{Reason: "no static token configured"}
	}
	return tok, nil
}
