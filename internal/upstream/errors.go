package upstream

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated matches (errors.Is) any AuthError of kind KindNotAuthenticated.
// Hosts react to it with exactly one re-login and retry.
var ErrNotAuthenticated = errors.New("user is not authenticated")

// AuthKind classifies an AuthError.
type AuthKind string

const (
	KindNotAuthenticated    AuthKind = "not_authenticated"
	KindInvalidCredentials  AuthKind = "invalid_credentials"
	KindProviderRejected    AuthKind = "provider_rejected"
	KindCredentialsRequired AuthKind = "credentials_required"
)

// AuthError is an authentication failure reported by the service or detected locally.
type AuthError struct {
	Kind    AuthKind
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != "" && e.Code != msg {
		return fmt.Sprintf("auth: %s (%s)", msg, e.Code)
	}
	return "auth: " + msg
}

func (e *AuthError) Is(target error) bool {
	return target == ErrNotAuthenticated && e.Kind == KindNotAuthenticated
}

// ProviderError is any other error envelope returned by the service
// (rate limiting, validation failures, unknown ids).
type ProviderError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider: %s", e.Endpoint)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Code != "" {
		msg += ": " + e.Code
	}
	return msg
}

// TransportError wraps connectivity failures. It is always surfaced, never retried here.
type TransportError struct {
	Endpoint string
	URL      string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Endpoint, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotAuthenticated is shorthand for errors.Is(err, ErrNotAuthenticated).
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}
