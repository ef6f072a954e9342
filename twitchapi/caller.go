package twitchapi

import (
	"context"
	"errors"
	"fmt"
)

// Credentials carries what a single Helix request needs.
type Credentials struct {
	ClientID    string
	AccessToken string
}

// CredentialStore hands out credentials and can replace ones Twitch rejected.
type CredentialStore interface {
	Credentials(ctx context.Context) (Credentials, error)
	Refresh(ctx context.Context) (Credentials, error)
}

// AuthError marks a response Twitch rejected for authentication or scope reasons.
type AuthError struct {
	Status int
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("twitch auth rejected (%d): %s", e.Status, e.Msg)
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

const callAttempts = 3

// Caller runs API calls with credentials from a store, refreshing and
// retrying when the credentials are rejected.
type Caller struct {
	Store CredentialStore
}

// Call invokes fn with current credentials. On an AuthError it refreshes the
// credentials and retries, up to callAttempts invocations total. Non-auth
// errors propagate immediately.
func Call[T any](ctx context.Context, c *Caller, fn func(Credentials) (T, error)) (T, error) {
	var zero T
	creds, err := c.Store.Credentials(ctx)
	if err != nil {
		return zero, fmt.Errorf("load credentials: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < callAttempts; attempt++ {
		out, err := fn(creds)
		if err == nil {
			return out, nil
		}
		if !IsAuthError(err) {
			return zero, err
		}
		lastErr = err
		if attempt == callAttempts-1 {
			break
		}
		creds, err = c.Store.Refresh(ctx)
		if err != nil {
			return zero, fmt.Errorf("refresh credentials: %w", err)
		}
	}
	return zero, fmt.Errorf("twitch call failed after %d attempts: %w", callAttempts, lastErr)
}
