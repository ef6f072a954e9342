package gpt

import (
	"errors"
	"fmt"
	"strings"
)

// Classified provider failures. Classification happens once, in
// classifyProviderError, when a generation call comes back with an error.
// Consumers branch with errors.Is / errors.As and never look at the raw
// provider message.
var (
	// ErrTooManyRequests means the active provider hit its quota or rate
	// limit. Recoverable by rotating to another handle.
	ErrTooManyRequests = errors.New("provider rate limited")

	// ErrUnavailable means a transient backend outage. Recoverable by a
	// short backoff on the same handle.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrSafety means the response was blocked by the provider's content
	// policy. Never retried.
	ErrSafety = errors.New("response blocked by safety policy")
)

// UnknownProviderError covers ambiguous blocked/failed responses, including
// responses with no usable text. Not retried.
type UnknownProviderError struct {
	Msg string
}

func (e *UnknownProviderError) Error() string {
	if e.Msg == "" {
		return "unknown provider error"
	}
	return "unknown provider error: " + e.Msg
}

// errorKind maps a classified error onto its metrics label.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTooManyRequests):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrSafety):
		return "safety"
	case isUnknownProvider(err):
		return "unknown"
	default:
		return "other"
	}
}

// classifyProviderError maps a raw generation error onto the typed taxonomy.
// The Gemini backend signals these conditions through gRPC status text, so the
// match is on the stable status markers, not on full messages.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %s", ErrTooManyRequests, msg)
	case strings.Contains(msg, "UNAVAILABLE"), strings.Contains(msg, "503"):
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	case strings.Contains(msg, "blocked due to prohibited content"), strings.Contains(msg, "SAFETY"):
		return fmt.Errorf("%w: %s", ErrSafety, msg)
	case strings.Contains(msg, "blocked due to unknown reasons"):
		return &UnknownProviderError{Msg: msg}
	}
	return err
}
