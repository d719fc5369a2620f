package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigError means an adapter cannot be constructed for an account:
// missing credentials, unknown venue code, and so on. It is never retried
// automatically; the affected order is rejected or the account skipped.
type ConfigError struct {
	Venue  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Venue == "" {
		return fmt.Sprintf("broker configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("%s configuration error: %s", e.Venue, e.Reason)
}

// VenueError is a non-success response from the venue, either an
// application-level rejection code or a non-200 HTTP status. The venue's
// own message is preserved for diagnostics.
type VenueError struct {
	Venue      string
	HTTPStatus int
	Code       string
	Message    string
}

func (e *VenueError) Error() string {
	switch {
	case e.HTTPStatus != 0 && e.Code != "":
		return fmt.Sprintf("%s: HTTP %d code %s: %s", e.Venue, e.HTTPStatus, e.Code, e.Message)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Venue, e.HTTPStatus, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s: code %s: %s", e.Venue, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Venue, e.Message)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsVenueError reports whether err is (or wraps) a VenueError.
func IsVenueError(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}

// IsTransient reports whether err looks like a recoverable network failure
// (timeout, connection error). Transient failures mutate no local state and
// are retried on the next scheduled cycle.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}
