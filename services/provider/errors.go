package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"watchsync/models"
)

// bodyPreviewLimit caps the response body kept on a RecoverableError.
const bodyPreviewLimit = 300

// ConfigError means the run cannot proceed with the current settings.
type ConfigError struct {
	Side   models.Side
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Side == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("%s config: %s", e.Side, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(side models.Side, format string, args ...any) *ConfigError {
	return &ConfigError{Side: side, Reason: fmt.Sprintf(format, args...)}
}

// RecoverableError is a transport failure worth retrying at the next slot.
type RecoverableError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RecoverableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(" - ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// Transient reports whether an immediate retry may help.
func (e *RecoverableError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ItemError is a failure scoped to one item.
type ItemError struct {
	Key models.Key
	Op  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ErrNotResolved is returned when a write target cannot be found on the provider.
var ErrNotResolved = errors.New("item not found on provider")

// Preview reads at most bodyPreviewLimit bytes of a response body.
func Preview(r io.Reader) string {
	if r == nil {
		return ""
	}
	buf, _ := io.ReadAll(io.LimitReader(r, bodyPreviewLimit))
	return strings.TrimSpace(string(buf))
}

// HTTPError builds a RecoverableError from a non-success response.
func HTTPError(op string, resp *http.Response) *RecoverableError {
	return &RecoverableError{Op: op, StatusCode: resp.StatusCode, Body: Preview(resp.Body)}
}

// TransportError wraps a failed round trip. Context errors pass through
// unchanged so callers can tell cancellation from network trouble.
func TransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RecoverableError{Op: op, Err: err}
}

// IsRecoverable reports whether err is a RecoverableError.
func IsRecoverable(err error) bool {
	var rec *RecoverableError
	return errors.As(err, &rec)
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var cfg *ConfigError
	return errors.As(err, &cfg)
}
