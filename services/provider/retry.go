package provider

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryAttempts is the number of tries for an idempotent read.
const RetryAttempts = 3

var retryBaseDelay = 500 * time.Millisecond

// Retry runs fn until it succeeds, returns a non-transient error or the
// context ends.
func Retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn,
		retry.Context(ctx),
		retry.Attempts(RetryAttempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var rec *RecoverableError
			return errors.As(err, &rec) && rec.Transient()
		}),
	)
}
