package reconcile

import (
	"context"
	"time"

	"watchsync/models"
)

// Reader re-reads both sides.
type Reader func(ctx context.Context) (a, b models.Index, err error)

// Verify re-reads both sides up to attempts times, pausing delay between
// reads, until they agree. It returns the last indexes it read.
func Verify(ctx context.Context, attempts int, delay time.Duration, read Reader) (models.VerifyResult, models.Index, models.Index, error) {
	if attempts < 1 {
		attempts = 1
	}
	var a, b models.Index
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return models.ResultUnknown, a, b, ctx.Err()
			case <-timer.C:
			}
		}
		var err error
		a, b, err = read(ctx)
		if err != nil {
			return models.ResultUnknown, a, b, err
		}
		if Equal(a, b) {
			return models.ResultEqual, a, b, nil
		}
	}
	return models.ResultDiverged, a, b, nil
}
