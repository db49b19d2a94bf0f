package loans

import (
	"context"
	"time"

	"github.com/angelmondragon/library-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryBaseDelay = 20 * time.Millisecond
	maxRetryDelay         = 500 * time.Millisecond
	retryJitterPercent    = 20
)

// runWithRetry re-runs fn when the database aborted it for losing a concurrency
// race. Rule rejections and every other error surface on the first attempt.
func (s *service) runWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := s.cfg.CreateMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := s.cfg.RetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}

	backoff := retry.NewExponential(base)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithJitterPercent(retryJitterPercent, backoff)
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry(op)
		}
		err := fn(ctx)
		if err != nil && db.IsSerializationFailure(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && db.IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "loan update conflicted with a concurrent request, try again")
	}
	return err
}
