package llm

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

const maxAttempts = 3

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newSchedule() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Second
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = 4 * time.Second
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

// withRetry runs op up to maxAttempts times. Only transient errors are
// retried; anything else is returned at once.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	schedule := newSchedule()
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return classify(err)
		}
		if attempt == maxAttempts {
			break
		}
		wait := schedule.NextBackOff()
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", wait).Msg("model service unavailable, retrying")
		if serr := c.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return &TransientError{Attempts: maxAttempts, Err: err}
}
