package worker

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the handling of transient infrastructure failures on
// network requests: up to Attempts tries per request, with a randomized
// sleep drawn uniformly from [0, Backoff) between them. Exhausting the
// attempts is fatal for the worker. Protocol errors are never retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry matches the classic client: five attempts, up to three
// seconds of backoff.
var DefaultRetry = RetryPolicy{Attempts: 5, Backoff: 3 * time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetry.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetry.Backoff
	}
	return p
}

// sleep waits a random share of the backoff window, or until ctx is done.
func (p RetryPolicy) sleep(ctx context.Context) {
	d := time.Duration(rand.Int63n(int64(p.Backoff)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
