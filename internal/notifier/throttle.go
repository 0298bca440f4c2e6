package notifier

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttled limits progress messages to one per interval. Completion and
// failure messages always pass.
type Throttled struct {
	next    Bridge
	limiter *rate.Limiter
}

func NewThrottled(next Bridge, interval time.Duration) *Throttled {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &Throttled{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (t *Throttled) Notify(ctx context.Context, msg Message) error {
	if msg.Kind == KindProgress && !t.limiter.Allow() {
		return nil
	}

	return t.next.Notify(ctx, msg)
}
