package processor

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles calls to a Gateway with a token bucket shared by the API
// and the reconciliation sweep.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewLimited wraps next. A non-positive rps disables throttling and returns
// next unchanged.
func NewLimited(next Gateway, rps float64, burst int) Gateway {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Session{}, transient("create session rate limit", err)
	}
	return l.next.CreateSession(ctx, req)
}

func (l *Limited) QuerySettlement(ctx context.Context, reference string) (Settlement, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Settlement{}, transient("query settlement rate limit", err)
	}
	return l.next.QuerySettlement(ctx, reference)
}
