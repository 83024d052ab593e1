package server

import (
	"time"

	"golang.org/x/time/rate"
)

// frameThrottle is the per-connection token bucket applied to inbound
// frames before they reach the dispatcher. It protects a single process
// from a flooding socket; the per-user event limit across processes is
// applied later by the dispatcher.
type frameThrottle struct {
	limiter *rate.Limiter
}

func newFrameThrottle(burst int, refill time.Duration) *frameThrottle {
	if burst <= 0 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &frameThrottle{limiter: rate.NewLimiter(rate.Every(refill), burst)}
}

func (t *frameThrottle) allow() bool {
	return t.limiter.Allow()
}
