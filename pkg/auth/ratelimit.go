package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bridgelock/escrow/pkg/api/problem"
)

// ActorLimiter keeps one token bucket per actor.
type ActorLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewActorLimiter creates a limiter allowing rpm requests per minute per
// actor, with a burst of rpm/6 (at least 1).
func NewActorLimiter(rpm int) *ActorLimiter {
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}
	return &ActorLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the actor may proceed.
func (l *ActorLimiter) Allow(actor string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[actor]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[actor] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddleware enforces per-actor rate limiting. The actor is the
// authenticated principal, falling back to the remote address. A nil
// limiter fails open.
func RateLimitMiddleware(limiter *ActorLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actor = string(principal)
			}

			if !limiter.Allow(actor) {
				problem.WriteTooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
