package middleware

import (
	"strings"
	"sync"
	"time"

	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PollLimitPolicy bounds how often one executor may poll.
type PollLimitPolicy struct {
	Every time.Duration
	Burst int
	// IdleTTL evicts limiters of hosts that stopped polling.
	IdleTTL time.Duration
}

type hostLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PollLimiter keeps one token bucket per executor host.
type PollLimiter struct {
	policy PollLimitPolicy
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*hostLimiter
	sweptAt  time.Time
}

// NewPollLimiter creates a limiter; a zero Every disables limiting.
func NewPollLimiter(policy PollLimitPolicy) *PollLimiter {
	if policy.Burst <= 0 {
		policy.Burst = 1
	}
	if policy.IdleTTL <= 0 {
		policy.IdleTTL = 10 * time.Minute
	}
	return &PollLimiter{
		policy:   policy,
		now:      time.Now,
		limiters: make(map[string]*hostLimiter),
	}
}

// Allow reports whether key may poll now.
func (p *PollLimiter) Allow(key string) bool {
	if p == nil || p.policy.Every <= 0 {
		return true
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.sweptAt) > p.policy.IdleTTL {
		for k, l := range p.limiters {
			if now.Sub(l.lastSeen) > p.policy.IdleTTL {
				delete(p.limiters, k)
			}
		}
		p.sweptAt = now
	}
	entry, ok := p.limiters[key]
	if !ok {
		entry = &hostLimiter{limiter: rate.NewLimiter(rate.Every(p.policy.Every), p.policy.Burst)}
		p.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Middleware keys the limiter on the executor host header, falling back to the client address.
func (p *PollLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(ExecutorHostHeader))
		if key == "" {
			key = c.ClientIP()
		}
		if !p.Allow(key) {
			response.AbortWithErrorCode(c, pkgerrors.PollRateExceeded, "")
			return
		}
		c.Next()
	}
}
