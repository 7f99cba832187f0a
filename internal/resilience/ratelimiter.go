package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Requests-per-second above which o!rdr may ban the account.
const highRateThreshold = 10.0 / 60.0

// Policy allows Rate requests per Period.
type Policy struct {
	Rate   int           `mapstructure:"rate"`
	Period time.Duration `mapstructure:"period"`
}

// DefaultPolicy is one request every five minutes, the only policy allowed
// without a verification key.
func DefaultPolicy() Policy {
	return Policy{Rate: 1, Period: 5 * time.Minute}
}

// PerSecond returns the sustained request rate.
func (p Policy) PerSecond() float64 {
	if p.Period <= 0 {
		return 0
	}
	return float64(p.Rate) / p.Period.Seconds()
}

func (p Policy) valid() bool {
	return p.Rate > 0 && p.Period > 0
}

// ResolvePolicy returns the policy a client must run with. Rates above ten
// requests per minute are logged as a warning but allowed. Unauthenticated
// clients and invalid policies get DefaultPolicy.
func ResolvePolicy(requested Policy, authenticated bool, logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !requested.valid() {
		return DefaultPolicy()
	}

	if requested.PerSecond() > highRateThreshold {
		logger.Warn("running at an insanely high rate limit, doing so may get the account banned",
			zap.Int("rate", requested.Rate),
			zap.Duration("period", requested.Period),
		)
	}

	if !authenticated {
		if requested != DefaultPolicy() {
			logger.Info("no verification key, forcing the default rate limit",
				zap.Int("rate", 1),
				zap.Duration("period", DefaultPolicy().Period),
			)
		}
		return DefaultPolicy()
	}
	return requested
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Name   string `mapstructure:"name"`
	Policy Policy `mapstructure:",squash"`
}

// DefaultRateLimiterConfig returns default configuration
func DefaultRateLimiterConfig(name string) *RateLimiterConfig {
	return &RateLimiterConfig{
		Name:   name,
		Policy: DefaultPolicy(),
	}
}

// TokenBucketLimiter is a token bucket holding up to Policy.Rate tokens,
// refilled at Rate/Period. Waiters are served in arrival order.
type TokenBucketLimiter struct {
	config  *RateLimiterConfig
	limiter *rate.Limiter
	metrics *RateLimiterMetrics
}

// RateLimiterMetrics holds rate limiter metrics
type RateLimiterMetrics struct {
	TotalRequests    int64
	AllowedRequests  int64
	RejectedRequests int64
	WaitedRequests   int64
	TotalWait        time.Duration
	mutex            sync.RWMutex
}

// NewTokenBucketLimiter creates a new token bucket rate limiter. The bucket
// starts full.
func NewTokenBucketLimiter(config *RateLimiterConfig) *TokenBucketLimiter {
	p := config.Policy
	if !p.valid() {
		p = DefaultPolicy()
		config.Policy = p
	}
	every := p.Period / time.Duration(p.Rate)

	return &TokenBucketLimiter{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(every), p.Rate),
		metrics: &RateLimiterMetrics{},
	}
}

// Policy returns the policy the limiter enforces.
func (l *TokenBucketLimiter) Policy() Policy {
	return l.config.Policy
}

// Allow takes a token if one is available right now.
func (l *TokenBucketLimiter) Allow() bool {
	ok := l.limiter.Allow()

	l.metrics.mutex.Lock()
	l.metrics.TotalRequests++
	if ok {
		l.metrics.AllowedRequests++
	} else {
		l.metrics.RejectedRequests++
	}
	l.metrics.mutex.Unlock()
	return ok
}

// Wait blocks until a token is available or ctx is done. The token is
// reserved on entry, so concurrent callers proceed in the order they called.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		l.reject()
		return err
	}

	r := l.limiter.Reserve()
	delay := r.Delay()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			r.Cancel()
			l.reject()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.metrics.mutex.Lock()
	l.metrics.TotalRequests++
	l.metrics.AllowedRequests++
	if delay > 0 {
		l.metrics.WaitedRequests++
		l.metrics.TotalWait += delay
	}
	l.metrics.mutex.Unlock()
	return nil
}

func (l *TokenBucketLimiter) reject() {
	l.metrics.mutex.Lock()
	l.metrics.TotalRequests++
	l.metrics.RejectedRequests++
	l.metrics.mutex.Unlock()
}

// Metrics returns current metrics
func (l *TokenBucketLimiter) Metrics() RateLimiterMetrics {
	l.metrics.mutex.RLock()
	defer l.metrics.mutex.RUnlock()
	return RateLimiterMetrics{
		TotalRequests:    l.metrics.TotalRequests,
		AllowedRequests:  l.metrics.AllowedRequests,
		RejectedRequests: l.metrics.RejectedRequests,
		WaitedRequests:   l.metrics.WaitedRequests,
		TotalWait:        l.metrics.TotalWait,
	}
}
