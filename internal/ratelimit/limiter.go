// Package ratelimit implements per-host token bucket pacing for fetches.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the per-host request rate. Zero or less means unlimited.
	RPS float64
	// Burst is the bucket size; values below one are treated as one.
	Burst int
}

// Limiter manages per-host rate limits. Buckets are created lazily.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	delay    *prometheus.HistogramVec
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    r,
		burst:    burst,
	}
}

// RegisterMetrics exports the wait histogram on reg.
func (l *Limiter) RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crawlwright",
		Name:      "rate_limit_delay_seconds",
		Help:      "Time spent waiting for a per-host rate limit token.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"site"})
	if err := reg.Register(hist); err != nil {
		return fmt.Errorf("register rate limit histogram: %w", err)
	}
	l.mu.Lock()
	l.delay = hist
	l.mu.Unlock()
	return nil
}

// Wait blocks until a token is available for host, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l.limit == rate.Inf {
		return nil
	}
	host = strings.ToLower(host)
	if host == "" {
		host = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	delay := l.delay
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); delay != nil && waited > time.Millisecond {
		delay.WithLabelValues(host).Observe(waited.Seconds())
	}
	return nil
}

// Hosts returns how many per-host buckets exist.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
