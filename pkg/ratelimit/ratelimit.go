// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit sheds bursts of credential checks before they reach
// the credential store. Each credential label has its own token bucket; a
// check rejected here never counts as an attempt against the label.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per credential label.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[uint64]*bucket
	rate     rate.Limit
	burst    int
	enabled  bool
	now      func() time.Time
	maxIdle  time.Duration
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// ChecksPerMinute is the sustained rate per label.
	ChecksPerMinute int

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to ChecksPerMinute.
	Burst int

	// CleanupInterval controls how often idle labels are dropped.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a label can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// Stats describes the current limiter state.
type Stats struct {
	Enabled      bool
	ActiveLabels int
	ChecksPerMin float64
	Burst        int
}

// New creates a new rate limiter with the given configuration. An enabled
// limiter runs a cleanup goroutine until Stop.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	burst := config.Burst
	if burst <= 0 {
		burst = config.ChecksPerMinute
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}

	l := &Limiter{
		buckets:  make(map[uint64]*bucket),
		rate:     rate.Limit(float64(config.ChecksPerMinute) / 60.0),
		burst:    burst,
		enabled:  config.Enabled && config.ChecksPerMinute > 0,
		now:      time.Now,
		maxIdle:  maxIdle,
		interval: interval,
		stop:     make(chan struct{}),
	}
	if l.enabled {
		go l.cleanupWorker()
	}
	return l
}

// Allow reports whether a check of label may proceed now. Nil and disabled
// limiters allow everything.
func (l *Limiter) Allow(label uint64) bool {
	if l == nil || !l.enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[label]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[label] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Forget drops the bucket of label, e.g. after the credential is reset or
// removed.
func (l *Limiter) Forget(label uint64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, label)
}

func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for label, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.maxIdle {
			delete(l.buckets, label)
		}
	}
}

// Stop stops the cleanup worker. It is safe to call more than once.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats returns current rate limiter statistics.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Enabled:      l.enabled,
		ActiveLabels: len(l.buckets),
		ChecksPerMin: float64(l.rate) * 60,
		Burst:        l.burst,
	}
}
