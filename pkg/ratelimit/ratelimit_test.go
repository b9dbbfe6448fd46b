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

package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterDisabled(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow(1) {
			t.Fatal("disabled limiter rejected a check")
		}
	}
	l.Stop()

	zeroRate := New(&Config{Enabled: true})
	defer zeroRate.Stop()
	if !zeroRate.Allow(1) || zeroRate.Stats().Enabled {
		t.Fatal("limiter without a rate should be disabled")
	}

	var nilLimiter *Limiter
	if !nilLimiter.Allow(7) {
		t.Fatal("nil limiter rejected a check")
	}
	nilLimiter.Forget(7)
	nilLimiter.Stop()
	if nilLimiter.Stats().Enabled {
		t.Fatal("nil limiter reports enabled")
	}
}

func TestLimiterBurstPerLabel(t *testing.T) {
	l := New(&Config{Enabled: true, ChecksPerMinute: 1, Burst: 3})
	defer l.Stop()

	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !l.Allow(1) {
			t.Fatalf("check %d rejected within burst", i)
		}
	}
	if l.Allow(1) {
		t.Fatal("check beyond burst allowed")
	}

	// Other labels have their own bucket
	if !l.Allow(2) {
		t.Fatal("independent label rejected")
	}
	if got := l.Stats().ActiveLabels; got != 2 {
		t.Errorf("ActiveLabels = %d, want 2", got)
	}

	l.Forget(1)
	if !l.Allow(1) {
		t.Fatal("forgotten label still limited")
	}
}

func TestLimiterRefills(t *testing.T) {
	l := New(&Config{Enabled: true, ChecksPerMinute: 60, Burst: 1})
	defer l.Stop()

	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }
	if !l.Allow(5) {
		t.Fatal("first check rejected")
	}
	if l.Allow(5) {
		t.Fatal("second check in the same instant allowed")
	}
	l.now = func() time.Time { return base.Add(time.Second) }
	if !l.Allow(5) {
		t.Fatal("check after refill rejected")
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := New(&Config{Enabled: true, ChecksPerMinute: 60, MaxIdle: time.Minute})
	l.Stop()

	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }
	l.Allow(1)
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Allow(2)
	l.cleanup()

	if got := l.Stats().ActiveLabels; got != 1 {
		t.Errorf("ActiveLabels after cleanup = %d, want 1", got)
	}
}
