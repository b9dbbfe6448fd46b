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

// Package health probes the components an auth block depends on: the
// sealing frontend, the low-entropy credential store and the record
// storage.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but some auth blocks
	// are unavailable.
	StatusDegraded Status = "degraded"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one health check.
type CheckFunc func(ctx context.Context) CheckResult

// Checker runs a set of named checks.
type Checker struct {
	mu      sync.RWMutex
	timeout time.Duration
	checks  map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		timeout: DefaultTimeout,
		checks:  make(map[string]CheckFunc),
	}
}

// SetTimeout changes the per-check deadline. Non-positive values are ignored.
func (c *Checker) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// RegisterCheck adds a health check with the given name.
// If a check with this name already exists, it will be replaced.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a health check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Checks returns the names of all registered checks in order.
func (c *Checker) Checks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently and returns the results sorted by
// name. A check that outlives its deadline is reported unhealthy.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	timeout := c.timeout
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make([]CheckResult, 0, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			result := runOne(ctx, name, check, timeout)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func runOne(ctx context.Context, name string, check CheckFunc, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- check(ctx) }()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{
			Status: StatusUnhealthy,
			Error:  ctx.Err().Error(),
		}
	}
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	return result
}

// IsHealthy returns true if every check passes.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return AggregateStatus(c.Run(ctx)) == StatusHealthy
}

// AggregateStatus returns the overall status based on check results.
// - If all checks are healthy, returns StatusHealthy
// - If any check is unhealthy, returns StatusUnhealthy
// - If any check is degraded (and none unhealthy), returns StatusDegraded
func AggregateStatus(results []CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func failed(err error) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
}

// HwsecCheck reports whether the sealing frontend can create TPM-bound
// blocks. A ready frontend without ECC is degraded.
func HwsecCheck(f hwsec.CryptohomeFrontend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		ready, err := f.IsReady(ctx)
		if err != nil {
			return failed(err)
		}
		if !ready {
			return CheckResult{Status: StatusUnhealthy, Message: "frontend not ready"}
		}
		sealing, err := f.IsSealingSupported(ctx)
		if err != nil {
			return failed(err)
		}
		ecc, err := f.IsECCSupported(ctx)
		if err != nil {
			return failed(err)
		}
		switch {
		case !sealing:
			return CheckResult{Status: StatusDegraded, Message: "sealing not supported"}
		case !ecc:
			return CheckResult{Status: StatusDegraded, Message: "ECC not supported"}
		default:
			return CheckResult{Status: StatusHealthy, Message: "sealing and ECC available"}
		}
	}
}

// PinWeaverCheck reports whether low-entropy credentials can be created.
func PinWeaverCheck(f hwsec.PinWeaverFrontend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		enabled, err := f.IsEnabled(ctx)
		if err != nil {
			return failed(err)
		}
		if !enabled {
			return CheckResult{Status: StatusDegraded, Message: "pinweaver disabled"}
		}
		bio, err := f.IsBiometricsEnabled(ctx)
		if err != nil {
			return failed(err)
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("pinweaver enabled (biometrics: %t)", bio)}
	}
}

// StorageCheck reports whether the record storage answers lookups.
func StorageCheck(b storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := b.Exists("health/probe"); err != nil {
			return failed(err)
		}
		return CheckResult{Status: StatusHealthy}
	}
}
