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

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	swhwsec "github.com/jeremyhahn/go-authblock/pkg/hwsec/software"
	"github.com/jeremyhahn/go-authblock/pkg/pinweaver"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("b", func(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} })
	checker.RegisterCheck("a", func(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} })
	checker.RegisterCheck("nil", nil)

	names := checker.Checks()
	if len(names) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(names))
	}
	if names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted names, got %v", names)
	}

	checker.UnregisterCheck("a")
	if len(checker.Checks()) != 1 {
		t.Errorf("expected 1 check after unregister, got %d", len(checker.Checks()))
	}
}

func TestRun(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("ok", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("bad", func(ctx context.Context) CheckResult {
		return failed(errors.New("boom"))
	})

	results := checker.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "bad" || results[0].Status != StatusUnhealthy || results[0].Error != "boom" {
		t.Errorf("unexpected result %+v", results[0])
	}
	if results[1].Name != "ok" || results[1].Status != StatusHealthy {
		t.Errorf("unexpected result %+v", results[1])
	}
	if checker.IsHealthy(context.Background()) {
		t.Error("expected checker to be unhealthy")
	}
}

func TestRunEmpty(t *testing.T) {
	checker := NewChecker()
	if len(checker.Run(context.Background())) != 0 {
		t.Error("expected no results")
	}
	if !checker.IsHealthy(context.Background()) {
		t.Error("expected an empty checker to be healthy")
	}
}

func TestRunTimeout(t *testing.T) {
	checker := NewChecker()
	checker.SetTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	checker.RegisterCheck("slow", func(ctx context.Context) CheckResult {
		<-release
		return CheckResult{Status: StatusHealthy}
	})

	results := checker.Run(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != StatusUnhealthy {
		t.Errorf("expected timeout to be unhealthy, got %s", results[0].Status)
	}
	if results[0].Error != context.DeadlineExceeded.Error() {
		t.Errorf("unexpected error %q", results[0].Error)
	}
}

func TestRunConcurrent(t *testing.T) {
	checker := NewChecker()
	var wg sync.WaitGroup
	wg.Add(3)
	for _, name := range []string{"x", "y", "z"} {
		checker.RegisterCheck(name, func(ctx context.Context) CheckResult {
			wg.Done()
			wg.Wait()
			return CheckResult{Status: StatusHealthy}
		})
	}
	results := checker.Run(context.Background())
	if AggregateStatus(results) != StatusHealthy {
		t.Errorf("expected healthy, got %s", AggregateStatus(results))
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []CheckResult{{Status: StatusHealthy}, {Status: StatusHealthy}}, StatusHealthy},
		{"degraded", []CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateStatus(tt.results); got != tt.want {
				t.Errorf("AggregateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHwsecCheck(t *testing.T) {
	ctx := context.Background()

	full, err := swhwsec.New()
	if err != nil {
		t.Fatalf("swhwsec.New() error = %v", err)
	}
	if got := HwsecCheck(full)(ctx); got.Status != StatusHealthy {
		t.Errorf("expected healthy, got %+v", got)
	}

	noECC, err := swhwsec.New(swhwsec.WithECC(false))
	if err != nil {
		t.Fatalf("swhwsec.New() error = %v", err)
	}
	if got := HwsecCheck(noECC)(ctx); got.Status != StatusDegraded {
		t.Errorf("expected degraded, got %+v", got)
	}
}

func TestPinWeaverCheck(t *testing.T) {
	ctx := context.Background()

	enabled, err := pinweaver.New(storage.NewMemory())
	if err != nil {
		t.Fatalf("pinweaver.New() error = %v", err)
	}
	if got := PinWeaverCheck(enabled)(ctx); got.Status != StatusHealthy {
		t.Errorf("expected healthy, got %+v", got)
	}

	disabled, err := pinweaver.New(storage.NewMemory(), pinweaver.WithEnabled(false))
	if err != nil {
		t.Fatalf("pinweaver.New() error = %v", err)
	}
	if got := PinWeaverCheck(disabled)(ctx); got.Status != StatusDegraded {
		t.Errorf("expected degraded, got %+v", got)
	}
}

func TestStorageCheck(t *testing.T) {
	backend := storage.NewMemory()
	if got := StorageCheck(backend)(context.Background()); got.Status != StatusHealthy {
		t.Errorf("expected healthy, got %+v", got)
	}
	_ = backend.Close()
	if got := StorageCheck(backend)(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy after close, got %+v", got)
	}
}
