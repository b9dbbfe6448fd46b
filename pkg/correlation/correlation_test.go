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

package correlation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authblock/pkg/logging"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{name: "background context", ctx: context.Background(), id: "abc"},
		{name: "nil context", ctx: nil, id: "def"},
		{name: "empty id", ctx: context.Background(), id: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(tt.ctx, tt.id)
			if ctx == nil {
				t.Fatal("WithCorrelationID returned nil")
			}
			if got := GetCorrelationID(ctx); got != tt.id {
				t.Errorf("GetCorrelationID() = %q, want %q", got, tt.id)
			}
		})
	}
}

func TestGetCorrelationIDMissing(t *testing.T) {
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
	if got := GetCorrelationID(nil); got != "" { //nolint:staticcheck
		t.Errorf("expected empty id for nil context, got %q", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("NewID returned the same id twice")
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("NewID() is not a UUID: %v", err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected UUID v4, got v%d", parsed.Version())
	}
}

func TestEnsure(t *testing.T) {
	ctx := Ensure(context.Background())
	id := GetCorrelationID(ctx)
	if id == "" {
		t.Fatal("Ensure did not add an id")
	}
	if again := GetCorrelationID(Ensure(ctx)); again != id {
		t.Errorf("Ensure replaced an existing id: %q != %q", again, id)
	}
}

func TestContextKeyIsolation(t *testing.T) {
	ctx := context.WithValue(context.Background(), "correlation-id", "wrong-value") //nolint:staticcheck
	ctx = WithCorrelationID(ctx, "right")
	if got := GetCorrelationID(ctx); got != "right" {
		t.Errorf("context key collision, got %q", got)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New(logging.Config{Output: &buf})

	Logger(WithCorrelationID(context.Background(), "req-7"), base).Info("tagged")
	Logger(context.Background(), base).Info("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "correlation_id=req-7") {
		t.Errorf("expected correlation id in %q", lines[0])
	}
	if strings.Contains(lines[1], "correlation_id") {
		t.Errorf("unexpected correlation id in %q", lines[1])
	}
}

func BenchmarkGetCorrelationID(b *testing.B) {
	ctx := WithCorrelationID(context.Background(), NewID())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GetCorrelationID(ctx)
	}
}
