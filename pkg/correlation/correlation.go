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

// Package correlation carries the identifier that ties the audit events
// and log lines of one caller request together.
package correlation

import (
	"context"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authblock/pkg/logging"
)

type contextKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// GetCorrelationID retrieves the correlation ID from context.
// Returns an empty string if no correlation ID is found.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new UUID v4 correlation ID.
func NewID() string {
	return uuid.NewString()
}

// Ensure returns ctx with a correlation ID, generating one when absent.
func Ensure(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, NewID())
}

// Logger returns logger tagged with the correlation ID of ctx.
func Logger(ctx context.Context, logger *logging.Logger) *logging.Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return logger.With("correlation_id", id)
	}
	return logger
}
