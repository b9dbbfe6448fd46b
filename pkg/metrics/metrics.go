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

// Package metrics provides Prometheus instrumentation for auth-block and
// low-entropy credential operations.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all metrics
	Namespace = "authblock"

	// Label names
	LabelOperation = "operation"
	LabelBlockType = "block_type"
	LabelStatus    = "status"
	LabelErrorCode = "error_code"
	LabelFactor    = "factor"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpCreate            = "create"
	OpDerive            = "derive"
	OpPrepareForRemoval = "prepare_for_removal"
	OpInsertCredential  = "insert_credential"
	OpCheckCredential   = "check_credential"
	OpResetCredential   = "reset_credential"
	OpRemoveCredential  = "remove_credential"
	OpStartBiometrics   = "start_biometrics_auth"
	OpAddFactor         = "add_factor"
	OpAuthenticate      = "authenticate"
	OpRemoveFactor      = "remove_factor"
)

var (
	// OperationsTotal counts auth-block and credential operations.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of operations by type, auth block type and status",
		},
		[]string{LabelOperation, LabelBlockType, LabelStatus},
	)

	// OperationDuration tracks operation latency. Scrypt and TPM calls
	// dominate, hence the wide buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOperation, LabelBlockType},
	)

	// CredentialErrorsTotal counts low-entropy credential errors by code.
	CredentialErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "le_credential",
			Name:      "errors_total",
			Help:      "Total number of low entropy credential errors by code",
		},
		[]string{LabelOperation, LabelErrorCode},
	)

	// LockoutsTotal counts credentials that reached lockout.
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "le_credential",
			Name:      "lockouts_total",
			Help:      "Total number of credential lockouts",
		},
	)

	// OrphanedHardwareTotal counts operations that left a hardware
	// resource without a persisted record.
	OrphanedHardwareTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orphaned_hardware_total",
			Help:      "Total number of hardware resources left without a persisted record",
		},
		[]string{LabelOperation},
	)

	// FactorsTotal counts configured factors by type.
	FactorsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "factors",
			Help:      "Number of configured auth factors by type",
		},
		[]string{LabelFactor},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// Enable turns metrics recording on.
func Enable() { enabled.Store(true) }

// Disable turns metrics recording off.
func Disable() { enabled.Store(false) }

// IsEnabled reports whether metrics are recorded.
func IsEnabled() bool { return enabled.Load() }

// StatusOf maps an error to a status label.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordOperation records an operation with its duration in seconds.
func RecordOperation(operation, blockType string, err error, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, blockType, StatusOf(err)).Inc()
	OperationDuration.WithLabelValues(operation, blockType).Observe(duration)
}

// RecordCredentialError counts a low-entropy credential error.
func RecordCredentialError(operation, code string) {
	if !enabled.Load() {
		return
	}
	CredentialErrorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordLockout counts a lockout.
func RecordLockout() {
	if !enabled.Load() {
		return
	}
	LockoutsTotal.Inc()
}

// RecordOrphanedHardware counts a leaked hardware resource.
func RecordOrphanedHardware(operation string) {
	if !enabled.Load() {
		return
	}
	OrphanedHardwareTotal.WithLabelValues(operation).Inc()
}

// AddFactorCount moves the number of configured factors of a type by delta.
func AddFactorCount(factor string, delta int) {
	if !enabled.Load() {
		return
	}
	FactorsTotal.WithLabelValues(factor).Add(float64(delta))
}
