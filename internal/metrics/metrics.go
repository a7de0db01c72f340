// Package metrics provides Prometheus metrics for the piggy storage core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseOpens counts successful opens of the database handle.
	DatabaseOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "database_opens_total",
			Help:      "Total number of times the database handle was opened",
		},
	)

	// DatabaseReconnects counts recoveries from dead-connection faults.
	DatabaseReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "database_reconnects_total",
			Help:      "Total number of reconnects after a connection fault",
		},
	)

	// RejectedStatements counts statements refused by the query facade.
	RejectedStatements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "rejected_statements_total",
			Help:      "Total number of statements rejected before execution",
		},
		[]string{"path"}, // "read" or "write"
	)

	// PinVerifications counts PIN checks by outcome.
	PinVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "pin_verifications_total",
			Help:      "Total number of PIN verifications",
		},
		[]string{"outcome"}, // "match", "mismatch", "locked"
	)

	// Lockouts counts transitions into the locked credential state.
	Lockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "pin_lockouts_total",
			Help:      "Total number of PIN lockouts",
		},
	)

	// BackupRecords counts backup records processed by validation, by table and result.
	BackupRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "backup_records_total",
			Help:      "Total number of backup records validated",
		},
		[]string{"table", "result"}, // result: "accepted" or "rejected"
	)

	// BackupImports counts import attempts by outcome.
	BackupImports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "backup_imports_total",
			Help:      "Total number of backup imports",
		},
		[]string{"outcome"}, // "imported", "partial", "rejected", "failed"
	)
)
