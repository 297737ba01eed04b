// Package metrics exposes the structured counters and histograms named in
// spec §6, built on github.com/rcrowley/go-metrics the same way the
// teacher's work/worker.go registers "miner/timelimitreached" and
// "miner/toolongtx" against a shared registry.
package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry is the process-wide metrics registry. A dedicated registry
// (rather than gometrics.DefaultRegistry) keeps PRFI's metrics isolated
// from any host application embedding this module.
var Registry = gometrics.NewRegistry()

func counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, Registry)
}

func histogram(name string) gometrics.Histogram {
	sample := gometrics.NewExpDecaySample(1028, 0.015)
	return gometrics.GetOrRegisterHistogram(name, Registry, sample)
}

// Counters named in spec §6.
var (
	RequestsTotal        = counter("requests_total")
	RequestsSuccess      = counter("requests_success")
	RetriesTotal         = counter("retries_total")
	FallbacksUsed        = counter("fallbacks_used")
	EventsCounted        = counter("events_counted")
	BatchesCreated       = counter("batches_created")
	BlocksMined          = counter("blocks_mined")
	BlocksSubmitted      = counter("blocks_submitted")
	BlocksConfirmed      = counter("blocks_confirmed")
	TxFailed             = counter("tx_failed")
	FraudRejected        = counter("fraud_rejected_total")
	GasPriceClamped      = counter("submitter_gas_price_clamped_total")
)

// Histograms named in spec §6.
var (
	RequestDurationMs     = histogram("request_duration_ms")
	MiningDurationMs      = histogram("mining_duration_ms")
	ConfirmationDurationMs = histogram("confirmation_duration_ms")
)
