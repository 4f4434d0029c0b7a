// Package writer – Prometheus metrics for the sequencer.
//
// # Overview
//
// Metrics tracks operational counters and gauges for the single writer. All
// fields are updated atomically so they can be read concurrently from an
// HTTP handler without holding any additional lock.
//
// # Prometheus text format
//
// Handler returns an [net/http.Handler] that serves the registered metrics
// in the standard Prometheus text exposition format on every GET request.
// Wire it into your HTTP mux at /metrics (or any other path you prefer):
//
//	m := writer.NewMetrics()
//	http.Handle("/metrics", m.Handler())
//
// # Metric catalogue
//
//	ledger_entries_sealed_total        – counter: entries sealed and durably persisted
//	ledger_persist_retries_total       – counter: append attempts beyond the first, per entry
//	ledger_persist_failures_total      – counter: intents rejected after exhausting retries
//	ledger_lease_renewals_total        – counter: successful heartbeat renewals
//	ledger_lease_renewal_failures_total – counter: heartbeat renewals that failed (fatal)
//	ledger_queue_depth                 – gauge: intents buffered at the last dequeue
//	ledger_head_sequence               – gauge: sequence of the most recently persisted entry
//	ledger_writer_state                – gauge: numeric lifecycle state of the writer
package writer

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds all Prometheus counters and gauges for the writer. The zero
// value is ready to use; all counters start at zero.
type Metrics struct {
	// Counters
	EntriesSealed        atomic.Int64
	PersistRetries       atomic.Int64
	PersistFailures      atomic.Int64
	LeaseRenewals        atomic.Int64
	LeaseRenewalFailures atomic.Int64

	// Gauges
	QueueDepth   atomic.Int64
	HeadSequence atomic.Int64

	// state is read from the owning Writer when the handler renders.
	state func() State
}

// NewMetrics allocates a new [Metrics] value with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// BindState attaches the writer whose lifecycle state the handler reports.
// Called by the facade once the writer exists.
func (m *Metrics) BindState(state func() State) {
	m.state = state
}

// metricLine is a single Prometheus metric family descriptor plus its
// current value.
type metricLine struct {
	help  string
	kind  string // "counter" or "gauge"
	name  string
	value int64
}

// snapshot captures the current values of all metrics in a consistent order.
func (m *Metrics) snapshot() []metricLine {
	var state int64
	if m.state != nil {
		state = int64(m.state())
	}
	return []metricLine{
		{
			help:  "Total number of entries sealed and durably persisted.",
			kind:  "counter",
			name:  "ledger_entries_sealed_total",
			value: m.EntriesSealed.Load(),
		},
		{
			help:  "Total number of append attempts beyond the first for any entry.",
			kind:  "counter",
			name:  "ledger_persist_retries_total",
			value: m.PersistRetries.Load(),
		},
		{
			help:  "Total number of intents rejected after exhausting persistence retries.",
			kind:  "counter",
			name:  "ledger_persist_failures_total",
			value: m.PersistFailures.Load(),
		},
		{
			help:  "Total number of successful lease heartbeat renewals.",
			kind:  "counter",
			name:  "ledger_lease_renewals_total",
			value: m.LeaseRenewals.Load(),
		},
		{
			help:  "Total number of lease heartbeat renewals that failed.",
			kind:  "counter",
			name:  "ledger_lease_renewal_failures_total",
			value: m.LeaseRenewalFailures.Load(),
		},
		{
			help:  "Number of intents buffered in the queue at the last dequeue.",
			kind:  "gauge",
			name:  "ledger_queue_depth",
			value: m.QueueDepth.Load(),
		},
		{
			help:  "Sequence number of the most recently persisted entry.",
			kind:  "gauge",
			name:  "ledger_head_sequence",
			value: m.HeadSequence.Load(),
		},
		{
			help:  "Writer lifecycle state: 0 starting through 5 stopped, 6 failed.",
			kind:  "gauge",
			name:  "ledger_writer_state",
			value: state,
		},
	}
}

// Handler returns an [http.Handler] that writes all writer metrics in the
// Prometheus text exposition format on every GET request.
//
// The content type is set to "text/plain; version=0.0.4" as required by the
// Prometheus specification so that a vanilla Prometheus scraper will parse
// the output correctly.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

// writeMetrics serialises lines into Prometheus text exposition format.
func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
