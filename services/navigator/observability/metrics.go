// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics the pipeline
// emits. Counters are registered once at package load; pipeline stages
// call the helpers below instead of touching collectors directly.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions counts confidence-gate verdicts per jurisdiction.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "gate_decisions_total",
		Help:      "Confidence gate verdicts, labelled by jurisdiction and verdict (sufficient|insufficient).",
	}, []string{"jurisdiction", "verdict"})

	// WebFallbacks counts web fallback invocations per jurisdiction.
	WebFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "web_fallbacks_total",
		Help:      "Web fallback invocations, labelled by jurisdiction and outcome (hit|empty|error).",
	}, []string{"jurisdiction", "outcome"})

	// RetrievalErrors counts per-jurisdiction corpus search failures.
	RetrievalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "retrieval_errors_total",
		Help:      "Corpus searches that failed, labelled by jurisdiction.",
	}, []string{"jurisdiction"})

	// SynthesisFaults counts composer misbehaviour that was repaired
	// rather than surfaced.
	SynthesisFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "synthesis_faults_total",
		Help:      "Synthesis faults, labelled by kind (orphan_citation|composer_error).",
	}, []string{"kind"})

	// Queries counts completed pipeline runs by final grounding.
	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "queries_total",
		Help:      "Completed pipeline runs, labelled by answer grounding.",
	}, []string{"grounding"})

	// QueryDuration observes end-to-end pipeline latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "finreg",
		Subsystem: "navigator",
		Name:      "query_duration_seconds",
		Help:      "End-to-end pipeline latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// RecordGateDecision records one confidence-gate verdict.
func RecordGateDecision(jurisdiction string, sufficient bool) {
	verdict := "insufficient"
	if sufficient {
		verdict = "sufficient"
	}
	GateDecisions.WithLabelValues(jurisdiction, verdict).Inc()
}

// RecordWebFallback records one web fallback invocation outcome.
func RecordWebFallback(jurisdiction string, outcome string) {
	WebFallbacks.WithLabelValues(jurisdiction, outcome).Inc()
}

// RecordRetrievalError records one failed corpus search.
func RecordRetrievalError(jurisdiction string) {
	RetrievalErrors.WithLabelValues(jurisdiction).Inc()
}

// RecordSynthesisFault records one repaired composer fault.
func RecordSynthesisFault(kind string) {
	SynthesisFaults.WithLabelValues(kind).Inc()
}

// RecordQuery records one completed pipeline run.
func RecordQuery(grounding string, seconds float64) {
	Queries.WithLabelValues(grounding).Inc()
	QueryDuration.Observe(seconds)
}
