// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval routes a classified query to the regulatory corpus:
// one similarity search per in-scope jurisdiction, a confidence gate per
// result set, and structured fan-out for comparative queries.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/observability"
)

var tracer = otel.Tracer("finreg.navigator.retrieval")

// RetrievalUnavailableError signals that the corpus could not be
// consulted for any in-scope jurisdiction. Partial failures are not
// this error: one healthy jurisdiction keeps the run alive.
type RetrievalUnavailableError struct {
	// Causes holds the per-jurisdiction failures, for the log.
	Causes []error
}

// Error implements the error interface.
func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable: all %d jurisdiction searches failed", len(e.Causes))
}

// Unwrap exposes the underlying failures to errors.Is/As.
func (e *RetrievalUnavailableError) Unwrap() []error {
	return e.Causes
}

// IsRetrievalUnavailable checks if an error is a *RetrievalUnavailableError.
// Handlers use it to map the error to a 503 response.
func IsRetrievalUnavailable(err error) bool {
	var ru *RetrievalUnavailableError
	return errors.As(err, &ru)
}

// Router fans a classified query out to the corpus, one search per
// jurisdiction, and applies the confidence gate to each result set.
//
// # Thread Safety
//
// Safe for concurrent use; all state is immutable after construction.
type Router struct {
	cfg      config.Config
	searcher CorpusSearcher
}

// NewRouter creates a Router over the given corpus searcher.
func NewRouter(cfg config.Config, searcher CorpusSearcher) *Router {
	return &Router{cfg: cfg, searcher: searcher}
}

// Route retrieves and gates evidence for every jurisdiction in the
// intent record.
//
// # Description
//
// Searches run concurrently, one goroutine per jurisdiction, each under
// the configured retrieval timeout. The result preserves the intent's
// jurisdiction order regardless of completion order, so repeated runs
// of the same query assemble identically.
//
// A search that exceeds the retrieval timeout is treated exactly like a
// search that returned nothing: the set gates insufficient and the web
// fallback takes over. A hard search failure degrades to an empty,
// insufficient EvidenceSet for that jurisdiction: a partition with no
// corpus coverage must not sink a comparative run. Only when every
// jurisdiction fails hard does Route return RetrievalUnavailableError.
//
// # Inputs
//
//   - ctx: Cancelling it abandons all in-flight searches.
//   - queryText: The raw query text used for similarity search.
//   - intent: The classified intent; its jurisdiction order is preserved.
//
// # Outputs
//
//   - []datatypes.EvidenceSet: One per jurisdiction, in intent order.
//     Evidence within a set is sorted best-first; ties keep retrieval
//     order.
//   - error: RetrievalUnavailableError iff all searches failed hard, or
//     the parent context's error on cancellation.
func (r *Router) Route(ctx context.Context, queryText string, intent datatypes.IntentRecord) ([]datatypes.EvidenceSet, error) {
	ctx, span := tracer.Start(ctx, "Router.Route")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.jurisdictions", len(intent.Jurisdictions)),
		attribute.Bool("retrieval.comparative", intent.Comparative),
	)

	k := r.cfg.TopKFor(intent.Comparative)
	sets := make([]datatypes.EvidenceSet, len(intent.Jurisdictions))
	searchErrs := make([]error, len(intent.Jurisdictions))

	g, gctx := errgroup.WithContext(ctx)
	for i, jurisdiction := range intent.Jurisdictions {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.cfg.RetrievalTimeout)
			defer cancel()

			items, err := r.searcher.Search(callCtx, jurisdiction, queryText, k)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && gctx.Err() == nil {
					// The per-call deadline fired, not the caller's.
					// Same as an empty result: the gate marks the set
					// insufficient and the web fallback takes over.
					slog.Warn("Corpus search timed out, treating as no results",
						"jurisdiction", jurisdiction, "timeout", r.cfg.RetrievalTimeout)
					observability.RecordRetrievalError(string(jurisdiction))
					sets[i] = r.gate(jurisdiction, nil)
					return nil
				}
				// Degrade, don't fail: the other jurisdictions may
				// still carry the run.
				slog.Warn("Corpus search failed, degrading to empty evidence",
					"jurisdiction", jurisdiction, "error", err)
				observability.RecordRetrievalError(string(jurisdiction))
				searchErrs[i] = err
				sets[i] = datatypes.EvidenceSet{Jurisdiction: jurisdiction}
				return nil
			}
			sets[i] = r.gate(jurisdiction, items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval cancelled")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var causes []error
	for _, err := range searchErrs {
		if err != nil {
			causes = append(causes, err)
		}
	}
	if len(causes) == len(intent.Jurisdictions) {
		err := &RetrievalUnavailableError{Causes: causes}
		span.RecordError(err)
		span.SetStatus(codes.Error, "all jurisdiction searches failed")
		return nil, err
	}

	return sets, nil
}

// gate sorts the evidence best-first and applies the confidence gate
// using the jurisdiction's effective threshold.
func (r *Router) gate(jurisdiction datatypes.Jurisdiction, items []datatypes.EvidenceItem) datatypes.EvidenceSet {
	// Stable sort: equal scores keep retrieval order.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})

	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = item.Score
	}

	confidence := Confidence(scores, r.cfg.GateTopN)
	sufficient := Sufficient(confidence, r.cfg.ThresholdFor(jurisdiction), len(items))
	observability.RecordGateDecision(string(jurisdiction), sufficient)

	slog.Debug("Gate decision",
		"jurisdiction", jurisdiction,
		"evidence", len(items),
		"confidence", confidence,
		"sufficient", sufficient,
	)
	return datatypes.EvidenceSet{
		Jurisdiction: jurisdiction,
		Evidence:     items,
		Confidence:   confidence,
		Sufficient:   sufficient,
	}
}
