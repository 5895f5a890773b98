// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package navigator wires the query pipeline end to end: intent
// classification, routed corpus retrieval with a confidence gate,
// conditional web fallback, and answer synthesis.
package navigator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/intent"
	"github.com/finregnav/navigator/services/navigator/observability"
	"github.com/finregnav/navigator/services/navigator/retrieval"
	"github.com/finregnav/navigator/services/navigator/synthesis"
	"github.com/finregnav/navigator/services/navigator/webfallback"
)

var tracer = otel.Tracer("finreg.navigator.pipeline")

// Result is everything one pipeline run produced.
type Result struct {
	// RunID identifies the run across logs and traces.
	RunID string `json:"run_id"`

	// Intent is the classified intent the run executed.
	Intent datatypes.IntentRecord `json:"intent"`

	// Answer is the composed answer.
	Answer datatypes.Answer `json:"answer"`
}

// Pipeline executes queries. Construct once, share freely; all stages
// are safe for concurrent use.
type Pipeline struct {
	cfg         config.Config
	classifier  *intent.Classifier
	router      *retrieval.Router
	augmenter   *webfallback.Augmenter
	synthesizer *synthesis.Synthesizer
}

// NewPipeline assembles the pipeline from its stages. The augmenter may
// be nil, which disables web fallback entirely (insufficient corpus
// evidence then degrades per the selection rules).
func NewPipeline(cfg config.Config, classifier *intent.Classifier, router *retrieval.Router, augmenter *webfallback.Augmenter, synthesizer *synthesis.Synthesizer) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		classifier:  classifier,
		router:      router,
		augmenter:   augmenter,
		synthesizer: synthesizer,
	}
}

// Execute runs one query through the full pipeline.
//
// # Description
//
// Stages run in order: classify, route (concurrent per-jurisdiction
// corpus searches plus the gate), web fallback for the jurisdictions
// whose corpus evidence failed the gate (again concurrent, fallbacks
// never run for sufficient sets), evidence selection, synthesis.
//
// Cancelling ctx abandons whatever stage is in flight; no partial
// answer is returned.
//
// # Outputs
//
//   - Result: The run ID, classified intent, and composed answer.
//   - error: intent.InvalidQueryError for malformed input,
//     retrieval.RetrievalUnavailableError when no jurisdiction could be
//     searched, synthesis.SynthesisFaultError when not even a degraded
//     answer could be assembled, or the context's error on cancellation.
func (p *Pipeline) Execute(ctx context.Context, query datatypes.Query) (Result, error) {
	runID := datatypes.NewRunID()
	started := time.Now()

	ctx, span := tracer.Start(ctx, "Pipeline.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("navigator.run_id", runID))

	record, err := p.classifier.Classify(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification rejected query")
		return Result{}, err
	}
	span.AddEvent("intent classified")

	sets, err := p.router.Route(ctx, query.Text, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return Result{}, err
	}
	span.AddEvent("corpus retrieval complete")

	selected, degraded, err := p.fallbackAndSelect(ctx, query.Text, sets)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.AddEvent("evidence selected")

	answer, err := p.synthesizer.Synthesize(ctx, query.Text, record, selected, degraded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return Result{}, err
	}
	span.AddEvent("answer synthesized")

	elapsed := time.Since(started)
	observability.RecordQuery(string(answer.Grounding), elapsed.Seconds())
	slog.Info("Pipeline run complete",
		"run_id", runID,
		"grounding", answer.Grounding,
		"jurisdictions", len(record.Jurisdictions),
		"comparative", record.Comparative,
		"low_confidence", answer.LowConfidence,
		"duration", elapsed,
	)

	return Result{RunID: runID, Intent: record, Answer: answer}, nil
}

// fallbackAndSelect runs web fallback for every insufficient set, in
// parallel, then applies the selection rules per jurisdiction. Sets
// that passed the gate are never augmented. Returns the selected sets
// in the original order and whether any selection degraded.
func (p *Pipeline) fallbackAndSelect(ctx context.Context, queryText string, sets []datatypes.EvidenceSet) ([]datatypes.EvidenceSet, bool, error) {
	webSets := make([]*datatypes.EvidenceSet, len(sets))

	if p.augmenter != nil {
		g, gctx := errgroup.WithContext(ctx)
		for i, set := range sets {
			if set.Sufficient {
				continue
			}
			g.Go(func() error {
				web := p.augmenter.Augment(gctx, queryText, set.Jurisdiction)
				webSets[i] = &web
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, false, err
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}

	selected := make([]datatypes.EvidenceSet, len(sets))
	anyDegraded := false
	for i, set := range sets {
		var chosenDegraded bool
		selected[i], chosenDegraded = synthesis.Select(set, webSets[i], p.cfg.BlendWebEvidence)
		anyDegraded = anyDegraded || chosenDegraded
	}
	return selected, anyDegraded, nil
}
