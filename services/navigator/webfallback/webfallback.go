// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package webfallback supplies lower-trust web evidence for
// jurisdictions whose corpus evidence failed the confidence gate.
//
// Web evidence never competes with the corpus on the gate's terms: sets
// produced here always report Sufficient=false, and every item carries
// origin WEB so synthesis can label it.
package webfallback

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/observability"
)

var tracer = otel.Tracer("finreg.navigator.webfallback")

// SnippetMaxLen caps each web snippet; longer snippets are truncated
// with an ellipsis marker so prompt size stays bounded.
const SnippetMaxLen = 800

// SearchResult is one raw hit from a web search backend.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearcher is the pluggable web search backend. Implementations
// must be safe for concurrent use.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Augmenter turns web search results into evidence sets for
// jurisdictions the corpus could not cover.
type Augmenter struct {
	cfg      config.Config
	searcher WebSearcher
}

// NewAugmenter creates an Augmenter over the given web search backend.
func NewAugmenter(cfg config.Config, searcher WebSearcher) *Augmenter {
	return &Augmenter{cfg: cfg, searcher: searcher}
}

// Augment gathers web evidence for one jurisdiction.
//
// # Description
//
// Builds a jurisdiction-scoped search query from the original query
// text and the jurisdiction's display name, deduplicates hits by URL,
// truncates snippets to SnippetMaxLen, and assigns each hit a
// rank-derived score 1/(1+rank) so earlier hits outrank later ones
// without pretending to be similarity measurements.
//
// Search failure is absorbed: the returned set is empty, never an
// error. A jurisdiction that gets neither corpus nor web evidence ends
// the run as an explicit no-evidence section, not a crashed run.
//
// # Outputs
//
//   - datatypes.EvidenceSet: Origin WEB items, Sufficient always false.
func (a *Augmenter) Augment(ctx context.Context, queryText string, jurisdiction datatypes.Jurisdiction) datatypes.EvidenceSet {
	ctx, span := tracer.Start(ctx, "Augmenter.Augment")
	defer span.End()
	span.SetAttributes(attribute.String("webfallback.jurisdiction", string(jurisdiction)))

	set := datatypes.EvidenceSet{Jurisdiction: jurisdiction}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.WebSearchTimeout)
	defer cancel()

	results, err := a.searcher.Search(callCtx, a.buildQuery(queryText, jurisdiction), a.cfg.WebMaxResults)
	if err != nil {
		slog.Warn("Web fallback search failed, continuing without web evidence",
			"jurisdiction", jurisdiction, "error", err)
		span.RecordError(err)
		observability.RecordWebFallback(string(jurisdiction), "error")
		return set
	}

	seen := make(map[string]bool, len(results))
	rank := 0
	for _, r := range results {
		url := strings.TrimSpace(r.URL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true

		set.Evidence = append(set.Evidence, datatypes.EvidenceItem{
			SourceID:     url,
			Jurisdiction: jurisdiction,
			Text:         formatSnippet(r),
			Score:        1.0 / float64(1+rank),
			Origin:       datatypes.OriginWeb,
		})
		rank++
		if len(set.Evidence) >= a.cfg.WebMaxResults {
			break
		}
	}

	outcome := "hit"
	if len(set.Evidence) == 0 {
		outcome = "empty"
	}
	observability.RecordWebFallback(string(jurisdiction), outcome)
	slog.Info("Web fallback complete", "jurisdiction", jurisdiction, "results", len(set.Evidence))
	return set
}

// buildQuery scopes the raw query to the jurisdiction so general web
// search does not bleed regimes into each other.
func (a *Augmenter) buildQuery(queryText string, jurisdiction datatypes.Jurisdiction) string {
	name := string(jurisdiction)
	for _, spec := range a.cfg.Registry {
		if spec.Code == jurisdiction && spec.Name != "" {
			name = spec.Name
			break
		}
	}
	return queryText + " " + name + " financial regulation"
}

// formatSnippet renders one hit as a titled snippet, truncated to keep
// the synthesis prompt bounded.
func formatSnippet(r SearchResult) string {
	snippet := strings.TrimSpace(r.Snippet)
	if len(snippet) > SnippetMaxLen {
		snippet = snippet[:SnippetMaxLen] + "..."
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return snippet
	}
	return title + ": " + snippet
}
