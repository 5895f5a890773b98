// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/finregnav/navigator/services/navigator/datatypes"
)

// PassageClass is the Weaviate class holding the regulatory corpus.
const PassageClass = "RegulatoryPassage"

// CorpusSearcher retrieves the top-k passages for one jurisdiction.
//
// Implementations must be safe for concurrent use: the router calls
// Search once per jurisdiction, in parallel, during comparative runs.
type CorpusSearcher interface {
	Search(ctx context.Context, jurisdiction datatypes.Jurisdiction, queryText string, k int) ([]datatypes.EvidenceItem, error)
}

// WeaviateSearcher implements CorpusSearcher against a Weaviate
// instance holding RegulatoryPassage objects.
//
// # Description
//
// Runs a nearText similarity search scoped to a single jurisdiction via
// a where filter, and maps each hit's certainty (always in [0,1]) to
// the evidence score the confidence gate consumes.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateSearcher struct {
	client *weaviate.Client
}

// NewWeaviateSearcher creates a corpus searcher backed by the given
// Weaviate client. The client must be connected and the
// RegulatoryPassage class must exist.
func NewWeaviateSearcher(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

// Search retrieves the top-k passages for the jurisdiction ranked by
// similarity to the query text.
//
// # Inputs
//
//   - ctx: Controls cancellation; the router applies a per-call timeout.
//   - jurisdiction: Registry code used as an exact where filter.
//   - queryText: The raw query, handed to nearText as a concept.
//   - k: Maximum number of passages to return.
//
// # Outputs
//
//   - []datatypes.EvidenceItem: Hits best-first, scores in [0,1],
//     origin CORPUS. Empty (not nil error) when the corpus simply has
//     nothing for the jurisdiction.
//   - error: Non-nil only when the search itself failed.
func (s *WeaviateSearcher) Search(ctx context.Context, jurisdiction datatypes.Jurisdiction, queryText string, k int) ([]datatypes.EvidenceItem, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()

	jurisdictionFilter := filters.Where().
		WithPath([]string{"jurisdiction"}).
		WithOperator(filters.Equal).
		WithValueString(string(jurisdiction))

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{queryText})

	// Request certainty (always [0,1]) instead of distance which varies
	// by metric.
	fields := []graphql.Field{
		{Name: "source_id"},
		{Name: "jurisdiction"},
		{Name: "text"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(PassageClass).
		WithFields(fields...).
		WithWhere(jurisdictionFilter).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		slog.Error("Corpus search failed", "jurisdiction", jurisdiction, "error", err)
		return nil, fmt.Errorf("weaviate search failed for %s: %w", jurisdiction, err)
	}
	if len(result.Errors) > 0 {
		slog.Error("Corpus search returned GraphQL errors",
			"jurisdiction", jurisdiction, "message", result.Errors[0].Message)
		return nil, fmt.Errorf("weaviate graphql error for %s: %s", jurisdiction, result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse passage results: %w", err)
	}

	items := make([]datatypes.EvidenceItem, 0, len(parsed.Get.RegulatoryPassage))
	for _, hit := range parsed.Get.RegulatoryPassage {
		sourceID := hit.SourceID
		if sourceID == "" {
			sourceID = hit.Additional.ID
		}
		var score float64
		if hit.Additional.Certainty != nil {
			score = float64(*hit.Additional.Certainty)
		}
		items = append(items, datatypes.EvidenceItem{
			SourceID:     sourceID,
			Jurisdiction: jurisdiction,
			Text:         hit.Text,
			Score:        score,
			Origin:       datatypes.OriginCorpus,
		})
	}

	slog.Debug("Corpus search complete", "jurisdiction", jurisdiction, "hits", len(items))
	return items, nil
}
