// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package navigator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finregnav/navigator/services/llm"
	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/intent"
	"github.com/finregnav/navigator/services/navigator/retrieval"
	"github.com/finregnav/navigator/services/navigator/synthesis"
	"github.com/finregnav/navigator/services/navigator/webfallback"
)

// stubCorpus serves fixed per-jurisdiction passages.
type stubCorpus struct {
	results map[datatypes.Jurisdiction][]datatypes.EvidenceItem
	errs    map[datatypes.Jurisdiction]error
}

func (s *stubCorpus) Search(_ context.Context, j datatypes.Jurisdiction, _ string, _ int) ([]datatypes.EvidenceItem, error) {
	if err := s.errs[j]; err != nil {
		return nil, err
	}
	return s.results[j], nil
}

// stubWeb serves fixed results and records which jurisdictions were
// searched.
type stubWeb struct {
	mu      sync.Mutex
	results []webfallback.SearchResult
	queries []string
}

func (s *stubWeb) Search(_ context.Context, query string, _ int) ([]webfallback.SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.results, nil
}

// stubComposer echoes a canned answer citing the given source.
type stubComposer struct {
	cite string
}

func (s *stubComposer) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "Composed answer [" + s.cite + "].", nil
}

func (s *stubComposer) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return "Composed answer [" + s.cite + "].", nil
}

func passage(j datatypes.Jurisdiction, id string, score float64) datatypes.EvidenceItem {
	return datatypes.EvidenceItem{
		SourceID: id, Jurisdiction: j, Text: "passage " + id, Score: score,
		Origin: datatypes.OriginCorpus,
	}
}

func newPipeline(cfg config.Config, corpus retrieval.CorpusSearcher, web webfallback.WebSearcher, composer llm.Client) *Pipeline {
	var augmenter *webfallback.Augmenter
	if web != nil {
		augmenter = webfallback.NewAugmenter(cfg, web)
	}
	return NewPipeline(cfg,
		intent.NewClassifier(cfg, nil),
		retrieval.NewRouter(cfg, corpus),
		augmenter,
		synthesis.NewSynthesizer(cfg, composer),
	)
}

func TestExecuteSufficientCorpusSkipsWeb(t *testing.T) {
	cfg := config.DefaultConfig()
	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {passage("PK", "pk-1", 0.92), passage("PK", "pk-2", 0.88)},
	}}
	web := &stubWeb{results: []webfallback.SearchResult{
		{Title: "t", URL: "https://w.example", Snippet: "s"},
	}}
	p := newPipeline(cfg, corpus, web, &stubComposer{cite: "pk-1"})

	result, err := p.Execute(context.Background(), datatypes.Query{
		Text: "EMI licensing requirements in Pakistan",
	})
	require.NoError(t, err)

	assert.Empty(t, web.queries, "sufficient corpus evidence never triggers web fallback")
	assert.Equal(t, datatypes.GroundingCorpusOnly, result.Answer.Grounding)
	assert.False(t, result.Answer.LowConfidence)
	assert.Equal(t, []datatypes.Jurisdiction{"PK"}, result.Intent.Jurisdictions)
	assert.True(t, strings.HasPrefix(result.RunID, "run_"))
}

func TestExecuteInsufficientCorpusTriggersWeb(t *testing.T) {
	cfg := config.DefaultConfig()
	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {passage("PK", "pk-1", 0.30)},
	}}
	web := &stubWeb{results: []webfallback.SearchResult{
		{Title: "SBP circular", URL: "https://sbp.example/c1", Snippet: "guidance"},
	}}
	p := newPipeline(cfg, corpus, web, &stubComposer{cite: "https://sbp.example/c1"})

	result, err := p.Execute(context.Background(), datatypes.Query{
		Text: "EMI licensing requirements in Pakistan",
	})
	require.NoError(t, err)

	require.Len(t, web.queries, 1)
	assert.Contains(t, web.queries[0], "Pakistan")
	assert.Equal(t, datatypes.GroundingWebAugmented, result.Answer.Grounding)
}

func TestExecuteComparativeFallbackOnlyForWeakSets(t *testing.T) {
	cfg := config.DefaultConfig()
	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK":  {passage("PK", "pk-1", 0.95)},
		"UAE": {passage("UAE", "uae-1", 0.20)},
	}}
	web := &stubWeb{results: []webfallback.SearchResult{
		{Title: "DFSA note", URL: "https://dfsa.example/n", Snippet: "rules"},
	}}
	p := newPipeline(cfg, corpus, web, &stubComposer{cite: "pk-1"})

	result, err := p.Execute(context.Background(), datatypes.Query{
		Text: "Compare EMI licensing between Pakistan and the UAE",
	})
	require.NoError(t, err)

	require.Len(t, web.queries, 1, "only the insufficient jurisdiction is augmented")
	assert.Contains(t, web.queries[0], "United Arab Emirates")
	assert.True(t, result.Intent.Comparative)
	require.Len(t, result.Answer.Sections, 2)
}

func TestExecuteInvalidQuery(t *testing.T) {
	p := newPipeline(config.DefaultConfig(), &stubCorpus{}, nil, &stubComposer{cite: "x"})

	_, err := p.Execute(context.Background(), datatypes.Query{Text: "   "})
	require.Error(t, err)
	assert.True(t, intent.IsInvalidQuery(err))
}

func TestExecuteRetrievalUnavailable(t *testing.T) {
	corpus := &stubCorpus{errs: map[datatypes.Jurisdiction]error{
		"PK": errors.New("weaviate down"),
	}}
	p := newPipeline(config.DefaultConfig(), corpus, nil, &stubComposer{cite: "x"})

	_, err := p.Execute(context.Background(), datatypes.Query{
		Text: "EMI licensing in Pakistan",
	})
	require.Error(t, err)
	assert.True(t, retrieval.IsRetrievalUnavailable(err))
}

func TestExecuteEmptyPartitionExplicitSection(t *testing.T) {
	cfg := config.DefaultConfig()
	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {passage("PK", "pk-1", 0.95)},
		// UAE has no corpus coverage at all.
	}}
	// Web finds nothing either.
	web := &stubWeb{}
	p := newPipeline(cfg, corpus, web, &stubComposer{cite: "pk-1"})

	result, err := p.Execute(context.Background(), datatypes.Query{
		Text: "Compare EMI rules in Pakistan and the UAE",
	})
	require.NoError(t, err, "an empty partition must not sink the run")

	require.Len(t, result.Answer.Sections, 2)
	uae := result.Answer.Sections[1]
	assert.Equal(t, datatypes.Jurisdiction("UAE"), uae.Jurisdiction)
	assert.Equal(t, datatypes.GroundingNone, uae.Grounding)
	assert.Contains(t, uae.Text, "No regulatory evidence")
}

func TestExecuteNoFallbackConfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {passage("PK", "pk-1", 0.30)},
	}}
	p := newPipeline(cfg, corpus, nil, &stubComposer{cite: "pk-1"})

	result, err := p.Execute(context.Background(), datatypes.Query{
		Text: "EMI licensing in Pakistan",
	})
	require.NoError(t, err)

	assert.True(t, result.Answer.LowConfidence,
		"weak corpus with no fallback degrades the answer")
	assert.Equal(t, datatypes.GroundingCorpusOnly, result.Answer.Grounding)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	corpus := &stubCorpus{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {passage("PK", "pk-1", 0.95)},
	}}
	p := newPipeline(config.DefaultConfig(), corpus, nil, &stubComposer{cite: "pk-1"})

	_, err := p.Execute(ctx, datatypes.Query{Text: "EMI licensing in Pakistan"})
	assert.ErrorIs(t, err, context.Canceled)
}
