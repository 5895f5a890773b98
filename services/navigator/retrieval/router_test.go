// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
)

// mockSearcher serves canned per-jurisdiction results and records the
// k each call asked for.
type mockSearcher struct {
	mu      sync.Mutex
	results map[datatypes.Jurisdiction][]datatypes.EvidenceItem
	errs    map[datatypes.Jurisdiction]error
	seenK   []int
}

func (m *mockSearcher) Search(_ context.Context, j datatypes.Jurisdiction, _ string, k int) ([]datatypes.EvidenceItem, error) {
	m.mu.Lock()
	m.seenK = append(m.seenK, k)
	m.mu.Unlock()
	if err := m.errs[j]; err != nil {
		return nil, err
	}
	return m.results[j], nil
}

func corpusItem(j datatypes.Jurisdiction, id string, score float64) datatypes.EvidenceItem {
	return datatypes.EvidenceItem{
		SourceID:     id,
		Jurisdiction: j,
		Text:         "passage " + id,
		Score:        score,
		Origin:       datatypes.OriginCorpus,
	}
}

func TestRoutePreservesIntentOrder(t *testing.T) {
	searcher := &mockSearcher{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK":  {corpusItem("PK", "pk-1", 0.9)},
		"UAE": {corpusItem("UAE", "uae-1", 0.8)},
		"UK":  {corpusItem("UK", "uk-1", 0.7)},
	}}
	router := NewRouter(config.DefaultConfig(), searcher)

	sets, err := router.Route(context.Background(), "emi licensing", datatypes.IntentRecord{
		Topic:         datatypes.TopicLicensing,
		Jurisdictions: []datatypes.Jurisdiction{"UK", "PK", "UAE"},
		Comparative:   true,
	})
	require.NoError(t, err)
	require.Len(t, sets, 3)

	assert.Equal(t, datatypes.Jurisdiction("UK"), sets[0].Jurisdiction)
	assert.Equal(t, datatypes.Jurisdiction("PK"), sets[1].Jurisdiction)
	assert.Equal(t, datatypes.Jurisdiction("UAE"), sets[2].Jurisdiction)
}

func TestRouteGatesEachSet(t *testing.T) {
	searcher := &mockSearcher{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"PK": {
			corpusItem("PK", "pk-1", 0.90),
			corpusItem("PK", "pk-2", 0.85),
			corpusItem("PK", "pk-3", 0.80),
		},
		"UAE": {
			corpusItem("UAE", "uae-1", 0.40),
			corpusItem("UAE", "uae-2", 0.30),
		},
	}}
	router := NewRouter(config.DefaultConfig(), searcher)

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	})
	require.NoError(t, err)

	assert.True(t, sets[0].Sufficient, "strong PK evidence passes the 0.70 gate")
	assert.False(t, sets[1].Sufficient, "weak UAE evidence fails the gate")
	assert.Greater(t, sets[0].Confidence, sets[1].Confidence)
}

func TestRouteSortsEvidenceBestFirst(t *testing.T) {
	searcher := &mockSearcher{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
		"SG": {
			corpusItem("SG", "low", 0.50),
			corpusItem("SG", "high", 0.95),
			corpusItem("SG", "tie-a", 0.70),
			corpusItem("SG", "tie-b", 0.70),
		},
	}}
	router := NewRouter(config.DefaultConfig(), searcher)

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"SG"},
	})
	require.NoError(t, err)

	got := make([]string, 0, 4)
	for _, item := range sets[0].Evidence {
		got = append(got, item.SourceID)
	}
	assert.Equal(t, []string{"high", "tie-a", "tie-b", "low"}, got,
		"ties keep retrieval order")
}

func TestRoutePartialFailureDegrades(t *testing.T) {
	searcher := &mockSearcher{
		results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
			"PK": {corpusItem("PK", "pk-1", 0.9)},
		},
		errs: map[datatypes.Jurisdiction]error{
			"UAE": errors.New("connection reset"),
		},
	}
	router := NewRouter(config.DefaultConfig(), searcher)

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	})
	require.NoError(t, err, "one healthy jurisdiction keeps the run alive")
	require.Len(t, sets, 2)

	assert.NotEmpty(t, sets[0].Evidence)
	assert.Empty(t, sets[1].Evidence, "failed jurisdiction degrades to empty set")
	assert.False(t, sets[1].Sufficient)
}

func TestRouteAllFailuresUnavailable(t *testing.T) {
	searcher := &mockSearcher{errs: map[datatypes.Jurisdiction]error{
		"PK": errors.New("down"),
		"UK": errors.New("down"),
	}}
	router := NewRouter(config.DefaultConfig(), searcher)

	_, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UK"},
	})
	require.Error(t, err)
	assert.True(t, IsRetrievalUnavailable(err))
}

// slowSearcher never answers; it blocks until the per-call deadline
// fires and returns the context's error, like a stuck Weaviate node.
type slowSearcher struct{}

func (slowSearcher) Search(ctx context.Context, _ datatypes.Jurisdiction, _ string, _ int) ([]datatypes.EvidenceItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouteTimeoutDegradesToEmptySet(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetrievalTimeout = 25 * time.Millisecond
	router := NewRouter(cfg, slowSearcher{})

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK"},
	})
	require.NoError(t, err, "a timed-out search is not an outage")
	require.Len(t, sets, 1)

	assert.Empty(t, sets[0].Evidence)
	assert.False(t, sets[0].Sufficient,
		"a timed-out jurisdiction must stay eligible for web fallback")
}

// hybridSearcher times out for some jurisdictions and hard-fails others.
type hybridSearcher struct {
	failing map[datatypes.Jurisdiction]error
}

func (h *hybridSearcher) Search(ctx context.Context, j datatypes.Jurisdiction, _ string, _ int) ([]datatypes.EvidenceItem, error) {
	if err := h.failing[j]; err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouteTimeoutDoesNotCountTowardUnavailable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetrievalTimeout = 25 * time.Millisecond
	router := NewRouter(cfg, &hybridSearcher{failing: map[datatypes.Jurisdiction]error{
		"UAE": errors.New("connection refused"),
	}})

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	})
	require.NoError(t, err,
		"only hard failures count toward unavailability, and one of two is partial")
	require.Len(t, sets, 2)
	assert.False(t, sets[0].Sufficient)
	assert.False(t, sets[1].Sufficient)
}

func TestRouteEmptyResultIsNotFailure(t *testing.T) {
	searcher := &mockSearcher{results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{}}
	router := NewRouter(config.DefaultConfig(), searcher)

	sets, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"EU"},
	})
	require.NoError(t, err)

	assert.Empty(t, sets[0].Evidence)
	assert.Equal(t, 0.0, sets[0].Confidence)
	assert.False(t, sets[0].Sufficient,
		"an empty partition can never pass the gate")
}

func TestRouteComparativeDepth(t *testing.T) {
	cfg := config.DefaultConfig()
	searcher := &mockSearcher{}
	router := NewRouter(cfg, searcher)

	_, err := router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	})
	require.NoError(t, err)
	for _, k := range searcher.seenK {
		assert.Equal(t, cfg.ComparativeTopK, k)
	}

	searcher.seenK = nil
	_, err = router.Route(context.Background(), "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{cfg.TopK}, searcher.seenK)
}

func TestRouteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	router := NewRouter(config.DefaultConfig(), &mockSearcher{
		results: map[datatypes.Jurisdiction][]datatypes.EvidenceItem{
			"PK": {corpusItem("PK", "pk-1", 0.9)},
		},
	})

	_, err := router.Route(ctx, "q", datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK"},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
