// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

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
)

// scriptedComposer answers each prompt by matching a substring key, so
// comparative tests can script section and comparison calls separately.
type scriptedComposer struct {
	mu        sync.Mutex
	responses map[string]string // prompt substring -> completion
	fallback  string
	err       error
	prompts   []string
}

func (m *scriptedComposer) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	for key, resp := range m.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return m.fallback, nil
}

func (m *scriptedComposer) Chat(ctx context.Context, msgs []llm.Message, params llm.GenerationParams) (string, error) {
	return m.Generate(ctx, msgs[len(msgs)-1].Content, params)
}

func singleIntent(j datatypes.Jurisdiction) datatypes.IntentRecord {
	return datatypes.IntentRecord{
		Topic:         datatypes.TopicLicensing,
		Jurisdictions: []datatypes.Jurisdiction{j},
	}
}

func TestSynthesizeCorpusOnlyAnswer(t *testing.T) {
	composer := &scriptedComposer{fallback: "EMIs need an SBP licence [pk-emi-1]. Capital rules apply [pk-emi-2]."}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{corpusSet("PK", true, "pk-emi-1", "pk-emi-2", "pk-emi-3")}
	answer, err := s.Synthesize(context.Background(), "EMI licensing in Pakistan", singleIntent("PK"), sets, false)
	require.NoError(t, err)

	assert.Equal(t, datatypes.GroundingCorpusOnly, answer.Grounding)
	assert.False(t, answer.LowConfidence)
	assert.Empty(t, answer.Sections)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "pk-emi-1", answer.Citations[0].SourceID, "citations keep first-use order")
	assert.Equal(t, "pk-emi-2", answer.Citations[1].SourceID)
	assert.True(t, strings.HasPrefix(answer.ID, "ans_"))
	assert.False(t, answer.CreatedAt.IsZero())
}

func TestSynthesizePromptLabelsEvidence(t *testing.T) {
	composer := &scriptedComposer{fallback: "answer [pk-1]"}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	corpus := corpusSet("PK", false, "pk-1")
	web := webSet("PK", "https://sbp.org.pk/emi")
	blended, _ := Select(corpus, &web, true)

	_, err := s.Synthesize(context.Background(), "q", singleIntent("PK"), []datatypes.EvidenceSet{blended}, false)
	require.NoError(t, err)

	require.Len(t, composer.prompts, 1)
	assert.Contains(t, composer.prompts[0], "[REGULATORY_KB]")
	assert.Contains(t, composer.prompts[0], "[WEB]")
	assert.Contains(t, composer.prompts[0], "source_id=https://sbp.org.pk/emi")
}

func TestSynthesizeWebAugmentedGrounding(t *testing.T) {
	composer := &scriptedComposer{fallback: "Per recent guidance [https://a.example], rules apply."}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{webSet("UAE", "https://a.example")}
	answer, err := s.Synthesize(context.Background(), "q", singleIntent("UAE"), sets, false)
	require.NoError(t, err)

	assert.Equal(t, datatypes.GroundingWebAugmented, answer.Grounding)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "https://a.example", answer.Citations[0].SourceID)
}

func TestSynthesizeMixedGrounding(t *testing.T) {
	composer := &scriptedComposer{fallback: "Corpus says [pk-1]; the web adds [https://a.example]."}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	corpus := corpusSet("PK", false, "pk-1")
	web := webSet("PK", "https://a.example")
	blended, _ := Select(corpus, &web, true)

	answer, err := s.Synthesize(context.Background(), "q", singleIntent("PK"), []datatypes.EvidenceSet{blended}, false)
	require.NoError(t, err)

	assert.Equal(t, datatypes.GroundingMixed, answer.Grounding)
	assert.Len(t, answer.Citations, 2)
}

func TestSynthesizeStripsOrphanCitations(t *testing.T) {
	composer := &scriptedComposer{fallback: "Real claim [pk-1]. Invented claim [made-up-source]."}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{corpusSet("PK", true, "pk-1")}
	answer, err := s.Synthesize(context.Background(), "q", singleIntent("PK"), sets, false)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1, "untraceable citations are stripped")
	assert.Equal(t, "pk-1", answer.Citations[0].SourceID)
	assert.True(t, answer.LowConfidence, "orphan citations downgrade the answer")
}

func TestSynthesizeNoEvidenceAnswer(t *testing.T) {
	composer := &scriptedComposer{fallback: "should never be called"}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{{Jurisdiction: "SG"}}
	answer, err := s.Synthesize(context.Background(), "q", singleIntent("SG"), sets, false)
	require.NoError(t, err)

	assert.Equal(t, NoEvidenceText, answer.Text)
	assert.Equal(t, datatypes.GroundingNone, answer.Grounding)
	assert.Empty(t, answer.Citations)
	assert.Empty(t, composer.prompts, "no composer call without evidence")
}

func TestSynthesizeComposerFailureFallsBack(t *testing.T) {
	composer := &scriptedComposer{err: errors.New("model crashed")}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{corpusSet("PK", true, "pk-1", "pk-2")}
	answer, err := s.Synthesize(context.Background(), "q", singleIntent("PK"), sets, false)
	require.NoError(t, err, "composer failure degrades, it does not fail the run")

	assert.True(t, answer.LowConfidence)
	assert.Contains(t, answer.Text, "passage pk-1", "fallback quotes the evidence")
	assert.Equal(t, datatypes.GroundingCorpusOnly, answer.Grounding)
}

func TestSynthesizeDegradedSelectionFlagsAnswer(t *testing.T) {
	composer := &scriptedComposer{fallback: "Weak but present [pk-1]."}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	sets := []datatypes.EvidenceSet{corpusSet("PK", false, "pk-1")}
	answer, err := s.Synthesize(context.Background(), "q", singleIntent("PK"), sets, true)
	require.NoError(t, err)

	assert.True(t, answer.LowConfidence)
}

func TestSynthesizeComparative(t *testing.T) {
	composer := &scriptedComposer{responses: map[string]string{
		"Scope: PK only":  "PK requires an SBP licence [pk-1].",
		"Scope: UAE only": "UAE relies on recent guidance [https://uae.example].",
		"Comparison:":     "PK is stricter [pk-1] than the UAE [https://uae.example].",
	}}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	intent := datatypes.IntentRecord{
		Topic:         datatypes.TopicLicensing,
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	}
	sets := []datatypes.EvidenceSet{
		corpusSet("PK", true, "pk-1"),
		webSet("UAE", "https://uae.example"),
	}

	answer, err := s.Synthesize(context.Background(), "compare EMI rules", intent, sets, false)
	require.NoError(t, err)

	require.Len(t, answer.Sections, 2)
	assert.Equal(t, datatypes.Jurisdiction("PK"), answer.Sections[0].Jurisdiction)
	assert.Equal(t, datatypes.GroundingCorpusOnly, answer.Sections[0].Grounding)
	assert.Equal(t, datatypes.GroundingWebAugmented, answer.Sections[1].Grounding)

	assert.Equal(t, datatypes.GroundingMixed, answer.Grounding)
	assert.Contains(t, answer.Text, "stricter")
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "pk-1", answer.Citations[0].SourceID,
		"section citations come before comparison extras, in section order")
	assert.False(t, answer.LowConfidence)
}

func TestSynthesizeComparativeEmptyPartition(t *testing.T) {
	composer := &scriptedComposer{responses: map[string]string{
		"Scope: PK only": "PK requires an SBP licence [pk-1].",
		"Comparison:":    "Only PK has evidence [pk-1].",
	}}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	intent := datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	}
	sets := []datatypes.EvidenceSet{
		corpusSet("PK", true, "pk-1"),
		{Jurisdiction: "UAE"},
	}

	answer, err := s.Synthesize(context.Background(), "q", intent, sets, false)
	require.NoError(t, err)

	require.Len(t, answer.Sections, 2)
	empty := answer.Sections[1]
	assert.Equal(t, datatypes.GroundingNone, empty.Grounding)
	assert.Contains(t, empty.Text, "No regulatory evidence")
	assert.Empty(t, empty.Citations)
	assert.Equal(t, datatypes.GroundingCorpusOnly, answer.Grounding,
		"an empty partition does not poison the overall grounding")
}

func TestSynthesizeComparativeAllEmpty(t *testing.T) {
	composer := &scriptedComposer{fallback: "never"}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	intent := datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "UAE"},
		Comparative:   true,
	}
	sets := []datatypes.EvidenceSet{{Jurisdiction: "PK"}, {Jurisdiction: "UAE"}}

	answer, err := s.Synthesize(context.Background(), "q", intent, sets, false)
	require.NoError(t, err)

	assert.Equal(t, datatypes.GroundingNone, answer.Grounding)
	require.Len(t, answer.Sections, 2)
	assert.Empty(t, composer.prompts)
}

func TestSynthesizeComparativeComparisonFailure(t *testing.T) {
	composer := &scriptedComposer{responses: map[string]string{
		"Scope: PK only": "PK requires a licence [pk-1].",
		"Scope: SG only": "MAS regulates this [sg-1].",
		// No response keyed on "Comparison:", so the comparison call
		// returns the empty fallback and compose treats it as an error.
	}}
	s := NewSynthesizer(config.DefaultConfig(), composer)

	intent := datatypes.IntentRecord{
		Jurisdictions: []datatypes.Jurisdiction{"PK", "SG"},
		Comparative:   true,
	}
	sets := []datatypes.EvidenceSet{
		corpusSet("PK", true, "pk-1"),
		corpusSet("SG", true, "sg-1"),
	}

	answer, err := s.Synthesize(context.Background(), "q", intent, sets, false)
	require.NoError(t, err)

	assert.True(t, answer.LowConfidence)
	assert.Contains(t, answer.Text, "per-jurisdiction findings",
		"failed comparison joins the sections instead")
	require.Len(t, answer.Sections, 2)
}

func TestExtractCitations(t *testing.T) {
	index := map[string]datatypes.EvidenceItem{
		"pk-1":              {SourceID: "pk-1", Jurisdiction: "PK", Origin: datatypes.OriginCorpus},
		"https://a.example": {SourceID: "https://a.example", Jurisdiction: "PK", Origin: datatypes.OriginWeb},
	}

	citations, orphans := extractCitations(
		"Claim [pk-1], again [pk-1], web [https://a.example], bogus [nope].", index)

	require.Len(t, citations, 2, "duplicates collapse to first use")
	assert.Equal(t, "pk-1", citations[0].SourceID)
	assert.Equal(t, "https://a.example", citations[1].SourceID)
	assert.Equal(t, 1, orphans)
}
