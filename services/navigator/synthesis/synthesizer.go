// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis composes the final answer from gated evidence.
//
// The composer (a language model) is constrained to the evidence it is
// handed: every claim must cite a passage by bracketed source ID, and
// citations that do not trace back to supplied evidence are stripped
// and reported as synthesis faults rather than trusted.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/finregnav/navigator/services/llm"
	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/observability"
)

var tracer = otel.Tracer("finreg.navigator.synthesis")

// NoEvidenceText is the canned answer body when a run ends with no
// usable evidence anywhere. It is a statement, not generated content.
const NoEvidenceText = "No regulatory evidence was found for this query in the knowledge base or via web search. Please rephrase the question or consult the relevant regulator directly."

// noEvidenceSection renders one empty partition of a comparative answer.
const noEvidenceSection = "No regulatory evidence was found for this jurisdiction."

// SynthesisFaultError signals that composition failed outright and no
// degraded answer could be assembled. Repairable faults (orphan
// citations, a failed composer call with evidence to fall back on) do
// not raise it; they downgrade the answer instead.
type SynthesisFaultError struct {
	Reason string
}

// Error implements the error interface.
func (e *SynthesisFaultError) Error() string {
	return fmt.Sprintf("synthesis fault: %s", e.Reason)
}

// IsSynthesisFault checks if an error is a *SynthesisFaultError.
func IsSynthesisFault(err error) bool {
	var sf *SynthesisFaultError
	return errors.As(err, &sf)
}

// citationPattern matches bracketed source IDs the composer is
// instructed to emit, e.g. [pk-emi-2023-§4] or [https://example.com/x].
var citationPattern = regexp.MustCompile(`\[([^\[\]\s]+)\]`)

// Synthesizer composes answers from selected evidence.
//
// # Thread Safety
//
// Safe for concurrent use; all state is immutable after construction.
type Synthesizer struct {
	cfg      config.Config
	composer llm.Client
}

// NewSynthesizer creates a Synthesizer over the given composer.
func NewSynthesizer(cfg config.Config, composer llm.Client) *Synthesizer {
	return &Synthesizer{cfg: cfg, composer: composer}
}

// Synthesize composes the final Answer for one pipeline run.
//
// # Description
//
// The sets must be the post-selection evidence, one per in-scope
// jurisdiction, in intent order. Non-comparative runs get a single
// composition over all evidence; comparative runs get one independently
// grounded section per jurisdiction (composed concurrently) plus a
// comparison paragraph restricted to the section texts, so the
// comparison cannot smuggle in claims no section supports.
//
// Composer failures degrade rather than fail: the answer falls back to
// an extractive summary of the top evidence, flagged LowConfidence. A
// run whose every set is empty yields the explicit no-evidence answer
// with grounding NONE.
//
// # Inputs
//
//   - ctx: Bounds the whole composition; each composer call also gets
//     the configured synthesis timeout.
//   - queryText: The original query, quoted in prompts.
//   - intent: Drives comparative sectioning.
//   - sets: Post-selection evidence, in intent jurisdiction order.
//   - degraded: True when selection had to fall back to below-threshold
//     corpus evidence; forces LowConfidence on the answer.
func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, intent datatypes.IntentRecord, sets []datatypes.EvidenceSet, degraded bool) (datatypes.Answer, error) {
	ctx, span := tracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("synthesis.comparative", intent.Comparative),
		attribute.Int("synthesis.evidence_sets", len(sets)),
	)

	index := indexEvidence(sets)
	if len(index) == 0 {
		slog.Info("No evidence anywhere, returning explicit no-evidence answer")
		answer := datatypes.Answer{
			ID:        datatypes.NewAnswerID(),
			Text:      NoEvidenceText,
			Citations: []datatypes.Citation{},
			Grounding: datatypes.GroundingNone,
			CreatedAt: time.Now().UTC(),
		}
		if intent.Comparative {
			answer.Sections = emptySections(sets)
		}
		return answer, nil
	}

	var answer datatypes.Answer
	var err error
	if intent.Comparative {
		answer, err = s.synthesizeComparative(ctx, queryText, sets, index)
	} else {
		answer, err = s.synthesizeSingle(ctx, queryText, sets, index)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return datatypes.Answer{}, err
	}

	if degraded {
		answer.LowConfidence = true
	}
	answer.ID = datatypes.NewAnswerID()
	answer.CreatedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.String("synthesis.grounding", string(answer.Grounding)),
		attribute.Bool("synthesis.low_confidence", answer.LowConfidence),
	)
	return answer, nil
}

// synthesizeSingle composes one answer over all evidence at once.
func (s *Synthesizer) synthesizeSingle(ctx context.Context, queryText string, sets []datatypes.EvidenceSet, index map[string]datatypes.EvidenceItem) (datatypes.Answer, error) {
	prompt := s.buildPrompt(queryText, sets, "")

	text, composeErr := s.compose(ctx, prompt)
	lowConfidence := false
	if composeErr != nil {
		slog.Warn("Composer failed, falling back to extractive answer", "error", composeErr)
		observability.RecordSynthesisFault("composer_error")
		text = extractiveFallback(sets)
		lowConfidence = true
		if text == "" {
			return datatypes.Answer{}, &SynthesisFaultError{Reason: composeErr.Error()}
		}
	}

	citations, orphans := extractCitations(text, index)
	if orphans > 0 {
		slog.Warn("Composer emitted untraceable citations, stripping", "orphans", orphans)
		observability.RecordSynthesisFault("orphan_citation")
		lowConfidence = true
	}

	return datatypes.Answer{
		Text:          text,
		Citations:     citations,
		Grounding:     groundingFor(citations, index, sets),
		LowConfidence: lowConfidence,
	}, nil
}

// synthesizeComparative composes one section per jurisdiction, then a
// comparison paragraph over the section texts alone.
func (s *Synthesizer) synthesizeComparative(ctx context.Context, queryText string, sets []datatypes.EvidenceSet, index map[string]datatypes.EvidenceItem) (datatypes.Answer, error) {
	sections := make([]datatypes.JurisdictionSection, len(sets))
	sectionDegraded := make([]bool, len(sets))

	g, gctx := errgroup.WithContext(ctx)
	for i, set := range sets {
		g.Go(func() error {
			sections[i], sectionDegraded[i] = s.composeSection(gctx, queryText, set, index)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return datatypes.Answer{}, err
	}
	if err := ctx.Err(); err != nil {
		return datatypes.Answer{}, err
	}

	lowConfidence := false
	for _, degradedSection := range sectionDegraded {
		lowConfidence = lowConfidence || degradedSection
	}

	comparison, err := s.compose(ctx, buildComparisonPrompt(queryText, sections))
	if err != nil {
		slog.Warn("Comparison composition failed, joining sections", "error", err)
		observability.RecordSynthesisFault("composer_error")
		comparison = joinSections(sections)
		lowConfidence = true
	}

	// The comparison is restricted to section texts; any citation it
	// emits must already appear in some section.
	comparisonCitations, orphans := extractCitations(comparison, index)
	if orphans > 0 {
		observability.RecordSynthesisFault("orphan_citation")
		lowConfidence = true
	}

	citations := mergeCitations(sections, comparisonCitations)
	return datatypes.Answer{
		Text:          comparison,
		Citations:     citations,
		Grounding:     groundingFor(citations, index, sets),
		Sections:      sections,
		LowConfidence: lowConfidence,
	}, nil
}

// composeSection grounds one jurisdiction independently. Returns the
// section and whether composition degraded.
func (s *Synthesizer) composeSection(ctx context.Context, queryText string, set datatypes.EvidenceSet, index map[string]datatypes.EvidenceItem) (datatypes.JurisdictionSection, bool) {
	if len(set.Evidence) == 0 {
		return datatypes.JurisdictionSection{
			Jurisdiction: set.Jurisdiction,
			Text:         noEvidenceSection,
			Grounding:    datatypes.GroundingNone,
		}, false
	}

	prompt := s.buildPrompt(queryText, []datatypes.EvidenceSet{set}, set.Jurisdiction)
	text, err := s.compose(ctx, prompt)
	degradedSection := false
	if err != nil {
		slog.Warn("Section composition failed, falling back to extractive text",
			"jurisdiction", set.Jurisdiction, "error", err)
		observability.RecordSynthesisFault("composer_error")
		text = extractiveFallback([]datatypes.EvidenceSet{set})
		degradedSection = true
	}

	citations, orphans := extractCitations(text, index)
	if orphans > 0 {
		observability.RecordSynthesisFault("orphan_citation")
		degradedSection = true
	}
	// A section cites only its own jurisdiction's evidence.
	citations = filterByJurisdiction(citations, set.Jurisdiction)

	return datatypes.JurisdictionSection{
		Jurisdiction: set.Jurisdiction,
		Text:         text,
		Grounding:    groundingFor(citations, index, []datatypes.EvidenceSet{set}),
		Citations:    citations,
	}, degradedSection
}

// compose runs one composer call under the synthesis timeout.
func (s *Synthesizer) compose(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SynthesisTimeout)
	defer cancel()

	temp := float32(0.1)
	text, err := s.composer.Generate(callCtx, prompt, llm.GenerationParams{Temperature: &temp})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("composer returned empty text")
	}
	return text, nil
}

// buildPrompt renders the evidence as labelled blocks the composer must
// stay within. Corpus passages are labelled [REGULATORY_KB], web
// snippets [WEB]; the label travels into the prompt so the model can
// weigh trust accordingly.
func (s *Synthesizer) buildPrompt(queryText string, sets []datatypes.EvidenceSet, scoped datatypes.Jurisdiction) string {
	var sb strings.Builder
	sb.WriteString("You are a fintech regulatory analyst. Answer the question using ONLY the evidence below.\n")
	sb.WriteString("Cite every claim with the bracketed source id of the passage it came from, e.g. [pk-emi-2023-4].\n")
	sb.WriteString("Evidence labelled [WEB] is lower-trust web material; say so when you rely on it.\n")
	sb.WriteString("If the evidence does not answer the question, say so explicitly.\n\n")

	if scoped != "" {
		sb.WriteString(fmt.Sprintf("Scope: %s only. Do not discuss other jurisdictions.\n\n", scoped))
	}
	sb.WriteString("Question: " + queryText + "\n\nEvidence:\n")

	for _, set := range sets {
		for _, item := range set.Evidence {
			label := "[REGULATORY_KB]"
			if item.Origin == datatypes.OriginWeb {
				label = "[WEB]"
			}
			sb.WriteString(fmt.Sprintf("%s jurisdiction=%s source_id=%s\n%s\n\n",
				label, item.Jurisdiction, item.SourceID, item.Text))
		}
	}
	sb.WriteString("Answer:")
	return sb.String()
}

// buildComparisonPrompt restricts the comparison to the section texts:
// no raw evidence is re-supplied, so the comparison cannot introduce
// claims the sections did not make.
func buildComparisonPrompt(queryText string, sections []datatypes.JurisdictionSection) string {
	var sb strings.Builder
	sb.WriteString("You are a fintech regulatory analyst. Compare the jurisdictions below.\n")
	sb.WriteString("Use ONLY the per-jurisdiction findings provided; do not add new facts.\n")
	sb.WriteString("Keep the bracketed source ids when restating a finding.\n\n")
	sb.WriteString("Question: " + queryText + "\n\n")

	for _, section := range sections {
		sb.WriteString(fmt.Sprintf("== %s ==\n%s\n\n", section.Jurisdiction, section.Text))
	}
	sb.WriteString("Comparison:")
	return sb.String()
}

// indexEvidence maps source IDs to their items across all sets.
func indexEvidence(sets []datatypes.EvidenceSet) map[string]datatypes.EvidenceItem {
	index := make(map[string]datatypes.EvidenceItem)
	for _, set := range sets {
		for _, item := range set.Evidence {
			index[item.SourceID] = item
		}
	}
	return index
}

// extractCitations pulls bracketed source IDs from the composed text,
// in order of first use, keeping only those that trace to supplied
// evidence. The second return is the count of untraceable (orphan)
// markers stripped.
func extractCitations(text string, index map[string]datatypes.EvidenceItem) ([]datatypes.Citation, int) {
	matches := citationPattern.FindAllStringSubmatch(text, -1)

	citations := make([]datatypes.Citation, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	orphans := 0
	for _, m := range matches {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		item, ok := index[id]
		if !ok {
			// Labels the prompt itself introduced are not citations.
			if id == "REGULATORY_KB" || id == "WEB" {
				continue
			}
			orphans++
			continue
		}
		citations = append(citations, datatypes.Citation{
			SourceID:     id,
			Jurisdiction: item.Jurisdiction,
		})
	}
	return citations, orphans
}

// groundingFor classifies provenance from the citations actually used;
// when the composer cited nothing it falls back to the origins of the
// evidence it was shown.
func groundingFor(citations []datatypes.Citation, index map[string]datatypes.EvidenceItem, sets []datatypes.EvidenceSet) datatypes.Grounding {
	var corpus, web bool
	if len(citations) > 0 {
		for _, c := range citations {
			switch index[c.SourceID].Origin {
			case datatypes.OriginCorpus:
				corpus = true
			case datatypes.OriginWeb:
				web = true
			}
		}
	} else {
		for _, set := range sets {
			for _, item := range set.Evidence {
				switch item.Origin {
				case datatypes.OriginCorpus:
					corpus = true
				case datatypes.OriginWeb:
					web = true
				}
			}
		}
	}

	switch {
	case corpus && web:
		return datatypes.GroundingMixed
	case corpus:
		return datatypes.GroundingCorpusOnly
	case web:
		return datatypes.GroundingWebAugmented
	default:
		return datatypes.GroundingNone
	}
}

// mergeCitations unions the section citations (in section order) with
// any the comparison restated, preserving first-use order.
func mergeCitations(sections []datatypes.JurisdictionSection, comparison []datatypes.Citation) []datatypes.Citation {
	var out []datatypes.Citation
	seen := make(map[string]bool)
	add := func(c datatypes.Citation) {
		if !seen[c.SourceID] {
			seen[c.SourceID] = true
			out = append(out, c)
		}
	}
	for _, section := range sections {
		for _, c := range section.Citations {
			add(c)
		}
	}
	for _, c := range comparison {
		add(c)
	}
	if out == nil {
		out = []datatypes.Citation{}
	}
	return out
}

// filterByJurisdiction drops citations outside the section's scope.
func filterByJurisdiction(citations []datatypes.Citation, j datatypes.Jurisdiction) []datatypes.Citation {
	out := citations[:0]
	for _, c := range citations {
		if c.Jurisdiction == j {
			out = append(out, c)
		}
	}
	return out
}

// extractiveFallback assembles a degraded answer directly from the top
// evidence when the composer is unavailable.
func extractiveFallback(sets []datatypes.EvidenceSet) string {
	var sb strings.Builder
	for _, set := range sets {
		for i, item := range set.Evidence {
			if i >= 2 {
				break
			}
			sb.WriteString(fmt.Sprintf("%s [%s]: %s\n", item.Jurisdiction, item.SourceID, item.Text))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return ""
	}
	return "The answer could not be composed; the most relevant passages are quoted verbatim below.\n\n" + text
}

// joinSections renders a degraded comparison when the comparison call
// itself failed.
func joinSections(sections []datatypes.JurisdictionSection) string {
	var sb strings.Builder
	sb.WriteString("A cross-jurisdiction comparison could not be composed; the per-jurisdiction findings follow.\n\n")
	for _, section := range sections {
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", section.Jurisdiction, section.Text))
	}
	return strings.TrimSpace(sb.String())
}

// emptySections renders the no-evidence section list for a comparative
// run that found nothing anywhere.
func emptySections(sets []datatypes.EvidenceSet) []datatypes.JurisdictionSection {
	sections := make([]datatypes.JurisdictionSection, 0, len(sets))
	for _, set := range sets {
		sections = append(sections, datatypes.JurisdictionSection{
			Jurisdiction: set.Jurisdiction,
			Text:         noEvidenceSection,
			Grounding:    datatypes.GroundingNone,
		})
	}
	return sections
}
