// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// Origin classifies where a piece of evidence came from.
type Origin string

const (
	// OriginCorpus marks a passage retrieved from the regulatory corpus.
	OriginCorpus Origin = "CORPUS"
	// OriginWeb marks a lower-trust passage gathered by web fallback.
	OriginWeb Origin = "WEB"
)

// Grounding classifies the provenance of an answer (or of one
// per-jurisdiction section of a comparative answer).
type Grounding string

const (
	// GroundingCorpusOnly: every citation traces to corpus evidence.
	GroundingCorpusOnly Grounding = "CORPUS_ONLY"
	// GroundingWebAugmented: the corpus was insufficient and web
	// evidence carried the answer.
	GroundingWebAugmented Grounding = "WEB_AUGMENTED"
	// GroundingMixed: corpus and web evidence were both cited.
	GroundingMixed Grounding = "MIXED"
	// GroundingNone: no evidence was available; the answer is an
	// explicit "no evidence found" statement, not generated content.
	GroundingNone Grounding = "NONE"
)

// EvidenceItem is a single retrieved passage. Items are immutable facts
// collected during one pipeline run.
type EvidenceItem struct {
	// SourceID identifies the passage within its origin: a corpus
	// document chunk ID, or a URL for web evidence.
	SourceID string `json:"source_id"`

	// Jurisdiction is the regime the passage belongs to.
	Jurisdiction Jurisdiction `json:"jurisdiction"`

	// Text is the passage content.
	Text string `json:"text"`

	// Score is the similarity (corpus) or rank-derived (web) relevance
	// in [0,1].
	Score float64 `json:"score"`

	// Origin tags the trust level of the passage.
	Origin Origin `json:"origin"`
}

// EvidenceSet groups the evidence retrieved for one jurisdiction during
// one run, together with the confidence-gate verdict.
type EvidenceSet struct {
	// Jurisdiction the set belongs to.
	Jurisdiction Jurisdiction `json:"jurisdiction"`

	// Evidence is relevance-ranked, best first. Ties keep retrieval
	// (corpus insertion) order.
	Evidence []EvidenceItem `json:"evidence"`

	// Confidence is the gate's aggregate of the top retrieval scores.
	// Zero when Evidence is empty.
	Confidence float64 `json:"confidence"`

	// Sufficient is the confidence-gate verdict. Always false for sets
	// produced by web fallback: web evidence is never measured against
	// the corpus gate.
	Sufficient bool `json:"sufficient"`
}

// Citation is one (source, jurisdiction) pair actually used by an answer.
type Citation struct {
	SourceID     string       `json:"source_id"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
}

// JurisdictionSection is one independently grounded part of a
// comparative answer.
type JurisdictionSection struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Text         string       `json:"text"`
	Grounding    Grounding    `json:"grounding"`
	Citations    []Citation   `json:"citations,omitempty"`
}

// Answer is the terminal artifact of a pipeline run, returned to the
// caller and never mutated afterward.
//
// Every entry in Citations references an EvidenceItem that appeared in
// some EvidenceSet produced during the same run; citations the composer
// invented are stripped before the Answer is returned and reported as a
// synthesis fault.
type Answer struct {
	// ID uniquely identifies the answer, e.g. "ans_5f1c...".
	ID string `json:"id"`

	// Text is the composed answer. For comparative queries it is the
	// cross-jurisdiction comparison; the per-jurisdiction detail lives
	// in Sections.
	Text string `json:"text"`

	// Citations lists the evidence actually used, in order of first use.
	Citations []Citation `json:"citations"`

	// Grounding classifies the answer's provenance.
	Grounding Grounding `json:"grounding"`

	// Sections is present iff the query was comparative.
	Sections []JurisdictionSection `json:"per_jurisdiction_sections,omitempty"`

	// LowConfidence is set when the composer produced untraceable
	// citations and the answer was downgraded rather than trusted.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// CreatedAt is when synthesis completed.
	CreatedAt time.Time `json:"created_at"`
}

// NewAnswerID returns a fresh answer identifier.
func NewAnswerID() string {
	return "ans_" + uuid.NewString()
}

// NewRunID returns a fresh pipeline-run identifier.
func NewRunID() string {
	return "run_" + uuid.NewString()
}
