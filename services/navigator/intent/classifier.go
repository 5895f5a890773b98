// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent maps raw queries to structured intent records: the
// topic, the ordered jurisdiction set, and the comparative flag.
//
// Classification is rule-based and deterministic under a fixed
// configuration. An optional Suggester collaborator (typically
// LLM-backed) refines the verdict for queries the rules cannot place;
// its failures are absorbed, never surfaced.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
)

var tracer = otel.Tracer("finreg.navigator.intent")

// InvalidQueryError rejects malformed input. It is surfaced to the
// caller immediately; nothing downstream runs.
type InvalidQueryError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: %s", e.Reason)
}

// IsInvalidQuery checks if an error is an *InvalidQueryError. Handlers
// use it to map the error to a 400 response.
func IsInvalidQuery(err error) bool {
	var iq *InvalidQueryError
	return errors.As(err, &iq)
}

// Suggestion is the black-box collaborator's verdict: a topic and
// jurisdiction candidates, with no cross-call state.
type Suggestion struct {
	Topic         datatypes.Topic
	Jurisdictions []datatypes.Jurisdiction
}

// Suggester is the fuzzy-matching collaborator consulted when the
// rule-based pass cannot place a query. Implementations must be safe
// for concurrent use.
type Suggester interface {
	Suggest(ctx context.Context, queryText string) (Suggestion, error)
}

// Classifier derives an IntentRecord from a Query.
//
// The rule-based pass is authoritative for jurisdiction ordering and the
// comparative flag; the optional suggester only fills gaps (topic "other",
// zero recognized jurisdictions). Same query, same configuration, same
// rule-based outcome.
type Classifier struct {
	cfg       config.Config
	suggester Suggester
}

// NewClassifier creates a Classifier. The suggester may be nil, in which
// case classification is purely rule-based.
func NewClassifier(cfg config.Config, suggester Suggester) *Classifier {
	return &Classifier{cfg: cfg, suggester: suggester}
}

// Classify maps a Query to an IntentRecord.
//
// Policy, in order:
//
//  1. Empty or whitespace-only text is rejected with InvalidQueryError.
//  2. Explicit jurisdiction hints come first, in hint order; unknown
//     hints are dropped with a warning.
//  3. Jurisdictions recognized in the text follow, in order of first
//     mention, skipping ones already hinted.
//  4. Comparative is true iff two or more jurisdictions were requested
//     (hinted or recognized), or the caller set the compare flag and at
//     least two jurisdictions are in scope.
//  5. Zero requested jurisdictions fall back to the suggester's valid
//     candidates, then to the full registry (fan-out). Ambiguity is
//     resolved by breadth, not rejection.
//  6. Topic is the best keyword match against the taxonomy, ties broken
//     by taxonomy declaration order; "other" verdicts are offered to the
//     suggester for refinement.
//
// The method never fails for well-formed text.
func (c *Classifier) Classify(ctx context.Context, query datatypes.Query) (datatypes.IntentRecord, error) {
	ctx, span := tracer.Start(ctx, "Classifier.Classify")
	defer span.End()

	if err := query.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query")
		return datatypes.IntentRecord{}, &InvalidQueryError{Reason: err.Error()}
	}

	jurisdictions := c.hintedJurisdictions(query.JurisdictionHints)
	for _, j := range c.recognizeJurisdictions(query.Text) {
		if !containsJurisdiction(jurisdictions, j) {
			jurisdictions = append(jurisdictions, j)
		}
	}
	requested := len(jurisdictions)

	topic := c.topicByKeywords(query.Text)

	// Consult the collaborator only for the gaps rules cannot fill.
	if c.suggester != nil && (requested == 0 || topic == datatypes.TopicOther) {
		suggestion, err := c.suggester.Suggest(ctx, query.Text)
		if err != nil {
			slog.Warn("intent suggester failed, continuing rule-based", "error", err)
		} else {
			if requested == 0 {
				for _, j := range suggestion.Jurisdictions {
					if c.cfg.KnownJurisdiction(j) && !containsJurisdiction(jurisdictions, j) {
						jurisdictions = append(jurisdictions, j)
					}
				}
				requested = len(jurisdictions)
			}
			if topic == datatypes.TopicOther && c.knownTopic(suggestion.Topic) {
				topic = suggestion.Topic
			}
		}
	}

	comparative := requested >= 2 || (query.Compare && len(jurisdictions) >= 2)

	if len(jurisdictions) == 0 {
		jurisdictions = c.cfg.RegistryCodes()
		comparative = query.Compare && len(jurisdictions) >= 2
		slog.Info("no jurisdiction recognized, fanning out to full registry",
			"registry_size", len(jurisdictions))
	}

	record := datatypes.IntentRecord{
		Topic:         topic,
		Jurisdictions: jurisdictions,
		Comparative:   comparative,
	}

	span.SetAttributes(
		attribute.String("intent.topic", string(record.Topic)),
		attribute.Int("intent.jurisdictions", len(record.Jurisdictions)),
		attribute.Bool("intent.comparative", record.Comparative),
	)
	slog.Info("classified query",
		"topic", record.Topic,
		"jurisdictions", record.Jurisdictions,
		"comparative", record.Comparative,
	)
	return record, nil
}

// hintedJurisdictions validates explicit hints against the registry,
// preserving hint order and dropping duplicates and unknowns.
func (c *Classifier) hintedJurisdictions(hints []datatypes.Jurisdiction) []datatypes.Jurisdiction {
	var out []datatypes.Jurisdiction
	for _, h := range hints {
		if !c.cfg.KnownJurisdiction(h) {
			slog.Warn("ignoring unknown jurisdiction hint", "hint", h)
			continue
		}
		if !containsJurisdiction(out, h) {
			out = append(out, h)
		}
	}
	return out
}

// recognizeJurisdictions scans the text for registry names, codes, and
// synonyms, returning matches ordered by first mention.
func (c *Classifier) recognizeJurisdictions(text string) []datatypes.Jurisdiction {
	type mention struct {
		code  datatypes.Jurisdiction
		index int
	}

	lower := strings.ToLower(text)
	var mentions []mention

	for _, spec := range c.cfg.Registry {
		names := append([]string{spec.Name, string(spec.Code)}, spec.Synonyms...)
		first := -1
		for _, name := range names {
			if name == "" {
				continue
			}
			if idx := findMention(lower, strings.ToLower(name)); idx >= 0 && (first < 0 || idx < first) {
				first = idx
			}
		}
		if first >= 0 {
			mentions = append(mentions, mention{code: spec.Code, index: first})
		}
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].index < mentions[j].index
	})

	out := make([]datatypes.Jurisdiction, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, m.code)
	}
	return out
}

// topicByKeywords scores each taxonomy entry by keyword occurrences and
// picks the best; a strict improvement is required to displace an
// earlier entry, so ties resolve to taxonomy declaration order. Zero
// hits anywhere yields the catch-all "other".
func (c *Classifier) topicByKeywords(text string) datatypes.Topic {
	lower := strings.ToLower(text)

	best := datatypes.TopicOther
	bestScore := 0
	for _, spec := range c.cfg.Taxonomy {
		score := 0
		for _, kw := range spec.Keywords {
			if findMention(lower, strings.ToLower(kw)) >= 0 {
				score++
			}
		}
		if score > bestScore {
			best = spec.Topic
			bestScore = score
		}
	}
	return best
}

// knownTopic reports whether the topic is in the configured taxonomy.
func (c *Classifier) knownTopic(t datatypes.Topic) bool {
	for _, spec := range c.cfg.Taxonomy {
		if spec.Topic == t {
			return true
		}
	}
	return false
}

// findMention locates needle in haystack at a word boundary, so short
// codes like "UK" never match inside another word. Both arguments must
// already be lowercase. Returns the byte index of the first boundary
// match, or -1.
func findMention(haystack, needle string) int {
	if needle == "" {
		return -1
	}
	offset := 0
	for {
		idx := strings.Index(haystack[offset:], needle)
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		if boundaryBefore(haystack, abs) && boundaryAfter(haystack, abs+len(needle)) {
			return abs
		}
		offset = abs + 1
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r := rune(s[idx-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r := rune(s[idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func containsJurisdiction(list []datatypes.Jurisdiction, j datatypes.Jurisdiction) bool {
	for _, x := range list {
		if x == j {
			return true
		}
	}
	return false
}
