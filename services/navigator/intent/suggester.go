// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/finregnav/navigator/services/llm"
	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
)

// LLMSuggester asks a language model to place a query within the
// configured taxonomy and registry. It is stateless: each call carries
// the full instruction set, and the model sees only the query text.
type LLMSuggester struct {
	client llm.Client
	cfg    config.Config
}

// NewLLMSuggester wires a language-model client as an intent Suggester.
func NewLLMSuggester(client llm.Client, cfg config.Config) *LLMSuggester {
	return &LLMSuggester{client: client, cfg: cfg}
}

// suggestionPayload is the JSON contract the model is instructed to emit.
type suggestionPayload struct {
	Topic         string   `json:"topic"`
	Jurisdictions []string `json:"jurisdictions"`
}

// Suggest classifies the query via one model call.
//
// The model is constrained to the configured topic and jurisdiction
// vocabularies and asked for bare JSON. Local models routinely wrap
// output in markdown fences or emit reasoning inside <think> tags, so
// the raw completion is sanitized before parsing. Out-of-vocabulary
// values are dropped, not errors; the caller validates what remains.
func (s *LLMSuggester) Suggest(ctx context.Context, queryText string) (Suggestion, error) {
	ctx, span := tracer.Start(ctx, "LLMSuggester.Suggest")
	defer span.End()

	temp := float32(0.0)
	raw, err := s.client.Generate(ctx, s.buildPrompt(queryText), llm.GenerationParams{
		Temperature: &temp,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggester generation failed")
		return Suggestion{}, fmt.Errorf("intent suggestion failed: %w", err)
	}

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(SanitizeModelJSON(raw)), &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suggester returned unparseable output")
		return Suggestion{}, fmt.Errorf("intent suggestion unparseable: %w", err)
	}

	suggestion := Suggestion{Topic: datatypes.Topic(strings.ToLower(strings.TrimSpace(payload.Topic)))}
	for _, j := range payload.Jurisdictions {
		code := datatypes.Jurisdiction(strings.ToUpper(strings.TrimSpace(j)))
		if s.cfg.KnownJurisdiction(code) {
			suggestion.Jurisdictions = append(suggestion.Jurisdictions, code)
		}
	}
	return suggestion, nil
}

func (s *LLMSuggester) buildPrompt(queryText string) string {
	topics := make([]string, 0, len(s.cfg.Taxonomy))
	for _, spec := range s.cfg.Taxonomy {
		topics = append(topics, string(spec.Topic))
	}
	codes := make([]string, 0, len(s.cfg.Registry))
	for _, spec := range s.cfg.Registry {
		codes = append(codes, fmt.Sprintf("%s (%s)", spec.Code, spec.Name))
	}

	var sb strings.Builder
	sb.WriteString("You classify fintech regulatory questions.\n")
	sb.WriteString("Allowed topics: " + strings.Join(topics, ", ") + "\n")
	sb.WriteString("Allowed jurisdiction codes: " + strings.Join(codes, ", ") + "\n\n")
	sb.WriteString("Question: " + queryText + "\n\n")
	sb.WriteString(`Respond with only a JSON object, no prose, no markdown: ` +
		`{"topic": "<topic>", "jurisdictions": ["<code>", ...]}` + "\n" +
		"Use an empty jurisdictions array if the question names none.")
	return sb.String()
}

// SanitizeModelJSON strips the decoration local models wrap around JSON
// output: markdown code fences (with or without a language tag) and
// <think>...</think> reasoning blocks. The result is trimmed and ready
// for json.Unmarshal.
func SanitizeModelJSON(raw string) string {
	s := raw

	// Reasoning blocks come before the payload; drop everything up to
	// the closing tag. An unclosed block means no payload at all.
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s, "</think>")
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
