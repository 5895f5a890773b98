// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the data model shared by the navigator pipeline
// components: queries, intent records, evidence, and answers.
//
// Values in this package are created once per pipeline run and never
// mutated afterward; components communicate by returning new values.
package datatypes

import (
	"fmt"
	"strings"
)

// Jurisdiction identifies a regulatory regime with its own corpus
// partition, e.g. "PK", "UAE", "UK".
type Jurisdiction string

// Topic is one of the closed taxonomy of regulatory question areas.
type Topic string

// The closed topic taxonomy. Declaration order is significant: the intent
// classifier breaks keyword-score ties in this order.
const (
	TopicLicensing   Topic = "licensing"
	TopicAMLCFT      Topic = "aml_cft"
	TopicTaxation    Topic = "taxation"
	TopicCrossBorder Topic = "cross_border"
	TopicOther       Topic = "other"
)

// Query is the raw caller input. Immutable once received.
type Query struct {
	// Text is the natural-language question. Must be non-blank.
	Text string `json:"text"`

	// JurisdictionHints optionally names jurisdictions explicitly,
	// bypassing text recognition for those entries.
	JurisdictionHints []Jurisdiction `json:"jurisdiction_hints,omitempty"`

	// Compare requests a comparative answer even when the classifier
	// would not infer one. It has no effect with fewer than two
	// jurisdictions in scope.
	Compare bool `json:"compare,omitempty"`
}

// Validate rejects queries the pipeline cannot process. An empty or
// whitespace-only question is the only invalid well-formed input.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("query text must not be empty or whitespace-only")
	}
	return nil
}

// IntentRecord is the structured form of a Query, produced by the intent
// classifier. Created once per run and never mutated.
//
// Jurisdictions is never empty: when the classifier recognizes no
// jurisdiction it falls back to the full configured registry.
type IntentRecord struct {
	// Topic is the best taxonomy match for the query.
	Topic Topic `json:"topic"`

	// Jurisdictions is the ordered set of regimes in scope, in order
	// of first mention (hints first, in hint order).
	Jurisdictions []Jurisdiction `json:"jurisdictions"`

	// Comparative is true iff the caller requested two or more
	// jurisdictions (named or hinted). A registry-wide fan-out caused
	// by recognizing nothing does not make a query comparative.
	Comparative bool `json:"comparative"`
}
