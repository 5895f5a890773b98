// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the immutable pipeline configuration: the
// confidence threshold, retrieval depth, per-call timeouts, the
// jurisdiction registry, and the topic taxonomy.
//
// Configuration is supplied once at pipeline construction and is
// read-only for the lifetime of the pipeline, so multiple configurations
// (e.g. for testing) can coexist in one process.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/finregnav/navigator/services/navigator/datatypes"
)

var validate = validator.New()

// JurisdictionSpec describes one entry of the jurisdiction registry.
type JurisdictionSpec struct {
	// Code is the canonical identifier, e.g. "PK".
	Code datatypes.Jurisdiction `yaml:"code"`

	// Name is the display name, e.g. "Pakistan".
	Name string `yaml:"name"`

	// Synonyms are additional names and regulator acronyms recognized
	// in query text (case-insensitive), e.g. "SBP", "State Bank".
	Synonyms []string `yaml:"synonyms"`

	// Threshold optionally overrides the global confidence threshold
	// for this jurisdiction.
	Threshold *float64 `yaml:"threshold,omitempty"`
}

// TopicSpec describes one entry of the closed topic taxonomy. Taxonomy
// order is the tie-break order for the intent classifier.
type TopicSpec struct {
	Topic    datatypes.Topic `yaml:"topic"`
	Keywords []string        `yaml:"keywords"`
}

// Config is the full pipeline configuration. Treat values as immutable
// after Load or DefaultConfig.
type Config struct {
	// Threshold is the global corpus-confidence gate threshold in [0,1].
	// Default: 0.70.
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`

	// TopK is how many passages to retrieve per jurisdiction.
	// Default: 3.
	TopK int `yaml:"top_k" validate:"gte=1"`

	// ComparativeTopK is the retrieval depth used for comparative
	// queries, which need more material per jurisdiction. Default: 5.
	ComparativeTopK int `yaml:"comparative_top_k" validate:"gte=1"`

	// GateTopN is how many top scores feed the decayed-mean confidence
	// aggregate. 1 degenerates to plain top-score. Default: 3.
	GateTopN int `yaml:"gate_top_n" validate:"gte=1"`

	// BlendWebEvidence opts into MIXED grounding: when a jurisdiction's
	// corpus evidence is insufficient, web evidence is merged with the
	// below-threshold corpus evidence instead of replacing it.
	// Default: false (web strictly as fallback).
	BlendWebEvidence bool `yaml:"blend_web_evidence"`

	// WebMaxResults caps web fallback results per jurisdiction.
	// Default: 3.
	WebMaxResults int `yaml:"web_max_results"`

	// RetrievalTimeout bounds each per-jurisdiction corpus search.
	// Default: 10s.
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`

	// WebSearchTimeout bounds each per-jurisdiction web search.
	// Default: 15s.
	WebSearchTimeout time.Duration `yaml:"web_search_timeout"`

	// SynthesisTimeout bounds each language-model composition call.
	// Default: 120s.
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`

	// Registry is the closed jurisdiction registry. Order matters: it
	// is the fan-out order when a query names no jurisdiction.
	Registry []JurisdictionSpec `yaml:"registry"`

	// Taxonomy is the closed topic taxonomy in tie-break order. The
	// last entry should be the catch-all "other" with no keywords.
	Taxonomy []TopicSpec `yaml:"taxonomy"`
}

// DefaultConfig returns the built-in configuration: the standard
// registry and taxonomy with production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.70,
		TopK:             3,
		ComparativeTopK:  5,
		GateTopN:         3,
		BlendWebEvidence: false,
		WebMaxResults:    3,
		RetrievalTimeout: 10 * time.Second,
		WebSearchTimeout: 15 * time.Second,
		SynthesisTimeout: 120 * time.Second,
		Registry: []JurisdictionSpec{
			{Code: "PK", Name: "Pakistan", Synonyms: []string{"SBP", "State Bank of Pakistan", "SECP"}},
			{Code: "UAE", Name: "United Arab Emirates", Synonyms: []string{"Emirates", "Dubai", "Abu Dhabi", "DFSA", "ADGM", "CBUAE"}},
			{Code: "UK", Name: "United Kingdom", Synonyms: []string{"Britain", "England", "FCA", "PRA"}},
			{Code: "SG", Name: "Singapore", Synonyms: []string{"MAS", "Monetary Authority of Singapore"}},
			{Code: "EU", Name: "European Union", Synonyms: []string{"Europe", "EBA", "PSD2", "MiCA"}},
		},
		Taxonomy: []TopicSpec{
			{Topic: datatypes.TopicLicensing, Keywords: []string{
				"license", "licence", "licensing", "licensed", "emi", "permit",
				"authorization", "authorisation", "registration", "charter",
			}},
			{Topic: datatypes.TopicAMLCFT, Keywords: []string{
				"aml", "cft", "money laundering", "terrorist financing", "kyc",
				"know your customer", "sanctions", "due diligence", "suspicious transaction",
			}},
			{Topic: datatypes.TopicTaxation, Keywords: []string{
				"tax", "taxation", "vat", "withholding", "levy", "duty", "stamp",
			}},
			{Topic: datatypes.TopicCrossBorder, Keywords: []string{
				"cross-border", "cross border", "remittance", "passporting",
				"foreign exchange", "overseas", "repatriation", "correspondent",
			}},
			{Topic: datatypes.TopicOther},
		},
	}
}

// Load reads a YAML configuration file and overlays it on the defaults.
// Fields absent from the file keep their default values; a file-supplied
// registry or taxonomy replaces the default wholesale.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero values with defaults so a sparse YAML file
// cannot accidentally disable retrieval or timeouts.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.TopK == 0 {
		c.TopK = defaults.TopK
	}
	if c.ComparativeTopK == 0 {
		c.ComparativeTopK = defaults.ComparativeTopK
	}
	if c.GateTopN == 0 {
		c.GateTopN = defaults.GateTopN
	}
	if c.WebMaxResults == 0 {
		c.WebMaxResults = defaults.WebMaxResults
	}
	if c.RetrievalTimeout == 0 {
		c.RetrievalTimeout = defaults.RetrievalTimeout
	}
	if c.WebSearchTimeout == 0 {
		c.WebSearchTimeout = defaults.WebSearchTimeout
	}
	if c.SynthesisTimeout == 0 {
		c.SynthesisTimeout = defaults.SynthesisTimeout
	}
	if len(c.Registry) == 0 {
		c.Registry = defaults.Registry
	}
	if len(c.Taxonomy) == 0 {
		c.Taxonomy = defaults.Taxonomy
	}
}

// Validate checks the configuration for values the pipeline cannot
// operate with. Range constraints are declared as struct tags; the
// registry and taxonomy need cross-field checks the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config values: %w", err)
	}
	if len(c.Registry) == 0 {
		return errors.New("jurisdiction registry must not be empty")
	}
	seen := make(map[datatypes.Jurisdiction]bool, len(c.Registry))
	for _, spec := range c.Registry {
		if spec.Code == "" {
			return errors.New("registry entries must have a code")
		}
		if seen[spec.Code] {
			return fmt.Errorf("duplicate registry code %q", spec.Code)
		}
		seen[spec.Code] = true
		if spec.Threshold != nil && (*spec.Threshold < 0 || *spec.Threshold > 1) {
			return fmt.Errorf("threshold override for %q must be in [0,1]", spec.Code)
		}
	}
	if len(c.Taxonomy) == 0 {
		return errors.New("topic taxonomy must not be empty")
	}
	return nil
}

// ThresholdFor returns the effective confidence threshold for the given
// jurisdiction: its registry override if present, otherwise the global
// threshold.
func (c *Config) ThresholdFor(j datatypes.Jurisdiction) float64 {
	for _, spec := range c.Registry {
		if spec.Code == j && spec.Threshold != nil {
			return *spec.Threshold
		}
	}
	return c.Threshold
}

// RegistryCodes returns the registry's jurisdiction codes in registry
// order. This is the fan-out set for queries naming no jurisdiction.
func (c *Config) RegistryCodes() []datatypes.Jurisdiction {
	codes := make([]datatypes.Jurisdiction, 0, len(c.Registry))
	for _, spec := range c.Registry {
		codes = append(codes, spec.Code)
	}
	return codes
}

// KnownJurisdiction reports whether the code is in the registry.
func (c *Config) KnownJurisdiction(j datatypes.Jurisdiction) bool {
	for _, spec := range c.Registry {
		if spec.Code == j {
			return true
		}
	}
	return false
}

// TopKFor returns the retrieval depth appropriate for the intent:
// comparative queries pull more chunks per jurisdiction.
func (c *Config) TopKFor(comparative bool) int {
	if comparative {
		return c.ComparativeTopK
	}
	return c.TopK
}
