// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/finregnav/navigator/services/navigator"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/routes"
)

var (
	flagPort          int
	flagConfigPath    string
	flagJurisdictions []string
	flagCompare       bool
	flagJSON          bool

	rootCmd = &cobra.Command{
		Use:   "navigator",
		Short: "Query-routing and answer-grounding for fintech regulatory questions",
		Long: `FinReg Navigator answers fintech regulatory questions by routing each
query to a jurisdiction-partitioned regulatory corpus, gating the
retrieved evidence on confidence, falling back to web search when the
corpus is insufficient, and composing a cited answer.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the navigator HTTP API server",
		RunE:  runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the pipeline and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP port (overrides NAVIGATOR_PORT)")
	serveCmd.Flags().StringVar(&flagConfigPath, "config", "", "pipeline YAML config path (overrides NAVIGATOR_CONFIG)")

	askCmd.Flags().StringVar(&flagConfigPath, "config", "", "pipeline YAML config path (overrides NAVIGATOR_CONFIG)")
	askCmd.Flags().StringSliceVar(&flagJurisdictions, "jurisdiction", nil, "pin jurisdiction scope, e.g. --jurisdiction PK --jurisdiction UAE")
	askCmd.Flags().BoolVar(&flagCompare, "compare", false, "request a comparative answer")
	askCmd.Flags().BoolVar(&flagJSON, "json", false, "print the full result as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
}

// serviceConfigFromEnv builds the service configuration from flags and
// environment variables, flags winning.
func serviceConfigFromEnv() navigator.ServiceConfig {
	cfg := navigator.ServiceConfig{
		Port:            getEnvInt("NAVIGATOR_PORT", 12310),
		ConfigPath:      getEnvString("NAVIGATOR_CONFIG", ""),
		LLMBackend:      getEnvString("LLM_BACKEND_TYPE", "ollama"),
		OllamaURL:       getEnvString("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     os.Getenv("OLLAMA_MODEL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		WeaviateURL:     os.Getenv("WEAVIATE_SERVICE_URL"),
		SearXNGURL:      os.Getenv("SEARXNG_URL"),
		OTelEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableLLMIntent: os.Getenv("NAVIGATOR_LLM_INTENT") == "true",
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagConfigPath != "" {
		cfg.ConfigPath = flagConfigPath
	}
	return cfg
}

func runServe(_ *cobra.Command, _ []string) error {
	svc, err := navigator.New(serviceConfigFromEnv())
	if err != nil {
		return fmt.Errorf("failed to create navigator service: %w", err)
	}

	routes.SetupRoutes(svc.Router(), svc.Pipeline())
	return svc.Run()
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := serviceConfigFromEnv()
	cfg.GinMode = "release"

	svc, err := navigator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create navigator service: %w", err)
	}

	hints := make([]datatypes.Jurisdiction, 0, len(flagJurisdictions))
	for _, j := range flagJurisdictions {
		hints = append(hints, datatypes.Jurisdiction(strings.ToUpper(j)))
	}

	result, err := svc.Pipeline().Execute(context.Background(), datatypes.Query{
		Text:              strings.Join(args, " "),
		JurisdictionHints: hints,
		Compare:           flagCompare,
	})
	if err != nil {
		return err
	}

	if flagJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	printAnswer(cmd, result)
	return nil
}

func printAnswer(cmd *cobra.Command, result navigator.Result) {
	out := cmd.OutOrStdout()
	answer := result.Answer

	for _, section := range answer.Sections {
		fmt.Fprintf(out, "== %s (%s) ==\n%s\n\n", section.Jurisdiction, section.Grounding, section.Text)
	}
	fmt.Fprintln(out, answer.Text)

	if len(answer.Citations) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, c := range answer.Citations {
			fmt.Fprintf(out, "  [%s] %s\n", c.Jurisdiction, c.SourceID)
		}
	}
	fmt.Fprintf(out, "\nGrounding: %s", answer.Grounding)
	if answer.LowConfidence {
		fmt.Fprint(out, " (low confidence)")
	}
	fmt.Fprintln(out)
}
