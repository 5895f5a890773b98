// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command navigator runs the FinReg Navigator: a query-routing and
// answer-grounding service for fintech regulatory questions.
//
// # Subcommands
//
//   - serve: start the HTTP API server
//   - ask:   run one query through the pipeline and print the answer
//
// # Environment Variables
//
//   - NAVIGATOR_PORT: HTTP server port (default: 12310)
//   - NAVIGATOR_CONFIG: pipeline YAML config path (optional)
//   - LLM_BACKEND_TYPE: composer provider - ollama, openai (default: ollama)
//   - OLLAMA_URL / OLLAMA_MODEL: Ollama endpoint and model tag
//   - OPENAI_API_KEY / OPENAI_MODEL: OpenAI credentials and model
//   - WEAVIATE_SERVICE_URL: regulatory corpus URL (required)
//   - SEARXNG_URL: web search endpoint; empty disables web fallback
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/finregnav/navigator/pkg/logging"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "navigator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
