// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/finregnav/navigator/services/llm"
	"github.com/finregnav/navigator/services/navigator/config"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/intent"
	"github.com/finregnav/navigator/services/navigator/retrieval"
	"github.com/finregnav/navigator/services/navigator/synthesis"
	"github.com/finregnav/navigator/services/navigator/webfallback"
)

// =============================================================================
// Configuration
// =============================================================================

// ServiceConfig holds the server-level configuration: ports, backends,
// and external endpoints. The pipeline's own tunables (threshold,
// registry, taxonomy) live in config.Config, loaded from ConfigPath.
type ServiceConfig struct {
	// Port is the HTTP server port. Default: 12310.
	Port int

	// ConfigPath is the pipeline YAML configuration file. Empty uses
	// the built-in defaults.
	ConfigPath string

	// LLMBackend selects the composer provider: "ollama" or "openai".
	// Default: "ollama".
	LLMBackend string

	// OllamaURL is the Ollama server URL. Default: "http://localhost:11434".
	OllamaURL string

	// OllamaModel is the model tag for the Ollama backend.
	OllamaModel string

	// OpenAIKey is the API key for the openai backend.
	OpenAIKey string

	// OpenAIModel is the model name for the openai backend.
	OpenAIModel string

	// WeaviateURL is the regulatory corpus URL, e.g. "http://localhost:8080".
	// Required for serving.
	WeaviateURL string

	// SearXNGURL enables web fallback when set. Empty disables it.
	SearXNGURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317".
	OTelEndpoint string

	// EnableLLMIntent enables the language-model intent suggester for
	// queries the rule-based classifier cannot place.
	EnableLLMIntent bool

	// GinMode sets the gin framework mode ("debug", "release", "test").
	GinMode string
}

func applyServiceDefaults(cfg ServiceConfig) ServiceConfig {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is the runnable navigator server.
//
// # Thread Safety
//
// Thread-safe after construction; all fields are read-only once New
// returns. Run blocks and should be called at most once.
type Service struct {
	config        ServiceConfig
	pipeline      *Pipeline
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

// New assembles the navigator service: tracing, the Weaviate corpus
// client, the composer backend, optional web fallback, and the HTTP
// router. Route registration is left to the caller (see routes.SetupRoutes)
// to avoid an import cycle with the handlers.
func New(cfg ServiceConfig) (*Service, error) {
	s := &Service{config: applyServiceDefaults(cfg)}

	pipelineCfg, err := loadPipelineConfig(s.config.ConfigPath)
	if err != nil {
		return nil, err
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	weaviateClient, err := s.initWeaviate()
	if err != nil {
		s.cleanup()
		return nil, err
	}

	composer, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var suggester intent.Suggester
	if s.config.EnableLLMIntent {
		suggester = intent.NewLLMSuggester(composer, pipelineCfg)
	}

	var augmenter *webfallback.Augmenter
	if s.config.SearXNGURL != "" {
		searcher, err := webfallback.NewSearXNGClient(s.config.SearXNGURL)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize web search client: %w", err)
		}
		augmenter = webfallback.NewAugmenter(pipelineCfg, searcher)
	} else {
		slog.Info("Web fallback disabled: no search endpoint configured")
	}

	s.pipeline = NewPipeline(pipelineCfg,
		intent.NewClassifier(pipelineCfg, suggester),
		retrieval.NewRouter(pipelineCfg, retrieval.NewWeaviateSearcher(weaviateClient)),
		augmenter,
		synthesis.NewSynthesizer(pipelineCfg, composer),
	)

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()

	return s, nil
}

// Pipeline returns the assembled query pipeline, for route registration
// and for the CLI's one-shot mode.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

// Router returns the underlying gin engine for route registration and
// integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting navigator server", "port", s.config.Port)
	return s.router.Run(addr)
}

func (s *Service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization
// =============================================================================

func loadPipelineConfig(path string) (config.Config, error) {
	if path == "" {
		slog.Info("No pipeline config file given, using built-in defaults")
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load pipeline config: %w", err)
	}
	slog.Info("Loaded pipeline config", "path", path,
		"registry_size", len(cfg.Registry), "threshold", cfg.Threshold)
	return cfg, nil
}

// initTracer sets up the OTLP trace exporter.
//
// Uses an insecure gRPC connection, appropriate for collectors on
// internal networks.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("finreg-navigator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initWeaviate connects to the regulatory corpus. Unlike optional
// integrations, the corpus is the heart of the pipeline: a missing or
// malformed URL is a construction error, not a degraded mode.
func (s *Service) initWeaviate() (*weaviate.Client, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return nil, fmt.Errorf("weaviate URL is required: the regulatory corpus backs all retrieval")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(client)
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return client, nil
}

func (s *Service) initLLMClient() (llm.Client, error) {
	switch s.config.LLMBackend {
	case "ollama":
		return llm.NewOllamaClient(s.config.OllamaURL, s.config.OllamaModel)
	case "openai":
		return llm.NewOpenAIClient(s.config.OpenAIKey, s.config.OpenAIModel)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q (want ollama or openai)", s.config.LLMBackend)
	}
}
