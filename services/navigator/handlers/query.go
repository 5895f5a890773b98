// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers holds the gin handlers for the navigator API.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finregnav/navigator/services/navigator"
	"github.com/finregnav/navigator/services/navigator/datatypes"
	"github.com/finregnav/navigator/services/navigator/intent"
	"github.com/finregnav/navigator/services/navigator/retrieval"
)

var queryTracer = otel.Tracer("finreg.navigator.handlers")

// QueryRequest is the POST /api/v1/query body.
type QueryRequest struct {
	// Query is the free-text regulatory question. Required.
	Query string `json:"query" binding:"required"`

	// Jurisdictions optionally pins the jurisdiction scope, bypassing
	// text recognition for the listed codes.
	Jurisdictions []string `json:"jurisdictions,omitempty"`

	// Compare requests a comparative answer when at least two
	// jurisdictions end up in scope.
	Compare bool `json:"compare,omitempty"`
}

// HandleQuery runs one query through the pipeline.
//
// Error mapping follows the pipeline's taxonomy: invalid queries are
// the caller's fault (400), an unreachable corpus is an upstream outage
// (503), and synthesis faults that could not even degrade are a bad
// gateway (502).
func HandleQuery(pipeline *navigator.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var request QueryRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind query request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		span.SetAttributes(
			attribute.Int("request.jurisdiction_hints", len(request.Jurisdictions)),
			attribute.Bool("request.compare", request.Compare),
		)

		// Registry codes are upper-case; accept hints in any case.
		hints := make([]datatypes.Jurisdiction, 0, len(request.Jurisdictions))
		for _, j := range request.Jurisdictions {
			hints = append(hints, datatypes.Jurisdiction(strings.ToUpper(j)))
		}

		result, err := pipeline.Execute(ctx, datatypes.Query{
			Text:              request.Query,
			JurisdictionHints: hints,
			Compare:           request.Compare,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case intent.IsInvalidQuery(err):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case retrieval.IsRetrievalUnavailable(err):
				slog.Error("Corpus unavailable", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Regulatory knowledge base is unavailable"})
			default:
				slog.Error("Pipeline execution failed", "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to compose an answer"})
			}
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "navigator"})
}
