// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/finregnav/navigator/services/navigator"
	"github.com/finregnav/navigator/services/navigator/handlers"
)

// SetupRoutes registers the navigator API on the given engine.
func SetupRoutes(router *gin.Engine, pipeline *navigator.Pipeline) {
	router.Use(otelgin.Middleware("finreg-navigator"))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/api/v1")
	{
		v1.POST("/query", handlers.HandleQuery(pipeline))
	}
}
