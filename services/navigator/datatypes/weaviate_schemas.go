// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetRegulatoryPassageSchema returns the schema for the regulatory
// corpus class. Each object is one chunk of a regulatory document,
// tagged with the jurisdiction it belongs to.
func GetRegulatoryPassageSchema() *models.Class {
	return &models.Class{
		Class:       "RegulatoryPassage",
		Description: "A chunk of a fintech regulatory document, scoped to one jurisdiction.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:        "source_id",
				DataType:    []string{"text"},
				Description: "Stable identifier of the source chunk, cited in answers",
			},
			{
				Name:        "jurisdiction",
				DataType:    []string{"text"},
				Description: "Registry code of the regime the passage belongs to, e.g. PK",
			},
			{
				Name:        "text",
				DataType:    []string{"text"},
				Description: "The passage content",
			},
			{
				Name:        "regulator",
				DataType:    []string{"text"},
				Description: "Issuing regulator, e.g. SBP, FCA",
			},
			{
				Name:        "document_title",
				DataType:    []string{"text"},
				Description: "Title of the source document",
			},
			{
				Name:        "effective_date",
				DataType:    []string{"date"},
				Description: "When the provision took effect, if known",
			},
		},
	}
}

// EnsureWeaviateSchema creates the navigator's classes if they are
// missing. Existing classes are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetRegulatoryPassageSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
