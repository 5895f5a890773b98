// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/weaviate/entities/models"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"plain text", Query{Text: "EMI licensing in Pakistan"}, false},
		{"empty", Query{}, true},
		{"whitespace only", Query{Text: " \n\t "}, true},
		{"with hints", Query{Text: "q", JurisdictionHints: []Jurisdiction{"PK"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewAnswerID(), "ans_"))
	assert.True(t, strings.HasPrefix(NewRunID(), "run_"))
	assert.NotEqual(t, NewAnswerID(), NewAnswerID())
}

func TestParseGraphQLResponsePassages(t *testing.T) {
	certainty := float32(0.91)
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"RegulatoryPassage": []interface{}{
					map[string]interface{}{
						"source_id":    "pk-emi-2023-4",
						"jurisdiction": "PK",
						"text":         "EMIs must hold...",
						"_additional": map[string]interface{}{
							"id":        "9b2f",
							"certainty": certainty,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
	require.NoError(t, err)

	require.Len(t, parsed.Get.RegulatoryPassage, 1)
	hit := parsed.Get.RegulatoryPassage[0]
	assert.Equal(t, "pk-emi-2023-4", hit.SourceID)
	assert.Equal(t, "PK", hit.Jurisdiction)
	require.NotNil(t, hit.Additional.Certainty)
	assert.InDelta(t, 0.91, float64(*hit.Additional.Certainty), 1e-6)
}

func TestParseGraphQLResponseNil(t *testing.T) {
	_, err := ParseGraphQLResponse[PassageQueryResponse](nil)
	assert.Error(t, err)
}

func TestRegulatoryPassageSchemaShape(t *testing.T) {
	class := GetRegulatoryPassageSchema()

	assert.Equal(t, "RegulatoryPassage", class.Class)
	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.Subset(t, names, []string{"source_id", "jurisdiction", "text"})
}
