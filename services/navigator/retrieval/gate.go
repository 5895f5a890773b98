// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import "math"

// Confidence aggregates the top retrieval scores into a single gate
// value using an exponentially decayed mean: the best score dominates,
// later scores matter progressively less.
//
//	confidence = sum(score_i * 0.5^i) / sum(0.5^i)   for i in [0, n)
//
// Scores must be sorted best-first; only the first topN are considered.
// An empty slice yields 0: a jurisdiction with no evidence can never
// pass the gate, whatever the threshold.
func Confidence(scores []float64, topN int) float64 {
	if len(scores) == 0 || topN < 1 {
		return 0
	}
	n := topN
	if len(scores) < n {
		n = len(scores)
	}

	var weighted, norm float64
	for i := 0; i < n; i++ {
		w := math.Pow(0.5, float64(i))
		weighted += scores[i] * w
		norm += w
	}
	return weighted / norm
}

// Sufficient is the gate verdict: confidence meets or exceeds the
// threshold, and there is evidence at all. Confidence 0 from an empty
// set fails even a threshold of 0.
func Sufficient(confidence float64, threshold float64, evidenceCount int) bool {
	if evidenceCount == 0 {
		return false
	}
	return confidence >= threshold
}
