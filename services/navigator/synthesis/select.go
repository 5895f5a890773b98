// Copyright (C) 2026 FinReg Navigator Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import "github.com/finregnav/navigator/services/navigator/datatypes"

// Select decides which evidence carries one jurisdiction into
// synthesis, after the gate verdict and any web fallback.
//
// Policy:
//
//   - Sufficient corpus evidence is used as-is; web evidence for that
//     jurisdiction is never fetched, so web is nil here.
//   - Insufficient corpus with web evidence: blend=true merges both
//     (corpus first, web after), blend=false lets web replace the
//     below-threshold corpus.
//   - Insufficient corpus and no web evidence: the weak corpus evidence
//     is kept rather than discarded, and the degraded flag is raised so
//     the final answer is marked low-confidence.
//   - Nothing at all: an empty set, which synthesis renders as an
//     explicit no-evidence section.
//
// The returned bool reports degradation (weak corpus used unbacked).
func Select(corpus datatypes.EvidenceSet, web *datatypes.EvidenceSet, blend bool) (datatypes.EvidenceSet, bool) {
	if corpus.Sufficient {
		return corpus, false
	}

	hasWeb := web != nil && len(web.Evidence) > 0
	if hasWeb {
		if blend {
			merged := datatypes.EvidenceSet{
				Jurisdiction: corpus.Jurisdiction,
				Evidence:     append(append([]datatypes.EvidenceItem{}, corpus.Evidence...), web.Evidence...),
				Confidence:   corpus.Confidence,
				Sufficient:   false,
			}
			return merged, false
		}
		return *web, false
	}

	if len(corpus.Evidence) > 0 {
		return corpus, true
	}
	return datatypes.EvidenceSet{Jurisdiction: corpus.Jurisdiction}, false
}
