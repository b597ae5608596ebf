package memory

import "strings"

// Similarity thresholds for the two dedup consumers. Extraction uses a
// strict gate to avoid storing duplicates; consolidation uses a looser one
// to actively find merge candidates.
const (
	ExtractionSimilarityThreshold    = 0.85
	ConsolidationSimilarityThreshold = 0.70
)

// DedupMatch is the result of a similarity check against existing records.
type DedupMatch struct {
	HasSimilar bool
	Match      *Record
	Similarity float64
}

// OverlapSimilarity computes lexical similarity between two strings as
// word-set overlap: |A∩B| / max(|A|, |B|). Case-insensitive. Returns 0
// when either string has no words.
func OverlapSimilarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	// Iterate the smaller set.
	if len(wb) < len(wa) {
		wa, wb = wb, wa
	}

	var common int
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}

	return float64(common) / float64(len(wb))
}

// FindSimilar returns the first existing record whose content overlaps the
// candidate at or above the threshold. No further candidates are checked
// after the first hit.
func FindSimilar(candidate string, existing []Record, threshold float64) DedupMatch {
	for i := range existing {
		sim := OverlapSimilarity(candidate, existing[i].Content)
		if sim >= threshold {
			return DedupMatch{HasSimilar: true, Match: &existing[i], Similarity: sim}
		}
	}
	return DedupMatch{}
}

// wordSet lowercases s and splits it into a set of whitespace-delimited words.
func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
