package vectordb

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// cosineSimilarity returns a score in [-1, 1]; zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, score))
}

// Rank drops matches below minScore, orders by score descending then ID
// ascending, and keeps at most topK. Every store funnels results through it.
func Rank(matches []Match, minScore float64, topK int) []Match {
	if topK <= 0 {
		topK = defaultTopK
	}
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func metadataMatches(meta map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := meta[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func recordSelected(rec Record, f Filter) bool {
	if f.SourceID != "" && rec.SourceID != f.SourceID {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, rec.ID) {
		return false
	}
	return metadataMatches(rec.Metadata, f.Metadata)
}

func checkDimension(store string, id string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s: record %q dimension mismatch (got %d want %d)", store, id, got, want)
	}
	return nil
}
