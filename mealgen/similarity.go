package mealgen

import (
	"math"
	"strings"

	"souschef/store"
)

// CosineSimilarity returns 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type duplicate struct {
	meal       store.Meal
	similarity float64
}

// findDuplicate returns the most similar prior meal at or above threshold.
// Priors without a comparable embedding match on name alone.
func findDuplicate(name string, vec []float32, priors []store.Meal, threshold float64) (duplicate, bool) {
	var best duplicate
	found := false
	for _, p := range priors {
		sim := CosineSimilarity(vec, p.Embedding)
		if sim == 0 && strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			sim = 1
		}
		if sim >= threshold && (!found || sim > best.similarity) {
			best = duplicate{meal: p, similarity: sim}
			found = true
		}
	}
	return best, found
}
