package evo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// FitnessProportionateSelection draws an index with probability proportional
// to its score. It consumes exactly one Float64 draw from rng.
func FitnessProportionateSelection(rng *rand.Rand, scores []float64) (int, error) {
	if rng == nil {
		return 0, fmt.Errorf("%w: random source is required", ErrInvalidDistribution)
	}
	cumulative, err := cumulativeScores(scores)
	if err != nil {
		return 0, err
	}
	r := rng.Float64() * cumulative[len(cumulative)-1]
	return selectIndex(cumulative, r), nil
}

func cumulativeScores(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no scores", ErrInvalidDistribution)
	}
	cumulative := make([]float64, len(scores))
	total := 0.0
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return nil, fmt.Errorf("%w: score at index %d is %v", ErrInvalidDistribution, i, s)
		}
		total += s
		cumulative[i] = total
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: scores sum to zero", ErrInvalidDistribution)
	}
	return cumulative, nil
}

// selectIndex returns the smallest k with cumulative[k] >= r.
func selectIndex(cumulative []float64, r float64) int {
	k := sort.SearchFloat64s(cumulative, r)
	if k >= len(cumulative) {
		k = len(cumulative) - 1
	}
	return k
}
