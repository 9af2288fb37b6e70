package evo

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestSelectIndexReturnsFirstCumulativeAtOrAboveDraw(t *testing.T) {
	cumulative := []float64{1, 3, 6}
	cases := []struct {
		r    float64
		want int
	}{
		{0, 0},
		{1, 0},
		{1.0001, 1},
		{3, 1},
		{5.9, 2},
		{6, 2},
		{7, 2},
	}
	for _, tc := range cases {
		if got := selectIndex(cumulative, tc.r); got != tc.want {
			t.Fatalf("r=%v: got %d want %d", tc.r, got, tc.want)
		}
	}
}

func TestFitnessProportionateSelectionPicksOnlyPositiveScore(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scores := []float64{0, 0, 4, 0}
	for i := 0; i < 200; i++ {
		idx, err := FitnessProportionateSelection(rng, scores)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if idx != 2 {
			t.Fatalf("draw %d: expected index 2, got %d", i, idx)
		}
	}
}

func TestFitnessProportionateSelectionFollowsScoreProportions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scores := []float64{1, 3}
	const draws = 20000
	hits := 0
	for i := 0; i < draws; i++ {
		idx, err := FitnessProportionateSelection(rng, scores)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if idx == 1 {
			hits++
		}
	}
	frac := float64(hits) / draws
	if frac < 0.72 || frac > 0.78 {
		t.Fatalf("expected index 1 about 75%% of the time, got %.3f", frac)
	}
}

func TestFitnessProportionateSelectionRejectsInvalidScores(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := FitnessProportionateSelection(nil, []float64{1}); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatal("expected error for nil random source")
	}
	for _, scores := range [][]float64{
		nil,
		{0, 0, 0},
		{1, -1},
		{math.NaN(), 1},
		{math.Inf(1), 1},
	} {
		if _, err := FitnessProportionateSelection(rng, scores); !errors.Is(err, ErrInvalidDistribution) {
			t.Fatalf("scores %v: expected ErrInvalidDistribution, got %v", scores, err)
		}
	}
}

func TestFitnessProportionateSelectionConsumesOneDraw(t *testing.T) {
	a := rand.New(rand.NewSource(9))
	b := rand.New(rand.NewSource(9))
	if _, err := FitnessProportionateSelection(a, []float64{1, 2, 3}); err != nil {
		t.Fatalf("select: %v", err)
	}
	b.Float64()
	if a.Int63() != b.Int63() {
		t.Fatal("expected selection to consume exactly one Float64 draw")
	}
}
