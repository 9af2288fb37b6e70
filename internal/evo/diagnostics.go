package evo

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"moran/internal/model"
)

// SummarizeGeneration reduces one generation's round-robin scores and the
// distribution they were played on.
func SummarizeGeneration(generation int, scores []float64, dist model.Distribution) model.GenerationDiagnostics {
	d := model.GenerationDiagnostics{
		Generation:   generation,
		SpeciesCount: len(dist),
	}
	if len(scores) > 0 {
		d.MeanScore = stat.Mean(scores, nil)
		d.MinScore = floats.Min(scores)
		d.MaxScore = floats.Max(scores)
	}
	if len(scores) > 1 {
		d.StdDevScore = stat.StdDev(scores, nil)
	}
	for _, name := range dist.Names() {
		if dist[name] > d.LargestSpeciesSize {
			d.LargestSpeciesSize = dist[name]
			d.DominantSpecies = name
		}
	}
	return d
}
