package model

import "sort"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Distribution maps an agent display name to its count in one generation.
type Distribution map[string]int

func (d Distribution) Clone() Distribution {
	out := make(Distribution, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Names returns the names present in d in sorted order.
func (d Distribution) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d Distribution) Total() int {
	total := 0
	for _, v := range d {
		total += v
	}
	return total
}

// ReplacementRecord is the birth/death event of one generation: the member at
// Victim was replaced with a clone of the member at Parent.
type ReplacementRecord struct {
	Generation int    `json:"generation"`
	Parent     int    `json:"parent"`
	Victim     int    `json:"victim"`
	ParentName string `json:"parent_name"`
	VictimName string `json:"victim_name"`
}

type GenerationDiagnostics struct {
	Generation         int     `json:"generation"`
	MeanScore          float64 `json:"mean_score"`
	StdDevScore        float64 `json:"stddev_score"`
	MinScore           float64 `json:"min_score"`
	MaxScore           float64 `json:"max_score"`
	SpeciesCount       int     `json:"species_count"`
	LargestSpeciesSize int     `json:"largest_species_size"`
	DominantSpecies    string  `json:"dominant_species"`
}

// RunRecord summarizes one Moran process run.
type RunRecord struct {
	VersionedRecord
	ID             string  `json:"id"`
	Population     string  `json:"population"`
	PopulationSize int     `json:"population_size"`
	Turns          int     `json:"turns"`
	Noise          float64 `json:"noise"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	Stochastic     bool    `json:"stochastic"`
	Generations    int     `json:"generations"`
	Winner         string  `json:"winner,omitempty"`
	Fixated        bool    `json:"fixated"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}
