package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const fixationExperimentsDir = "fixation"

// FixationExperiment records repeated runs from one initial population.
type FixationExperiment struct {
	ID                string             `json:"id"`
	Population        string             `json:"population"`
	PopulationSize    int                `json:"population_size"`
	Turns             int                `json:"turns"`
	Noise             float64            `json:"noise"`
	Seed              int64              `json:"seed"`
	Repetitions       int                `json:"repetitions"`
	Completed         int                `json:"completed"`
	WinnerCounts      map[string]int     `json:"winner_counts"`
	FixationFrequency map[string]float64 `json:"fixation_frequency"`
	MeanGenerations   float64            `json:"mean_generations"`
	StdGenerations    float64            `json:"std_generations"`
	StartedAtUTC      string             `json:"started_at_utc,omitempty"`
	CompletedAtUTC    string             `json:"completed_at_utc,omitempty"`
}

func WriteFixationExperiment(baseDir string, exp FixationExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := fixationExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadFixationExperiment(baseDir, id string) (FixationExperiment, bool, error) {
	if id == "" {
		return FixationExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	var exp FixationExperiment
	ok, err := readJSON(fixationExperimentPath(baseDir, id), &exp)
	return exp, ok, err
}

// ListFixationExperiments returns experiments newest first; experiments
// without a start time sort last.
func ListFixationExperiments(baseDir string) ([]FixationExperiment, error) {
	root := filepath.Join(baseDir, fixationExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []FixationExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]FixationExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadFixationExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func fixationExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, fixationExperimentsDir, id, "experiment.json")
}
