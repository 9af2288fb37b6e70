package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"moran/internal/model"
)

const (
	runIndexFile         = "run_index.json"
	populationSeriesFile = "population_series.csv"
)

var runArtifactFiles = []string{
	"config.json",
	"summary.json",
	"populations.json",
	"score_history.json",
	"replacements.json",
	"diagnostics.json",
	populationSeriesFile,
}

type RunConfig struct {
	RunID          string  `json:"run_id"`
	Population     string  `json:"population"`
	PopulationSize int     `json:"population_size"`
	Turns          int     `json:"turns"`
	Noise          float64 `json:"noise"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	MaxGenerations int     `json:"max_generations"`
	CacheSize      int     `json:"cache_size"`
}

type RunSummary struct {
	Winner      string `json:"winner,omitempty"`
	Fixated     bool   `json:"fixated"`
	Generations int    `json:"generations"`
	Stochastic  bool   `json:"stochastic"`
	CacheHits   int64  `json:"cache_hits"`
	CacheMisses int64  `json:"cache_misses"`
}

type RunArtifacts struct {
	Config       RunConfig                     `json:"config"`
	Summary      RunSummary                    `json:"summary"`
	Populations  []model.Distribution          `json:"populations"`
	ScoreHistory [][]float64                   `json:"score_history"`
	Replacements []model.ReplacementRecord     `json:"replacements"`
	Diagnostics  []model.GenerationDiagnostics `json:"diagnostics,omitempty"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	Population     string  `json:"population"`
	PopulationSize int     `json:"population_size"`
	Turns          int     `json:"turns"`
	Noise          float64 `json:"noise"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	Generations    int     `json:"generations"`
	Winner         string  `json:"winner,omitempty"`
	Fixated        bool    `json:"fixated"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// PopulationSeries is a generation by species count matrix.
type PopulationSeries struct {
	Species []string `json:"species"`
	Counts  [][]int  `json:"counts"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "populations.json"), artifacts.Populations); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "score_history.json"), artifacts.ScoreHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "replacements.json"), artifacts.Replacements); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := WritePopulationSeries(runDir, artifacts.Populations); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first. Entries sharing a
// timestamp keep the later-appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runArtifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, "summary.json"), &summary)
	return summary, ok, err
}

// WritePopulationSeries writes one row per recorded generation and one
// column per species seen anywhere in history.
func WritePopulationSeries(runDir string, history []model.Distribution) error {
	species := seriesSpecies(history)

	file, err := os.Create(filepath.Join(runDir, populationSeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(append([]string{"generation"}, species...)); err != nil {
		return err
	}
	for i, dist := range history {
		row := make([]string, 0, len(species)+1)
		row = append(row, strconv.Itoa(i))
		for _, name := range species {
			row = append(row, strconv.Itoa(dist[name]))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadPopulationSeries(baseDir, runID string) (PopulationSeries, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, populationSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return PopulationSeries{}, false, nil
		}
		return PopulationSeries{}, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return PopulationSeries{}, true, nil
		}
		return PopulationSeries{}, false, err
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != "generation" {
		return PopulationSeries{}, false, fmt.Errorf("population series header must start with generation")
	}

	series := PopulationSeries{Species: append([]string(nil), header[1:]...)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return PopulationSeries{}, false, err
		}
		counts := make([]int, 0, len(record)-1)
		for _, field := range record[1:] {
			n, err := strconv.Atoi(field)
			if err != nil {
				return PopulationSeries{}, false, fmt.Errorf("parse population count %q: %w", field, err)
			}
			counts = append(counts, n)
		}
		series.Counts = append(series.Counts, counts)
	}
	return series, true, nil
}

func seriesSpecies(history []model.Distribution) []string {
	seen := map[string]struct{}{}
	for _, dist := range history {
		for name := range dist {
			seen[name] = struct{}{}
		}
	}
	species := make([]string, 0, len(seen))
	for name := range seen {
		species = append(species, name)
	}
	sort.Strings(species)
	return species
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
