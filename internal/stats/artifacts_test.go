package stats

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"moran/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			Population:     "cooperator:1,defector:1",
			PopulationSize: 2,
			Turns:          10,
			Seed:           1,
			Workers:        2,
		},
		Summary: RunSummary{Winner: "Defector", Fixated: true, Generations: 1},
		Populations: []model.Distribution{
			{"Cooperator": 1, "Defector": 1},
			{"Defector": 2},
		},
		ScoreHistory: [][]float64{{0, 5}},
		Replacements: []model.ReplacementRecord{{Generation: 1, Parent: 1, Victim: 0, ParentName: "Defector", VictimName: "Cooperator"}},
		Diagnostics:  []model.GenerationDiagnostics{{Generation: 1, MeanScore: 2.5, MaxScore: 5, SpeciesCount: 2}},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-123"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range runArtifactFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range runArtifactFiles {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(outDir, "run-123")
	if err != nil || !ok {
		t.Fatalf("read exported config: ok=%t err=%v", ok, err)
	}
	if cfg.Population != "cooperator:1,defector:1" || cfg.Turns != 10 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	summary, ok, err := ReadRunSummary(baseDir, "run-123")
	if err != nil || !ok || summary.Winner != "Defector" {
		t.Fatalf("unexpected summary %+v ok=%t err=%v", summary, ok, err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := ExportRunArtifacts(t.TempDir(), "missing", t.TempDir()); err == nil {
		t.Fatal("expected missing run directory error")
	}
}

func TestPopulationSeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-1")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	series, ok, err := ReadPopulationSeries(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read series: %v", err)
	}
	if !ok {
		t.Fatal("expected population series")
	}
	if !reflect.DeepEqual(series.Species, []string{"Cooperator", "Defector"}) {
		t.Fatalf("unexpected species %v", series.Species)
	}
	want := [][]int{{1, 1}, {0, 2}}
	if !reflect.DeepEqual(series.Counts, want) {
		t.Fatalf("unexpected counts %v want %v", series.Counts, want)
	}

	if _, ok, err := ReadPopulationSeries(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing series, ok=%t err=%v", ok, err)
	}
}

func TestRunIndexOrderingAndReplace(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", Winner: "Defector", CreatedAtUTC: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	got := make([]string, 0, len(index))
	for _, entry := range index {
		got = append(got, entry.RunID)
	}
	if !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("unexpected index order %v", got)
	}
	if index[2].Winner != "Defector" {
		t.Fatalf("expected replaced entry, got %+v", index[2])
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestListRunIndexEmpty(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %v", index)
	}
}
