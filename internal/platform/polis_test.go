package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"moran/internal/storage"
	"moran/internal/strategy"
)

func newTestPolis(t *testing.T) *Polis {
	t.Helper()
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init polis: %v", err)
	}
	return p
}

// slowRun keeps a noisy mixed population busy long enough to be stopped.
var slowRun = MoranRunConfig{
	Population: "random:30,tit_for_tat:30",
	Turns:      200,
	Noise:      0.1,
	Seed:       9,
	Workers:    1,
	CacheSize:  -1,
}

func waitForActiveRuns(t *testing.T, p *Polis, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for p.ActiveRuns() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d active runs, got %d", want, p.ActiveRuns())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForError(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run was not cancelled")
		return nil
	}
}

func TestPolisRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if _, err := p.RunMoran(context.Background(), MoranRunConfig{Population: "cooperator:1,defector:1", Turns: 5}); err == nil {
		t.Fatal("expected error before init")
	}
	if _, err := p.RunFixation(context.Background(), FixationConfig{
		MoranRunConfig: MoranRunConfig{Population: "cooperator:1,defector:1", Turns: 5},
		Repetitions:    1,
	}); err == nil {
		t.Fatal("expected fixation error before init")
	}
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestRunMoranPersistsHistories(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)

	result, err := p.RunMoran(ctx, MoranRunConfig{
		RunID:      "run-1",
		Population: "cooperator:2,defector:2",
		Turns:      10,
		Seed:       5,
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("run moran: %v", err)
	}
	if !result.Record.Fixated || result.Record.Winner == "" {
		t.Fatalf("expected fixated run, got %+v", result.Record)
	}
	if result.Record.PopulationSize != 4 {
		t.Fatalf("unexpected population size %d", result.Record.PopulationSize)
	}
	if len(result.Populations) != result.Record.Generations+1 {
		t.Fatalf("populations=%d generations=%d", len(result.Populations), result.Record.Generations)
	}
	if result.CacheMisses == 0 {
		t.Fatal("expected deterministic matches to go through the cache")
	}

	run, ok, err := p.Store().GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.Winner != result.Record.Winner {
		t.Fatalf("stored winner %q want %q", run.Winner, result.Record.Winner)
	}
	history, ok, err := p.Store().GetPopulationHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != len(result.Populations) {
		t.Fatalf("stored population history: len=%d ok=%t err=%v", len(history), ok, err)
	}
	replacements, ok, err := p.Store().GetReplacements(ctx, "run-1")
	if err != nil || !ok || len(replacements) != result.Record.Generations {
		t.Fatalf("stored replacements: len=%d ok=%t err=%v", len(replacements), ok, err)
	}
	if p.ActiveRuns() != 0 {
		t.Fatalf("expected run control to be released, got %d active", p.ActiveRuns())
	}
}

func TestRunMoranGenerationLimitIsNotFixated(t *testing.T) {
	p := newTestPolis(t)
	result, err := p.RunMoran(context.Background(), MoranRunConfig{
		Population:     "cooperator:3,defector:3",
		Turns:          5,
		Seed:           1,
		MaxGenerations: 1,
		CacheSize:      -1,
	})
	if err != nil {
		t.Fatalf("run moran: %v", err)
	}
	if result.Record.Fixated || result.Record.Winner != "" {
		t.Fatalf("expected unfixated run, got %+v", result.Record)
	}
	if result.Record.Generations != 1 {
		t.Fatalf("expected one generation, got %d", result.Record.Generations)
	}
	if result.Record.ID == "" {
		t.Fatal("expected generated run id")
	}
	if result.CacheHits != 0 || result.CacheMisses != 0 {
		t.Fatal("expected no cache stats with caching disabled")
	}
}

func TestRunMoranRejectsBadInput(t *testing.T) {
	p := newTestPolis(t)
	if _, err := p.RunMoran(context.Background(), MoranRunConfig{Population: "unknown:2", Turns: 5}); !errors.Is(err, strategy.ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	if _, err := p.RunMoran(context.Background(), MoranRunConfig{Population: "cooperator:2", Turns: 0}); err == nil {
		t.Fatal("expected invalid turns error")
	}
}

func TestRunFixationCountsWinners(t *testing.T) {
	p := newTestPolis(t)
	result, err := p.RunFixation(context.Background(), FixationConfig{
		MoranRunConfig: MoranRunConfig{
			Population: "cooperator:1,defector:1",
			Turns:      5,
			Seed:       3,
		},
		Repetitions: 6,
	})
	if err != nil {
		t.Fatalf("run fixation: %v", err)
	}
	if result.Completed != 6 || result.WinnerCounts["Defector"] != 6 {
		t.Fatalf("expected Defector to fixate every repetition, got %+v", result)
	}
	if result.ExperimentID == "" {
		t.Fatal("expected generated experiment id")
	}
	if p.ActiveRuns() != 0 {
		t.Fatalf("expected run control to be released, got %d active", p.ActiveRuns())
	}
	if result.MeanGenerations < 1 {
		t.Fatalf("expected at least one generation per repetition, got %v", result.MeanGenerations)
	}

	var calls []int
	if _, err := p.RunFixation(context.Background(), FixationConfig{
		MoranRunConfig: MoranRunConfig{Population: "cooperator:2,defector:2", Turns: 5, MaxGenerations: 1},
		Repetitions:    3,
		OnRepetition:   func(done int) { calls = append(calls, done) },
	}); err != nil {
		t.Fatalf("run capped fixation: %v", err)
	}
	if len(calls) != 3 || calls[2] != 3 {
		t.Fatalf("expected a progress call per repetition, got %v", calls)
	}

	if _, err := p.RunFixation(context.Background(), FixationConfig{Repetitions: 0}); err == nil {
		t.Fatal("expected repetitions error")
	}
}

func TestPolisResetWipesStore(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)
	if _, err := p.RunMoran(ctx, MoranRunConfig{RunID: "run-1", Population: "cooperator:1,defector:1", Turns: 5}); err != nil {
		t.Fatalf("run moran: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Started() {
		t.Fatal("expected polis to be started after reset")
	}
	runs, err := p.Store().ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
}

func TestStopRunUnknown(t *testing.T) {
	p := newTestPolis(t)
	if err := p.StopRun("missing"); err == nil {
		t.Fatal("expected error for inactive run")
	}
	if err := p.StopRun(""); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestStopRunCancelsActiveRun(t *testing.T) {
	p := newTestPolis(t)
	cfg := slowRun
	cfg.RunID = "slow-run"

	errs := make(chan error, 1)
	go func() {
		_, err := p.RunMoran(context.Background(), cfg)
		errs <- err
	}()

	waitForActiveRuns(t, p, 1)
	if _, err := p.RunMoran(context.Background(), cfg); err == nil {
		t.Fatal("expected duplicate run id to be rejected")
	}
	if err := p.StopRun("slow-run"); err != nil {
		t.Fatalf("stop run: %v", err)
	}
	if err := waitForError(t, errs); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitForActiveRuns(t, p, 0)

	ctx := context.Background()
	if _, ok, err := p.Store().GetRun(ctx, "slow-run"); err != nil || ok {
		t.Fatalf("expected nothing persisted for stopped run: ok=%t err=%v", ok, err)
	}
	if _, ok, err := p.Store().GetPopulationHistory(ctx, "slow-run"); err != nil || ok {
		t.Fatalf("expected no population history for stopped run: ok=%t err=%v", ok, err)
	}
}

func TestStopRunCancelsFixation(t *testing.T) {
	p := newTestPolis(t)
	cfg := FixationConfig{MoranRunConfig: slowRun, Repetitions: 50}
	cfg.RunID = "slow-fixation"

	errs := make(chan error, 1)
	go func() {
		_, err := p.RunFixation(context.Background(), cfg)
		errs <- err
	}()

	waitForActiveRuns(t, p, 1)
	if err := p.StopRun("slow-fixation"); err != nil {
		t.Fatalf("stop fixation: %v", err)
	}
	if err := waitForError(t, errs); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitForActiveRuns(t, p, 0)
}

func TestPolisResetCancelsActiveRuns(t *testing.T) {
	p := newTestPolis(t)

	errs := make(chan error, 2)
	go func() {
		_, err := p.RunMoran(context.Background(), slowRun)
		errs <- err
	}()
	go func() {
		_, err := p.RunFixation(context.Background(), FixationConfig{MoranRunConfig: slowRun, Repetitions: 50})
		errs <- err
	}()

	waitForActiveRuns(t, p, 2)
	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := waitForError(t, errs); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled after reset, got %v", err)
		}
	}
	waitForActiveRuns(t, p, 0)
	if !p.Started() {
		t.Fatal("expected polis to be started after reset")
	}
}

func TestStrategiesListsRegistry(t *testing.T) {
	p := newTestPolis(t)
	names := p.Strategies()
	if len(names) == 0 || names[0] != "alternator" {
		t.Fatalf("unexpected strategies %v", names)
	}
}
