package evo

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync/atomic"
	"testing"

	"moran/internal/agent"
	"moran/internal/game"
	"moran/internal/model"
	"moran/internal/strategy"
)

type countingMatcher struct {
	next  Matcher
	calls atomic.Int64
}

func (c *countingMatcher) Play(ctx context.Context, a, b agent.Agent, turns int, noise float64, rng *rand.Rand) ([]game.Outcome, error) {
	c.calls.Add(1)
	return c.next.Play(ctx, a, b, turns, noise, rng)
}

type failingMatcher struct {
	err error
}

func (f failingMatcher) Play(context.Context, agent.Agent, agent.Agent, int, float64, *rand.Rand) ([]game.Outcome, error) {
	return nil, f.err
}

type zeroMatcher struct{}

func (zeroMatcher) Play(_ context.Context, _, _ agent.Agent, turns int, _ float64, _ *rand.Rand) ([]game.Outcome, error) {
	return make([]game.Outcome, turns), nil
}

type shortMatcher struct{}

func (shortMatcher) Play(context.Context, agent.Agent, agent.Agent, int, float64, *rand.Rand) ([]game.Outcome, error) {
	return []game.Outcome{{A: 1, B: 1}}, nil
}

func newTestMatch(t *testing.T) *game.Match {
	t.Helper()
	m, err := game.NewMatch(game.DefaultPayoffs())
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	return m
}

func mustPopulation(t *testing.T, spec string) []agent.Agent {
	t.Helper()
	population, err := strategy.Default.ParsePopulation(spec)
	if err != nil {
		t.Fatalf("parse population %q: %v", spec, err)
	}
	return population
}

func mustProcess(t *testing.T, population []agent.Agent, cfg MoranConfig) *MoranProcess {
	t.Helper()
	p, err := NewMoranProcess(population, cfg)
	if err != nil {
		t.Fatalf("new moran process: %v", err)
	}
	return p
}

func TestNewMoranProcessValidation(t *testing.T) {
	population := mustPopulation(t, "cooperator:1,defector:1")
	cases := []struct {
		name       string
		population []agent.Agent
		cfg        MoranConfig
	}{
		{"empty population", nil, MoranConfig{Turns: 5}},
		{"nil member", []agent.Agent{strategy.Cooperator{}, nil}, MoranConfig{Turns: 5}},
		{"zero turns", population, MoranConfig{Turns: 0}},
		{"negative noise", population, MoranConfig{Turns: 5, Noise: -0.1}},
		{"noise above one", population, MoranConfig{Turns: 5, Noise: 1.5}},
		{"negative workers", population, MoranConfig{Turns: 5, Workers: -1}},
		{"negative generation cap", population, MoranConfig{Turns: 5, MaxGenerations: -1}},
	}
	for _, tc := range cases {
		if _, err := NewMoranProcess(tc.population, tc.cfg); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: expected ErrInvalidConfiguration, got %v", tc.name, err)
		}
	}
}

func TestMonomorphicPopulationTerminatesWithoutPlaying(t *testing.T) {
	matcher := &countingMatcher{next: newTestMatch(t)}
	p := mustProcess(t, mustPopulation(t, "cooperator:4"), MoranConfig{Turns: 5, Matcher: matcher})

	result, err := p.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if result != Terminated {
		t.Fatalf("expected terminated, got %s", result)
	}
	if got := matcher.calls.Load(); got != 0 {
		t.Fatalf("expected no matches, got %d", got)
	}
	winner, ok := p.Winner()
	if !ok || winner != "Cooperator" {
		t.Fatalf("unexpected winner %q %t", winner, ok)
	}
	if p.Len() != 1 || p.Generation() != 0 || len(p.ScoreHistory()) != 0 {
		t.Fatalf("expected untouched history, len=%d gen=%d", p.Len(), p.Generation())
	}

	if _, err := p.Step(context.Background()); !errors.Is(err, ErrAlreadyTerminated) {
		t.Fatalf("expected ErrAlreadyTerminated, got %v", err)
	}
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("play on terminated process: %v", err)
	}
}

func TestStepPlaysEveryPairOnce(t *testing.T) {
	matcher := &countingMatcher{next: newTestMatch(t)}
	population := []agent.Agent{strategy.Cooperator{}, strategy.Defector{}, strategy.Cooperator{}}
	p := mustProcess(t, population, MoranConfig{Turns: 4, Seed: 3, Matcher: matcher})

	result, err := p.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if result != Continued {
		t.Fatalf("expected continued, got %s", result)
	}
	if got := matcher.calls.Load(); got != 3 {
		t.Fatalf("expected 3 matches, got %d", got)
	}
	history := p.ScoreHistory()
	if len(history) != 1 {
		t.Fatalf("expected one score vector, got %d", len(history))
	}
	want := []float64{3, 10, 3}
	if !reflect.DeepEqual(history[0], want) {
		t.Fatalf("unexpected scores %v want %v", history[0], want)
	}
	if p.Len() != 2 || p.Generation() != 1 {
		t.Fatalf("unexpected len=%d generation=%d", p.Len(), p.Generation())
	}
	rec := p.Replacements()[0]
	if rec.Generation != 1 || rec.Parent < 0 || rec.Parent > 2 || rec.Victim < 0 || rec.Victim > 2 {
		t.Fatalf("unexpected replacement %+v", rec)
	}
	if len(p.Diagnostics()) != 1 || p.Diagnostics()[0].SpeciesCount != 2 {
		t.Fatalf("unexpected diagnostics %+v", p.Diagnostics())
	}
}

func TestPlayKeepsHistoryInvariants(t *testing.T) {
	population := mustPopulation(t, "cooperator:2,defector:2,tit_for_tat:1")
	p := mustProcess(t, population, MoranConfig{Turns: 10, Seed: 7})
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}

	populations := p.Populations()
	if len(populations) != len(p.ScoreHistory())+1 || len(populations) != len(p.Replacements())+1 {
		t.Fatalf("history lengths diverged: populations=%d scores=%d replacements=%d",
			len(populations), len(p.ScoreHistory()), len(p.Replacements()))
	}
	for i, dist := range populations {
		if dist.Total() != 5 {
			t.Fatalf("generation %d: population size %d", i, dist.Total())
		}
	}
	for i, scores := range p.ScoreHistory() {
		if len(scores) != 5 {
			t.Fatalf("generation %d: %d scores", i, len(scores))
		}
	}
	winner, ok := p.Winner()
	if !ok {
		t.Fatal("expected a winner after play")
	}
	last := populations[len(populations)-1]
	if len(last) != 1 || last[winner] != 5 {
		t.Fatalf("final distribution %v does not match winner %s", last, winner)
	}
	if p.Len() != len(populations) || p.Generation() != len(populations)-1 {
		t.Fatalf("unexpected len=%d generation=%d", p.Len(), p.Generation())
	}
}

func TestDefectorsTakeOverCooperators(t *testing.T) {
	p := mustProcess(t, []agent.Agent{strategy.Cooperator{}, strategy.Defector{}}, MoranConfig{
		Turns:          5,
		Seed:           11,
		MaxGenerations: 1000,
	})
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if winner, _ := p.Winner(); winner != "Defector" {
		t.Fatalf("expected Defector to fixate, got %q", winner)
	}
	for _, rec := range p.Replacements() {
		if rec.ParentName != "Defector" {
			t.Fatalf("cooperator scored zero but reproduced: %+v", rec)
		}
	}
}

func TestResetWithSeedReplaysRun(t *testing.T) {
	population := mustPopulation(t, "random:2,tit_for_tat:2,defector:1")
	p := mustProcess(t, population, MoranConfig{Turns: 8, Noise: 0.05, Seed: 3, MaxGenerations: 10000})
	if !p.IsStochastic() {
		t.Fatal("expected noisy process to be stochastic")
	}

	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("first play: %v", err)
	}
	firstPopulations := p.Populations()
	firstScores := p.ScoreHistory()
	firstReplacements := p.Replacements()
	firstWinner, _ := p.Winner()

	p.ResetWithSeed(3)
	if p.Len() != 1 || p.Generation() != 0 {
		t.Fatalf("expected cleared history after reset, len=%d", p.Len())
	}
	if _, ok := p.Winner(); ok {
		t.Fatal("expected winner cleared after reset")
	}
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(firstPopulations, p.Populations()) {
		t.Fatal("population history differs on replay")
	}
	if !reflect.DeepEqual(firstScores, p.ScoreHistory()) {
		t.Fatal("score history differs on replay")
	}
	if !reflect.DeepEqual(firstReplacements, p.Replacements()) {
		t.Fatal("replacements differ on replay")
	}
	if winner, _ := p.Winner(); winner != firstWinner {
		t.Fatalf("winner differs on replay: %s vs %s", winner, firstWinner)
	}
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	run := func(workers int) *MoranProcess {
		population := mustPopulation(t, "random:2,generous_tit_for_tat:2,grudger:2,defector:2")
		p := mustProcess(t, population, MoranConfig{
			Turns:          6,
			Noise:          0.1,
			Seed:           21,
			Workers:        workers,
			MaxGenerations: 10000,
		})
		if err := p.Play(context.Background()); err != nil {
			t.Fatalf("play with %d workers: %v", workers, err)
		}
		return p
	}

	sequential := run(1)
	parallel := run(4)
	if !reflect.DeepEqual(sequential.ScoreHistory(), parallel.ScoreHistory()) {
		t.Fatal("score history depends on worker count")
	}
	if !reflect.DeepEqual(sequential.Replacements(), parallel.Replacements()) {
		t.Fatal("replacements depend on worker count")
	}
}

func TestStepLeavesStateUntouchedOnError(t *testing.T) {
	errBoom := errors.New("boom")
	cases := []struct {
		name    string
		matcher Matcher
		check   func(error) bool
	}{
		{"matcher error", failingMatcher{err: errBoom}, func(err error) bool { return errors.Is(err, errBoom) }},
		{"all zero scores", zeroMatcher{}, func(err error) bool { return errors.Is(err, ErrInvalidDistribution) }},
		{"short match", shortMatcher{}, func(err error) bool { return err != nil }},
	}
	for _, tc := range cases {
		population := []agent.Agent{strategy.Cooperator{}, strategy.Defector{}}
		p := mustProcess(t, population, MoranConfig{Turns: 5, Seed: 1, Matcher: tc.matcher})
		if _, err := p.Step(context.Background()); !tc.check(err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if p.Len() != 1 || p.Generation() != 0 || len(p.ScoreHistory()) != 0 || len(p.Diagnostics()) != 0 {
			t.Fatalf("%s: state mutated on error", tc.name)
		}
		if _, ok := p.Winner(); ok {
			t.Fatalf("%s: winner set on error", tc.name)
		}
		names := agent.Names(p.Population())
		if names[0] != "Cooperator" || names[1] != "Defector" {
			t.Fatalf("%s: population mutated on error: %v", tc.name, names)
		}
	}
}

func TestStepHonoursCancelledContext(t *testing.T) {
	p := mustProcess(t, mustPopulation(t, "cooperator:1,defector:1"), MoranConfig{Turns: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.Len() != 1 {
		t.Fatal("expected no generation after cancellation")
	}
}

func TestPlayStopsAtGenerationLimit(t *testing.T) {
	p := mustProcess(t, mustPopulation(t, "cooperator:2,defector:2"), MoranConfig{Turns: 5, Seed: 2, MaxGenerations: 1})
	if err := p.Play(context.Background()); !errors.Is(err, ErrGenerationLimit) {
		t.Fatalf("expected ErrGenerationLimit, got %v", err)
	}
	if p.Generation() != 1 {
		t.Fatalf("expected exactly one generation, got %d", p.Generation())
	}
}

func TestResetRestoresInitialInstances(t *testing.T) {
	initial := []agent.Agent{&strategy.Grudger{}, strategy.Defector{}, &strategy.Grudger{}}
	p := mustProcess(t, initial, MoranConfig{Turns: 5, Seed: 4, MaxGenerations: 1000})
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	p.Reset()
	current := p.Population()
	for i := range initial {
		if current[i] != initial[i] {
			t.Fatalf("slot %d: expected original instance after reset", i)
		}
	}
	want := model.Distribution{"Grudger": 2, "Defector": 1}
	if got := p.Populations(); len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("unexpected populations after reset: %v", got)
	}
}

func TestIsStochastic(t *testing.T) {
	if p := mustProcess(t, mustPopulation(t, "cooperator:1,defector:1"), MoranConfig{Turns: 5}); p.IsStochastic() {
		t.Fatal("deterministic strategies without noise must not be stochastic")
	}
	if p := mustProcess(t, mustPopulation(t, "cooperator:1,random:1"), MoranConfig{Turns: 5}); !p.IsStochastic() {
		t.Fatal("expected stochastic population")
	}
	if p := mustProcess(t, mustPopulation(t, "cooperator:1,defector:1"), MoranConfig{Turns: 5, Noise: 0.2}); !p.IsStochastic() {
		t.Fatal("expected noise to make the process stochastic")
	}
}

func TestHistoryViewsAreCopies(t *testing.T) {
	p := mustProcess(t, mustPopulation(t, "cooperator:1,defector:1"), MoranConfig{Turns: 5, Seed: 1})
	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	p.Populations()[0]["Cooperator"] = 99
	p.ScoreHistory()[0][0] = 99
	if p.Populations()[0]["Cooperator"] != 1 {
		t.Fatal("population view aliases internal history")
	}
	if p.ScoreHistory()[0][0] == 99 {
		t.Fatal("score view aliases internal history")
	}
}

func TestSummarizeGeneration(t *testing.T) {
	d := SummarizeGeneration(4, []float64{3, 10, 3}, model.Distribution{"Cooperator": 2, "Defector": 1})
	if d.Generation != 4 || d.SpeciesCount != 2 {
		t.Fatalf("unexpected diagnostics %+v", d)
	}
	if d.MinScore != 3 || d.MaxScore != 10 {
		t.Fatalf("unexpected min/max %v %v", d.MinScore, d.MaxScore)
	}
	if d.MeanScore < 5.33 || d.MeanScore > 5.34 {
		t.Fatalf("unexpected mean %v", d.MeanScore)
	}
	if d.StdDevScore <= 0 {
		t.Fatalf("expected positive stddev, got %v", d.StdDevScore)
	}
	if d.DominantSpecies != "Cooperator" || d.LargestSpeciesSize != 2 {
		t.Fatalf("unexpected dominant species %s/%d", d.DominantSpecies, d.LargestSpeciesSize)
	}
}
