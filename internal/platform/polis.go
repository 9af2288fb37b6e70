package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"moran/internal/evo"
	"moran/internal/game"
	"moran/internal/model"
	"moran/internal/storage"
	"moran/internal/strategy"
)

type Config struct {
	Store    storage.Store
	Registry *strategy.Registry
	Logger   *slog.Logger
}

// MoranRunConfig describes one Moran process run from a population spec such
// as "cooperator:3,defector:2".
type MoranRunConfig struct {
	RunID          string
	Population     string
	Turns          int
	Noise          float64
	Seed           int64
	Workers        int
	MaxGenerations int
	// CacheSize bounds the match cache. Negative disables caching, zero
	// selects the default size.
	CacheSize int
	Payoffs   *game.PayoffMatrix
}

type MoranRunResult struct {
	Record       model.RunRecord
	Populations  []model.Distribution
	ScoreHistory [][]float64
	Replacements []model.ReplacementRecord
	Diagnostics  []model.GenerationDiagnostics
	CacheHits    int64
	CacheMisses  int64
}

// FixationConfig repeats one MoranRunConfig. RunID names the experiment for
// StopRun and is generated when empty.
type FixationConfig struct {
	MoranRunConfig
	Repetitions int
	// OnRepetition, when set, is called after each repetition with the number
	// finished so far.
	OnRepetition func(done int)
}

type FixationResult struct {
	ExperimentID    string
	PopulationSize  int
	Repetitions     int
	Completed       int
	WinnerCounts    map[string]int
	MeanGenerations float64
	StdGenerations  float64
}

// Polis owns the store and strategy registry shared by every run.
type Polis struct {
	store    storage.Store
	registry *strategy.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	started bool
	runs    map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	registry := cfg.Registry
	if registry == nil {
		registry = strategy.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Polis{
		store:    cfg.Store,
		registry: registry,
		logger:   logger,
		runs:     make(map[string]context.CancelFunc),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Reset stops active runs and wipes the store when it supports it.
func (p *Polis) Reset(ctx context.Context) error {
	p.mu.Lock()
	for runID, cancel := range p.runs {
		cancel()
		delete(p.runs, runID)
	}
	p.started = false
	p.mu.Unlock()

	if err := p.Init(ctx); err != nil {
		return err
	}
	if resetter, ok := p.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) Store() storage.Store {
	return p.store
}

func (p *Polis) Strategies() []string {
	return p.registry.List()
}

// RunMoran plays a Moran process to fixation and persists its histories. A
// run that hits MaxGenerations is persisted as not fixated rather than
// treated as a failure.
func (p *Polis) RunMoran(ctx context.Context, cfg MoranRunConfig) (MoranRunResult, error) {
	if !p.Started() {
		return MoranRunResult{}, fmt.Errorf("polis is not initialized")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	ctx, err := p.registerRun(ctx, cfg.RunID)
	if err != nil {
		return MoranRunResult{}, err
	}
	defer p.unregisterRun(cfg.RunID)

	process, cache, err := p.newProcess(cfg)
	if err != nil {
		return MoranRunResult{}, err
	}

	fixated := true
	if err := process.Play(ctx); err != nil {
		if !errors.Is(err, evo.ErrGenerationLimit) {
			return MoranRunResult{}, fmt.Errorf("run %s: %w", cfg.RunID, err)
		}
		fixated = false
	}

	winner, _ := process.Winner()
	result := MoranRunResult{
		Record: model.RunRecord{
			VersionedRecord: model.VersionedRecord{
				SchemaVersion: storage.CurrentSchemaVersion,
				CodecVersion:  storage.CurrentCodecVersion,
			},
			ID:             cfg.RunID,
			Population:     cfg.Population,
			PopulationSize: process.Size(),
			Turns:          cfg.Turns,
			Noise:          cfg.Noise,
			Seed:           cfg.Seed,
			Workers:        cfg.Workers,
			Stochastic:     process.IsStochastic(),
			Generations:    process.Generation(),
			Winner:         winner,
			Fixated:        fixated,
			CreatedAtUTC:   time.Now().UTC().Format(time.RFC3339Nano),
		},
		Populations:  process.Populations(),
		ScoreHistory: process.ScoreHistory(),
		Replacements: process.Replacements(),
		Diagnostics:  process.Diagnostics(),
	}
	if cache != nil {
		result.CacheHits = cache.Hits()
		result.CacheMisses = cache.Misses()
	}

	if err := p.persist(ctx, result); err != nil {
		return MoranRunResult{}, err
	}
	p.logger.Info("moran run complete",
		"run_id", cfg.RunID,
		"winner", winner,
		"fixated", fixated,
		"generations", result.Record.Generations,
	)
	return result, nil
}

// RunFixation repeats the same initial population on one process, resetting
// between repetitions so each draws fresh randomness from the shared stream.
func (p *Polis) RunFixation(ctx context.Context, cfg FixationConfig) (FixationResult, error) {
	if !p.Started() {
		return FixationResult{}, fmt.Errorf("polis is not initialized")
	}
	if cfg.Repetitions <= 0 {
		return FixationResult{}, fmt.Errorf("repetitions must be > 0")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	ctx, err := p.registerRun(ctx, cfg.RunID)
	if err != nil {
		return FixationResult{}, err
	}
	defer p.unregisterRun(cfg.RunID)

	process, _, err := p.newProcess(cfg.MoranRunConfig)
	if err != nil {
		return FixationResult{}, err
	}

	result := FixationResult{
		ExperimentID:   cfg.RunID,
		PopulationSize: process.Size(),
		Repetitions:    cfg.Repetitions,
		WinnerCounts:   make(map[string]int),
	}
	generations := make([]float64, 0, cfg.Repetitions)
	for i := 0; i < cfg.Repetitions; i++ {
		if i > 0 {
			process.Reset()
		}
		if err := process.Play(ctx); err != nil {
			if !errors.Is(err, evo.ErrGenerationLimit) {
				return FixationResult{}, fmt.Errorf("experiment %s repetition %d: %w", cfg.RunID, i+1, err)
			}
		} else {
			winner, _ := process.Winner()
			result.WinnerCounts[winner]++
			result.Completed++
			generations = append(generations, float64(process.Generation()))
		}
		if cfg.OnRepetition != nil {
			cfg.OnRepetition(i + 1)
		}
	}
	if len(generations) > 0 {
		result.MeanGenerations = stat.Mean(generations, nil)
	}
	if len(generations) > 1 {
		result.StdGenerations = stat.StdDev(generations, nil)
	}
	return result, nil
}

func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.runs)
}

func (p *Polis) newProcess(cfg MoranRunConfig) (*evo.MoranProcess, *game.CachedMatcher, error) {
	population, err := p.registry.ParsePopulation(cfg.Population)
	if err != nil {
		return nil, nil, err
	}
	matcher, cache, err := buildMatcher(cfg)
	if err != nil {
		return nil, nil, err
	}
	process, err := evo.NewMoranProcess(population, evo.MoranConfig{
		Turns:          cfg.Turns,
		Noise:          cfg.Noise,
		Seed:           cfg.Seed,
		Matcher:        matcher,
		Workers:        cfg.Workers,
		MaxGenerations: cfg.MaxGenerations,
		Logger:         p.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return process, cache, nil
}

func buildMatcher(cfg MoranRunConfig) (evo.Matcher, *game.CachedMatcher, error) {
	payoffs := game.DefaultPayoffs()
	if cfg.Payoffs != nil {
		payoffs = *cfg.Payoffs
	}
	match, err := game.NewMatch(payoffs)
	if err != nil {
		return nil, nil, err
	}
	if cfg.CacheSize < 0 {
		return match, nil, nil
	}
	cache, err := game.NewCachedMatcher(match, cfg.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}

func (p *Polis) persist(ctx context.Context, result MoranRunResult) error {
	runID := result.Record.ID
	if err := p.store.SaveRun(ctx, result.Record); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := p.store.SavePopulationHistory(ctx, runID, result.Populations); err != nil {
		return fmt.Errorf("save population history %s: %w", runID, err)
	}
	if err := p.store.SaveScoreHistory(ctx, runID, result.ScoreHistory); err != nil {
		return fmt.Errorf("save score history %s: %w", runID, err)
	}
	if err := p.store.SaveReplacements(ctx, runID, result.Replacements); err != nil {
		return fmt.Errorf("save replacements %s: %w", runID, err)
	}
	if err := p.store.SaveDiagnostics(ctx, runID, result.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics %s: %w", runID, err)
	}
	return nil
}

func (p *Polis) registerRun(ctx context.Context, runID string) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.runs[runID]; exists {
		return nil, fmt.Errorf("run already active: %s", runID)
	}
	ctx, cancel := context.WithCancel(ctx)
	p.runs[runID] = cancel
	return ctx, nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	if cancel, ok := p.runs[runID]; ok {
		cancel()
		delete(p.runs, runID)
	}
	p.mu.Unlock()
}

