package moran

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"moran/internal/game"
	"moran/internal/model"
	"moran/internal/platform"
	"moran/internal/stats"
	"moran/internal/storage"
)

const (
	defaultRunsDir     = "runs"
	defaultExportsDir  = "exports"
	defaultRepetitions = 10
	defaultTurns       = 200
	defaultWorkers     = 4
	defaultListLimit   = 20
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store storage.Store
	polis *platform.Polis

	runsDir    string
	exportsDir string
}

// Payoffs is the prisoner's dilemma payoff matrix used for every match.
type Payoffs struct {
	Reward     float64 `json:"reward"`
	Sucker     float64 `json:"sucker"`
	Temptation float64 `json:"temptation"`
	Punishment float64 `json:"punishment"`
}

type RunRequest struct {
	// Population is a strategy spec such as "cooperator:3,defector:2".
	Population     string
	Turns          int
	Noise          float64
	Seed           int64
	Workers        int
	MaxGenerations int
	CacheSize      int
	DisableCache   bool
	Payoffs        *Payoffs
}

type RunSummary struct {
	RunID             string
	ArtifactsDir      string
	PopulationSize    int
	Generations       int
	Winner            string
	Fixated           bool
	Stochastic        bool
	FinalDistribution model.Distribution
	CacheHits         int64
	CacheMisses       int64
}

// FixationRequest repeats one run request. Repetitions <= 0 selects
// defaultRepetitions; platform.Polis itself rejects such values.
type FixationRequest struct {
	RunRequest
	Repetitions int
	// Progress receives the number of finished repetitions and the total.
	Progress func(done, total int)
}

// FixationSummary reports winners over all repetitions. FixationFrequency
// divides by Repetitions, not Completed, so repetitions stopped by
// MaxGenerations count as having no winner and frequencies may sum below 1.
type FixationSummary struct {
	ExperimentID      string             `json:"experiment_id"`
	PopulationSize    int                `json:"population_size"`
	Repetitions       int                `json:"repetitions"`
	Completed         int                `json:"completed"`
	WinnerCounts      map[string]int     `json:"winner_counts"`
	FixationFrequency map[string]float64 `json:"fixation_frequency"`
	MeanGenerations   float64            `json:"mean_generations"`
	StdGenerations    float64            `json:"std_generations"`
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Population     string
	PopulationSize int
	Turns          int
	Noise          float64
	Seed           int64
	Generations    int
	Winner         string
	Fixated        bool
}

// HistoryRequest selects a run by id or the most recent run.
type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// RunDetails is a run as recorded in its artifacts directory.
type RunDetails struct {
	RunID   string                 `json:"run_id"`
	Config  stats.RunConfig        `json:"config"`
	Summary stats.RunSummary       `json:"summary"`
	Series  stats.PopulationSeries `json:"population_series"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = storage.DefaultPath(storeKind)
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		polis:      platform.NewPolis(platform.Config{Store: store, Logger: opts.Logger}),
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.polis.Init(ctx)
}

// Reset wipes persisted runs from the store. Artifact directories are left in
// place.
func (c *Client) Reset(ctx context.Context) error {
	return c.polis.Reset(ctx)
}

func (c *Client) Strategies() []string {
	return c.polis.Strategies()
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	runCfg, err := runConfigFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	runCfg.RunID = uuid.NewString()
	result, err := c.polis.RunMoran(ctx, runCfg)
	if err != nil {
		return RunSummary{}, err
	}
	record := result.Record

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          record.ID,
			Population:     runCfg.Population,
			PopulationSize: record.PopulationSize,
			Turns:          runCfg.Turns,
			Noise:          runCfg.Noise,
			Seed:           runCfg.Seed,
			Workers:        runCfg.Workers,
			MaxGenerations: runCfg.MaxGenerations,
			CacheSize:      runCfg.CacheSize,
		},
		Summary: stats.RunSummary{
			Winner:      record.Winner,
			Fixated:     record.Fixated,
			Generations: record.Generations,
			Stochastic:  record.Stochastic,
			CacheHits:   result.CacheHits,
			CacheMisses: result.CacheMisses,
		},
		Populations:  result.Populations,
		ScoreHistory: result.ScoreHistory,
		Replacements: result.Replacements,
		Diagnostics:  result.Diagnostics,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          record.ID,
		Population:     record.Population,
		PopulationSize: record.PopulationSize,
		Turns:          record.Turns,
		Noise:          record.Noise,
		Seed:           record.Seed,
		Workers:        record.Workers,
		Generations:    record.Generations,
		Winner:         record.Winner,
		Fixated:        record.Fixated,
		CreatedAtUTC:   record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}

	var final model.Distribution
	if len(result.Populations) > 0 {
		final = result.Populations[len(result.Populations)-1]
	}
	return RunSummary{
		RunID:             record.ID,
		ArtifactsDir:      filepath.Clean(runDir),
		PopulationSize:    record.PopulationSize,
		Generations:       record.Generations,
		Winner:            record.Winner,
		Fixated:           record.Fixated,
		Stochastic:        record.Stochastic,
		FinalDistribution: final,
		CacheHits:         result.CacheHits,
		CacheMisses:       result.CacheMisses,
	}, nil
}

// Fixation replays one initial population Repetitions times and reports how
// often each strategy takes over.
func (c *Client) Fixation(ctx context.Context, req FixationRequest) (FixationSummary, error) {
	if req.Repetitions <= 0 {
		req.Repetitions = defaultRepetitions
	}
	runCfg, err := runConfigFromRequest(req.RunRequest)
	if err != nil {
		return FixationSummary{}, err
	}
	runCfg.RunID = uuid.NewString()
	if err := c.Init(ctx); err != nil {
		return FixationSummary{}, err
	}

	startedAt := time.Now().UTC().Format(time.RFC3339Nano)
	fixationCfg := platform.FixationConfig{
		MoranRunConfig: runCfg,
		Repetitions:    req.Repetitions,
	}
	if req.Progress != nil {
		total := req.Repetitions
		fixationCfg.OnRepetition = func(done int) { req.Progress(done, total) }
	}
	result, err := c.polis.RunFixation(ctx, fixationCfg)
	if err != nil {
		return FixationSummary{}, err
	}

	frequency := make(map[string]float64, len(result.WinnerCounts))
	for name, count := range result.WinnerCounts {
		frequency[name] = float64(count) / float64(result.Repetitions)
	}
	summary := FixationSummary{
		ExperimentID:      result.ExperimentID,
		PopulationSize:    result.PopulationSize,
		Repetitions:       result.Repetitions,
		Completed:         result.Completed,
		WinnerCounts:      result.WinnerCounts,
		FixationFrequency: frequency,
		MeanGenerations:   result.MeanGenerations,
		StdGenerations:    result.StdGenerations,
	}
	if err := stats.WriteFixationExperiment(c.runsDir, stats.FixationExperiment{
		ID:                summary.ExperimentID,
		Population:        runCfg.Population,
		PopulationSize:    summary.PopulationSize,
		Turns:             runCfg.Turns,
		Noise:             runCfg.Noise,
		Seed:              runCfg.Seed,
		Repetitions:       summary.Repetitions,
		Completed:         summary.Completed,
		WinnerCounts:      summary.WinnerCounts,
		FixationFrequency: summary.FixationFrequency,
		MeanGenerations:   summary.MeanGenerations,
		StdGenerations:    summary.StdGenerations,
		StartedAtUTC:      startedAt,
		CompletedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return FixationSummary{}, err
	}
	return summary, nil
}

func (c *Client) Fixations(_ context.Context, limit int) ([]stats.FixationExperiment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	exps, err := stats.ListFixationExperiments(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(exps) > limit {
		exps = exps[:limit]
	}
	return exps, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Population:     e.Population,
			PopulationSize: e.PopulationSize,
			Turns:          e.Turns,
			Noise:          e.Noise,
			Seed:           e.Seed,
			Generations:    e.Generations,
			Winner:         e.Winner,
			Fixated:        e.Fixated,
		})
	}
	return out, nil
}

func (c *Client) Populations(ctx context.Context, req HistoryRequest) ([]model.Distribution, error) {
	runID, err := c.resolveHistoryRun(ctx, req, "population history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetPopulationHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("population history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return history, nil
}

func (c *Client) Scores(ctx context.Context, req HistoryRequest) ([][]float64, error) {
	runID, err := c.resolveHistoryRun(ctx, req, "score history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetScoreHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("score history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return history, nil
}

func (c *Client) Replacements(ctx context.Context, req HistoryRequest) ([]model.ReplacementRecord, error) {
	runID, err := c.resolveHistoryRun(ctx, req, "replacements")
	if err != nil {
		return nil, err
	}
	records, ok, err := c.store.GetReplacements(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("replacements not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	return records, nil
}

func (c *Client) Diagnostics(ctx context.Context, req HistoryRequest) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveHistoryRun(ctx, req, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return diagnostics, nil
}

// Show reads a run back from its artifacts rather than the store, so it works
// for runs recorded by a memory-backed process.
func (c *Client) Show(ctx context.Context, req HistoryRequest) (RunDetails, error) {
	runID, err := c.resolveHistoryRun(ctx, req, "show")
	if err != nil {
		return RunDetails{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if !ok {
		return RunDetails{}, fmt.Errorf("artifacts not found for run id: %s", runID)
	}
	summary, _, err := stats.ReadRunSummary(c.runsDir, runID)
	if err != nil {
		return RunDetails{}, err
	}
	series, _, err := stats.ReadPopulationSeries(c.runsDir, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if req.Limit > 0 && len(series.Counts) > req.Limit {
		series.Counts = series.Counts[:req.Limit]
	}
	return RunDetails{RunID: runID, Config: cfg, Summary: summary, Series: series}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return ExportSummary{}, err
		}
		runID = latest
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveHistoryRun(ctx context.Context, req HistoryRequest, what string) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return "", err
		}
		runID = latest
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	return runID, nil
}

func (c *Client) latestRunID() (string, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func runConfigFromRequest(req RunRequest) (platform.MoranRunConfig, error) {
	if req.Population == "" {
		return platform.MoranRunConfig{}, errors.New("population is required")
	}
	if req.Turns <= 0 {
		req.Turns = defaultTurns
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkers
	}
	if req.MaxGenerations < 0 {
		return platform.MoranRunConfig{}, errors.New("max generations must be >= 0")
	}
	cacheSize := req.CacheSize
	if req.DisableCache {
		cacheSize = -1
	}

	cfg := platform.MoranRunConfig{
		Population:     req.Population,
		Turns:          req.Turns,
		Noise:          req.Noise,
		Seed:           req.Seed,
		Workers:        req.Workers,
		MaxGenerations: req.MaxGenerations,
		CacheSize:      cacheSize,
	}
	if req.Payoffs != nil {
		payoffs := game.PayoffMatrix{
			Reward:     req.Payoffs.Reward,
			Sucker:     req.Payoffs.Sucker,
			Temptation: req.Payoffs.Temptation,
			Punishment: req.Payoffs.Punishment,
		}
		if err := payoffs.Validate(); err != nil {
			return platform.MoranRunConfig{}, err
		}
		cfg.Payoffs = &payoffs
	}
	return cfg, nil
}

// SortedWinners returns winner names ordered by descending count, then name.
func (s FixationSummary) SortedWinners() []string {
	names := make([]string, 0, len(s.WinnerCounts))
	for name := range s.WinnerCounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.WinnerCounts[names[i]] == s.WinnerCounts[names[j]] {
			return names[i] < names[j]
		}
		return s.WinnerCounts[names[i]] > s.WinnerCounts[names[j]]
	})
	return names
}
