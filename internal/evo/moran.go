package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"moran/internal/agent"
	"moran/internal/game"
	"moran/internal/model"
)

var tracer = otel.Tracer("moran/internal/evo")

type StepResult int

const (
	// Continued means a birth/death event happened and the population may
	// still be mixed.
	Continued StepResult = iota
	// Terminated means the population was already monomorphic; no match was
	// played and the winner is set.
	Terminated
)

func (r StepResult) String() string {
	switch r {
	case Continued:
		return "continued"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("step_result(%d)", int(r))
	}
}

type MoranConfig struct {
	Turns int
	Noise float64
	// Seed seeds the process stream when Rand is nil.
	Seed int64
	Rand *rand.Rand
	// Matcher defaults to a cached match over the default payoff matrix.
	Matcher Matcher
	// Workers bounds concurrent matches per round robin. Zero means one.
	Workers int
	// MaxGenerations caps Play. Zero means unbounded.
	MaxGenerations int
	Logger         *slog.Logger
}

// MoranProcess evolves a fixed-size population by round-robin play, fitness
// proportionate reproduction and uniform random death until one type remains.
type MoranProcess struct {
	cfg    MoranConfig
	rng    *rand.Rand
	logger *slog.Logger

	initial    []agent.Agent
	population []agent.Agent

	populations  []model.Distribution
	scoreHistory [][]float64
	replacements []model.ReplacementRecord
	diagnostics  []model.GenerationDiagnostics

	winner    string
	hasWinner bool
}

func NewMoranProcess(initial []agent.Agent, cfg MoranConfig) (*MoranProcess, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("%w: population is empty", ErrInvalidConfiguration)
	}
	for i, a := range initial {
		if a == nil {
			return nil, fmt.Errorf("%w: population member %d is nil", ErrInvalidConfiguration, i)
		}
	}
	if cfg.Turns <= 0 {
		return nil, fmt.Errorf("%w: turns must be > 0", ErrInvalidConfiguration)
	}
	if math.IsNaN(cfg.Noise) || cfg.Noise < 0 || cfg.Noise > 1 {
		return nil, fmt.Errorf("%w: noise must be in [0, 1]", ErrInvalidConfiguration)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfiguration)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.MaxGenerations < 0 {
		return nil, fmt.Errorf("%w: max generations must be >= 0", ErrInvalidConfiguration)
	}
	if cfg.Matcher == nil {
		match, err := game.NewMatch(game.DefaultPayoffs())
		if err != nil {
			return nil, err
		}
		cached, err := game.NewCachedMatcher(match, game.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		cfg.Matcher = cached
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}

	m := &MoranProcess{
		cfg:     cfg,
		rng:     rng,
		logger:  cfg.Logger.With("component", "moran"),
		initial: append([]agent.Agent(nil), initial...),
	}
	m.Reset()
	return m, nil
}

// IsStochastic reports whether matches in the current population draw
// randomness.
func (m *MoranProcess) IsStochastic() bool {
	if m.cfg.Noise != 0 {
		return true
	}
	for _, a := range m.population {
		if a.Stochastic() {
			return true
		}
	}
	return false
}

// Step checks for fixation and otherwise plays one generation. Process state
// is left untouched when an error is returned.
func (m *MoranProcess) Step(ctx context.Context) (StepResult, error) {
	if m.hasWinner {
		return Terminated, ErrAlreadyTerminated
	}
	if err := ctx.Err(); err != nil {
		return Continued, err
	}

	generation := len(m.replacements) + 1
	ctx, span := tracer.Start(ctx, "moran.generation", trace.WithAttributes(
		attribute.Int("moran.generation", generation),
		attribute.Int("moran.population_size", len(m.population)),
	))
	defer span.End()

	if agent.DistinctTypes(m.population) == 1 {
		m.winner = m.population[0].Name()
		m.hasWinner = true
		span.SetAttributes(attribute.String("moran.winner", m.winner))
		m.logger.Info("population fixated", "winner", m.winner, "generations", len(m.replacements))
		return Terminated, nil
	}

	scores, err := m.playRoundRobin(ctx, m.population)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Continued, err
	}
	parent, err := FitnessProportionateSelection(m.rng, scores)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Continued, err
	}
	victim := m.rng.Intn(len(m.population))

	record := model.ReplacementRecord{
		Generation: generation,
		Parent:     parent,
		Victim:     victim,
		ParentName: m.population[parent].Name(),
		VictimName: m.population[victim].Name(),
	}
	played := m.populations[len(m.populations)-1]
	m.population[victim] = m.population[parent].Clone()

	m.scoreHistory = append(m.scoreHistory, scores)
	m.replacements = append(m.replacements, record)
	m.populations = append(m.populations, distributionOf(m.population))
	diag := SummarizeGeneration(generation, scores, played)
	m.diagnostics = append(m.diagnostics, diag)

	m.logger.Debug("generation complete",
		"generation", generation,
		"parent", record.ParentName,
		"victim", record.VictimName,
		"mean_score", diag.MeanScore,
		"species", diag.SpeciesCount,
	)
	return Continued, nil
}

// Play steps until fixation. With MaxGenerations set it fails with
// ErrGenerationLimit once the cap is reached on a mixed population. Calling
// Play on a terminated process is a no-op.
func (m *MoranProcess) Play(ctx context.Context) error {
	if m.hasWinner {
		return nil
	}
	ctx, span := tracer.Start(ctx, "moran.play", trace.WithAttributes(
		attribute.Int("moran.population_size", len(m.population)),
		attribute.Int("moran.turns", m.cfg.Turns),
		attribute.Float64("moran.noise", m.cfg.Noise),
	))
	defer span.End()

	for {
		if m.cfg.MaxGenerations > 0 && len(m.replacements) >= m.cfg.MaxGenerations && agent.DistinctTypes(m.population) > 1 {
			err := fmt.Errorf("%w: %d", ErrGenerationLimit, m.cfg.MaxGenerations)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		result, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if result == Terminated {
			span.SetAttributes(
				attribute.String("moran.winner", m.winner),
				attribute.Int("moran.generations", len(m.replacements)),
			)
			return nil
		}
	}
}

// Reset restores the initial population instances and clears all history.
// The random stream is not rewound; use ResetWithSeed to replay a run.
func (m *MoranProcess) Reset() {
	m.population = append([]agent.Agent(nil), m.initial...)
	for _, a := range m.population {
		a.Reset()
	}
	m.populations = []model.Distribution{distributionOf(m.population)}
	m.scoreHistory = nil
	m.replacements = nil
	m.diagnostics = nil
	m.winner = ""
	m.hasWinner = false
}

func (m *MoranProcess) ResetWithSeed(seed int64) {
	m.Reset()
	m.rng = rand.New(rand.NewSource(seed))
}

// Generation is the number of birth/death events so far.
func (m *MoranProcess) Generation() int {
	return len(m.replacements)
}

// Len is the number of recorded population snapshots, one more than
// Generation.
func (m *MoranProcess) Len() int {
	return len(m.populations)
}

func (m *MoranProcess) Populations() []model.Distribution {
	out := make([]model.Distribution, len(m.populations))
	for i, d := range m.populations {
		out[i] = d.Clone()
	}
	return out
}

func (m *MoranProcess) ScoreHistory() [][]float64 {
	out := make([][]float64, len(m.scoreHistory))
	for i, s := range m.scoreHistory {
		out[i] = append([]float64(nil), s...)
	}
	return out
}

func (m *MoranProcess) Replacements() []model.ReplacementRecord {
	return append([]model.ReplacementRecord(nil), m.replacements...)
}

func (m *MoranProcess) Diagnostics() []model.GenerationDiagnostics {
	return append([]model.GenerationDiagnostics(nil), m.diagnostics...)
}

// Population returns the current members in slot order.
func (m *MoranProcess) Population() []agent.Agent {
	return append([]agent.Agent(nil), m.population...)
}

func (m *MoranProcess) Winner() (string, bool) {
	return m.winner, m.hasWinner
}

func (m *MoranProcess) Size() int      { return len(m.initial) }
func (m *MoranProcess) Turns() int     { return m.cfg.Turns }
func (m *MoranProcess) Noise() float64 { return m.cfg.Noise }

func distributionOf(population []agent.Agent) model.Distribution {
	dist := make(model.Distribution)
	for _, a := range population {
		dist[a.Name()]++
	}
	return dist
}
