package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"moran/internal/agent"
	"moran/internal/game"
)

var (
	ErrStrategyExists   = errors.New("strategy already registered")
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Factory builds a fresh player with reset state.
type Factory func() game.Player

type Registry struct {
	mu sync.RWMutex
	m  map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Factory)}
}

// Default holds the built-in strategies.
var Default = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := []struct {
		tag     agent.TypeTag
		factory Factory
	}{
		{TagCooperator, func() game.Player { return Cooperator{} }},
		{TagDefector, func() game.Player { return Defector{} }},
		{TagTitForTat, func() game.Player { return TitForTat{} }},
		{TagSuspiciousTitForTat, func() game.Player { return SuspiciousTitForTat{} }},
		{TagTitForTwoTats, func() game.Player { return TitForTwoTats{} }},
		{TagGrudger, func() game.Player { return &Grudger{} }},
		{TagAlternator, func() game.Player { return Alternator{} }},
		{TagWinStayLoseShift, func() game.Player { return WinStayLoseShift{} }},
		{TagRandom, func() game.Player { return Random{P: 0.5} }},
		{TagGenerousTitForTat, func() game.Player { return GenerousTitForTat{P: 1.0 / 3.0} }},
	}
	for _, b := range builtins {
		if err := r.Register(string(b.tag), b.factory); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(name string, factory Factory) error {
	name = normalizeName(name)
	if name == "" {
		return errors.New("strategy name is required")
	}
	if factory == nil {
		return errors.New("strategy factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, name)
	}
	r.m[name] = factory
	return nil
}

func (r *Registry) New(name string) (game.Player, error) {
	r.mu.RLock()
	factory, ok := r.m[normalizeName(name)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return factory(), nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsePopulation builds an initial population from a spec such as
// "cooperator:3,defector:2". A missing count means one member.
func (r *Registry) ParsePopulation(spec string) ([]agent.Agent, error) {
	var population []agent.Agent
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, countText, hasCount := strings.Cut(item, ":")
		count := 1
		if hasCount {
			n, err := strconv.Atoi(strings.TrimSpace(countText))
			if err != nil {
				return nil, fmt.Errorf("parse count for %s: %w", name, err)
			}
			if n <= 0 {
				return nil, fmt.Errorf("count for %s must be > 0", name)
			}
			count = n
		}
		for i := 0; i < count; i++ {
			player, err := r.New(name)
			if err != nil {
				return nil, err
			}
			population = append(population, player)
		}
	}
	if len(population) == 0 {
		return nil, errors.New("population spec is empty")
	}
	return population, nil
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	return name
}
