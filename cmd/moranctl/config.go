package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"moran/pkg/moran"
)

func readRawConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// loadRunRequestFromConfig reads a YAML (or JSON) run file. Population may be
// a spec string or a mapping of strategy name to count.
func loadRunRequestFromConfig(path string) (moran.RunRequest, error) {
	raw, err := readRawConfig(path)
	if err != nil {
		return moran.RunRequest{}, err
	}
	return runRequestFromRaw(raw)
}

func loadFixationRequestFromConfig(path string) (moran.FixationRequest, error) {
	raw, err := readRawConfig(path)
	if err != nil {
		return moran.FixationRequest{}, err
	}
	runReq, err := runRequestFromRaw(raw)
	if err != nil {
		return moran.FixationRequest{}, err
	}
	req := moran.FixationRequest{RunRequest: runReq}
	if v, ok := asInt(raw["repetitions"]); ok {
		req.Repetitions = v
	}
	return req, nil
}

func runRequestFromRaw(raw map[string]any) (moran.RunRequest, error) {
	var req moran.RunRequest
	if v, ok := asString(raw["population"]); ok {
		req.Population = v
	} else if m, ok := raw["population"].(map[string]any); ok {
		spec, err := populationSpecFromMap(m)
		if err != nil {
			return moran.RunRequest{}, err
		}
		req.Population = spec
	} else if raw["population"] != nil {
		return moran.RunRequest{}, fmt.Errorf("population must be a string or mapping, got %T", raw["population"])
	}
	if v, ok := asInt(raw["turns"]); ok {
		req.Turns = v
	}
	if v, ok := asFloat64(raw["noise"]); ok {
		req.Noise = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(raw["max_generations"]); ok {
		req.MaxGenerations = v
	}
	if v, ok := asInt(raw["cache_size"]); ok {
		req.CacheSize = v
	}
	if v, ok := asBool(raw["disable_cache"]); ok {
		req.DisableCache = v
	}
	if p, ok := raw["payoffs"].(map[string]any); ok {
		payoffs := moran.Payoffs{Reward: 3, Sucker: 0, Temptation: 5, Punishment: 1}
		if v, ok := asFloat64(p["reward"]); ok {
			payoffs.Reward = v
		}
		if v, ok := asFloat64(p["sucker"]); ok {
			payoffs.Sucker = v
		}
		if v, ok := asFloat64(p["temptation"]); ok {
			payoffs.Temptation = v
		}
		if v, ok := asFloat64(p["punishment"]); ok {
			payoffs.Punishment = v
		}
		req.Payoffs = &payoffs
	}
	return req, nil
}

func populationSpecFromMap(m map[string]any) (string, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		count, ok := asInt(m[name])
		if !ok {
			return "", fmt.Errorf("population count for %s must be an integer", name)
		}
		parts = append(parts, fmt.Sprintf("%s:%d", name, count))
	}
	return strings.Join(parts, ","), nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// runFlags mirrors the run file keys. Only flags set on the command line
// override values loaded from --config.
type runFlags struct {
	config         string
	population     string
	turns          int
	noise          float64
	seed           int64
	workers        int
	maxGenerations int
	cacheSize      int
	noCache        bool
	reward         float64
	sucker         float64
	temptation     float64
	punishment     float64
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.config, "config", "", "YAML or JSON run file")
	flags.StringVar(&f.population, "pop", "", "population spec, e.g. cooperator:3,defector:2")
	flags.IntVar(&f.turns, "turns", 200, "turns per match")
	flags.Float64Var(&f.noise, "noise", 0, "probability of flipping each action")
	flags.Int64Var(&f.seed, "seed", 1, "random seed")
	flags.IntVar(&f.workers, "workers", 4, "parallel match workers")
	flags.IntVar(&f.maxGenerations, "max-gens", 0, "generation cap, 0 for none")
	flags.IntVar(&f.cacheSize, "cache-size", 0, "match cache entries, 0 for default")
	flags.BoolVar(&f.noCache, "no-cache", false, "disable the match cache")
	flags.Float64Var(&f.reward, "reward", 3, "payoff for mutual cooperation")
	flags.Float64Var(&f.sucker, "sucker", 0, "payoff for cooperating against defection")
	flags.Float64Var(&f.temptation, "temptation", 5, "payoff for defecting against cooperation")
	flags.Float64Var(&f.punishment, "punishment", 1, "payoff for mutual defection")
}

// request builds a run request from --config, then applies explicitly set
// flags. Without a config file every flag default applies.
func (f *runFlags) request(cmd *cobra.Command) (moran.RunRequest, error) {
	req := moran.RunRequest{}
	if f.config != "" {
		loaded, err := loadRunRequestFromConfig(f.config)
		if err != nil {
			return moran.RunRequest{}, fmt.Errorf("load config: %w", err)
		}
		req = loaded
	}
	f.apply(cmd, &req)
	return req, nil
}

func (f *runFlags) apply(cmd *cobra.Command, req *moran.RunRequest) {
	fromFile := f.config != ""
	use := func(name string) bool {
		return !fromFile || cmd.Flags().Changed(name)
	}

	if use("pop") {
		req.Population = f.population
	}
	if use("turns") {
		req.Turns = f.turns
	}
	if use("noise") {
		req.Noise = f.noise
	}
	if use("seed") {
		req.Seed = f.seed
	}
	if use("workers") {
		req.Workers = f.workers
	}
	if use("max-gens") {
		req.MaxGenerations = f.maxGenerations
	}
	if use("cache-size") {
		req.CacheSize = f.cacheSize
	}
	if use("no-cache") {
		req.DisableCache = f.noCache
	}

	payoffFlags := []string{"reward", "sucker", "temptation", "punishment"}
	changed := false
	for _, name := range payoffFlags {
		if cmd.Flags().Changed(name) {
			changed = true
		}
	}
	if !changed {
		return
	}
	payoffs := moran.Payoffs{Reward: 3, Sucker: 0, Temptation: 5, Punishment: 1}
	if req.Payoffs != nil {
		payoffs = *req.Payoffs
	}
	if cmd.Flags().Changed("reward") {
		payoffs.Reward = f.reward
	}
	if cmd.Flags().Changed("sucker") {
		payoffs.Sucker = f.sucker
	}
	if cmd.Flags().Changed("temptation") {
		payoffs.Temptation = f.temptation
	}
	if cmd.Flags().Changed("punishment") {
		payoffs.Punishment = f.punishment
	}
	req.Payoffs = &payoffs
}
