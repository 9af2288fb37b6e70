package evo

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"moran/internal/agent"
	"moran/internal/game"
)

// Matcher plays one match between two agents and returns per-turn payoffs.
type Matcher interface {
	Play(ctx context.Context, a, b agent.Agent, turns int, noise float64, rng *rand.Rand) ([]game.Outcome, error)
}

type pairing struct {
	i, j int
	seed int64
}

type pairScore struct {
	a, b float64
}

// schedulePairings lists every unordered pair i<j in row-major order. Match
// seeds are drawn from rng in the same order so results do not depend on how
// pairs are later distributed across workers.
func schedulePairings(n int, rng *rand.Rand) []pairing {
	pairs := make([]pairing, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pairing{i: i, j: j, seed: rng.Int63()})
		}
	}
	return pairs
}

// playRoundRobin returns each member's summed per-turn mean payoff over all
// of its matches in population.
func (m *MoranProcess) playRoundRobin(ctx context.Context, population []agent.Agent) ([]float64, error) {
	pairs := schedulePairings(len(population), m.rng)
	results := make([]pairScore, len(pairs))

	workers := m.cfg.Workers
	if workers > len(pairs) {
		workers = len(pairs)
	}

	if workers <= 1 {
		for k, p := range pairs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			a, b := population[p.i], population[p.j]
			a.Reset()
			b.Reset()
			score, err := m.playPair(ctx, a, b, p.seed)
			if err != nil {
				return nil, err
			}
			results[k] = score
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for k, p := range pairs {
			k, p := k, p
			a, b := population[p.i].Clone(), population[p.j].Clone()
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				score, err := m.playPair(gctx, a, b, p.seed)
				if err != nil {
					return err
				}
				results[k] = score
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	scores := make([]float64, len(population))
	for k, p := range pairs {
		scores[p.i] += results[k].a
		scores[p.j] += results[k].b
	}
	return scores, nil
}

func (m *MoranProcess) playPair(ctx context.Context, a, b agent.Agent, seed int64) (pairScore, error) {
	outcomes, err := m.cfg.Matcher.Play(ctx, a, b, m.cfg.Turns, m.cfg.Noise, rand.New(rand.NewSource(seed)))
	if err != nil {
		return pairScore{}, err
	}
	if len(outcomes) != m.cfg.Turns {
		return pairScore{}, fmt.Errorf("match %s vs %s returned %d turns, want %d", a.Name(), b.Name(), len(outcomes), m.cfg.Turns)
	}
	var score pairScore
	for _, o := range outcomes {
		score.a += o.A
		score.b += o.B
	}
	turns := float64(m.cfg.Turns)
	score.a /= turns
	score.b /= turns
	return score, nil
}
