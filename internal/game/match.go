package game

import (
	"context"
	"fmt"
	"math/rand"

	"moran/internal/agent"
)

// Match plays the iterated prisoner's dilemma between two players.
type Match struct {
	Payoffs PayoffMatrix
}

func NewMatch(payoffs PayoffMatrix) (*Match, error) {
	if err := payoffs.Validate(); err != nil {
		return nil, err
	}
	return &Match{Payoffs: payoffs}, nil
}

// Play runs turns rounds and returns the per-turn payoffs. Each intended
// action is flipped with probability noise. Callers reset the players.
func (m *Match) Play(ctx context.Context, a, b agent.Agent, turns int, noise float64, rng *rand.Rand) ([]Outcome, error) {
	pa, ok := a.(Player)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPlayer, a.Name())
	}
	pb, ok := b.(Player)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPlayer, b.Name())
	}
	if turns <= 0 {
		return nil, fmt.Errorf("turns must be > 0")
	}
	if noise < 0 || noise > 1 {
		return nil, fmt.Errorf("noise must be in [0, 1]: %v", noise)
	}
	if rng == nil && (noise > 0 || pa.Stochastic() || pb.Stochastic()) {
		return nil, fmt.Errorf("random source is required")
	}

	histA := make([]Action, 0, turns)
	histB := make([]Action, 0, turns)
	outcomes := make([]Outcome, 0, turns)
	for turn := 0; turn < turns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		moveA := pa.Move(histA, histB, rng)
		moveB := pb.Move(histB, histA, rng)
		if noise > 0 {
			if rng.Float64() < noise {
				moveA = moveA.Flip()
			}
			if rng.Float64() < noise {
				moveB = moveB.Flip()
			}
		}
		histA = append(histA, moveA)
		histB = append(histB, moveB)
		outcomes = append(outcomes, m.Payoffs.Score(moveA, moveB))
	}
	return outcomes, nil
}
