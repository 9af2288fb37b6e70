package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"moran/internal/agent"
)

var ErrNotPlayer = errors.New("agent does not implement game.Player")

type Action uint8

const (
	Cooperate Action = iota
	Defect
)

func (a Action) String() string {
	switch a {
	case Cooperate:
		return "C"
	case Defect:
		return "D"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Flip returns the opposite action.
func (a Action) Flip() Action {
	if a == Cooperate {
		return Defect
	}
	return Cooperate
}

// Outcome is the pair of payoffs earned in one turn.
type Outcome struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Player is an agent that can move in the iterated game. Histories are
// ordered oldest first and include noise-flipped actions as actually played.
type Player interface {
	agent.Agent
	Move(self, opponent []Action, rng *rand.Rand) Action
}

// PayoffMatrix holds the four prisoner's dilemma payoffs.
type PayoffMatrix struct {
	Reward     float64 `json:"reward" yaml:"reward"`
	Sucker     float64 `json:"sucker" yaml:"sucker"`
	Temptation float64 `json:"temptation" yaml:"temptation"`
	Punishment float64 `json:"punishment" yaml:"punishment"`
}

func DefaultPayoffs() PayoffMatrix {
	return PayoffMatrix{Reward: 3, Sucker: 0, Temptation: 5, Punishment: 1}
}

func (p PayoffMatrix) Validate() error {
	for _, v := range []float64{p.Reward, p.Sucker, p.Temptation, p.Punishment} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("payoffs must be finite: %+v", p)
		}
	}
	if !(p.Temptation > p.Reward && p.Reward > p.Punishment && p.Punishment > p.Sucker) {
		return fmt.Errorf("payoffs must satisfy T > R > P > S: %+v", p)
	}
	return nil
}

// Score returns the payoffs for the row player a and column player b.
func (p PayoffMatrix) Score(a, b Action) Outcome {
	switch {
	case a == Cooperate && b == Cooperate:
		return Outcome{A: p.Reward, B: p.Reward}
	case a == Cooperate && b == Defect:
		return Outcome{A: p.Sucker, B: p.Temptation}
	case a == Defect && b == Cooperate:
		return Outcome{A: p.Temptation, B: p.Sucker}
	default:
		return Outcome{A: p.Punishment, B: p.Punishment}
	}
}
