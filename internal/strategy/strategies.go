package strategy

import (
	"fmt"
	"math/rand"

	"moran/internal/agent"
	"moran/internal/game"
)

const (
	TagCooperator          agent.TypeTag = "cooperator"
	TagDefector            agent.TypeTag = "defector"
	TagTitForTat           agent.TypeTag = "tit_for_tat"
	TagSuspiciousTitForTat agent.TypeTag = "suspicious_tit_for_tat"
	TagTitForTwoTats       agent.TypeTag = "tit_for_two_tats"
	TagGrudger             agent.TypeTag = "grudger"
	TagAlternator          agent.TypeTag = "alternator"
	TagWinStayLoseShift    agent.TypeTag = "win_stay_lose_shift"
	TagRandom              agent.TypeTag = "random"
	TagGenerousTitForTat   agent.TypeTag = "generous_tit_for_tat"
)

// Cooperator always cooperates.
type Cooperator struct{}

func (Cooperator) Name() string           { return "Cooperator" }
func (Cooperator) TypeTag() agent.TypeTag { return TagCooperator }
func (Cooperator) Stochastic() bool       { return false }
func (Cooperator) Reset()                 {}
func (Cooperator) Clone() agent.Agent     { return Cooperator{} }
func (Cooperator) Move(_, _ []game.Action, _ *rand.Rand) game.Action {
	return game.Cooperate
}

// Defector always defects.
type Defector struct{}

func (Defector) Name() string           { return "Defector" }
func (Defector) TypeTag() agent.TypeTag { return TagDefector }
func (Defector) Stochastic() bool       { return false }
func (Defector) Reset()                 {}
func (Defector) Clone() agent.Agent     { return Defector{} }
func (Defector) Move(_, _ []game.Action, _ *rand.Rand) game.Action {
	return game.Defect
}

// TitForTat cooperates first and then copies the opponent's last move.
type TitForTat struct{}

func (TitForTat) Name() string           { return "Tit For Tat" }
func (TitForTat) TypeTag() agent.TypeTag { return TagTitForTat }
func (TitForTat) Stochastic() bool       { return false }
func (TitForTat) Reset()                 {}
func (TitForTat) Clone() agent.Agent     { return TitForTat{} }
func (TitForTat) Move(_, opponent []game.Action, _ *rand.Rand) game.Action {
	if len(opponent) == 0 {
		return game.Cooperate
	}
	return opponent[len(opponent)-1]
}

// SuspiciousTitForTat defects first and then copies the opponent.
type SuspiciousTitForTat struct{}

func (SuspiciousTitForTat) Name() string           { return "Suspicious Tit For Tat" }
func (SuspiciousTitForTat) TypeTag() agent.TypeTag { return TagSuspiciousTitForTat }
func (SuspiciousTitForTat) Stochastic() bool       { return false }
func (SuspiciousTitForTat) Reset()                 {}
func (SuspiciousTitForTat) Clone() agent.Agent     { return SuspiciousTitForTat{} }
func (SuspiciousTitForTat) Move(_, opponent []game.Action, _ *rand.Rand) game.Action {
	if len(opponent) == 0 {
		return game.Defect
	}
	return opponent[len(opponent)-1]
}

// TitForTwoTats defects only after two consecutive opponent defections.
type TitForTwoTats struct{}

func (TitForTwoTats) Name() string           { return "Tit For 2 Tats" }
func (TitForTwoTats) TypeTag() agent.TypeTag { return TagTitForTwoTats }
func (TitForTwoTats) Stochastic() bool       { return false }
func (TitForTwoTats) Reset()                 {}
func (TitForTwoTats) Clone() agent.Agent     { return TitForTwoTats{} }
func (TitForTwoTats) Move(_, opponent []game.Action, _ *rand.Rand) game.Action {
	n := len(opponent)
	if n >= 2 && opponent[n-1] == game.Defect && opponent[n-2] == game.Defect {
		return game.Defect
	}
	return game.Cooperate
}

// Grudger cooperates until the opponent defects once, then defects for the
// rest of the match.
type Grudger struct {
	grudged bool
}

func (*Grudger) Name() string           { return "Grudger" }
func (*Grudger) TypeTag() agent.TypeTag { return TagGrudger }
func (*Grudger) Stochastic() bool       { return false }
func (g *Grudger) Reset()               { g.grudged = false }
func (*Grudger) Clone() agent.Agent     { return &Grudger{} }
func (g *Grudger) Move(_, opponent []game.Action, _ *rand.Rand) game.Action {
	if n := len(opponent); n > 0 && opponent[n-1] == game.Defect {
		g.grudged = true
	}
	if g.grudged {
		return game.Defect
	}
	return game.Cooperate
}

// Alternator cooperates first and then alternates its own last move.
type Alternator struct{}

func (Alternator) Name() string           { return "Alternator" }
func (Alternator) TypeTag() agent.TypeTag { return TagAlternator }
func (Alternator) Stochastic() bool       { return false }
func (Alternator) Reset()                 {}
func (Alternator) Clone() agent.Agent     { return Alternator{} }
func (Alternator) Move(self, _ []game.Action, _ *rand.Rand) game.Action {
	if len(self) == 0 {
		return game.Cooperate
	}
	return self[len(self)-1].Flip()
}

// WinStayLoseShift cooperates when both players made the same move last turn
// and defects otherwise.
type WinStayLoseShift struct{}

func (WinStayLoseShift) Name() string           { return "Win-Stay Lose-Shift" }
func (WinStayLoseShift) TypeTag() agent.TypeTag { return TagWinStayLoseShift }
func (WinStayLoseShift) Stochastic() bool       { return false }
func (WinStayLoseShift) Reset()                 {}
func (WinStayLoseShift) Clone() agent.Agent     { return WinStayLoseShift{} }
func (WinStayLoseShift) Move(self, opponent []game.Action, _ *rand.Rand) game.Action {
	if len(self) == 0 {
		return game.Cooperate
	}
	if self[len(self)-1] == opponent[len(opponent)-1] {
		return game.Cooperate
	}
	return game.Defect
}

// Random cooperates with probability P.
type Random struct {
	P float64
}

func (r Random) Name() string {
	if r.P == 0.5 {
		return "Random"
	}
	return fmt.Sprintf("Random: %g", r.P)
}
func (Random) TypeTag() agent.TypeTag { return TagRandom }
func (r Random) Stochastic() bool     { return r.P > 0 && r.P < 1 }
func (Random) Reset()                 {}
func (r Random) Clone() agent.Agent   { return Random{P: r.P} }
func (r Random) Move(_, _ []game.Action, rng *rand.Rand) game.Action {
	switch {
	case r.P >= 1:
		return game.Cooperate
	case r.P <= 0:
		return game.Defect
	}
	if rng.Float64() < r.P {
		return game.Cooperate
	}
	return game.Defect
}

// GenerousTitForTat plays tit for tat but forgives a defection with
// probability P.
type GenerousTitForTat struct {
	P float64
}

func (GenerousTitForTat) Name() string           { return "Generous Tit For Tat" }
func (GenerousTitForTat) TypeTag() agent.TypeTag { return TagGenerousTitForTat }
func (g GenerousTitForTat) Stochastic() bool     { return g.P > 0 && g.P < 1 }
func (GenerousTitForTat) Reset()                 {}
func (g GenerousTitForTat) Clone() agent.Agent   { return GenerousTitForTat{P: g.P} }
func (g GenerousTitForTat) Move(_, opponent []game.Action, rng *rand.Rand) game.Action {
	if len(opponent) == 0 || opponent[len(opponent)-1] == game.Cooperate {
		return game.Cooperate
	}
	if g.P > 0 && (g.P >= 1 || rng.Float64() < g.P) {
		return game.Cooperate
	}
	return game.Defect
}
