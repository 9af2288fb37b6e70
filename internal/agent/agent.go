package agent

// TypeTag identifies a strategy class. Two agents with equal tags are the
// same species even when they are distinct instances.
type TypeTag string

// Agent is the capability set the evolutionary core needs from a population
// member. Decision logic lives in concrete strategy implementations.
type Agent interface {
	// Name is the display name used as the population distribution key.
	Name() string
	TypeTag() TypeTag
	// Stochastic reports whether the agent draws randomness when it moves.
	Stochastic() bool
	// Reset clears any per-match memory.
	Reset()
	// Clone returns an independent copy of the same strategy with reset state.
	Clone() Agent
}

// DistinctTypes returns the number of distinct type tags in agents.
func DistinctTypes(agents []Agent) int {
	seen := make(map[TypeTag]struct{}, len(agents))
	for _, a := range agents {
		seen[a.TypeTag()] = struct{}{}
	}
	return len(seen)
}

// Names returns the display names of agents in order.
func Names(agents []Agent) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Name())
	}
	return out
}
