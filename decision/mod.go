package decision

// StateHash identifies a state by value. Two states with equal hashes are
// treated as the same decision point (tree reuse relies on this).
type StateHash uint64

// State is an immutable snapshot of the allocation problem at one decision
// point. Operations never mutate a State in place; successor states are
// produced only by Evaluator.Apply.
type State interface {
	Hash() StateHash
}

// Action is a discrete move applicable to a State. Implementations must be
// comparable (usable as a map key) so untried actions can be deduplicated.
type Action interface {
	String() string
}

// Evaluator is the environment collaborator the engine searches against.
// Apply may be stochastic: repeated calls with the same arguments may return
// different successors. The engine never memoizes it, and calls it from
// multiple goroutines concurrently.
type Evaluator interface {
	// LegalActions returns the actions available from state. The returned
	// order is the discovery order: it fixes child ordering in the tree and
	// must be deterministic for a given state.
	LegalActions(state State) ([]Action, error)

	// Apply plays action on state, returning the successor state and the
	// immediate step reward.
	Apply(state State, action Action) (State, float64, error)

	// IsTerminal reports whether no further actions apply to state.
	IsTerminal(state State) bool
}

// TerminalRewarder is an optional Evaluator capability. When a rollout (or
// the search root) lands on a terminal state, the engine consults it for the
// terminal value; evaluators without it contribute 0.
type TerminalRewarder interface {
	TerminalReward(state State) float64
}
