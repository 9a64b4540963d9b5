package searcher

import (
	"math"
	"sync"

	"alloc/decision"
)

// node is one state in the search tree. The parent pointer is a back
// reference for backpropagation only; ownership runs strictly root to leaf
// through children. All statistics are guarded by the embedded mutex, so
// concurrent iterations may select through and backpropagate into the same
// node safely.
type node struct {
	sync.RWMutex
	parent *node
	action decision.Action // action that led here; nil at the root
	state  decision.State

	// stepReward is the immediate reward sampled when this node was
	// expanded. It is folded into every rollout return launched from here.
	stepReward float64
	terminal   bool

	untried  []decision.Action // discovery order; popped front to back
	children []*node           // insertion order = action discovery order

	visits  int64
	rewards float64 // sum of backpropagated returns
	squares float64 // sum of squared returns, for variance estimates
	pending int64   // in-flight iterations holding a virtual loss here

	// samples retains individual rollout returns on root children only,
	// feeding the risk synthesizer. Reset when a subtree is promoted to a
	// new root (tree reuse keeps counts, not the sample buffer).
	samples []float64
}

// newNode builds a node for state. The terminal check runs before the
// legal-action query so terminal states never invoke LegalActions.
func newNode(parent *node, action decision.Action, state decision.State, stepReward float64, ev decision.Evaluator) (*node, error) {
	n := &node{
		parent:     parent,
		action:     action,
		state:      state,
		stepReward: stepReward,
	}
	if ev.IsTerminal(state) {
		n.terminal = true
		return n, nil
	}

	actions, err := ev.LegalActions(state)
	if err != nil {
		return nil, &EvaluationError{StateHash: state.Hash(), Err: err}
	}
	n.untried = actions
	n.terminal = len(actions) == 0
	return n, nil
}

// selectOrExpand advances the selection walk by one step. Terminal nodes
// return themselves; nodes with untried actions expand one child; fully
// expanded nodes select the max-UCT child. The returned child carries a
// virtual loss until its backup.
func (n *node) selectOrExpand(ev decision.Evaluator, c, lambda float64) (child *node, expanded bool, err error) {
	n.Lock()
	defer n.Unlock()

	if n.terminal {
		return n, false, nil
	}

	if len(n.untried) > 0 {
		child, err = n.expand(ev)
		if err != nil {
			return nil, false, err
		}
		child.addPending()
		return child, true, nil
	}

	child = n.pickChild(c, lambda)
	child.addPending()
	return child, false, nil
}

// expand pops the next untried action in discovery order and applies it once
// to sample the successor state. Callers hold n's lock.
func (n *node) expand(ev decision.Evaluator) (*node, error) {
	action := n.untried[0]
	n.untried = n.untried[1:]

	next, reward, err := ev.Apply(n.state, action)
	if err != nil {
		return nil, &EvaluationError{StateHash: n.state.Hash(), Action: action, Err: err}
	}

	child, err := newNode(n, action, next, reward, ev)
	if err != nil {
		return nil, err
	}
	n.children = append(n.children, child)
	return child, nil
}

// pickChild returns the max-UCT child. Ties keep the first-discovered child
// (stable child order makes this deterministic). Callers hold n's lock.
func (n *node) pickChild(c, lambda float64) *node {
	total := n.visits + n.pending
	if total < 1 {
		total = 1
	}
	lnParent := math.Log(float64(total))

	best := n.children[0]
	bestScore := math.Inf(-1)
	for _, child := range n.children {
		score := child.score(lnParent, c, lambda)
		if math.IsInf(score, 1) {
			return child
		}
		if score > bestScore {
			best = child
			bestScore = score
		}
	}
	return best
}

// score computes the UCT value seen by the parent. Virtual losses inflate
// the visit count and dilute the mean toward zero, steering concurrent
// iterations away from paths already in flight. Rewards here are unbounded
// reals, so a pending counter is used instead of a constant loss reward,
// which would assume a reward scale.
func (n *node) score(lnParent, c, lambda float64) float64 {
	n.RLock()
	defer n.RUnlock()

	total := n.visits + n.pending
	if total == 0 {
		return math.Inf(1)
	}
	mean := n.rewards / float64(total)

	var stddev float64
	if lambda > 0 && n.visits > 1 {
		stddev = math.Sqrt(n.varianceLocked())
	}
	return uct(mean, stddev, total, lnParent, c, lambda)
}

func (n *node) addPending() {
	n.Lock()
	n.pending++
	n.Unlock()
}

// backup folds a batch of rollout returns into every node from leaf to root
// and reverses the virtual losses taken during selection. The update is
// strictly additive and commutative, so interleaving across concurrent
// iterations does not affect the final statistics.
func backup(leaf *node, b batchStats) {
	for n := leaf; n != nil; n = n.parent {
		n.Lock()
		if n.parent != nil && n.pending > 0 {
			n.pending--
		}
		n.visits += b.count
		n.rewards += b.sum
		n.squares += b.squares
		if n.parent != nil && n.parent.parent == nil {
			n.samples = append(n.samples, b.samples...)
		}
		n.Unlock()
	}
}

func (n *node) meanLocked() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.rewards / float64(n.visits)
}

// varianceLocked clamps to >= 0: sum(r^2)/n - mean^2 can dip negative under
// floating-point error.
func (n *node) varianceLocked() float64 {
	if n.visits == 0 {
		return 0
	}
	mean := n.meanLocked()
	v := n.squares/float64(n.visits) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// snapshot returns a consistent copy of the node statistics.
func (n *node) snapshot() (visits int64, mean, variance float64, samples []float64) {
	n.RLock()
	defer n.RUnlock()

	samples = make([]float64, len(n.samples))
	copy(samples, n.samples)
	return n.visits, n.meanLocked(), n.varianceLocked(), samples
}

// bestChild ranks children by criterion. Children lacking the data the
// criterion needs (zero visits for the mean, fewer than two for the bound)
// rank below everything.
func (n *node) bestChild(criterion Criterion) *node {
	n.RLock()
	defer n.RUnlock()

	if len(n.children) == 0 {
		return nil
	}

	best := n.children[0]
	bestValue := math.Inf(-1)
	for _, child := range n.children {
		if v := child.criterionValue(criterion); v > bestValue {
			best = child
			bestValue = v
		}
	}
	return best
}

func (n *node) criterionValue(criterion Criterion) float64 {
	n.RLock()
	defer n.RUnlock()

	switch criterion {
	case GreedyChild:
		if n.visits == 0 {
			return math.Inf(-1)
		}
		return n.meanLocked()
	case ConservativeChild:
		if n.visits < 2 {
			return math.Inf(-1)
		}
		return lcb(n.meanLocked(), n.varianceLocked(), n.visits)
	default:
		return float64(n.visits)
	}
}

// findChild returns the child whose state hash matches, for tree reuse.
func (n *node) findChild(hash decision.StateHash) *node {
	n.RLock()
	defer n.RUnlock()

	for _, child := range n.children {
		if child.state.Hash() == hash {
			return child
		}
	}
	return nil
}
