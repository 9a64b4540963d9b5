package searcher

import (
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"alloc/decision"
)

// Policy chooses the next rollout action. Implementations must be safe for
// concurrent use; the engine hands each rollout its own rng stream.
type Policy interface {
	Select(rng *rand.Rand, state decision.State, actions []decision.Action) decision.Action
}

// UniformRandom picks uniformly among the legal actions, the conventional
// default rollout policy.
type UniformRandom struct{}

func (UniformRandom) Select(rng *rand.Rand, _ decision.State, actions []decision.Action) decision.Action {
	return actions[rng.Intn(len(actions))]
}

// batchStats aggregates one iteration's batch of rollouts for backup.
type batchStats struct {
	count   int64     // surviving rollouts
	sum     float64   // sum of returns
	squares float64   // sum of squared returns
	samples []float64 // individual returns, retained on root children
	failed  int64     // rollouts dropped due to evaluator errors
	full    int64     // rollouts that reached a terminal state before the cutoff
}

func (b *batchStats) add(ret float64, full bool) {
	b.count++
	b.sum += ret
	b.squares += ret * ret
	b.samples = append(b.samples, ret)
	if full {
		b.full++
	}
}

func (b *batchStats) merge(other batchStats) {
	b.count += other.count
	b.sum += other.sum
	b.squares += other.squares
	b.samples = append(b.samples, other.samples...)
	b.failed += other.failed
	b.full += other.full
}

// simulateBatch runs the configured number of independent rollouts from leaf
// and aggregates their returns. The batch is chunked across the rollout
// worker pool; rollouts share nothing mutable and never touch tree
// statistics. Worker seeds are drawn from rng up front and chunks merge in
// worker order, so a single-threaded search stays reproducible.
func (m *MCTS) simulateBatch(leaf *node, rng *rand.Rand) batchStats {
	// state, stepReward and terminal are set once at construction, safe to
	// read without the lock.
	state := leaf.state
	base := leaf.stepReward

	workers := m.rolloutWorkers
	if workers > m.batch {
		workers = m.batch
	}

	chunks := make([]batchStats, workers)
	per := m.batch / workers
	extra := m.batch % workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		count := per
		if w < extra {
			count++
		}
		seed := rng.Uint64()

		wg.Add(1)
		go func(w, count int, seed uint64) {
			defer wg.Done()

			local := batchStats{samples: make([]float64, 0, count)}
			wrng := rand.New(rand.NewSource(seed))
			for i := 0; i < count; i++ {
				if leaf.terminal {
					// Degenerate rollout: the terminal value, re-sampled per
					// rollout since evaluators may price terminals
					// stochastically.
					local.add(base+terminalValue(m.evaluator, state), true)
					continue
				}
				ret, full, err := m.rollout(wrng, state, base)
				if err != nil {
					// A failing rollout aborts only itself; the rest of the
					// batch still contributes.
					local.failed++
					log.Debug().Err(err).Msg("rollout aborted")
					continue
				}
				local.add(ret, full)
			}
			chunks[w] = local
		}(w, count, seed)
	}
	wg.Wait()

	batch := batchStats{samples: make([]float64, 0, m.batch)}
	for _, chunk := range chunks {
		batch.merge(chunk)
	}
	return batch
}

// rollout plays a single trajectory from state, summing undiscounted step
// rewards until a terminal state or the depth cutoff. Hitting the cutoff is
// not an error: the partial summed reward is used as-is (truncation, no
// bootstrap value).
func (m *MCTS) rollout(rng *rand.Rand, state decision.State, base float64) (ret float64, full bool, err error) {
	total := base
	current := state

	for depth := 0; depth < m.cutoff; depth++ {
		if m.evaluator.IsTerminal(current) {
			return total + terminalValue(m.evaluator, current), true, nil
		}

		actions, err := m.evaluator.LegalActions(current)
		if err != nil {
			return 0, false, &EvaluationError{StateHash: current.Hash(), Err: err}
		}
		if len(actions) == 0 {
			return total + terminalValue(m.evaluator, current), true, nil
		}

		action := m.policy.Select(rng, current, actions)
		next, reward, err := m.evaluator.Apply(current, action)
		if err != nil {
			return 0, false, &EvaluationError{StateHash: current.Hash(), Action: action, Err: err}
		}
		total += reward
		current = next
	}

	return total, false, nil
}

// terminalValue consults the optional TerminalRewarder capability;
// evaluators without it contribute 0 at terminal states.
func terminalValue(ev decision.Evaluator, state decision.State) float64 {
	if tr, ok := ev.(decision.TerminalRewarder); ok {
		return tr.TerminalReward(state)
	}
	return 0
}
