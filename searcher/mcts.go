package searcher

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"alloc/decision"
	"alloc/experiments/metrics"
)

// Option configures an MCTS engine at construction.
type Option func(m *MCTS)

// MCTS is a batched, tree-parallel Monte Carlo Tree Search engine over an
// Evaluator. One instance owns one tree at a time; all tunable state
// (including the adaptive controller window) is instance-private, so
// independent engines never interfere.
type MCTS struct {
	evaluator      decision.Evaluator
	goroutines     int // concurrent iteration pipelines over the tree
	rolloutWorkers int // fan-out of each iteration's rollout batch
	episodes       int
	duration       time.Duration
	batch          int
	cutoff         int
	exploration    float64
	riskLambda     float64
	percentile     float64
	criterion      Criterion
	policy         Policy
	controller     *Controller
	collector      metrics.Collector

	mu   sync.Mutex // guards root, rng, and controller-retuned parameters
	rng  *rand.Rand
	root *node
}

// WithEpisodes sets the iteration budget. Each episode is one
// select/expand/simulate/backprop pass with a full rollout batch.
func WithEpisodes(episodes int) Option {
	return func(m *MCTS) { m.episodes = episodes }
}

// WithDuration sets a wall-clock budget, used when no episode budget is set.
// The budget is checked between iterations, never inside a rollout.
func WithDuration(duration time.Duration) Option {
	return func(m *MCTS) { m.duration = duration }
}

// WithBatchSize sets the number of independent rollouts per iteration.
func WithBatchSize(batch int) Option {
	return func(m *MCTS) { m.batch = batch }
}

// WithCutoff caps rollout depth.
func WithCutoff(depth int) Option {
	return func(m *MCTS) { m.cutoff = depth }
}

// WithExploration sets the UCT exploration constant.
func WithExploration(c float64) Option {
	return func(m *MCTS) { m.exploration = c }
}

// WithRiskAversion sets lambda in [0,1] for risk-adjusted exploration:
// the exploration term shrinks on high-variance children. Zero disables it.
func WithRiskAversion(lambda float64) Option {
	return func(m *MCTS) { m.riskLambda = lambda }
}

// WithRiskPercentile sets the VaR/CVaR percentile in (0, 50].
func WithRiskPercentile(p float64) Option {
	return func(m *MCTS) { m.percentile = p }
}

// WithCriterion sets how the best root action is reported.
func WithCriterion(criterion Criterion) Option {
	return func(m *MCTS) { m.criterion = criterion }
}

// WithRolloutPolicy injects the rollout action-selection strategy.
func WithRolloutPolicy(policy Policy) Option {
	return func(m *MCTS) {
		if policy != nil {
			m.policy = policy
		}
	}
}

// WithRolloutWorkers sets the rollout pool fan-out per iteration.
func WithRolloutWorkers(workers int) Option {
	return func(m *MCTS) { m.rolloutWorkers = workers }
}

// WithSeed fixes the engine's random stream. With a single iteration
// pipeline and a deterministic evaluator, searches are reproducible.
func WithSeed(seed uint64) Option {
	return func(m *MCTS) { m.rng = rand.New(rand.NewSource(seed)) }
}

// WithController attaches an adaptive controller that retunes the
// exploration constant and episode budget between searches.
func WithController(controller *Controller) Option {
	return func(m *MCTS) { m.controller = controller }
}

// WithMetrics attaches a recording metrics collector.
func WithMetrics() Option {
	return func(m *MCTS) { m.collector = metrics.NewCollector() }
}

// NewMCTS builds an engine over evaluator with goroutines concurrent
// iteration pipelines. Configuration is validated on Search, not here, so a
// controller may still retune parameters in between.
func NewMCTS(evaluator decision.Evaluator, goroutines int, options ...Option) *MCTS {
	m := &MCTS{
		evaluator:      evaluator,
		goroutines:     goroutines,
		rolloutWorkers: runtime.NumCPU(),
		batch:          DefaultBatchSize,
		cutoff:         DefaultCutoff,
		exploration:    DefaultExploration,
		percentile:     DefaultPercentile,
		criterion:      RobustChild,
		policy:         UniformRandom{},
		collector:      metrics.NewDummyCollector(),
		rng:            rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *MCTS) validate() error {
	switch {
	case m.evaluator == nil:
		return &ConfigurationError{Field: "evaluator", Reason: "must not be nil"}
	case m.goroutines < 1:
		return &ConfigurationError{Field: "goroutines", Reason: "must be positive"}
	case m.rolloutWorkers < 1:
		return &ConfigurationError{Field: "rollout workers", Reason: "must be positive"}
	case m.episodes <= 0 && m.duration <= 0:
		return &ConfigurationError{Field: "budget", Reason: "episodes or duration must be positive"}
	case m.batch < 1:
		return &ConfigurationError{Field: "batch size", Reason: "must be positive"}
	case m.cutoff < 1:
		return &ConfigurationError{Field: "rollout cutoff", Reason: "must be positive"}
	case m.exploration < 0:
		return &ConfigurationError{Field: "exploration constant", Reason: "must not be negative"}
	case m.riskLambda < 0 || m.riskLambda > 1:
		return &ConfigurationError{Field: "risk aversion", Reason: "must be in [0,1]"}
	case m.percentile <= 0 || m.percentile > 50:
		return &ConfigurationError{Field: "risk percentile", Reason: "must be in (0,50]"}
	}
	return nil
}

// Search runs the four-phase loop from state until the budget is exhausted
// or ctx is cancelled, then synthesizes the ranked action report. A terminal
// state short-circuits to a childless result without querying legal actions.
func (m *MCTS) Search(ctx context.Context, state decision.State) (*SearchResult, error) {
	m.mu.Lock()
	if m.controller != nil {
		m.episodes, m.exploration = m.controller.Tune(m.episodes, m.exploration)
	}
	episodes, exploration := m.episodes, m.exploration
	m.mu.Unlock()

	if err := m.validate(); err != nil {
		return nil, err
	}

	if m.evaluator.IsTerminal(state) {
		return terminalResult(m.criterion, m.percentile, terminalValue(m.evaluator, state)), nil
	}

	start := time.Now()
	reused, err := m.resetOrReuse(state)
	if err != nil {
		return nil, err
	}
	m.collector.Start(m.goroutines, m.batch, m.cutoff, exploration)
	m.collector.SetTreeReused(reused)

	if episodes > 0 {
		err = m.iterate(ctx, episodes, exploration)
	} else {
		err = m.countdown(ctx, m.duration, exploration)
	}
	if err != nil {
		return nil, err
	}

	m.root.RLock()
	visits := m.root.visits
	m.root.RUnlock()
	if visits == 0 && ctx.Err() != nil {
		return nil, ErrDeadlineExceeded
	}

	result, err := synthesize(m.root, m.criterion, m.percentile, time.Since(start))
	if err != nil {
		return nil, err
	}
	result.TreeReused = reused
	result.Metric = m.collector.Complete()

	if m.controller != nil {
		m.controller.Observe(result.Best.Mean)
	}

	log.Debug().
		Str("search", result.ID).
		Stringer("best", result.BestAction).
		Int64("visits", result.RootVisits).
		Float64("mean", result.Best.Mean).
		Msg("search complete")
	return result, nil
}

// Advance promotes the subtree matching state to the new root after the
// caller commits an action in the real environment, preserving its
// statistics for the next search. When no child matches, the tree is
// dropped; the next search starts fresh. Reuse is an optimization, never a
// correctness requirement.
func (m *MCTS) Advance(state decision.State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root == nil {
		return false
	}
	child := m.root.findChild(state.Hash())
	if child == nil {
		m.root = nil
		return false
	}
	promote(child)
	m.root = child
	return true
}

// resetOrReuse installs the search root for state, promoting a matching
// subtree from the previous search when one exists.
func (m *MCTS) resetOrReuse(state decision.State) (reused bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root != nil {
		if m.root.state.Hash() == state.Hash() {
			return true, nil
		}
		if child := m.root.findChild(state.Hash()); child != nil {
			promote(child)
			m.root = child
			return true, nil
		}
	}

	root, err := newNode(nil, nil, state, 0, m.evaluator)
	if err != nil {
		return false, err
	}
	m.root = root
	return false, nil
}

// promote detaches child into a root. The sample buffers of the new root's
// children start empty: risk statistics accumulate from the next search.
func promote(child *node) {
	child.Lock()
	child.parent = nil
	child.action = nil
	child.samples = nil
	child.pending = 0
	for _, grandchild := range child.children {
		grandchild.Lock()
		grandchild.samples = nil
		grandchild.Unlock()
	}
	child.Unlock()
}

// iterate distributes an episode budget across the iteration pipelines:
// a closed task channel drained by workers. Episode seeds are drawn up
// front so a single pipeline replays identically.
func (m *MCTS) iterate(ctx context.Context, episodes int, exploration float64) error {
	task := make(chan uint64, episodes)
	m.mu.Lock()
	for i := 0; i < episodes; i++ {
		task <- m.rng.Uint64()
	}
	m.mu.Unlock()
	close(task)

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	done := make(chan struct{})
	abort := func(err error) {
		once.Do(func() {
			firstErr = err
			close(done)
		})
	}

	for i := 0; i < m.goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seed := range task {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				default:
				}
				if err := m.episode(seed, exploration); err != nil {
					abort(err)
					return
				}
				m.collector.AddEpisode()
			}
		}()
	}
	wg.Wait()

	return firstErr
}

// countdown runs iteration pipelines until the wall clock expires.
func (m *MCTS) countdown(ctx context.Context, duration time.Duration, exploration float64) error {
	start := time.Now()

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	done := make(chan struct{})
	abort := func(err error) {
		once.Do(func() {
			firstErr = err
			close(done)
		})
	}

	for i := 0; i < m.goroutines; i++ {
		m.mu.Lock()
		seed := m.rng.Uint64()
		m.mu.Unlock()

		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			wrng := rand.New(rand.NewSource(seed))
			for time.Since(start) < duration {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				default:
				}
				if err := m.episode(wrng.Uint64(), exploration); err != nil {
					abort(err)
					return
				}
				m.collector.AddEpisode()
			}
		}(seed)
	}
	wg.Wait()

	return firstErr
}

// episode is one pass of the four-phase loop: select to a frontier node,
// expand it, simulate the rollout batch, backpropagate the aggregate.
func (m *MCTS) episode(seed uint64, exploration float64) error {
	rng := rand.New(rand.NewSource(seed))

	leaf, err := m.selectThenExpand(exploration)
	if err != nil {
		// Expansion failures abort the search: the tree cannot grow further
		// along this path. Statistics already backpropagated remain valid.
		return err
	}

	batch := m.simulateBatch(leaf, rng)
	backup(leaf, batch)

	m.collector.AddRollouts(batch.count)
	m.collector.AddFailedRollouts(batch.failed)
	m.collector.AddFullRollouts(batch.full)
	return nil
}

// selectThenExpand walks the UCT path from the root to a node that either
// expands a new child or is terminal.
func (m *MCTS) selectThenExpand(exploration float64) (*node, error) {
	n := m.root
	for {
		child, expanded, err := n.selectOrExpand(m.evaluator, exploration, m.riskLambda)
		if err != nil {
			return nil, err
		}
		if expanded || child == n {
			return child, nil
		}
		n = child
	}
}
