package searcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"alloc/decision"
)

/**
Tests the engine end to end:
- configuration: each invalid parameter -> ConfigurationError naming the field
- terminal root: short-circuit result, LegalActions never queried
- accounting: root visits == episodes * batch, children partition the root,
  pending visits fully drained after a concurrent search
- determinism: same seed + single pipeline -> identical report
- budgets: cancelled context -> ErrDeadlineExceeded; duration budget runs out
- failures: expansion error aborts the search
- reuse: Advance promotes a searched subtree, unknown states drop the tree
- risk: safe (certain 5) vs risky (uniform -10..30) venture -> risky most
  visited, negative tail percentile, CVaR <= VaR
- controller: decline retunes the next search's budget and exploration
*/

// chainEvaluator is a deterministic binary tree: state h branches to states
// 2h and 2h+1 with step reward 1, terminal at or past the limit.
type chainEvaluator struct {
	limit uint64
}

func (c chainEvaluator) LegalActions(decision.State) ([]decision.Action, error) {
	return []decision.Action{mockAction{id: 0}, mockAction{id: 1}}, nil
}

func (c chainEvaluator) Apply(state decision.State, action decision.Action) (decision.State, float64, error) {
	h := uint64(state.Hash())
	return mockState{hash: decision.StateHash(2*h + uint64(action.(mockAction).id))}, 1, nil
}

func (c chainEvaluator) IsTerminal(state decision.State) bool {
	return uint64(state.Hash()) >= c.limit
}

func TestSearchConfiguration(t *testing.T) {
	ev := chainEvaluator{limit: 16}

	tests := []struct {
		name   string
		engine *MCTS
		field  string
	}{
		{"rejecting a nil evaluator", NewMCTS(nil, 1, WithEpisodes(1)), "evaluator"},
		{"rejecting non-positive goroutines", NewMCTS(ev, 0, WithEpisodes(1)), "goroutines"},
		{"rejecting a missing budget", NewMCTS(ev, 1), "budget"},
		{"rejecting a non-positive batch size", NewMCTS(ev, 1, WithEpisodes(1), WithBatchSize(0)), "batch size"},
		{"rejecting a non-positive cutoff", NewMCTS(ev, 1, WithEpisodes(1), WithCutoff(0)), "rollout cutoff"},
		{"rejecting negative exploration", NewMCTS(ev, 1, WithEpisodes(1), WithExploration(-0.1)), "exploration constant"},
		{"rejecting out-of-range risk aversion", NewMCTS(ev, 1, WithEpisodes(1), WithRiskAversion(1.5)), "risk aversion"},
		{"rejecting an out-of-range percentile", NewMCTS(ev, 1, WithEpisodes(1), WithRiskPercentile(60)), "risk percentile"},
		{"rejecting non-positive rollout workers", NewMCTS(ev, 1, WithEpisodes(1), WithRolloutWorkers(0)), "rollout workers"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.engine.Search(context.Background(), mockState{hash: 1})

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr, "Invalid parameters should fail before any iteration")
			require.Equal(t, test.field, cfgErr.Field)
		})
	}
}

func TestSearchTerminalRoot(t *testing.T) {
	var legalCalls int
	ev := rewardingEvaluator{
		mockEvaluator: &mockEvaluator{
			legal: func(decision.State) ([]decision.Action, error) {
				legalCalls++
				return nil, nil
			},
			terminal: func(decision.State) bool { return true },
		},
		reward: func(decision.State) float64 { return 7 },
	}
	engine := NewMCTS(ev, 1, WithEpisodes(5))

	result, err := engine.Search(context.Background(), mockState{hash: 1})

	require.NoError(t, err)
	require.True(t, result.Terminal, "A terminal root should short-circuit")
	require.Equal(t, 7.0, result.TerminalReward)
	require.Nil(t, result.BestAction)
	require.Empty(t, result.Actions)
	require.Zero(t, legalCalls, "Terminal states must never be queried for legal actions")
}

func TestSearchVisitAccounting(t *testing.T) {
	const episodes, batch = 12, 8
	engine := NewMCTS(chainEvaluator{limit: 16}, 4,
		WithEpisodes(episodes),
		WithBatchSize(batch),
		WithSeed(5),
		WithMetrics(),
	)

	result, err := engine.Search(context.Background(), mockState{hash: 1})

	require.NoError(t, err)
	require.Equal(t, int64(episodes*batch), result.RootVisits,
		"Every rollout of every episode should reach the root")

	var childVisits int64
	for _, stats := range result.Actions {
		childVisits += stats.Visits
	}
	require.Equal(t, result.RootVisits, childVisits,
		"Each episode passes through exactly one root child")

	require.Equal(t, episodes, result.Metric.Episodes)
	require.Equal(t, int64(episodes*batch), result.Metric.Rollouts)
	require.Zero(t, result.Metric.FailedRollouts)
}

func TestSearchTreeConsistency(t *testing.T) {
	engine := NewMCTS(chainEvaluator{limit: 64}, 8,
		WithEpisodes(200),
		WithBatchSize(4),
		WithSeed(9),
	)

	_, err := engine.Search(context.Background(), mockState{hash: 1})
	require.NoError(t, err)

	// After all pipelines finish, every virtual loss must be reversed and
	// visit counts must be monotone down the tree.
	var check func(n *node)
	check = func(n *node) {
		n.RLock()
		visits := n.visits
		pending := n.pending
		children := make([]*node, len(n.children))
		copy(children, n.children)
		n.RUnlock()

		require.Zero(t, pending, "No pending visits may survive the search")

		var childVisits int64
		for _, child := range children {
			child.RLock()
			childVisits += child.visits
			child.RUnlock()
		}
		require.GreaterOrEqual(t, visits, childVisits,
			"A node's visits bound the sum of its children's")
		for _, child := range children {
			check(child)
		}
	}
	check(engine.root)
}

func TestSearchDeterminism(t *testing.T) {
	search := func() *SearchResult {
		engine := NewMCTS(chainEvaluator{limit: 32}, 1,
			WithEpisodes(50),
			WithBatchSize(16),
			WithSeed(1),
		)
		result, err := engine.Search(context.Background(), mockState{hash: 1})
		require.NoError(t, err)
		return result
	}

	first := search()
	second := search()

	require.Equal(t, first.BestAction, second.BestAction,
		"A seeded single-pipeline search should replay identically")
	require.Equal(t, first.RootVisits, second.RootVisits)
	require.Equal(t, first.Actions, second.Actions)
}

func TestSearchDeadline(t *testing.T) {
	engine := NewMCTS(chainEvaluator{limit: 16}, 2, WithEpisodes(100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Search(ctx, mockState{hash: 1})

	require.ErrorIs(t, err, ErrDeadlineExceeded,
		"A context cancelled before any episode should be reported as such")
}

func TestSearchDurationBudget(t *testing.T) {
	engine := NewMCTS(chainEvaluator{limit: 16}, 2,
		WithDuration(30*time.Millisecond),
		WithBatchSize(4),
	)

	result, err := engine.Search(context.Background(), mockState{hash: 1})

	require.NoError(t, err)
	require.Greater(t, result.RootVisits, int64(0), "The wall-clock budget should fit some episodes")
	require.GreaterOrEqual(t, result.Elapsed, 30*time.Millisecond)
}

func TestSearchExpansionFailure(t *testing.T) {
	ev := &mockEvaluator{
		legal: func(decision.State) ([]decision.Action, error) {
			return []decision.Action{mockAction{id: 1}}, nil
		},
		apply: func(decision.State, decision.Action) (decision.State, float64, error) {
			return nil, 0, context.DeadlineExceeded
		},
	}
	engine := NewMCTS(ev, 2, WithEpisodes(10), WithBatchSize(4))

	_, err := engine.Search(context.Background(), mockState{hash: 1})

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr, "A failed expansion should abort the search")
	require.NotNil(t, evalErr.Action, "The error should carry the failing action")
}

func TestAdvance(t *testing.T) {
	engine := NewMCTS(chainEvaluator{limit: 16}, 1,
		WithEpisodes(20),
		WithBatchSize(4),
		WithSeed(2),
	)
	ctx := context.Background()

	first, err := engine.Search(ctx, mockState{hash: 1})
	require.NoError(t, err)
	require.False(t, first.TreeReused, "The first search starts from scratch")

	t.Run("promoting a searched child", func(t *testing.T) {
		// State 2 is the successor of action-0 from state 1.
		require.True(t, engine.Advance(mockState{hash: 2}))

		result, err := engine.Search(ctx, mockState{hash: 2})
		require.NoError(t, err)
		require.True(t, result.TreeReused, "Statistics under the committed action should carry over")
	})

	t.Run("searching the same root again reuses the tree", func(t *testing.T) {
		result, err := engine.Search(ctx, mockState{hash: 2})
		require.NoError(t, err)
		require.True(t, result.TreeReused)
	})

	t.Run("dropping the tree on an unknown state", func(t *testing.T) {
		require.False(t, engine.Advance(mockState{hash: 999}))

		result, err := engine.Search(ctx, mockState{hash: 3})
		require.NoError(t, err)
		require.False(t, result.TreeReused, "An unmatched state should start a fresh tree")
	})
}

// ventureEvaluator is a one-shot choice between a certain payout of 5 and a
// venture paying uniform(-10, 30): higher mean, fat downside tail.
type ventureAction string

func (a ventureAction) String() string { return string(a) }

const (
	ventureRoot  decision.StateHash = 1
	ventureSafe  decision.StateHash = 2
	ventureRisky decision.StateHash = 3
)

type ventureEvaluator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (v *ventureEvaluator) LegalActions(decision.State) ([]decision.Action, error) {
	return []decision.Action{ventureAction("invest_safe"), ventureAction("invest_risky")}, nil
}

func (v *ventureEvaluator) Apply(_ decision.State, action decision.Action) (decision.State, float64, error) {
	if action.(ventureAction) == "invest_safe" {
		return mockState{hash: ventureSafe}, 0, nil
	}
	return mockState{hash: ventureRisky}, 0, nil
}

func (v *ventureEvaluator) IsTerminal(state decision.State) bool {
	return state.Hash() != ventureRoot
}

func (v *ventureEvaluator) TerminalReward(state decision.State) float64 {
	if state.Hash() == ventureSafe {
		return 5
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rng.Float64()*40 - 10
}

func TestSearchRiskProfile(t *testing.T) {
	ev := &ventureEvaluator{rng: rand.New(rand.NewSource(23))}
	engine := NewMCTS(ev, 4,
		WithEpisodes(300),
		WithBatchSize(64),
		WithSeed(11),
	)

	result, err := engine.Search(context.Background(), mockState{hash: ventureRoot})
	require.NoError(t, err)

	stats := make(map[string]ActionStats, len(result.Actions))
	for _, s := range result.Actions {
		stats[s.Action.String()] = s
	}
	safe, risky := stats["invest_safe"], stats["invest_risky"]

	require.Equal(t, "invest_risky", result.BestAction.String(),
		"The higher-mean venture should dominate the visits")
	require.Greater(t, risky.Visits, safe.Visits)

	require.Equal(t, 5.0, safe.Mean, "The certain payout has no estimation noise")
	require.Equal(t, 5.0, safe.VaR)
	require.Equal(t, 5.0, safe.CVaR)
	require.Equal(t, 0.0, safe.StdDev)

	require.InDelta(t, 10, risky.Mean, 0.5, "uniform(-10, 30) has mean 10")
	require.Less(t, risky.VaR, 0.0, "The 5th percentile of the venture is a loss")
	require.InDelta(t, -8, risky.VaR, 1.0)
	require.LessOrEqual(t, risky.CVaR, risky.VaR,
		"The expected tail loss cannot beat the tail threshold")
	require.True(t, risky.Bound.Valid)
	require.Less(t, risky.Bound.Lower, risky.Mean)
}

func TestSearchControllerRetuning(t *testing.T) {
	controller := NewController(WithWindow(1))
	controller.Observe(10)
	controller.Observe(1) // well past the decline threshold

	engine := NewMCTS(chainEvaluator{limit: 16}, 1,
		WithEpisodes(10),
		WithBatchSize(4),
		WithSeed(3),
		WithExploration(1),
		WithController(controller),
	)

	_, err := engine.Search(context.Background(), mockState{hash: 1})
	require.NoError(t, err)

	require.Equal(t, 12, engine.episodes, "A decline should grow the episode budget")
	require.InDelta(t, 1.1, engine.exploration, 1e-12, "A decline should grow the exploration constant")
	require.Len(t, controller.history, 3, "The search outcome should feed the rolling window")
}
