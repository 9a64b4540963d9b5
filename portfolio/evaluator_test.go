package portfolio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"alloc/decision"
)

func TestNewEvaluator(t *testing.T) {
	t.Run("rejecting an invalid scenario", func(t *testing.T) {
		scenario := twoAssetScenario()
		scenario.Budget = 0

		_, err := NewEvaluator(scenario, 1)

		require.Error(t, err)
	})

	t.Run("accepting a valid scenario", func(t *testing.T) {
		evaluator, err := NewEvaluator(twoAssetScenario(), 1)

		require.NoError(t, err)
		require.Equal(t, "test", evaluator.Scenario().Name)
	})
}

func TestLegalActions(t *testing.T) {
	evaluator, err := NewEvaluator(twoAssetScenario(), 1)
	require.NoError(t, err)

	t.Run("enumerating holds then affordable allocations in order", func(t *testing.T) {
		// Budget 25 at unit cost 10 affords at most 2 units per asset.
		actions, err := evaluator.LegalActions(NewState(evaluator.Scenario()))

		require.NoError(t, err)
		require.Equal(t, []decision.Action{
			Hold{},
			Allocate{Asset: 0, Name: "bonds", Units: 1},
			Allocate{Asset: 0, Name: "bonds", Units: 2},
			Allocate{Asset: 1, Name: "equities", Units: 1},
			Allocate{Asset: 1, Name: "equities", Units: 2},
		}, actions, "Discovery order must be deterministic: hold, then assets by unit count")
	})

	t.Run("offering only holds when nothing is affordable", func(t *testing.T) {
		state := &State{Budget: 5, Holdings: []int{0, 0}}

		actions, err := evaluator.LegalActions(state)

		require.NoError(t, err)
		require.Equal(t, []decision.Action{Hold{}}, actions)
	})

	t.Run("rejecting a foreign state type", func(t *testing.T) {
		_, err := evaluator.LegalActions(foreignState{})

		require.Error(t, err)
	})
}

func TestApply(t *testing.T) {
	evaluator, err := NewEvaluator(twoAssetScenario(), 1)
	require.NoError(t, err)
	initial := NewState(evaluator.Scenario())

	t.Run("holding advances the step without spending", func(t *testing.T) {
		next, reward, err := evaluator.Apply(initial, Hold{})

		require.NoError(t, err)
		require.Equal(t, 0.0, reward)
		state := next.(*State)
		require.Equal(t, 25.0, state.Budget)
		require.Equal(t, 1, state.Step)
		require.Zero(t, initial.Step, "Apply must not mutate the input state")
	})

	t.Run("allocating spends budget and books holdings", func(t *testing.T) {
		next, reward, err := evaluator.Apply(initial, Allocate{Asset: 0, Name: "bonds", Units: 2})

		require.NoError(t, err)
		state := next.(*State)
		require.Equal(t, 5.0, state.Budget)
		require.Equal(t, []int{2, 0}, state.Holdings)
		require.Equal(t, 1, state.Step)
		// Zero volatility: the sampled return collapses to the drift and the
		// variance penalty vanishes.
		require.InDelta(t, 20*0.02, reward, 1e-12)
		require.Equal(t, []int{0, 0}, initial.Holdings, "Apply must not mutate the input state")
	})

	t.Run("sampling volatile returns per application", func(t *testing.T) {
		action := Allocate{Asset: 1, Name: "equities", Units: 1}

		_, first, err := evaluator.Apply(initial, action)
		require.NoError(t, err)
		_, second, err := evaluator.Apply(initial, action)
		require.NoError(t, err)

		require.NotEqual(t, first, second, "Repeated applications should draw fresh returns")
	})

	t.Run("rejecting an unaffordable allocation", func(t *testing.T) {
		_, _, err := evaluator.Apply(initial, Allocate{Asset: 0, Name: "bonds", Units: 3})

		require.Error(t, err)
		require.Contains(t, err.Error(), "insufficient budget")
	})

	t.Run("rejecting an unknown asset", func(t *testing.T) {
		_, _, err := evaluator.Apply(initial, Allocate{Asset: 5, Name: "ghost", Units: 1})

		require.Error(t, err)
	})

	t.Run("rejecting a foreign action type", func(t *testing.T) {
		_, _, err := evaluator.Apply(initial, foreignAction{})

		require.Error(t, err)
	})
}

func TestIsTerminal(t *testing.T) {
	evaluator, err := NewEvaluator(twoAssetScenario(), 1)
	require.NoError(t, err)

	t.Run("terminating at the horizon", func(t *testing.T) {
		require.True(t, evaluator.IsTerminal(&State{Budget: 25, Step: 4, Holdings: []int{0, 0}}))
	})

	t.Run("terminating on a depleted budget", func(t *testing.T) {
		require.True(t, evaluator.IsTerminal(&State{Budget: 0, Step: 1, Holdings: []int{0, 0}}))
	})

	t.Run("continuing otherwise", func(t *testing.T) {
		require.False(t, evaluator.IsTerminal(&State{Budget: 25, Step: 3, Holdings: []int{0, 0}}))
	})
}

func TestTerminalReward(t *testing.T) {
	evaluator, err := NewEvaluator(twoAssetScenario(), 1)
	require.NoError(t, err)

	t.Run("valuing leftover budget at the liquidity premium", func(t *testing.T) {
		reward := evaluator.TerminalReward(&State{Budget: 25, Step: 4, Holdings: []int{0, 0}})

		require.InDelta(t, 25*liquidityPremium, reward, 1e-12)
	})

	t.Run("valuing a foreign state at zero", func(t *testing.T) {
		require.Zero(t, evaluator.TerminalReward(foreignState{}))
	})
}

type foreignState struct{}

func (foreignState) Hash() decision.StateHash { return 0 }

type foreignAction struct{}

func (foreignAction) String() string { return "foreign" }
