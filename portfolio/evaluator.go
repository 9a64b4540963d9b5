package portfolio

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"

	"alloc/decision"
)

// liquidityPremium values unallocated budget at terminal states: a mild
// preference for keeping dry powder over forced allocation.
const liquidityPremium = 0.001

// Evaluator implements decision.Evaluator for a Scenario. Returns are
// sampled per Apply call, so repeated applications of the same action yield
// different successors. Safe for concurrent use.
type Evaluator struct {
	scenario Scenario

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEvaluator builds an evaluator with a seeded return stream.
func NewEvaluator(scenario Scenario, seed uint64) (*Evaluator, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		scenario: scenario,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Scenario returns the scenario this evaluator prices.
func (e *Evaluator) Scenario() Scenario {
	return e.scenario
}

// LegalActions enumerates holds and affordable allocations in a fixed
// order: hold first, then per asset in scenario order, unit counts
// ascending. The order is the engine's action discovery order.
func (e *Evaluator) LegalActions(state decision.State) ([]decision.Action, error) {
	s, err := e.cast(state)
	if err != nil {
		return nil, err
	}

	actions := []decision.Action{Hold{}}
	for i, asset := range e.scenario.Assets {
		for units := 1; units <= e.scenario.MaxUnitsPerStep; units++ {
			if float64(units)*e.scenario.UnitCost > s.Budget {
				break
			}
			actions = append(actions, Allocate{Asset: i, Name: asset.Name, Units: units})
		}
	}
	return actions, nil
}

// Apply plays one step. Allocation rewards are the sampled monetary return
// of the committed capital, shaved by a variance penalty scaled to the
// scenario's risk aversion.
func (e *Evaluator) Apply(state decision.State, action decision.Action) (decision.State, float64, error) {
	s, err := e.cast(state)
	if err != nil {
		return nil, 0, err
	}

	switch a := action.(type) {
	case Hold:
		next := s.copy()
		next.Step++
		return next, 0, nil

	case Allocate:
		if a.Asset < 0 || a.Asset >= len(e.scenario.Assets) {
			return nil, 0, fmt.Errorf("unknown asset index %d", a.Asset)
		}
		cost := float64(a.Units) * e.scenario.UnitCost
		if cost > s.Budget {
			return nil, 0, fmt.Errorf("insufficient budget %.2f for %s", s.Budget, a)
		}

		asset := e.scenario.Assets[a.Asset]
		sampled := asset.Drift + asset.Volatility*e.normFloat64()
		reward := cost * sampled
		reward -= (1 - e.scenario.RiskTolerance) * cost * asset.Volatility * asset.Volatility

		next := s.copy()
		next.Budget -= cost
		next.Holdings[a.Asset] += a.Units
		next.Step++
		return next, reward, nil

	default:
		return nil, 0, fmt.Errorf("unexpected action type %T", action)
	}
}

// IsTerminal reports horizon exhaustion or a depleted budget.
func (e *Evaluator) IsTerminal(state decision.State) bool {
	s, err := e.cast(state)
	if err != nil {
		return false
	}
	return s.Step >= e.scenario.Horizon || s.Budget <= 0
}

// TerminalReward values the remaining budget at the liquidity premium.
func (e *Evaluator) TerminalReward(state decision.State) float64 {
	s, err := e.cast(state)
	if err != nil {
		return 0
	}
	return s.Budget * liquidityPremium
}

func (e *Evaluator) cast(state decision.State) (*State, error) {
	s, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", state)
	}
	return s, nil
}

func (e *Evaluator) normFloat64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.NormFloat64()
}
