// Package portfolio is a sequential capital-allocation domain for the
// search engine: each step commits units of a budget to one asset whose
// return is stochastic, over a fixed horizon.
package portfolio

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"alloc/decision"
)

// Asset describes one investable instrument.
type Asset struct {
	Name       string
	Drift      float64 // expected per-step return per unit of capital
	Volatility float64 // stddev of the per-step return per unit of capital
}

// Scenario fixes the allocation problem the engine searches over.
type Scenario struct {
	Name            string
	Assets          []Asset
	Budget          float64
	Horizon         int
	UnitCost        float64 // capital committed per allocation unit
	MaxUnitsPerStep int
	RiskTolerance   float64 // in [0,1]; lower values penalize volatile assets harder
}

// Validate reports the first structural problem with the scenario.
func (s Scenario) Validate() error {
	switch {
	case len(s.Assets) == 0:
		return fmt.Errorf("scenario %q: at least one asset is required", s.Name)
	case s.Budget <= 0:
		return fmt.Errorf("scenario %q: budget must be positive", s.Name)
	case s.Horizon <= 0:
		return fmt.Errorf("scenario %q: horizon must be positive", s.Name)
	case s.UnitCost <= 0:
		return fmt.Errorf("scenario %q: unit cost must be positive", s.Name)
	case s.MaxUnitsPerStep <= 0:
		return fmt.Errorf("scenario %q: max units per step must be positive", s.Name)
	case s.RiskTolerance < 0 || s.RiskTolerance > 1:
		return fmt.Errorf("scenario %q: risk tolerance must be in [0,1]", s.Name)
	}
	for _, asset := range s.Assets {
		if asset.Name == "" {
			return fmt.Errorf("scenario %q: assets must be named", s.Name)
		}
		if asset.Volatility < 0 {
			return fmt.Errorf("scenario %q: asset %q volatility must not be negative", s.Name, asset.Name)
		}
	}
	return nil
}

// State is an immutable snapshot of the allocation: remaining budget, units
// held per asset, elapsed steps. Successors are produced only by
// Evaluator.Apply; nothing mutates a State in place.
type State struct {
	Budget   float64
	Step     int
	Holdings []int // units held, indexed like Scenario.Assets
}

// NewState is the initial state for a scenario: full budget, empty book.
func NewState(scenario Scenario) *State {
	return &State{
		Budget:   scenario.Budget,
		Holdings: make([]int, len(scenario.Assets)),
	}
}

func (s *State) copy() *State {
	holdings := make([]int, len(s.Holdings))
	copy(holdings, s.Holdings)
	return &State{Budget: s.Budget, Step: s.Step, Holdings: holdings}
}

// Hash identifies the state by value over budget, step, and holdings.
func (s *State) Hash() decision.StateHash {
	h := fnv.New64a()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s.Budget))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(s.Step))
	h.Write(buf[:])
	for _, units := range s.Holdings {
		binary.LittleEndian.PutUint64(buf[:], uint64(units))
		h.Write(buf[:])
	}
	return decision.StateHash(h.Sum64())
}

// Allocate commits units of capital to one asset for the current step.
type Allocate struct {
	Asset int
	Name  string
	Units int
}

func (a Allocate) String() string {
	return fmt.Sprintf("allocate %d units to %s", a.Units, a.Name)
}

// Hold leaves the remaining budget uninvested for one step.
type Hold struct{}

func (Hold) String() string { return "hold" }
