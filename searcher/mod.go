package searcher

import (
	"fmt"
	"math"
)

// Default hyperparameters. All are overridable through Options; these are
// conventional choices, not tuned constants.
const (
	DefaultExploration = math.Sqrt2
	DefaultBatchSize   = 256
	DefaultCutoff      = 64
	DefaultPercentile  = 5.0
)

// zScore for the 95% confidence interval reported on node means.
const zScore = 1.96

// Criterion selects how the best root action is chosen once the search
// budget is exhausted.
type Criterion int

const (
	// RobustChild reports the most visited root child. Less sensitive to
	// reward-estimate noise than the raw mean, so it is the default.
	RobustChild Criterion = iota
	// GreedyChild reports the root child with the highest mean reward.
	GreedyChild
	// ConservativeChild reports the root child with the highest lower
	// confidence bound on its mean reward.
	ConservativeChild
)

func (c Criterion) String() string {
	switch c {
	case GreedyChild:
		return "greedy"
	case ConservativeChild:
		return "conservative"
	default:
		return "robust"
	}
}

// ParseCriterion maps a configuration string to a Criterion.
func ParseCriterion(s string) (Criterion, error) {
	switch s {
	case "", "robust":
		return RobustChild, nil
	case "greedy":
		return GreedyChild, nil
	case "conservative":
		return ConservativeChild, nil
	default:
		return RobustChild, fmt.Errorf("unknown best-action criterion %q", s)
	}
}
