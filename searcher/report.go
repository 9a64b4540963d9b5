package searcher

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"alloc/decision"
	"alloc/experiments/metrics"
)

// Interval is a 95% confidence interval on a mean reward. Valid is false
// when fewer than two visits back the estimate.
type Interval struct {
	Lower float64
	Upper float64
	Valid bool
}

// ActionStats summarizes the reward distribution observed under one root
// action.
type ActionStats struct {
	Action  decision.Action
	Visits  int64
	Mean    float64
	StdDev  float64
	Bound   Interval
	VaR     float64 // empirical lower-tail percentile of rollout returns
	CVaR    float64 // mean of returns at or below VaR
	Returns []float64 // individual rollout returns backing VaR/CVaR; empty means not computable
}

// SearchResult is the engine's report for one Search call: the best root
// action under the configured criterion plus per-action risk statistics.
type SearchResult struct {
	ID             string
	BestAction     decision.Action // nil when the root was terminal
	Criterion      Criterion
	Percentile     float64
	Terminal       bool
	TerminalReward float64
	RootVisits     int64
	Elapsed        time.Duration
	TreeReused     bool
	Best           ActionStats
	Actions        []ActionStats // root children in discovery order
	Metric         metrics.SearchMetric
}

// synthesize post-processes the final tree into the ranked action report.
// It fails with ErrInsufficientSearch rather than fabricating statistics for
// an unvisited root.
func synthesize(root *node, criterion Criterion, percentile float64, elapsed time.Duration) (*SearchResult, error) {
	rootVisits, _, _, _ := root.snapshot()
	if rootVisits == 0 {
		return nil, ErrInsufficientSearch
	}

	root.RLock()
	children := make([]*node, len(root.children))
	copy(children, root.children)
	root.RUnlock()

	result := &SearchResult{
		ID:         uuid.NewString(),
		Criterion:  criterion,
		Percentile: percentile,
		RootVisits: rootVisits,
		Elapsed:    elapsed,
		Actions:    make([]ActionStats, 0, len(children)),
	}

	best := root.bestChild(criterion)
	for _, child := range children {
		stats := actionStats(child, percentile)
		result.Actions = append(result.Actions, stats)
		if child == best {
			result.BestAction = stats.Action
			result.Best = stats
		}
	}
	return result, nil
}

func actionStats(n *node, percentile float64) ActionStats {
	visits, mean, variance, samples := n.snapshot()

	stats := ActionStats{
		Action:  n.action,
		Visits:  visits,
		Mean:    mean,
		StdDev:  math.Sqrt(variance),
		Returns: samples,
	}
	if visits >= 2 {
		radius := zScore * math.Sqrt(variance/float64(visits))
		stats.Bound = Interval{Lower: mean - radius, Upper: mean + radius, Valid: true}
	}
	if len(samples) > 0 {
		stats.VaR = valueAtRisk(samples, percentile)
		stats.CVaR = conditionalValueAtRisk(samples, stats.VaR)
	}
	return stats
}

// terminalResult is the report for a search rooted at a terminal state:
// zero children, the terminal reward, nothing searched.
func terminalResult(criterion Criterion, percentile, reward float64) *SearchResult {
	return &SearchResult{
		ID:             uuid.NewString(),
		Criterion:      criterion,
		Percentile:     percentile,
		Terminal:       true,
		TerminalReward: reward,
	}
}

// valueAtRisk returns the empirical p-th percentile of samples (lower
// tail). samples must be non-empty.
func valueAtRisk(samples []float64, p float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// conditionalValueAtRisk is the mean of samples at or below the VaR
// threshold: the expected return given a tail outcome.
func conditionalValueAtRisk(samples []float64, threshold float64) float64 {
	var sum float64
	var count int
	for _, s := range samples {
		if s <= threshold {
			sum += s
			count++
		}
	}
	if count == 0 {
		return threshold
	}
	return sum / float64(count)
}
