package portfolio

import (
	"fmt"
	"sort"

	"alloc/searcher"
)

// Recommendations renders a search result as ranked plain-text suggestions
// for the caller, best mean return first, with downside warnings on actions
// whose tail percentile is negative.
func Recommendations(result *searcher.SearchResult) []string {
	if result.Terminal {
		return []string{fmt.Sprintf("No actions available; terminal value %.2f", result.TerminalReward)}
	}

	ranked := make([]searcher.ActionStats, len(result.Actions))
	copy(ranked, result.Actions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Mean > ranked[j].Mean
	})

	lines := make([]string, 0, len(ranked)+1)
	lines = append(lines, fmt.Sprintf("Best action by %s criterion: %s", result.Criterion, result.BestAction))
	for _, stats := range ranked {
		line := fmt.Sprintf("%s: mean return %.2f", stats.Action, stats.Mean)
		if stats.Bound.Valid {
			line += fmt.Sprintf(", 95%% CI [%.2f, %.2f]", stats.Bound.Lower, stats.Bound.Upper)
		}
		if len(stats.Returns) > 0 && stats.VaR < 0 {
			line += fmt.Sprintf("; downside: %.0fth percentile return %.2f, tail mean %.2f",
				result.Percentile, stats.VaR, stats.CVaR)
		}
		lines = append(lines, line)
	}
	return lines
}

// SharpeRatio is the risk-adjusted return of one action's reward
// distribution. Zero when the distribution is degenerate.
func SharpeRatio(stats searcher.ActionStats) float64 {
	if stats.StdDev == 0 {
		return 0
	}
	return stats.Mean / stats.StdDev
}
