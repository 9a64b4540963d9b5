package portfolio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"alloc/searcher"
)

func TestRecommendations(t *testing.T) {
	t.Run("reporting the terminal value when nothing is actionable", func(t *testing.T) {
		result := &searcher.SearchResult{Terminal: true, TerminalReward: 1.5}

		lines := Recommendations(result)

		require.Len(t, lines, 1)
		require.Contains(t, lines[0], "No actions available")
		require.Contains(t, lines[0], "1.50")
	})

	t.Run("ranking actions by mean with downside warnings", func(t *testing.T) {
		hold := searcher.ActionStats{Action: Hold{}, Mean: 0.5}
		invest := searcher.ActionStats{
			Action:  Allocate{Asset: 1, Name: "equities", Units: 2},
			Mean:    2.1,
			Bound:   searcher.Interval{Lower: 1.8, Upper: 2.4, Valid: true},
			VaR:     -3.2,
			CVaR:    -4.1,
			Returns: []float64{-4.1, -3.2, 2.1, 8.4},
		}
		result := &searcher.SearchResult{
			BestAction: invest.Action,
			Criterion:  searcher.RobustChild,
			Percentile: 5,
			Best:       invest,
			Actions:    []searcher.ActionStats{hold, invest},
		}

		lines := Recommendations(result)

		require.Len(t, lines, 3)
		require.Contains(t, lines[0], "robust")
		require.Contains(t, lines[0], invest.Action.String())
		require.Contains(t, lines[1], "allocate 2 units to equities", "Higher mean should rank first")
		require.Contains(t, lines[1], "95% CI [1.80, 2.40]")
		require.Contains(t, lines[1], "downside")
		require.Contains(t, lines[1], "-3.20")
		require.Contains(t, lines[2], "hold")
		require.NotContains(t, lines[2], "downside", "Actions without a negative tail carry no warning")
	})
}

func TestSharpeRatio(t *testing.T) {
	t.Run("dividing mean by spread", func(t *testing.T) {
		require.InDelta(t, 1.25, SharpeRatio(searcher.ActionStats{Mean: 2.5, StdDev: 2}), 1e-12)
	})

	t.Run("degenerating to zero without spread", func(t *testing.T) {
		require.Zero(t, SharpeRatio(searcher.ActionStats{Mean: 2.5}))
	})
}
