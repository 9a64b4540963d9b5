package searcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func observe(c *Controller, means ...float64) {
	for _, mean := range means {
		c.Observe(mean)
	}
}

func TestControllerTune(t *testing.T) {
	t.Run("holding parameters before two full windows", func(t *testing.T) {
		c := NewController(WithWindow(3))
		observe(c, 10, 10, 10, 1, 1)

		episodes, exploration := c.Tune(100, 1.0)

		require.Equal(t, 100, episodes, "Five observations cannot fill two windows of three")
		require.Equal(t, 1.0, exploration)
	})

	t.Run("growing budget and exploration on a decline", func(t *testing.T) {
		c := NewController(WithWindow(3))
		observe(c, 10, 10, 10, 5, 5, 5)

		episodes, exploration := c.Tune(100, 1.0)

		require.Equal(t, 120, episodes)
		require.InDelta(t, 1.1, exploration, 1e-12)
	})

	t.Run("holding parameters while performance improves", func(t *testing.T) {
		c := NewController(WithWindow(3))
		observe(c, 5, 5, 5, 10, 10, 10)

		episodes, exploration := c.Tune(100, 1.0)

		require.Equal(t, 100, episodes)
		require.Equal(t, 1.0, exploration)
	})

	t.Run("tolerating declines within the threshold", func(t *testing.T) {
		c := NewController(WithWindow(3), WithDeclineThreshold(0.05))
		observe(c, 10, 10, 10, 9.8, 9.8, 9.8) // a 2% dip

		episodes, exploration := c.Tune(100, 1.0)

		require.Equal(t, 100, episodes)
		require.Equal(t, 1.0, exploration)
	})

	t.Run("applying custom growth factors", func(t *testing.T) {
		c := NewController(WithWindow(2), WithExplorationFactor(2), WithBudgetFactor(3))
		observe(c, 10, 10, 1, 1)

		episodes, exploration := c.Tune(100, 1.0)

		require.Equal(t, 300, episodes)
		require.Equal(t, 2.0, exploration)
	})

	t.Run("handling declines around a negative prior", func(t *testing.T) {
		c := NewController(WithWindow(2))
		observe(c, -1, -1, -2, -2)

		episodes, _ := c.Tune(100, 1.0)

		require.Equal(t, 120, episodes, "The decline margin should scale with the prior's magnitude")
	})
}

func TestControllerReset(t *testing.T) {
	c := NewController(WithWindow(2))
	observe(c, 10, 10, 1, 1)

	c.Reset()
	episodes, exploration := c.Tune(100, 1.0)

	require.Equal(t, 100, episodes, "Reset should clear the rolling window")
	require.Equal(t, 1.0, exploration)
}

func TestControllerWindowCap(t *testing.T) {
	c := NewController(WithWindow(3))
	for i := 0; i < 100; i++ {
		c.Observe(float64(i))
	}

	require.Len(t, c.history, 6, "History should hold at most two windows")
	require.Equal(t, 94.0, c.history[0], "The oldest observations should age out")
}
