package searcher

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// Controller defaults. The decline threshold and growth factors mirror the
// conventional negative-feedback settings; they are knobs, not mandates.
const (
	DefaultWindow            = 10
	DefaultDeclineThreshold  = 0.05
	DefaultExplorationFactor = 1.1
	DefaultBudgetFactor      = 1.2
)

// ControllerOption configures a Controller at construction.
type ControllerOption func(c *Controller)

// WithWindow sets the rolling window length (completed searches).
func WithWindow(window int) ControllerOption {
	return func(c *Controller) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithDeclineThreshold sets the relative drop between the prior and recent
// window averages that counts as a performance decline.
func WithDeclineThreshold(threshold float64) ControllerOption {
	return func(c *Controller) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithExplorationFactor sets the multiplier applied to the exploration
// constant after a decline.
func WithExplorationFactor(factor float64) ControllerOption {
	return func(c *Controller) {
		if factor > 1 {
			c.explorationFactor = factor
		}
	}
}

// WithBudgetFactor sets the multiplier applied to the episode budget after
// a decline.
func WithBudgetFactor(factor float64) ControllerOption {
	return func(c *Controller) {
		if factor > 1 {
			c.budgetFactor = factor
		}
	}
}

// Controller is a negative-feedback tuner, not a formal optimizer: when the
// rolling average of recent search outcomes declines against the prior
// window, the next search explores harder with a bigger budget. It never
// touches a tree mid-search, only the parameters of the next Search call.
// State persists across searches until Reset.
type Controller struct {
	mu                sync.Mutex
	window            int
	threshold         float64
	explorationFactor float64
	budgetFactor      float64
	history           []float64
}

// NewController builds a controller with the default window and factors.
func NewController(options ...ControllerOption) *Controller {
	c := &Controller{
		window:            DefaultWindow,
		threshold:         DefaultDeclineThreshold,
		explorationFactor: DefaultExplorationFactor,
		budgetFactor:      DefaultBudgetFactor,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Observe records the best mean reward realized by a completed search.
func (c *Controller) Observe(mean float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, mean)
	if max := 2 * c.window; len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}
}

// Tune returns the episode budget and exploration constant for the next
// search, grown when the recent window underperforms the prior one.
func (c *Controller) Tune(episodes int, exploration float64) (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.declined() {
		return episodes, exploration
	}

	tunedEpisodes := int(float64(episodes) * c.budgetFactor)
	tunedExploration := exploration * c.explorationFactor
	log.Info().
		Int("episodes", tunedEpisodes).
		Float64("exploration", tunedExploration).
		Msg("performance decline: retuning search parameters")
	return tunedEpisodes, tunedExploration
}

// Reset clears the rolling window.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// declined compares the last window's average against the window before it.
// Callers hold c.mu.
func (c *Controller) declined() bool {
	if len(c.history) < 2*c.window {
		return false
	}

	recent := average(c.history[len(c.history)-c.window:])
	prior := average(c.history[len(c.history)-2*c.window : len(c.history)-c.window])

	margin := c.threshold * math.Abs(prior)
	return recent < prior-margin
}

func average(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
