package searcher

import "math"

// uct scores a child for selection:
//
//	mean + C * sqrt(ln(N)/n) * (1 - lambda*risk)
//
// Unvisited children score +Inf so every child is tried once before the
// comparison is meaningful. lambda in [0,1] scales down the exploration term
// on high-variance children; lambda 0 is plain UCT.
func uct(mean, stddev float64, visits int64, lnParent, c, lambda float64) float64 {
	if visits == 0 {
		return math.Inf(1)
	}

	explore := c * math.Sqrt(lnParent/float64(visits))
	if lambda > 0 {
		explore *= 1 - lambda*riskScore(mean, stddev)
	}
	return mean + explore
}

// riskScore maps the empirical reward spread to [0,1]. The spread is taken
// relative to the mean's magnitude so the score is insensitive to the
// reward scale.
func riskScore(mean, stddev float64) float64 {
	r := stddev / (1 + math.Abs(mean))
	if r > 1 {
		return 1
	}
	return r
}

// lcb is the lower bound of the 95% confidence interval on a node's mean
// reward. Callers must guard visits >= 2.
func lcb(mean, variance float64, visits int64) float64 {
	return mean - zScore*math.Sqrt(variance/float64(visits))
}
