package domain

import "math"

// NormalCDF is P(X < x) for X ~ N(mean, std).
func NormalCDF(x, mean, std float64) float64 {
	if math.IsInf(x, -1) {
		return 0
	}
	if math.IsInf(x, 1) {
		return 1
	}
	if std <= 0 {
		if x > mean {
			return 1
		}
		return 0
	}
	return 0.5 * (1 + math.Erf((x-mean)/(std*math.Sqrt2)))
}

// BracketProbability integrates the estimate over [Floor, Cap). Open-ended
// brackets take the whole tail.
func BracketProbability(est DistributionEstimate, b Bracket) float64 {
	p := NormalCDF(b.Cap, est.Mean, est.StdDev) - NormalCDF(b.Floor, est.Mean, est.StdDev)
	return math.Max(0, math.Min(1, p))
}

// Clamp bounds p to [lo, hi].
func Clamp(p, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, p))
}
