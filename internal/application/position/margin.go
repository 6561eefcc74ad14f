package position

import (
	"math"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Margin classifies how close a position is to losing.
type Margin string

const (
	MarginDanger Margin = "DANGER" // estimate already in the losing region
	MarginEdge   Margin = "EDGE"   // running extreme within 2°F of a boundary
	MarginTight  Margin = "TIGHT"
	MarginWatch  Margin = "WATCH"
	MarginSafe   Margin = "SAFE"
)

// Distance is the °F between mean and the boundary where the position starts
// losing. Negative or zero means mean already sits in the losing region.
func Distance(p *domain.Position, mean float64) float64 {
	b := p.Bracket
	inside := b.Contains(mean)
	toEdge := math.Min(mean-b.Floor, b.Cap-mean)
	if p.Side == domain.SideYes {
		if inside {
			return toEdge
		}
		if mean < b.Floor {
			return mean - b.Floor
		}
		return b.Cap - mean
	}
	if inside {
		return -toEdge
	}
	if mean < b.Floor {
		return b.Floor - mean
	}
	return mean - b.Cap
}

// Classify grades a position from the current estimate and, on the target
// day, the running extreme.
func Classify(p *domain.Position, mean float64, running *float64) Margin {
	d := Distance(p, mean)
	if d <= 0 {
		return MarginDanger
	}
	if running != nil && nearestBoundary(p.Bracket, *running) <= 2 {
		return MarginEdge
	}
	switch {
	case d <= 2:
		return MarginTight
	case d <= 3:
		return MarginWatch
	}
	return MarginSafe
}

func nearestBoundary(b domain.Bracket, v float64) float64 {
	d := math.Inf(1)
	if !b.OpenLow() {
		d = math.Abs(v - b.Floor)
	}
	if !b.OpenHigh() {
		d = math.Min(d, math.Abs(v-b.Cap))
	}
	return d
}
