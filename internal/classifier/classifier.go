package classifier

import "math"

// MarketType identifies which betting market a snapshot or movement belongs to.
type MarketType string

const (
	MarketH2H     MarketType = "h2h"
	MarketSpreads MarketType = "spreads"
	MarketTotals  MarketType = "totals"
)

// MovementType classifies how a line moved between two snapshots.
type MovementType string

const (
	MovementNormal MovementType = "normal"
	MovementSteam  MovementType = "steam"
	MovementSharp  MovementType = "sharp"
	// MovementReverse is reserved for reverse line movement. Deriving it
	// requires public-betting-percentage data we do not ingest, so the
	// classifier never emits it; it remains a valid stored value.
	MovementReverse MovementType = "reverse"
)

// Magnitude buckets the size of a movement.
type Magnitude string

const (
	MagnitudeMinor       Magnitude = "minor"
	MagnitudeModerate    Magnitude = "moderate"
	MagnitudeSignificant Magnitude = "significant"
	MagnitudeMajor       Magnitude = "major"
)

// scale holds the classification thresholds for one market family.
// Point markets (spreads, totals) move in half-point increments; moneyline
// markets move in American odds points, so their thresholds sit on a
// different scale entirely.
type scale struct {
	gate        float64 // minimum |delta| to count as a movement at all
	steam       float64
	sharp       float64
	moderate    float64
	significant float64
	major       float64
}

var pointScale = scale{
	gate:        0.5,
	steam:       1,
	sharp:       2,
	moderate:    1,
	significant: 2,
	major:       3,
}

var oddsScale = scale{
	gate:        10,
	steam:       25,
	sharp:       50,
	moderate:    25,
	significant: 50,
	major:       75,
}

// Result describes a qualifying line movement between two snapshot values.
type Result struct {
	Delta     float64
	Type      MovementType
	Magnitude Magnitude
}

// Gate returns the minimum absolute change that counts as a movement for the
// given market.
func Gate(market MarketType) float64 {
	return scaleFor(market).gate
}

// Classify compares two consecutive values of the same line and decides
// whether the change qualifies as a movement. Both values must be present and
// finite; callers skip absent fields before calling. The second return value
// is false when the change is below the market's minimum-move gate.
func Classify(market MarketType, previous, newValue float64) (Result, bool) {
	delta := newValue - previous
	abs := math.Abs(delta)

	s := scaleFor(market)
	if abs < s.gate {
		return Result{}, false
	}

	res := Result{
		Delta:     delta,
		Type:      MovementNormal,
		Magnitude: MagnitudeMinor,
	}

	switch {
	case abs >= s.sharp:
		res.Type = MovementSharp
	case abs >= s.steam:
		res.Type = MovementSteam
	}

	switch {
	case abs >= s.major:
		res.Magnitude = MagnitudeMajor
	case abs >= s.significant:
		res.Magnitude = MagnitudeSignificant
	case abs >= s.moderate:
		res.Magnitude = MagnitudeModerate
	}

	return res, true
}

func scaleFor(market MarketType) scale {
	if market == MarketH2H {
		return oddsScale
	}
	return pointScale
}
