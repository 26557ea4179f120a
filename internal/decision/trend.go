package decision

import (
	"math"
	"time"

	"controlling_reservoir/internal/models"
)

// steepSlope is the slope, in level units per minute, at which a trend counts as fully steep.
const steepSlope = 1.0

// fullHistory is the number of points at which the history counts as rich.
const fullHistory = 10

// computeTrend fits a least squares line through history (level against minutes) and
// extrapolates it from the current level.
func computeTrend(level float64, history []models.Reading, deadBand float64) models.Trend {
	points := make([]models.Reading, 0, len(history))
	for _, r := range history {
		if !math.IsNaN(r.Level) && !math.IsInf(r.Level, 0) {
			points = append(points, r)
		}
	}

	tr := models.Trend{
		Direction:    models.TrendUnknown,
		Predicted30m: level,
		Predicted60m: level,
		Points:       len(points),
	}
	if len(points) < 2 {
		return tr
	}

	slope, ok := leastSquaresSlope(points)
	if !ok {
		tr.Direction = models.TrendStable
		return tr
	}

	tr.Slope = slope
	switch {
	case math.Abs(slope) <= deadBand:
		tr.Direction = models.TrendStable
	case slope > 0:
		tr.Direction = models.TrendRising
	default:
		tr.Direction = models.TrendFalling
	}

	richness := math.Min(1, float64(len(points)-1)/float64(fullHistory-1))
	steepness := math.Min(1, math.Abs(slope)/steepSlope)
	tr.Confidence = round3(richness * (0.5 + 0.5*steepness))

	tr.Predicted30m = math.Max(0, level+slope*30)
	tr.Predicted60m = math.Max(0, level+slope*60)
	return tr
}

// leastSquaresSlope returns the slope per minute. ok is false when all points share a timestamp.
func leastSquaresSlope(points []models.Reading) (float64, bool) {
	origin := points[0].Timestamp
	n := float64(len(points))

	var sx, sy float64
	for _, p := range points {
		sx += minutesSince(origin, p.Timestamp)
		sy += p.Level
	}
	mx, my := sx/n, sy/n

	var num, den float64
	for _, p := range points {
		dx := minutesSince(origin, p.Timestamp) - mx
		num += dx * (p.Level - my)
		den += dx * dx
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func minutesSince(origin, t time.Time) float64 {
	return t.Sub(origin).Minutes()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
