package grading

import "math"

// Summary is the aggregated score of one graded response.
type Summary struct {
	TotalPoints float64
	Feedback    GradingResult
}

// Aggregate sums the per-criterion points and clamps them into [0, totalPoints].
// Deductive outcomes subtract the magnitude of every delta from totalPoints instead.
// The feedback list keeps the grader's order.
func Aggregate(outcome Outcome, totalPoints float64) Summary {
	sum := 0.0
	for _, result := range outcome.Results {
		if math.IsNaN(result.Points) || math.IsInf(result.Points, 0) {
			continue
		}
		if outcome.Deductive {
			sum -= math.Abs(result.Points)
			continue
		}
		sum += result.Points
	}

	total := sum
	if outcome.Deductive {
		total = totalPoints + sum
	}

	upper := math.Max(totalPoints, 0)
	total = math.Min(math.Max(total, 0), upper)

	feedback := make(GradingResult, len(outcome.Results))
	copy(feedback, outcome.Results)

	return Summary{
		TotalPoints: math.Round(total*100) / 100,
		Feedback:    feedback,
	}
}
