package analytics

import "math"

// ComparisonMetrics holds period-over-period percentage changes.
type ComparisonMetrics struct {
	ViewsChange  float64
	ClicksChange float64
}

// ComparisonData holds current and previous window totals
type ComparisonData struct {
	CurrentViews   int64
	PreviousViews  int64
	CurrentClicks  int64
	PreviousClicks int64
}

// CalculateComparisonMetrics computes the views and clicks changes
// independently.
func CalculateComparisonMetrics(data ComparisonData) ComparisonMetrics {
	return ComparisonMetrics{
		ViewsChange:  ChangeRate(data.CurrentViews, data.PreviousViews),
		ClicksChange: ChangeRate(data.CurrentClicks, data.PreviousClicks),
	}
}

// ChangeRate is (current - previous) / previous * 100 rounded to one
// decimal. A previous value of zero yields 0, whatever the current value.
func ChangeRate(current, previous int64) float64 {
	if previous <= 0 {
		return 0
	}
	return round1(float64(current-previous) / float64(previous) * 100)
}

// round1 rounds to one decimal place.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// percent1 is part/total*100 to one decimal, 0 when total is 0.
func percent1(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

// percentInt is part/total*100 rounded to an integer, 0 when total is 0.
func percentInt(part, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
