package core

import (
	"time"

	"forest_service/internal/domain/model"
)

// GenerateWindows partitions [start, end) into contiguous, non-overlapping
// aggregation windows of windowDays. The final window is clipped to end and
// may be shorter than the nominal size. Returns nil when start >= end.
func GenerateWindows(start, end time.Time, windowDays int) []model.AggregationWindow {
	if windowDays <= 0 {
		return nil
	}

	var windows []model.AggregationWindow
	for current := start; current.Before(end); {
		windowEnd := current.AddDate(0, 0, windowDays)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, model.AggregationWindow{Start: current, End: windowEnd})
		current = windowEnd
	}
	return windows
}
