package core

import (
	"fmt"
)

// YearOutOfRangeError reports a year with no corresponding dataset
// year-code. Fatal: aborts the current extraction.
type YearOutOfRangeError struct {
	Year    int
	MinYear int
	MaxYear int
}

func (e *YearOutOfRangeError) Error() string {
	return fmt.Sprintf("year %d out of dataset range (%d-%d)", e.Year, e.MinYear, e.MaxYear)
}

// ReductionExhaustedError reports a zonal reduction that failed on every
// retry attempt. Fatal: never retried further by any caller.
type ReductionExhaustedError struct {
	Band     string
	Attempts int
	Err      error
}

func (e *ReductionExhaustedError) Error() string {
	return fmt.Sprintf("failed to compute %s after %d attempts: %v", e.Band, e.Attempts, e.Err)
}

func (e *ReductionExhaustedError) Unwrap() error {
	return e.Err
}
