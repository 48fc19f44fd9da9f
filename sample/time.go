package sample

import "math"

// Time is the high-precision wall-clock time used throughout the sample
// store: an integer second plus a fractional sub-second component. The
// production collaborator this stands in for is external (spec.md §6's
// high-resolution time interface); this is the minimal value type that
// satisfies the same contract with no external dependencies.
type Time struct {
	Seconds    int64
	SubSeconds float64
}

// NewTime builds a Time from a fractional-seconds float64, the form most
// call sites (datarate-derived offsets, test fixtures) construct times in.
func NewTime(seconds float64) Time {
	whole := math.Floor(seconds)
	return Time{Seconds: int64(whole), SubSeconds: seconds - whole}
}

// Float64 returns t as a single fractional-seconds value. Loses precision
// for very large Seconds; callers on the hot append path use Add/Sub/Less
// instead.
func (t Time) Float64() float64 {
	return float64(t.Seconds) + t.SubSeconds
}

// Add returns t + seconds (seconds may be fractional and negative).
func (t Time) Add(seconds float64) Time {
	return NewTime(t.Float64() + seconds)
}

// Sub returns t - u as a fractional-seconds duration.
func (t Time) Sub(u Time) float64 {
	return t.Float64() - u.Float64()
}

// Less reports whether t occurs strictly before u.
func (t Time) Less(u Time) bool {
	if t.Seconds != u.Seconds {
		return t.Seconds < u.Seconds
	}
	return t.SubSeconds < u.SubSeconds
}

// IsBetween reports whether t falls within [a, b], inclusive of both ends.
func (t Time) IsBetween(a, b Time) bool {
	return !t.Less(a) && !b.Less(t)
}
