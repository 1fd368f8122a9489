package model

import (
	"sort"
	"time"
)

// RatingPoint is the instantaneous rating at one time of a solve.
type RatingPoint struct {
	Time           time.Time
	Stage          float64 // ft
	StageRate      float64 // ft/s
	Discharge      float64 // cfs
	DischargeSlope float64 // dQ/dh, cfs/ft
	FrictionSlope  float64
	Conveyance     float64
	Beta           float64
	Celerity       float64 // ft/s, 0 on the steady branch
	Iterations     int
	Residual       float64
	Steady         bool

	// Valid is false when the step failed to converge; Err holds the reason.
	Valid bool
	Err   error
}

// RatingCurve is the time-indexed stage-discharge relation produced by one
// solve. It is read-only once returned.
type RatingCurve struct {
	Points []RatingPoint
}

// Len returns the number of points.
func (c RatingCurve) Len() int { return len(c.Points) }

// Valid returns the converged points.
func (c RatingCurve) Valid() []RatingPoint {
	out := make([]RatingPoint, 0, len(c.Points))
	for _, p := range c.Points {
		if p.Valid {
			out = append(out, p)
		}
	}
	return out
}

// Failures returns the points that did not converge.
func (c RatingCurve) Failures() []RatingPoint {
	var out []RatingPoint
	for _, p := range c.Points {
		if !p.Valid {
			out = append(out, p)
		}
	}
	return out
}

// At returns the point at exactly t.
func (c RatingCurve) At(t time.Time) (RatingPoint, bool) {
	i := sort.Search(len(c.Points), func(i int) bool { return !c.Points[i].Time.Before(t) })
	if i < len(c.Points) && c.Points[i].Time.Equal(t) {
		return c.Points[i], true
	}
	return RatingPoint{}, false
}

// DischargeAt linearly interpolates discharge at t between the nearest valid
// points. It reports false outside the curve or when no valid neighbour exists.
func (c RatingCurve) DischargeAt(t time.Time) (float64, bool) {
	pts := c.Points
	i := sort.Search(len(pts), func(i int) bool { return !pts[i].Time.Before(t) })
	if i < len(pts) && pts[i].Time.Equal(t) && pts[i].Valid {
		return pts[i].Discharge, true
	}
	lo := i - 1
	for lo >= 0 && !pts[lo].Valid {
		lo--
	}
	hi := i
	for hi < len(pts) && !pts[hi].Valid {
		hi++
	}
	if lo < 0 || hi >= len(pts) {
		return 0, false
	}
	a, b := pts[lo], pts[hi]
	span := b.Time.Sub(a.Time).Seconds()
	if span <= 0 {
		return a.Discharge, true
	}
	w := t.Sub(a.Time).Seconds() / span
	return a.Discharge + w*(b.Discharge-a.Discharge), true
}
