// Package model contains the domain types shared by the solver, the quality
// filter and the calibrator.
package model

import (
	"math"
	"time"
)

// StageRecord is one observation of a continuous stage record.
type StageRecord struct {
	Time         time.Time
	Stage        float64 // ft
	Discharge    float64 // cfs, meaningful when HasDischarge
	HasDischarge bool
}

// StageSeries is an ordered stage record with strictly increasing timestamps.
type StageSeries []StageRecord

// NewStageSeries validates records and returns them as a series.
// The input slice is copied.
func NewStageSeries(records []StageRecord) (StageSeries, error) {
	const op = "model.NewStageSeries"
	if len(records) == 0 {
		return nil, NewError(op, ErrData, 0, "empty stage series")
	}
	out := make(StageSeries, len(records))
	copy(out, records)
	for i, r := range out {
		if r.Time.IsZero() {
			return nil, &Error{Op: op, Kind: ErrData, Stage: r.Stage, Msg: "missing timestamp"}
		}
		if math.IsNaN(r.Stage) || math.IsInf(r.Stage, 0) {
			return nil, &Error{Op: op, Kind: ErrData, Time: r.Time, Msg: "non-finite stage"}
		}
		if r.HasDischarge && (math.IsNaN(r.Discharge) || math.IsInf(r.Discharge, 0)) {
			return nil, &Error{Op: op, Kind: ErrData, Time: r.Time, Stage: r.Stage, Msg: "non-finite discharge"}
		}
		if i == 0 {
			continue
		}
		prev := out[i-1].Time
		switch {
		case r.Time.Equal(prev):
			return nil, &Error{Op: op, Kind: ErrData, Time: r.Time, Stage: r.Stage, Msg: "duplicate timestamp"}
		case r.Time.Before(prev):
			return nil, &Error{Op: op, Kind: ErrData, Time: r.Time, Stage: r.Stage, Msg: "timestamps out of order"}
		}
	}
	return out, nil
}

// Len returns the number of records.
func (s StageSeries) Len() int { return len(s) }

// Span returns the first and last timestamps.
func (s StageSeries) Span() (time.Time, time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	return s[0].Time, s[len(s)-1].Time
}

// Subset returns the records in [start, end]. Zero bounds are open.
func (s StageSeries) Subset(start, end time.Time) StageSeries {
	out := make(StageSeries, 0, len(s))
	for _, r := range s {
		if !start.IsZero() && r.Time.Before(start) {
			continue
		}
		if !end.IsZero() && r.Time.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
