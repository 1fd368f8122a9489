package calibrate

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/dynrat/internal/domain/model"
)

// RatedComparison compares a computed curve with the rated discharge carried
// by a stage record, over the times where both exist.
type RatedComparison struct {
	N int
	// MeanError is the mean of computed minus rated discharge, cfs.
	MeanError float64
	// RelativeError is the mean of 100 (computed - rated) / rated.
	RelativeError float64
	RMSE          float64 // cfs
	Points        []RatedError
}

// RatedError is the comparison at one time.
type RatedError struct {
	Time     time.Time
	Computed float64
	Rated    float64
	Percent  float64
}

func (c RatedComparison) String() string {
	return fmt.Sprintf("n=%d mean=%.2f cfs relative=%.2f%% rmse=%.2f cfs", c.N, c.MeanError, c.RelativeError, c.RMSE)
}

// CompareRated matches curve points to series records by timestamp. Invalid
// curve points and records without a positive rated discharge are skipped.
// With no overlap N is 0 and the statistics are NaN.
func CompareRated(curve model.RatingCurve, series model.StageSeries) RatedComparison {
	var out RatedComparison
	diff := make([]float64, 0, len(series))
	pct := make([]float64, 0, len(series))
	for _, r := range series {
		if !r.HasDischarge || !(r.Discharge > 0) {
			continue
		}
		p, ok := curve.At(r.Time)
		if !ok || !p.Valid {
			continue
		}
		d := p.Discharge - r.Discharge
		e := RatedError{Time: r.Time, Computed: p.Discharge, Rated: r.Discharge, Percent: 100 * d / r.Discharge}
		out.Points = append(out.Points, e)
		diff = append(diff, d)
		pct = append(pct, e.Percent)
	}
	out.N = len(diff)
	if out.N == 0 {
		out.MeanError, out.RelativeError, out.RMSE = math.NaN(), math.NaN(), math.NaN()
		return out
	}
	out.MeanError = stat.Mean(diff, nil)
	out.RelativeError = stat.Mean(pct, nil)
	out.RMSE = math.Sqrt(floats.Dot(diff, diff) / float64(out.N))
	return out
}
