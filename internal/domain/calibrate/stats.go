package calibrate

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// summarize returns MAPE, RMSE and bias in percent over the residuals that
// evaluated.
func summarize(rs []Residual) (mape, rmse, bias float64) {
	pct := make([]float64, 0, len(rs))
	for _, r := range rs {
		if !r.Failed {
			pct = append(pct, r.Percent)
		}
	}
	if len(pct) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	abs := make([]float64, len(pct))
	for i, v := range pct {
		abs[i] = math.Abs(v)
	}
	mape = stat.Mean(abs, nil)
	rmse = math.Sqrt(floats.Dot(pct, pct) / float64(len(pct)))
	bias = stat.Mean(pct, nil)
	return mape, rmse, bias
}
