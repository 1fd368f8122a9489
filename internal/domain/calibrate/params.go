// Package calibrate fits cross-section roughness, and optionally bed slope,
// to field measurements by damped least squares.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAcceptance is returned with a Result whose fit converged but whose
// mean absolute percent error exceeds Params.AcceptanceMAPE.
var ErrAcceptance = errors.New("calibration outside acceptance")

// Mode selects how simulated discharge at a measurement is obtained.
type Mode string

// Modes.
const (
	// ModePoint evaluates each measurement independently from its stage and
	// stage rate.
	ModePoint Mode = "point"
	// ModeSeries solves the full stage series and interpolates at the
	// measurement times.
	ModeSeries Mode = "series"
)

// Params configure a calibration run.
type Params struct {
	RoughnessMin float64
	RoughnessMax float64

	FitSlope bool
	SlopeMin float64
	SlopeMax float64

	MaxIterations int
	// Tolerance ends the run when the largest relative parameter step or the
	// relative cost reduction falls below it.
	Tolerance float64
	// GradientStep is the relative forward-difference step of the Jacobian.
	GradientStep float64
	// Damping is the initial Levenberg-Marquardt lambda.
	Damping float64

	// AcceptanceMAPE in percent; 0 accepts any converged fit.
	AcceptanceMAPE float64
	// MaxFailureFraction of measurements that may fail to evaluate before
	// the run aborts.
	MaxFailureFraction float64

	Mode Mode
	// SeriesWarmup is the stage record kept on each side of the measurement
	// span in series mode; 0 solves the full record.
	SeriesWarmup time.Duration
}

// DefaultParams returns the calibration defaults.
func DefaultParams() Params {
	return Params{
		RoughnessMin:       0.01,
		RoughnessMax:       0.2,
		SlopeMin:           1e-5,
		SlopeMax:           0.05,
		MaxIterations:      100,
		Tolerance:          1e-6,
		GradientStep:       1e-4,
		Damping:            1e-3,
		AcceptanceMAPE:     10,
		MaxFailureFraction: 0.25,
		Mode:               ModePoint,
		SeriesWarmup:       24 * time.Hour,
	}
}

// Validate checks bounds and numerical settings.
func (p Params) Validate() error {
	switch {
	case !(p.RoughnessMin > 0) || !(p.RoughnessMax > p.RoughnessMin) || math.IsInf(p.RoughnessMax, 0):
		return fmt.Errorf("invalid roughness bounds [%g, %g]", p.RoughnessMin, p.RoughnessMax)
	case p.FitSlope && (!(p.SlopeMin > 0) || !(p.SlopeMax > p.SlopeMin)):
		return fmt.Errorf("invalid slope bounds [%g, %g]", p.SlopeMin, p.SlopeMax)
	case p.MaxIterations < 1:
		return fmt.Errorf("max iterations must be at least 1")
	case !(p.Tolerance > 0):
		return fmt.Errorf("tolerance must be positive")
	case !(p.GradientStep > 0) || p.GradientStep >= 0.5:
		return fmt.Errorf("gradient step must be in (0, 0.5)")
	case !(p.Damping > 0):
		return fmt.Errorf("damping must be positive")
	case p.AcceptanceMAPE < 0:
		return fmt.Errorf("acceptance MAPE must be non-negative")
	case p.MaxFailureFraction < 0 || p.MaxFailureFraction > 1:
		return fmt.Errorf("max failure fraction must be in [0, 1]")
	case p.SeriesWarmup < 0:
		return fmt.Errorf("series warmup must be non-negative")
	}
	switch p.Mode {
	case ModePoint, ModeSeries, "":
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	return nil
}

// bounds returns the box constraints of the parameter vector for m
// roughness subsections.
func (p Params) bounds(m int) (lo, hi []float64) {
	n := m
	if p.FitSlope {
		n++
	}
	lo, hi = make([]float64, n), make([]float64, n)
	for i := 0; i < m; i++ {
		lo[i], hi[i] = p.RoughnessMin, p.RoughnessMax
	}
	if p.FitSlope {
		lo[m], hi[m] = p.SlopeMin, p.SlopeMax
	}
	return lo, hi
}

func project(x, lo, hi []float64) {
	for i := range x {
		x[i] = math.Max(lo[i], math.Min(hi[i], x[i]))
	}
}
