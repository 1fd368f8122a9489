package calibrate

import (
	"context"

	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/quality"
	"github.com/okian/dynrat/internal/domain/solver"
	"github.com/okian/dynrat/pkg/logger"
)

// evaluation is the objective at one parameter vector.
type evaluation struct {
	residuals []float64 // weighted relative residuals
	simulated []float64
	errs      []error
	failed    int
	cost      float64
}

// objective maps a parameter vector to residuals. It shares read-only
// geometry and measurements; every call builds its own solver.
type objective struct {
	xs       geometry.CrossSection
	sp       solver.Params
	usable   []quality.Usable
	series   model.StageSeries
	mode     Mode
	fitSlope bool
	m        int // roughness subsections
}

func (o *objective) solverFor(x []float64) (*solver.Solver, error) {
	sp := o.sp
	if o.fitSlope {
		sp.BedSlope = x[o.m]
	}
	return solver.New(o.xs.WithRoughness(x[:o.m]), sp, solver.WithLogger(logger.Discard()))
}

// evaluate returns the residuals at x. Convergence failures at individual
// measurements zero their residual and are counted; any other error aborts.
func (o *objective) evaluate(ctx context.Context, x []float64) (evaluation, error) {
	s, err := o.solverFor(x)
	if err != nil {
		return evaluation{}, err
	}
	n := len(o.usable)
	ev := evaluation{
		residuals: make([]float64, n),
		simulated: make([]float64, n),
		errs:      make([]error, n),
	}

	var curve model.RatingCurve
	if o.mode == ModeSeries {
		curve, err = s.Solve(ctx, o.series)
		if err != nil {
			return evaluation{}, err
		}
	}

	for i, u := range o.usable {
		m := u.Measurement
		var q float64
		switch o.mode {
		case ModeSeries:
			v, ok := curve.DischargeAt(m.Time)
			if !ok {
				ev.errs[i] = &model.Error{Op: "calibrate.evaluate", Kind: model.ErrConvergence, Time: m.Time, Stage: m.Stage,
					Msg: "no valid solution at measurement time"}
				ev.failed++
				continue
			}
			q = v
		default:
			pt, err := s.PointDischarge(m.Stage, m.StageRate())
			if err != nil {
				if !solver.IsConvergence(err) {
					return evaluation{}, err
				}
				ev.errs[i] = err
				ev.failed++
				continue
			}
			q = pt.Discharge
		}
		ev.simulated[i] = q
		ev.residuals[i] = u.Weight * (q - m.Discharge) / m.Discharge
	}
	for _, r := range ev.residuals {
		ev.cost += r * r
	}
	ev.cost /= 2
	return ev, nil
}
