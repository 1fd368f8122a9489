package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/pkg/logger"
	"github.com/okian/dynrat/pkg/metrics"
)

// Solve computes the rating curve for a stage series. The first sample is
// the steady initial condition; every later sample steps from the last valid
// point. A step that fails to converge is kept as an invalid point and the
// solve continues; geometry, data and degenerate errors abort.
func (s *Solver) Solve(ctx context.Context, series model.StageSeries) (model.RatingCurve, error) {
	if len(series) == 0 {
		return model.RatingCurve{}, model.NewError("solver.Solve", model.ErrData, 0, "empty stage series")
	}

	curve := model.RatingCurve{Points: make([]model.RatingPoint, 0, len(series))}
	first, err := s.Steady(series[0].Stage)
	if err != nil {
		return model.RatingCurve{}, withTime(err, series[0])
	}
	first.Time = series[0].Time
	curve.Points = append(curve.Points, first)
	metrics.RecordSolverStep("steady", 0)
	last := first

	for _, rec := range series[1:] {
		if err := ctx.Err(); err != nil {
			return model.RatingCurve{}, fmt.Errorf("solve canceled: %w", err)
		}
		dt := rec.Time.Sub(last.Time).Seconds()
		pt, err := s.Step(rec.Stage, last.Stage, last.Discharge, dt)
		pt.Time = rec.Time
		if err != nil {
			err = withTime(err, rec)
			if !IsConvergence(err) {
				return model.RatingCurve{}, err
			}
			pt.Stage = rec.Stage
			pt.Err = err
			pt.Valid = false
			var me *model.Error
			if errors.As(err, &me) {
				pt.Iterations, pt.Residual = me.Iterations, me.Residual
			}
			s.logFailure(ctx, err, pt)
			metrics.RecordSolverStep("failed", pt.Iterations)
			curve.Points = append(curve.Points, pt)
			continue
		}
		result := "dynamic"
		if pt.Steady {
			result = "steady"
		}
		metrics.RecordSolverStep(result, pt.Iterations)
		curve.Points = append(curve.Points, pt)
		last = pt
	}

	if n := len(curve.Failures()); n > 0 {
		s.logger.Info(ctx, "solve finished with failed points",
			logger.Int("points", curve.Len()),
			logger.Int("failed", n),
		)
	}
	return curve, nil
}

func withTime(err error, rec model.StageRecord) error {
	var me *model.Error
	if errors.As(err, &me) && me.Time.IsZero() {
		me.Time = rec.Time
	}
	return err
}
