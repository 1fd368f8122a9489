package calibrate_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okian/dynrat/internal/adapters/worker"
	"github.com/okian/dynrat/internal/domain/calibrate"
	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/quality"
	"github.com/okian/dynrat/internal/domain/solver"
	"github.com/okian/dynrat/internal/synthetic"
	logging "github.com/okian/dynrat/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var start = time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

func channel() geometry.Section {
	tr, err := geometry.NewTrapezoid(0, 60, 2, 25)
	if err != nil {
		panic(err)
	}
	return tr
}

func compound() geometry.Section {
	main, err := geometry.NewTrapezoid(0, 50, 1, 20)
	if err != nil {
		panic(err)
	}
	bank, err := geometry.NewTrapezoid(8, 150, 0, 12)
	if err != nil {
		panic(err)
	}
	sec, err := geometry.Compose(main, bank)
	if err != nil {
		panic(err)
	}
	return sec
}

func truthSolver(sec geometry.Section, n ...float64) *solver.Solver {
	s, err := solver.New(geometry.CrossSection{Section: sec, Roughness: n}, solver.DefaultParams())
	if err != nil {
		panic(err)
	}
	return s
}

func pointMeasurements(sol *solver.Solver, stages []float64) []model.FieldMeasurement {
	rates := make([]float64, len(stages))
	for i := range rates {
		switch i % 3 {
		case 1:
			rates[i] = 1.5e-4
		case 2:
			rates[i] = -1.5e-4
		}
	}
	ms, err := synthetic.NewSampler(1).FromPoints(sol, start, stages, rates)
	if err != nil {
		panic(err)
	}
	return ms
}

func newCalibrator(p calibrate.Params) *calibrate.Calibrator {
	c, err := calibrate.New(p,
		calibrate.WithLogger(logging.Discard()),
		calibrate.WithPool(worker.NewPool(2, worker.WithLogger(logging.Discard()))),
	)
	if err != nil {
		panic(err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	Convey("Given point measurements from a channel with n=0.03", t, func() {
		ms := pointMeasurements(truthSolver(channel(), 0.03), []float64{2, 4, 6, 8, 10, 12, 14, 16, 18})
		in := calibrate.Input{
			Partition:    quality.Filter(ms, quality.DefaultParams()),
			CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.06}},
			Solver:       solver.DefaultParams(),
		}

		Convey("When calibrating in point mode", func() {
			res, err := newCalibrator(calibrate.DefaultParams()).Run(ctx, in)

			Convey("Then the roughness is recovered", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, calibrate.Converged)
				So(res.CrossSection.Roughness[0], ShouldAlmostEqual, 0.03, 0.03*0.01)
				So(res.MAPE, ShouldBeLessThan, 0.1)
				So(res.Used, ShouldEqual, len(ms))
				So(res.Failed, ShouldEqual, 0)
				So(len(res.Residuals), ShouldEqual, len(ms))
				_, perr := uuid.Parse(res.RunID)
				So(perr, ShouldBeNil)
			})

			Convey("Then the starting cross section is untouched", func() {
				So(in.CrossSection.Roughness[0], ShouldEqual, 0.06)
			})
		})
	})

	Convey("Given measurements sampled from a solved flood", t, func() {
		series, err := synthetic.DefaultFloodWave(start).Series()
		So(err, ShouldBeNil)
		curve, err := truthSolver(channel(), 0.03).Solve(ctx, series)
		So(err, ShouldBeNil)
		ms := synthetic.NewSampler(3).FromCurve(curve, 24)

		Convey("When calibrating in series mode", func() {
			p := calibrate.DefaultParams()
			p.Mode = calibrate.ModeSeries
			res, err := newCalibrator(p).Run(ctx, calibrate.Input{
				Partition:    quality.Filter(ms, quality.DefaultParams()),
				CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.05}},
				Solver:       solver.DefaultParams(),
				Series:       series,
			})

			Convey("Then the roughness is recovered", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, calibrate.ModeSeries)
				So(res.CrossSection.Roughness[0], ShouldAlmostEqual, 0.03, 0.03*0.01)
			})
		})

		Convey("When only the falling limb is measured", func() {
			var limb []model.FieldMeasurement
			for _, m := range ms {
				if d := m.Time.Sub(start); d >= 30*time.Hour && d <= 54*time.Hour {
					limb = append(limb, m)
				}
			}
			p := calibrate.DefaultParams()
			p.Mode = calibrate.ModeSeries
			p.SeriesWarmup = 6 * time.Hour
			res, err := newCalibrator(p).Run(ctx, calibrate.Input{
				Partition:    quality.Filter(limb, quality.DefaultParams()),
				CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.05}},
				Solver:       solver.DefaultParams(),
				Series:       series,
			})

			Convey("Then only the record around the measurements is solved", func() {
				So(err, ShouldBeNil)
				So(len(limb), ShouldBeGreaterThan, 2)
				So(res.SeriesRecords, ShouldEqual, len(series.Subset(start.Add(24*time.Hour), start.Add(60*time.Hour))))
				So(res.SeriesRecords, ShouldBeLessThan, series.Len())
				So(res.CrossSection.Roughness[0], ShouldAlmostEqual, 0.03, 0.03*0.02)
			})
		})
	})

	Convey("Given point measurements from a channel with an overbank", t, func() {
		stages := []float64{2, 4, 6, 7.5, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
		ms := pointMeasurements(truthSolver(compound(), 0.03, 0.08), stages)

		Convey("When calibrating both subsections", func() {
			res, err := newCalibrator(calibrate.DefaultParams()).Run(ctx, calibrate.Input{
				Partition:    quality.Filter(ms, quality.DefaultParams()),
				CrossSection: geometry.CrossSection{Section: compound(), Roughness: []float64{0.045, 0.05}},
				Solver:       solver.DefaultParams(),
			})

			Convey("Then both roughness values are recovered", func() {
				So(err, ShouldBeNil)
				So(res.CrossSection.Roughness[0], ShouldAlmostEqual, 0.03, 0.03*0.01)
				So(res.CrossSection.Roughness[1], ShouldAlmostEqual, 0.08, 0.08*0.01)
			})
		})
	})
}

func TestOutcomes(t *testing.T) {
	ctx := context.Background()
	sol := truthSolver(channel(), 0.03)
	stages := []float64{3, 5, 7, 9, 11, 13}

	Convey("Given measurements that disagree with any single roughness", t, func() {
		ms := pointMeasurements(sol, stages)
		for i := range ms {
			if i%2 == 0 {
				ms[i].Discharge *= 1.3
			} else {
				ms[i].Discharge *= 0.7
			}
		}
		in := calibrate.Input{
			Partition:    quality.Filter(ms, quality.DefaultParams()),
			CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.04}},
			Solver:       solver.DefaultParams(),
		}

		Convey("When the fit converges outside the acceptance threshold", func() {
			res, err := newCalibrator(calibrate.DefaultParams()).Run(ctx, in)

			Convey("Then the result is returned with an acceptance error", func() {
				So(errors.Is(err, calibrate.ErrAcceptance), ShouldBeTrue)
				So(res, ShouldNotBeNil)
				So(res.Outcome, ShouldEqual, calibrate.Rejected)
				So(res.MAPE, ShouldBeGreaterThan, 10)
			})
		})

		Convey("When acceptance is disabled", func() {
			p := calibrate.DefaultParams()
			p.AcceptanceMAPE = 0
			res, err := newCalibrator(p).Run(ctx, in)
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, calibrate.Converged)
		})
	})

	Convey("Given consistent measurements and a far starting point", t, func() {
		in := calibrate.Input{
			Partition:    quality.Filter(pointMeasurements(sol, stages), quality.DefaultParams()),
			CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.15}},
			Solver:       solver.DefaultParams(),
		}

		Convey("When the iteration bound is hit", func() {
			p := calibrate.DefaultParams()
			p.MaxIterations = 1
			res, err := newCalibrator(p).Run(ctx, in)

			Convey("Then the run is not converged and yields no result", func() {
				So(res, ShouldBeNil)
				So(errors.Is(err, model.ErrConvergence), ShouldBeTrue)
				var me *model.Error
				So(errors.As(err, &me), ShouldBeTrue)
				So(me.Iterations, ShouldEqual, 1)
			})
		})

		Convey("When the context is canceled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			res, err := newCalibrator(calibrate.DefaultParams()).Run(cctx, in)
			So(res, ShouldBeNil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("When too many measurements fail to evaluate", func() {
			in.Solver.MaxIterations = 1
			res, err := newCalibrator(calibrate.DefaultParams()).Run(ctx, in)
			So(res, ShouldBeNil)
			So(errors.Is(err, model.ErrConvergence), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "failed to evaluate")
		})

		Convey("When no measurement can be evaluated", func() {
			p := calibrate.DefaultParams()
			p.Mode = calibrate.ModeSeries
			p.MaxFailureFraction = 1
			early := model.StageSeries{
				{Time: start.Add(-48 * time.Hour), Stage: 5},
				{Time: start.Add(-47 * time.Hour), Stage: 5},
			}
			in.Series = early
			res, err := newCalibrator(p).Run(ctx, in)

			Convey("Then the run is not reported as converged", func() {
				So(res, ShouldBeNil)
				So(errors.Is(err, model.ErrConvergence), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "none of 6 measurements evaluated")
			})
		})

		Convey("When nothing is usable", func() {
			in.Partition = quality.Partition{}
			_, err := newCalibrator(calibrate.DefaultParams()).Run(ctx, in)
			So(errors.Is(err, model.ErrData), ShouldBeTrue)
		})
	})

	Convey("Given slope fitting", t, func() {
		p := calibrate.DefaultParams()
		p.FitSlope = true
		res, err := newCalibrator(p).Run(ctx, calibrate.Input{
			Partition:    quality.Filter(pointMeasurements(sol, stages), quality.DefaultParams()),
			CrossSection: geometry.CrossSection{Section: channel(), Roughness: []float64{0.04}},
			Solver:       solver.DefaultParams(),
		})
		So(err, ShouldBeNil)
		So(res.MAPE, ShouldBeLessThan, 1)
		So(res.Solver.BedSlope, ShouldBeBetweenOrEqual, p.SlopeMin, p.SlopeMax)
	})
}

func TestParams(t *testing.T) {
	Convey("Given calibration parameters", t, func() {
		So(calibrate.DefaultParams().Validate(), ShouldBeNil)

		p := calibrate.DefaultParams()
		p.RoughnessMax = p.RoughnessMin
		So(p.Validate(), ShouldNotBeNil)

		p = calibrate.DefaultParams()
		p.Mode = "batch"
		_, err := calibrate.New(p)
		So(err, ShouldNotBeNil)

		p = calibrate.DefaultParams()
		p.MaxFailureFraction = math.Inf(1)
		So(p.Validate(), ShouldNotBeNil)
	})
}
