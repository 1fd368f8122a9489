package synthetic_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/solver"
	"github.com/okian/dynrat/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

var start = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func trapezoidSolver() *solver.Solver {
	tr, err := geometry.NewTrapezoid(0, 60, 2, 25)
	if err != nil {
		panic(err)
	}
	s, err := solver.New(geometry.CrossSection{Section: tr, Roughness: []float64{0.03}}, solver.DefaultParams())
	if err != nil {
		panic(err)
	}
	return s
}

func TestFloodWave(t *testing.T) {
	Convey("Given the default flood wave", t, func() {
		w := synthetic.DefaultFloodWave(start)
		series, err := w.Series()
		So(err, ShouldBeNil)

		Convey("Then it starts and ends at base and peaks on time", func() {
			So(series.Len(), ShouldEqual, int(w.Duration()/w.Step)+1)
			So(series[0].Stage, ShouldEqual, w.Base)
			So(series[series.Len()-1].Stage, ShouldEqual, w.Base)
			So(w.StageAt(w.Lead+w.Rise), ShouldAlmostEqual, w.Peak, 1e-12)
			So(w.PeakTime(), ShouldEqual, start.Add(24*time.Hour))
		})

		Convey("Then it rises monotonically to the peak", func() {
			for d := w.Lead; d < w.Lead+w.Rise; d += w.Step {
				So(w.StageAt(d+w.Step), ShouldBeGreaterThanOrEqualTo, w.StageAt(d))
			}
		})

		Convey("Then an inverted wave is rejected", func() {
			w.Peak = w.Base - 1
			_, err := w.Series()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSampler(t *testing.T) {
	Convey("Given a known rating and a solved flood", t, func() {
		sol := trapezoidSolver()
		series, err := synthetic.DefaultFloodWave(start).Series()
		So(err, ShouldBeNil)
		curve, err := sol.Solve(context.Background(), series)
		So(err, ShouldBeNil)

		Convey("When sampling the curve without noise", func() {
			ms := synthetic.NewSampler(7, synthetic.WithSite("USGS", "03339000")).FromCurve(curve, 16)

			Convey("Then each measurement lies on the curve", func() {
				So(len(ms), ShouldBeGreaterThan, 10)
				for _, m := range ms {
					q, ok := curve.DischargeAt(m.Time)
					So(ok, ShouldBeTrue)
					So(m.Discharge, ShouldEqual, q)
					So(m.Unused, ShouldBeFalse)
					So(m.Site, ShouldEqual, "03339000")
				}
				So(ms[0].Number, ShouldEqual, "1")
				So(ms[1].Number, ShouldEqual, "2")
			})
		})

		Convey("When sampling with noise twice from the same seed", func() {
			a := synthetic.NewSampler(42, synthetic.WithNoise(0.05)).FromCurve(curve, 16)
			b := synthetic.NewSampler(42, synthetic.WithNoise(0.05)).FromCurve(curve, 16)

			Convey("Then the draws repeat and differ from the curve", func() {
				So(a, ShouldResemble, b)
				q, _ := curve.DischargeAt(a[0].Time)
				So(a[0].Discharge, ShouldNotEqual, q)
			})
		})

		Convey("When sampling single points", func() {
			stages := []float64{3, 8, 12}
			rates := []float64{0, 2e-4, -2e-4}
			ms, err := synthetic.NewSampler(1, synthetic.WithQuality(model.QualityFair, model.ControlDebrisLight)).
				FromPoints(sol, start, stages, rates)
			So(err, ShouldBeNil)

			Convey("Then stage rates round trip", func() {
				for i, m := range ms {
					So(m.StageRate(), ShouldAlmostEqual, rates[i], 1e-15)
					pt, err := sol.PointDischarge(stages[i], rates[i])
					So(err, ShouldBeNil)
					So(math.Abs(m.Discharge-pt.Discharge), ShouldBeLessThan, 1e-9)
					So(m.Quality, ShouldEqual, model.QualityFair)
				}
			})
		})
	})
}
