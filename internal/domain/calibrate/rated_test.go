package calibrate_test

import (
	"math"
	"testing"
	"time"

	"github.com/okian/dynrat/internal/domain/calibrate"
	"github.com/okian/dynrat/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCompareRated(t *testing.T) {
	Convey("Given a computed curve and a stage record with rated discharge", t, func() {
		at := func(i int) time.Time { return start.Add(time.Duration(i) * 15 * time.Minute) }
		curve := model.RatingCurve{Points: []model.RatingPoint{
			{Time: at(0), Discharge: 110, Valid: true},
			{Time: at(1), Discharge: 180, Valid: true},
			{Time: at(2), Discharge: 500, Valid: false},
			{Time: at(3), Discharge: 300, Valid: true},
			{Time: at(4), Discharge: 250, Valid: true},
		}}
		series := model.StageSeries{
			{Time: at(0), Stage: 2, Discharge: 100, HasDischarge: true},
			{Time: at(1), Stage: 3, Discharge: 200, HasDischarge: true},
			{Time: at(2), Stage: 4, Discharge: 400, HasDischarge: true},
			{Time: at(3), Stage: 5},
			{Time: at(4), Stage: 4.5, Discharge: 0, HasDischarge: true},
		}

		Convey("When they are compared", func() {
			c := calibrate.CompareRated(curve, series)

			Convey("Then only valid points with a positive rated discharge count", func() {
				So(c.N, ShouldEqual, 2)
				So(c.Points, ShouldHaveLength, 2)
				So(c.Points[0].Percent, ShouldAlmostEqual, 10, 1e-12)
				So(c.Points[1].Percent, ShouldAlmostEqual, -10, 1e-12)
			})

			Convey("Then mean, relative and RMS errors follow from the matched pairs", func() {
				So(c.MeanError, ShouldAlmostEqual, -5, 1e-12)
				So(c.RelativeError, ShouldAlmostEqual, 0, 1e-12)
				So(c.RMSE, ShouldAlmostEqual, math.Sqrt((100+400)/2.0), 1e-12)
				So(c.String(), ShouldContainSubstring, "n=2")
			})
		})

		Convey("When the record carries no rated discharge", func() {
			c := calibrate.CompareRated(curve, model.StageSeries{{Time: at(0), Stage: 2}})

			Convey("Then nothing is compared", func() {
				So(c.N, ShouldEqual, 0)
				So(math.IsNaN(c.RMSE), ShouldBeTrue)
			})
		})
	})
}
