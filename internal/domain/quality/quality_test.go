package quality_test

import (
	"math"
	"testing"
	"time"

	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/quality"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2018, 4, 10, 15, 0, 0, 0, time.UTC)

func meas(number string, day int, q model.QualityRank, c model.ControlCondition) model.FieldMeasurement {
	return model.FieldMeasurement{
		Number:    number,
		Time:      base.AddDate(0, 0, day),
		Stage:     10,
		Discharge: 2000,
		Quality:   q,
		Control:   c,
	}
}

func fixedSet() []model.FieldMeasurement {
	return []model.FieldMeasurement{
		meas("301", 0, model.QualityGood, model.ControlClear),
		meas("302", 10, model.QualityPoor, model.ControlClear),
		meas("303", 20, model.QualityFair, model.ControlIceCover),
		meas("304", 30, model.QualityExcellent, model.ControlDebrisLight),
		meas("305", 40, model.QualityPoor, model.ControlScourChanged),
		meas("306", 50, model.QualityGood, model.ControlUnspecified),
	}
}

func numbers(ms []model.FieldMeasurement) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Number
	}
	return out
}

func TestFilter(t *testing.T) {
	Convey("Given a fixed measurement set", t, func() {
		ms := fixedSet()

		Convey("When filtering with the defaults", func() {
			part := quality.Filter(ms, quality.DefaultParams())

			Convey("Then exactly the poor and unstable measurements are excluded", func() {
				So(numbers(part.Measurements()), ShouldResemble, []string{"301", "304", "306"})
				So(len(part.Excluded), ShouldEqual, 3)
				So(part.Excluded[0].Measurement.Number, ShouldEqual, "302")
				So(part.Excluded[0].Reasons, ShouldResemble, []quality.Reason{quality.ReasonQualityRank})
				So(part.Excluded[1].Reasons, ShouldResemble, []quality.Reason{quality.ReasonUnstableControl})
				So(part.Excluded[2].Reasons, ShouldResemble, []quality.Reason{quality.ReasonQualityRank, quality.ReasonUnstableControl})
			})

			Convey("Then the counts summarize every reason", func() {
				counts := part.Counts()
				So(counts[quality.ReasonQualityRank], ShouldEqual, 2)
				So(counts[quality.ReasonUnstableControl], ShouldEqual, 2)
				So(part.String(), ShouldContainSubstring, "usable=3 excluded=3")
			})

			Convey("Then the input is untouched", func() {
				So(ms, ShouldResemble, fixedSet())
			})

			Convey("Then unweighted measurements weigh one", func() {
				So(part.Weights(), ShouldResemble, []float64{1, 1, 1})
			})
		})

		Convey("When a measurement number is overridden", func() {
			p := quality.DefaultParams()
			p.Overrides = []string{"303"}
			part := quality.Filter(ms, p)
			So(numbers(part.Measurements()), ShouldResemble, []string{"301", "303", "304", "306"})
		})

		Convey("When unstable controls are allowed", func() {
			p := quality.DefaultParams()
			p.AllowUnstable = true
			part := quality.Filter(ms, p)
			So(len(part.Usable), ShouldEqual, 4)
			So(part.Counts()[quality.ReasonUnstableControl], ShouldEqual, 0)
		})

		Convey("When weighting by quality band", func() {
			p := quality.DefaultParams()
			p.Weighted = true
			part := quality.Filter(ms, p)
			So(part.Weights()[0], ShouldAlmostEqual, 0.4, 1e-12)
			So(part.Weights()[1], ShouldAlmostEqual, 1, 1e-12)
		})
	})

	Convey("Given measurements with bad values, shifts and repeats", t, func() {
		good := meas("401", 0, model.QualityGood, model.ControlClear)
		nan := meas("402", 1, model.QualityGood, model.ControlClear)
		nan.Discharge = math.NaN()
		unused := meas("403", 2, model.QualityGood, model.ControlClear)
		unused.Unused = true
		shifted := meas("404", 3, model.QualityGood, model.ControlClear)
		shifted.RatingDifference, shifted.HasRatingDifference = -22, true
		repeat := meas("405", 0, model.QualityGood, model.ControlClear)

		p := quality.DefaultParams()
		p.MaxRatingDifference = 15
		part := quality.Filter([]model.FieldMeasurement{good, nan, unused, shifted, repeat}, p)

		So(numbers(part.Measurements()), ShouldResemble, []string{"401"})
		So(part.Excluded[0].Reasons, ShouldResemble, []quality.Reason{quality.ReasonInvalidValue})
		So(part.Excluded[1].Reasons, ShouldResemble, []quality.Reason{quality.ReasonNotUsed})
		So(part.Excluded[2].Reasons, ShouldResemble, []quality.Reason{quality.ReasonRatingShift})
		So(part.Excluded[3].Reasons, ShouldResemble, []quality.Reason{quality.ReasonDuplicateTime})
		So(part.Excluded[3].Detail, ShouldContainSubstring, "401")

		Convey("Then disabling the shift threshold keeps the shifted measurement", func() {
			p.MaxRatingDifference = 0
			p.HonorUsedFlag = false
			part := quality.Filter([]model.FieldMeasurement{good, unused, shifted}, p)
			So(len(part.Usable), ShouldEqual, 3)
		})
	})
}

func TestFilterDefaultsKeepPlainMeasurements(t *testing.T) {
	Convey("Given good measurements built without any flags set", t, func() {
		plain := model.FieldMeasurement{Number: "501", Time: base, Stage: 3.2, Discharge: 410, Quality: model.QualityGood, Control: model.ControlClear}
		below := model.FieldMeasurement{Number: "502", Time: base.Add(time.Hour), Stage: -0.4, Discharge: 12, Quality: model.QualityGood, Control: model.ControlClear}
		datum := model.FieldMeasurement{Number: "503", Time: base.Add(2 * time.Hour), Stage: 0, Discharge: 30, Quality: model.QualityFair, Control: model.ControlClear}

		Convey("When filtering with the defaults", func() {
			part := quality.Filter([]model.FieldMeasurement{plain, below, datum}, quality.DefaultParams())

			Convey("Then all are usable, including gage heights at or below the datum", func() {
				So(numbers(part.Measurements()), ShouldResemble, []string{"501", "502", "503"})
				So(part.Excluded, ShouldBeEmpty)
			})
		})

		Convey("When the stage or discharge is not usable", func() {
			inf := plain
			inf.Stage = math.Inf(1)
			zeroQ := below
			zeroQ.Discharge = 0
			part := quality.Filter([]model.FieldMeasurement{inf, zeroQ}, quality.DefaultParams())
			So(len(part.Excluded), ShouldEqual, 2)
			So(part.Excluded[0].Reasons, ShouldResemble, []quality.Reason{quality.ReasonInvalidValue})
			So(part.Excluded[1].Reasons, ShouldResemble, []quality.Reason{quality.ReasonInvalidValue})
		})
	})
}
