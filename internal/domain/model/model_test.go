package model_test

import (
	"errors"
	"math"
	"testing"
	"time"

	model "github.com/okian/dynrat/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNewStageSeries(t *testing.T) {
	convey.Convey("Given stage records", t, func() {
		convey.Convey("When timestamps strictly increase", func() {
			in := []model.StageRecord{
				{Time: t0, Stage: 7.8},
				{Time: t0.Add(15 * time.Minute), Stage: 7.9},
			}
			s, err := model.NewStageSeries(in)

			convey.Convey("Then the series is accepted as a copy", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(s.Len(), convey.ShouldEqual, 2)
				in[0].Stage = 100
				convey.So(s[0].Stage, convey.ShouldEqual, 7.8)
			})
		})

		convey.Convey("When a timestamp repeats", func() {
			_, err := model.NewStageSeries([]model.StageRecord{
				{Time: t0, Stage: 7.8},
				{Time: t0, Stage: 7.9},
			})

			convey.Convey("Then a data error is returned", func() {
				convey.So(errors.Is(err, model.ErrData), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "duplicate timestamp")
			})
		})

		convey.Convey("When timestamps go backwards", func() {
			_, err := model.NewStageSeries([]model.StageRecord{
				{Time: t0, Stage: 7.8},
				{Time: t0.Add(-time.Minute), Stage: 7.9},
			})

			convey.Convey("Then a data error is returned", func() {
				convey.So(errors.Is(err, model.ErrData), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "out of order")
			})
		})

		convey.Convey("When a stage is NaN", func() {
			_, err := model.NewStageSeries([]model.StageRecord{{Time: t0, Stage: math.NaN()}})
			convey.So(errors.Is(err, model.ErrData), convey.ShouldBeTrue)
		})

		convey.Convey("When the series is empty", func() {
			_, err := model.NewStageSeries(nil)
			convey.So(errors.Is(err, model.ErrData), convey.ShouldBeTrue)
		})
	})
}

func TestStageSeriesSubset(t *testing.T) {
	convey.Convey("Given an hourly series", t, func() {
		var recs []model.StageRecord
		for i := 0; i < 5; i++ {
			recs = append(recs, model.StageRecord{Time: t0.Add(time.Duration(i) * time.Hour), Stage: float64(i)})
		}
		s, err := model.NewStageSeries(recs)
		convey.So(err, convey.ShouldBeNil)

		sub := s.Subset(t0.Add(time.Hour), t0.Add(3*time.Hour))
		convey.So(sub.Len(), convey.ShouldEqual, 3)
		start, end := sub.Span()
		convey.So(start, convey.ShouldEqual, t0.Add(time.Hour))
		convey.So(end, convey.ShouldEqual, t0.Add(3*time.Hour))
	})
}

func TestErrorContext(t *testing.T) {
	convey.Convey("Given a convergence error with context", t, func() {
		cause := errors.New("derivative vanished")
		err := &model.Error{
			Op:         "solver.Step",
			Kind:       model.ErrConvergence,
			Time:       t0,
			Stage:      16.95,
			Iterations: 50,
			Residual:   1e-3,
			Err:        cause,
		}

		convey.So(errors.Is(err, model.ErrConvergence), convey.ShouldBeTrue)
		convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
		convey.So(errors.Is(err, model.ErrData), convey.ShouldBeFalse)
		convey.So(err.Error(), convey.ShouldContainSubstring, "stage=16.95")
		convey.So(err.Error(), convey.ShouldContainSubstring, "iterations=50")
		convey.So(err.Error(), convey.ShouldContainSubstring, "2019-05-01T12:00:00Z")
		convey.So(model.KindName(err), convey.ShouldEqual, "convergence")
		convey.So(model.KindName(errors.New("x")), convey.ShouldEqual, "other")
	})
}

func TestQualityAndControl(t *testing.T) {
	convey.Convey("Given NWIS quality and control codes", t, func() {
		convey.So(model.ParseQualityRank("Good"), convey.ShouldEqual, model.QualityGood)
		convey.So(model.ParseQualityRank("p"), convey.ShouldEqual, model.QualityPoor)
		convey.So(model.ParseQualityRank(""), convey.ShouldEqual, model.QualityUnspecified)
		convey.So(model.QualityFair.Band(), convey.ShouldEqual, 8)
		convey.So(model.QualityExcellent.String(), convey.ShouldEqual, "Excellent")

		convey.So(model.ParseControlCondition("debrislight"), convey.ShouldEqual, model.ControlDebrisLight)
		convey.So(model.ParseControlCondition("Unspecifed"), convey.ShouldEqual, model.ControlUnspecified)
		convey.So(model.ControlClear.Unstable(), convey.ShouldBeFalse)
		convey.So(model.ControlDebrisLight.Unstable(), convey.ShouldBeFalse)
		convey.So(model.ControlScourChanged.Unstable(), convey.ShouldBeTrue)
		convey.So(model.ControlIceCover.Unstable(), convey.ShouldBeTrue)
	})
}

func TestMeasurementStageRate(t *testing.T) {
	convey.Convey("Given a measurement with a gage height change", t, func() {
		m := model.FieldMeasurement{StageChange: 0.36, StageChangeHours: 2}
		convey.So(m.StageRate(), convey.ShouldAlmostEqual, 0.36/7200, 1e-15)
		convey.So(model.FieldMeasurement{StageChange: 1}.StageRate(), convey.ShouldEqual, 0)
	})
}

func TestRatingCurveLookup(t *testing.T) {
	convey.Convey("Given a curve with a failed middle point", t, func() {
		c := model.RatingCurve{Points: []model.RatingPoint{
			{Time: t0, Discharge: 100, Valid: true},
			{Time: t0.Add(time.Hour), Discharge: 0, Valid: false},
			{Time: t0.Add(2 * time.Hour), Discharge: 300, Valid: true},
		}}

		convey.So(len(c.Valid()), convey.ShouldEqual, 2)
		convey.So(len(c.Failures()), convey.ShouldEqual, 1)

		p, ok := c.At(t0.Add(2 * time.Hour))
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(p.Discharge, convey.ShouldEqual, 300)

		q, ok := c.DischargeAt(t0.Add(time.Hour))
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(q, convey.ShouldAlmostEqual, 200, 1e-9)

		_, ok = c.DischargeAt(t0.Add(3 * time.Hour))
		convey.So(ok, convey.ShouldBeFalse)
	})
}
