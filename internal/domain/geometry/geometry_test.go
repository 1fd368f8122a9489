package geometry_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func rectangle(width float64) geometry.TableSubsection {
	return geometry.TableSubsection{
		Name:            "main",
		Stage:           []float64{0, 10, 20},
		Area:            []float64{0, 10 * width, 20 * width},
		TopWidth:        []float64{width, width, width},
		WettedPerimeter: []float64{width, width + 20, width + 40},
	}
}

func TestNewTable(t *testing.T) {
	Convey("Given subsection tables", t, func() {
		Convey("When the table is well formed", func() {
			tbl, err := geometry.NewTable(rectangle(100))
			So(err, ShouldBeNil)
			lo, hi := tbl.Range()
			So(lo, ShouldEqual, 0)
			So(hi, ShouldEqual, 20)
			So(tbl.Names(), ShouldResemble, []string{"main"})

			Convey("Then properties interpolate linearly", func() {
				props, err := tbl.At(5)
				So(err, ShouldBeNil)
				So(props[0].Area, ShouldAlmostEqual, 500, 1e-9)
				So(props[0].WettedPerimeter, ShouldAlmostEqual, 110, 1e-9)
			})

			Convey("Then stages below the invert are dry", func() {
				props, err := tbl.At(-1)
				So(err, ShouldBeNil)
				So(props[0].Wet(), ShouldBeFalse)
			})

			Convey("Then stages above the top are undefined", func() {
				_, err := tbl.At(20.5)
				So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
			})
		})

		Convey("When area decreases with stage", func() {
			s := rectangle(100)
			s.Area[2] = 500
			_, err := geometry.NewTable(s)
			So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "non-monotonic")
		})

		Convey("When stage does not increase", func() {
			s := rectangle(100)
			s.Stage[2] = 10
			_, err := geometry.NewTable(s)
			So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
		})

		Convey("When columns have different lengths", func() {
			s := rectangle(100)
			s.TopWidth = s.TopWidth[:2]
			_, err := geometry.NewTable(s)
			So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
		})
	})
}

func TestTrapezoid(t *testing.T) {
	Convey("Given a trapezoid with 2:1 side slopes", t, func() {
		tr, err := geometry.NewTrapezoid(100, 20, 2, 10)
		So(err, ShouldBeNil)

		props, err := tr.At(104)
		So(err, ShouldBeNil)
		So(props[0].Area, ShouldAlmostEqual, (20+2*4)*4, 1e-9)
		So(props[0].TopWidth, ShouldAlmostEqual, 36, 1e-9)
		So(props[0].WettedPerimeter, ShouldAlmostEqual, 20+8*math.Sqrt(5), 1e-9)

		Convey("Then tabulating it reproduces the analytic values at the knots", func() {
			tbl, err := geometry.Tabulate(tr, geometry.Linspace(100, 110, 11))
			So(err, ShouldBeNil)
			got, err := tbl.At(104)
			So(err, ShouldBeNil)
			So(got[0].Area, ShouldAlmostEqual, props[0].Area, 1e-9)
		})

		Convey("Then invalid shapes are rejected", func() {
			_, err := geometry.NewTrapezoid(0, 0, 0, 5)
			So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
			_, err = geometry.NewTrapezoid(0, 10, 1, 0)
			So(errors.Is(err, model.ErrGeometry), ShouldBeTrue)
		})
	})
}

func TestHydraulics(t *testing.T) {
	Convey("Given a single rectangular subsection", t, func() {
		tbl, err := geometry.NewTable(rectangle(200))
		So(err, ShouldBeNil)
		xs := geometry.CrossSection{Section: tbl, Roughness: []float64{0.035}}
		So(xs.Validate(), ShouldBeNil)

		h, err := xs.Hydraulics(10, 1.486)
		So(err, ShouldBeNil)

		Convey("Then conveyance follows Manning and beta is one", func() {
			a, p := 2000.0, 220.0
			want := 1.486 / 0.035 * a * math.Pow(a/p, 2.0/3.0)
			So(h.Conveyance, ShouldAlmostEqual, want, 1e-6)
			So(h.Beta, ShouldEqual, 1)
			So(h.TopWidth, ShouldEqual, 200)
		})

		Convey("Then rougher copies convey less without touching the original", func() {
			rough := xs.WithRoughness([]float64{0.07})
			hr, err := rough.Hydraulics(10, 1.486)
			So(err, ShouldBeNil)
			So(hr.Conveyance, ShouldAlmostEqual, h.Conveyance/2, 1e-6)
			So(xs.Roughness[0], ShouldEqual, 0.035)
		})
	})

	Convey("Given a channel with two overbanks", t, func() {
		main, err := geometry.NewTrapezoid(0, 50, 1, 20)
		So(err, ShouldBeNil)
		left, err := geometry.NewTrapezoid(8, 100, 0, 12)
		So(err, ShouldBeNil)
		right, err := geometry.NewTrapezoid(9, 80, 0, 11)
		So(err, ShouldBeNil)
		sec, err := geometry.Compose(main, left, right)
		So(err, ShouldBeNil)
		So(sec.Subsections(), ShouldEqual, 3)
		lo, hi := sec.Range()
		So(lo, ShouldEqual, 0)
		So(hi, ShouldEqual, 20)

		xs := geometry.CrossSection{Section: sec, Roughness: []float64{0.03, 0.08, 0.08}}

		Convey("Then beta is one while only the channel is wet", func() {
			h, err := xs.Hydraulics(6, 1.486)
			So(err, ShouldBeNil)
			So(h.Beta, ShouldEqual, 1)
			So(h.Sub[1].Conveyance, ShouldEqual, 0)
		})

		Convey("Then beta exceeds one once the overbanks flow", func() {
			h, err := xs.Hydraulics(12, 1.486)
			So(err, ShouldBeNil)
			So(h.Beta, ShouldBeGreaterThan, 1)
			So(h.Conveyance, ShouldAlmostEqual, h.Sub[0].Conveyance+h.Sub[1].Conveyance+h.Sub[2].Conveyance, 1e-6)
		})

		Convey("Then a mismatched roughness vector is rejected", func() {
			bad := xs.WithRoughness([]float64{0.03})
			So(errors.Is(bad.Validate(), model.ErrGeometry), ShouldBeTrue)
			bad = xs.WithRoughness([]float64{0.03, 0, 0.08})
			So(errors.Is(bad.Validate(), model.ErrGeometry), ShouldBeTrue)
		})
	})
}
