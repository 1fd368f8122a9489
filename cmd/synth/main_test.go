package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/dynrat/internal/adapters/nwis"
	"github.com/smartystreets/goconvey/convey"
)

const sectionYAML = `subsections:
  - name: channel
    roughness: 0.05
    trapezoid: {bottom_width: 60, side_slope: 2, max_depth: 25}
`

func TestRun(t *testing.T) {
	convey.Convey("Given a section file", t, func() {
		dir := t.TempDir()
		section := filepath.Join(dir, "section.yaml")
		convey.So(os.WriteFile(section, []byte(sectionYAML), 0o600), convey.ShouldBeNil)
		var stderr bytes.Buffer

		convey.Convey("When a flood is generated at n=0.03", func() {
			err := run(context.Background(), []string{"-geometry", section, "-roughness", "0.03", "-out-dir", dir, "-every", "12"}, &stderr)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the stage series and measurements read back", func() {
				f, err := os.Open(filepath.Join(dir, "stage.csv"))
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = f.Close() }()
				series, err := nwis.ReadStageCSV(f, time.UTC)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(series), convey.ShouldBeGreaterThan, 100)
				convey.So(series[0].HasDischarge, convey.ShouldBeTrue)
				convey.So(series[0].Discharge, convey.ShouldBeGreaterThan, 0)

				g, err := os.Open(filepath.Join(dir, "measurements.rdb"))
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = g.Close() }()
				ms, err := nwis.ReadMeasurements(g)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(ms), convey.ShouldBeGreaterThan, 10)
				convey.So(ms[0].Site, convey.ShouldEqual, "00000000")
				convey.So(ms[0].Discharge, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When the rated column is turned off", func() {
			err := run(context.Background(), []string{"-geometry", section, "-out-dir", dir, "-rated=false"}, &stderr)
			convey.So(err, convey.ShouldBeNil)
			data, err := os.ReadFile(filepath.Join(dir, "stage.csv"))
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(data), convey.ShouldStartWith, "DateTime,Value\n")
		})

		convey.Convey("When the roughness count does not match", func() {
			err := run(context.Background(), []string{"-geometry", section, "-roughness", "0.03,0.08", "-out-dir", dir}, &stderr)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the roughness is not a number", func() {
			err := run(context.Background(), []string{"-geometry", section, "-roughness", "rough", "-out-dir", dir}, &stderr)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
