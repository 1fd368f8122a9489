package nwis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/okian/dynrat/internal/domain/model"
)

// ReadStageCSV reads a continuous stage record with a DateTime,Value header
// and an optional Discharge column of rated discharge. Timestamps without an
// offset are read in loc (UTC when nil). Rows with an empty value are skipped;
// an empty discharge leaves the record without one.
func ReadStageCSV(r io.Reader, loc *time.Location) (model.StageSeries, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: stage csv header: %v", ErrFormat, err)
	}
	ti, vi, qi := -1, -1, -1
	for i, h := range head {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "datetime", "timestamp", "time":
			ti = i
		case "value", "stage":
			vi = i
		case "discharge", "q", "rated":
			qi = i
		}
	}
	if ti < 0 || vi < 0 {
		return nil, fmt.Errorf("%w: stage csv needs DateTime and Value columns, got %v", ErrFormat, head)
	}

	var recs []model.StageRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if ti >= len(row) || vi >= len(row) || strings.TrimSpace(row[vi]) == "" {
			continue
		}
		t, err := parseTime(row[ti], loc)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[vi]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad stage %q at %s", ErrFormat, row[vi], row[ti])
		}
		rec := model.StageRecord{Time: t.UTC(), Stage: v}
		if qi >= 0 && qi < len(row) && strings.TrimSpace(row[qi]) != "" {
			q, err := strconv.ParseFloat(strings.TrimSpace(row[qi]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad discharge %q at %s", ErrFormat, row[qi], row[ti])
			}
			rec.Discharge, rec.HasDischarge = q, true
		}
		recs = append(recs, rec)
	}
	return model.NewStageSeries(recs)
}

// WriteStageCSV writes a series in the layout ReadStageCSV reads. The
// Discharge column is written when any record carries one.
func WriteStageCSV(w io.Writer, series model.StageSeries) error {
	withQ := false
	for _, r := range series {
		withQ = withQ || r.HasDischarge
	}
	head := []string{"DateTime", "Value"}
	if withQ {
		head = append(head, "Discharge")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(head); err != nil {
		return err
	}
	for _, r := range series {
		row := []string{r.Time.UTC().Format(time.RFC3339), format(r.Stage)}
		if withQ {
			q := ""
			if r.HasDischarge {
				q = format(r.Discharge)
			}
			row = append(row, q)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var curveHeader = []string{
	"DateTime", "Stage", "StageRate", "Discharge", "DischargeSlope",
	"FrictionSlope", "Conveyance", "Beta", "Celerity", "Iterations", "Steady", "Valid", "Error",
}

// WriteCurveCSV writes one row per rating point.
func WriteCurveCSV(w io.Writer, curve model.RatingCurve) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(curveHeader); err != nil {
		return err
	}
	for _, p := range curve.Points {
		msg := ""
		if p.Err != nil {
			msg = p.Err.Error()
		}
		q := ""
		if p.Valid {
			q = format(p.Discharge)
		}
		row := []string{
			p.Time.UTC().Format(time.RFC3339), format(p.Stage), format(p.StageRate), q,
			format(p.DischargeSlope), format(p.FrictionSlope), format(p.Conveyance), format(p.Beta),
			format(p.Celerity), strconv.Itoa(p.Iterations), strconv.FormatBool(p.Steady),
			strconv.FormatBool(p.Valid), msg,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
