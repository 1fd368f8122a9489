// Package quality partitions field measurements into usable and excluded
// sets before calibration.
package quality

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/pkg/metrics"
)

// Reason labels why a measurement was excluded.
type Reason string

// Exclusion reasons.
const (
	ReasonInvalidValue    Reason = "invalid_value"
	ReasonNotUsed         Reason = "not_used"
	ReasonQualityRank     Reason = "quality_rank"
	ReasonUnstableControl Reason = "unstable_control"
	ReasonRatingShift     Reason = "rating_shift"
	ReasonDuplicateTime   Reason = "duplicate_time"
)

// Params configure the filter.
type Params struct {
	// RejectedRanks are excluded outright.
	RejectedRanks []model.QualityRank
	// UnstableControls are excluded unless AllowUnstable is set or the
	// measurement number is in Overrides.
	UnstableControls []model.ControlCondition
	AllowUnstable    bool
	Overrides        []string
	// MaxRatingDifference (percent) flags potential shifts; 0 disables.
	MaxRatingDifference float64
	// HonorUsedFlag excludes measurements whose NWIS used flag is off.
	HonorUsedFlag bool
	// Weighted gives each usable measurement weight 2/band instead of 1.
	Weighted bool
}

// DefaultParams rejects Poor measurements and the default unstable controls.
func DefaultParams() Params {
	return Params{
		RejectedRanks:    []model.QualityRank{model.QualityPoor},
		UnstableControls: append([]model.ControlCondition(nil), model.DefaultUnstableControls...),
		HonorUsedFlag:    true,
	}
}

// Usable is a measurement accepted for calibration.
type Usable struct {
	Measurement model.FieldMeasurement
	Weight      float64
}

// Exclusion is a rejected measurement and every reason that applied.
type Exclusion struct {
	Measurement model.FieldMeasurement
	Reasons     []Reason
	Detail      string
}

// Partition is the result of Filter. Every input lands in exactly one side
// and input order is preserved within each side.
type Partition struct {
	Usable   []Usable
	Excluded []Exclusion
}

// Measurements returns the usable measurements.
func (p Partition) Measurements() []model.FieldMeasurement {
	out := make([]model.FieldMeasurement, len(p.Usable))
	for i, u := range p.Usable {
		out[i] = u.Measurement
	}
	return out
}

// Weights returns the usable weights in order.
func (p Partition) Weights() []float64 {
	out := make([]float64, len(p.Usable))
	for i, u := range p.Usable {
		out[i] = u.Weight
	}
	return out
}

// Counts returns the number of exclusions per reason. A measurement with
// several reasons is counted under each.
func (p Partition) Counts() map[Reason]int {
	out := make(map[Reason]int)
	for _, e := range p.Excluded {
		for _, r := range e.Reasons {
			out[r]++
		}
	}
	return out
}

// String summarizes the partition for logs.
func (p Partition) String() string {
	counts := p.Counts()
	keys := make([]string, 0, len(counts))
	for r := range counts {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[Reason(k)]))
	}
	return fmt.Sprintf("usable=%d excluded=%d [%s]", len(p.Usable), len(p.Excluded), strings.Join(parts, " "))
}

// Filter applies p to ms. The inputs are not modified.
func Filter(ms []model.FieldMeasurement, p Params) Partition {
	rejected := make(map[model.QualityRank]bool, len(p.RejectedRanks))
	for _, r := range p.RejectedRanks {
		rejected[r] = true
	}
	unstable := make(map[model.ControlCondition]bool, len(p.UnstableControls))
	for _, c := range p.UnstableControls {
		unstable[c] = true
	}
	override := make(map[string]bool, len(p.Overrides))
	for _, n := range p.Overrides {
		override[strings.TrimSpace(n)] = true
	}
	seen := make(map[time.Time]string, len(ms))

	var out Partition
	for _, m := range ms {
		var reasons []Reason
		var detail []string

		if math.IsNaN(m.Stage) || math.IsInf(m.Stage, 0) || !finitePositive(m.Discharge) {
			reasons = append(reasons, ReasonInvalidValue)
			detail = append(detail, fmt.Sprintf("stage=%g discharge=%g", m.Stage, m.Discharge))
		}
		if p.HonorUsedFlag && m.Unused {
			reasons = append(reasons, ReasonNotUsed)
		}
		if rejected[m.Quality] {
			reasons = append(reasons, ReasonQualityRank)
			detail = append(detail, "quality="+m.Quality.String())
		}
		if unstable[m.Control] && !p.AllowUnstable && !override[m.Number] {
			reasons = append(reasons, ReasonUnstableControl)
			detail = append(detail, "control="+string(m.Control))
		}
		if p.MaxRatingDifference > 0 && m.HasRatingDifference && math.Abs(m.RatingDifference) > p.MaxRatingDifference {
			reasons = append(reasons, ReasonRatingShift)
			detail = append(detail, fmt.Sprintf("rating difference %.1f%%", m.RatingDifference))
		}
		if first, dup := seen[m.Time.UTC()]; dup {
			reasons = append(reasons, ReasonDuplicateTime)
			detail = append(detail, "same time as measurement "+first)
		} else if !m.Time.IsZero() {
			seen[m.Time.UTC()] = m.Number
		}

		if len(reasons) > 0 {
			out.Excluded = append(out.Excluded, Exclusion{Measurement: m, Reasons: reasons, Detail: strings.Join(detail, "; ")})
			for _, r := range reasons {
				metrics.RecordMeasurementExcluded(string(r))
			}
			continue
		}
		w := 1.0
		if p.Weighted {
			w = 2 / m.Quality.Band()
		}
		out.Usable = append(out.Usable, Usable{Measurement: m, Weight: w})
		metrics.RecordMeasurementUsed()
	}
	return out
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
