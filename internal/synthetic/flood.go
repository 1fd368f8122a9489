// Package synthetic generates flood hydrographs and field measurements with
// a known rating, for round-trip checks of the calibrator.
package synthetic

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/dynrat/internal/domain/model"
)

// Default flood wave shape.
const (
	defaultStep      = 15 * time.Minute
	defaultBaseStage = 4.0
	defaultPeakStage = 16.0
	defaultLead      = 6 * time.Hour
	defaultRise      = 18 * time.Hour
	defaultFall      = 48 * time.Hour
	defaultTail      = 12 * time.Hour
)

// FloodWave is a single-peaked stage hydrograph: flat at Base for Lead, a
// half-cosine rise to Peak over Rise, a half-cosine fall back to Base over
// Fall, then flat for Tail.
type FloodWave struct {
	Start time.Time
	Step  time.Duration
	Base  float64
	Peak  float64
	Lead  time.Duration
	Rise  time.Duration
	Fall  time.Duration
	Tail  time.Duration
}

// DefaultFloodWave returns a three-day flood starting at start.
func DefaultFloodWave(start time.Time) FloodWave {
	return FloodWave{
		Start: start,
		Step:  defaultStep,
		Base:  defaultBaseStage,
		Peak:  defaultPeakStage,
		Lead:  defaultLead,
		Rise:  defaultRise,
		Fall:  defaultFall,
		Tail:  defaultTail,
	}
}

// Validate checks the wave shape.
func (w FloodWave) Validate() error {
	switch {
	case w.Start.IsZero():
		return fmt.Errorf("flood wave: missing start time")
	case w.Step <= 0:
		return fmt.Errorf("flood wave: step must be positive")
	case w.Rise <= 0 || w.Fall <= 0:
		return fmt.Errorf("flood wave: rise and fall must be positive")
	case w.Lead < 0 || w.Tail < 0:
		return fmt.Errorf("flood wave: lead and tail must be non-negative")
	case !(w.Peak > w.Base):
		return fmt.Errorf("flood wave: peak %g must exceed base %g", w.Peak, w.Base)
	}
	return nil
}

// Duration is the total length of the wave.
func (w FloodWave) Duration() time.Duration { return w.Lead + w.Rise + w.Fall + w.Tail }

// PeakTime is the time of the peak stage.
func (w FloodWave) PeakTime() time.Time { return w.Start.Add(w.Lead + w.Rise) }

// StageAt returns the stage a time d after Start.
func (w FloodWave) StageAt(d time.Duration) float64 {
	amp := w.Peak - w.Base
	switch {
	case d <= w.Lead:
		return w.Base
	case d <= w.Lead+w.Rise:
		x := float64(d-w.Lead) / float64(w.Rise)
		return w.Base + amp*(1-math.Cos(math.Pi*x))/2
	case d <= w.Lead+w.Rise+w.Fall:
		x := float64(d-w.Lead-w.Rise) / float64(w.Fall)
		return w.Base + amp*(1+math.Cos(math.Pi*x))/2
	default:
		return w.Base
	}
}

// Series samples the wave every Step.
func (w FloodWave) Series() (model.StageSeries, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	n := int(w.Duration()/w.Step) + 1
	recs := make([]model.StageRecord, n)
	for i := range recs {
		d := time.Duration(i) * w.Step
		recs[i] = model.StageRecord{Time: w.Start.Add(d), Stage: w.StageAt(d)}
	}
	return model.NewStageSeries(recs)
}
