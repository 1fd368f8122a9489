package model

import (
	"strings"
	"time"
)

// QualityRank is the hydrographer's accuracy rating of a discharge measurement.
type QualityRank int

// Quality ranks, best first.
const (
	QualityUnspecified QualityRank = iota
	QualityExcellent
	QualityGood
	QualityFair
	QualityPoor
)

var qualityNames = map[QualityRank]string{
	QualityUnspecified: "Unspecified",
	QualityExcellent:   "Excellent",
	QualityGood:        "Good",
	QualityFair:        "Fair",
	QualityPoor:        "Poor",
}

func (q QualityRank) String() string {
	if s, ok := qualityNames[q]; ok {
		return s
	}
	return "Unspecified"
}

// Band is the accuracy band of the rank in percent. Poor and unspecified
// measurements have no bound and report 100.
func (q QualityRank) Band() float64 {
	switch q {
	case QualityExcellent:
		return 2
	case QualityGood:
		return 5
	case QualityFair:
		return 8
	default:
		return 100
	}
}

// ParseQualityRank accepts full names and the one-letter NWIS codes.
func ParseQualityRank(s string) QualityRank {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "excellent", "e":
		return QualityExcellent
	case "good", "g":
		return QualityGood
	case "fair", "f":
		return QualityFair
	case "poor", "p":
		return QualityPoor
	default:
		return QualityUnspecified
	}
}

// ControlCondition is the NWIS control_type_cd of the channel control at
// measurement time.
type ControlCondition string

// Control conditions as exchanged by NWIS.
const (
	ControlUnspecified         ControlCondition = "Unspecified"
	ControlClear               ControlCondition = "Clear"
	ControlFillChanged         ControlCondition = "FillControlChanged"
	ControlScourChanged        ControlCondition = "ScourControlChanged"
	ControlDebrisLight         ControlCondition = "DebrisLight"
	ControlDebrisModerate      ControlCondition = "DebrisModerate"
	ControlDebrisHeavy         ControlCondition = "DebrisHeavy"
	ControlVegetationLight     ControlCondition = "VegetationLight"
	ControlVegetationModerate  ControlCondition = "VegetationModerate"
	ControlVegetationHeavy     ControlCondition = "VegetationHeavy"
	ControlIceAnchorUpstream   ControlCondition = "IceAnchorUpstream"
	ControlIceAnchorDownstream ControlCondition = "IceAnchorDownstream"
	ControlIceCover            ControlCondition = "IceCover"
	ControlIceShore            ControlCondition = "IceShore"
	ControlSubmerged           ControlCondition = "Submerged"
	ControlNoFlow              ControlCondition = "NoFlow"
)

var knownControls = []ControlCondition{
	ControlClear, ControlFillChanged, ControlScourChanged,
	ControlDebrisLight, ControlDebrisModerate, ControlDebrisHeavy,
	ControlVegetationLight, ControlVegetationModerate, ControlVegetationHeavy,
	ControlIceAnchorUpstream, ControlIceAnchorDownstream, ControlIceCover, ControlIceShore,
	ControlSubmerged, ControlNoFlow,
}

// DefaultUnstableControls lists controls under which the stage-discharge
// relation is shifting or affected.
var DefaultUnstableControls = []ControlCondition{
	ControlFillChanged,
	ControlScourChanged,
	ControlDebrisModerate,
	ControlDebrisHeavy,
	ControlVegetationHeavy,
	ControlIceAnchorUpstream,
	ControlIceAnchorDownstream,
	ControlIceCover,
	ControlIceShore,
	ControlSubmerged,
}

// ParseControlCondition matches NWIS codes case-insensitively. Unknown codes,
// including the NWIS spelling "Unspecifed", map to ControlUnspecified.
func ParseControlCondition(s string) ControlCondition {
	s = strings.TrimSpace(s)
	for _, c := range knownControls {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	return ControlUnspecified
}

// Unstable reports whether c is in DefaultUnstableControls.
func (c ControlCondition) Unstable() bool {
	for _, u := range DefaultUnstableControls {
		if c == u {
			return true
		}
	}
	return false
}

// FieldMeasurement is one field visit discharge measurement. It is a value
// type; the solver and calibrator only read it.
type FieldMeasurement struct {
	Agency    string
	Site      string
	Number    string
	Time      time.Time
	Party     string
	Stage     float64 // ft
	Discharge float64 // cfs
	Quality   QualityRank
	Control   ControlCondition

	// RatingDifference is the percent deviation from the rating in force at
	// measurement time.
	RatingDifference    float64
	HasRatingDifference bool

	// StageChange is the gage height change (ft) over StageChangeHours.
	StageChange      float64
	StageChangeHours float64

	// Unused is set when the NWIS q_meas_used_fg flag is "No".
	Unused        bool
	DischargeCode string
}

// StageRate returns the stage rate of change in ft/s, 0 when unknown.
func (m FieldMeasurement) StageRate() float64 {
	if m.StageChangeHours <= 0 {
		return 0
	}
	return m.StageChange / (m.StageChangeHours * 3600)
}
