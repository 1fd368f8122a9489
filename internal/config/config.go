// Package config defines process configuration and its loading.
//
// Values are layered defaults, then an optional YAML file, then environment
// variables, and validated once after the merge.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// MetricsFile, when set, receives the metrics registry in text format
	// on exit.
	MetricsFile string `koanf:"metrics_file"`

	Site        Site        `koanf:"site"`
	Solver      Solver      `koanf:"solver"`
	Calibration Calibration `koanf:"calibration"`
	Quality     Quality     `koanf:"quality"`
}

// Site holds the reach constants of the gauged section.
type Site struct {
	Name           string  `koanf:"name"`
	Timezone       string  `koanf:"timezone"`
	BedSlope       float64 `koanf:"bed_slope" validate:"gt=0,lt=1"`
	SlopeRatio     float64 `koanf:"slope_ratio" validate:"gte=0"`
	Formulation    string  `koanf:"formulation" validate:"omitempty,oneof=dynpound dynmod"`
	Celerity       string  `koanf:"celerity" validate:"omitempty,oneof=dkda kinematic constant"`
	KinematicRatio float64 `koanf:"kinematic_ratio" validate:"gt=0"`
	Gravity        float64 `koanf:"gravity" validate:"gt=0"`
	ManningCoef    float64 `koanf:"manning_coef" validate:"gt=0"`
}

// Solver holds the numerical settings of the discharge solver.
type Solver struct {
	Tolerance      float64 `koanf:"tolerance" validate:"gt=0"`
	MaxIterations  int     `koanf:"max_iterations" validate:"gte=1"`
	MinStageRate   float64 `koanf:"min_stage_rate" validate:"gte=0"`
	DerivativeStep float64 `koanf:"derivative_step" validate:"gt=0"`
}

// Calibration holds the roughness fit settings.
type Calibration struct {
	RoughnessMin       float64       `koanf:"roughness_min" validate:"gt=0"`
	RoughnessMax       float64       `koanf:"roughness_max" validate:"gtfield=RoughnessMin"`
	FitSlope           bool          `koanf:"fit_slope"`
	SlopeMin           float64       `koanf:"slope_min" validate:"gt=0"`
	SlopeMax           float64       `koanf:"slope_max" validate:"gtfield=SlopeMin"`
	MaxIterations      int           `koanf:"max_iterations" validate:"gte=1"`
	Tolerance          float64       `koanf:"tolerance" validate:"gt=0"`
	GradientStep       float64       `koanf:"gradient_step" validate:"gt=0,lt=0.5"`
	Damping            float64       `koanf:"damping" validate:"gt=0"`
	AcceptanceMAPE     float64       `koanf:"acceptance_mape" validate:"gte=0"`
	MaxFailureFraction float64       `koanf:"max_failure_fraction" validate:"gte=0,lte=1"`
	PointStep          time.Duration `koanf:"point_step" validate:"gt=0"`
	// Workers bounds the Jacobian pool; 0 uses every CPU.
	Workers int  `koanf:"workers" validate:"gte=0"`
	Series  bool `koanf:"series"`
	// SeriesWarmup is the stage record kept around the measurements in
	// series mode; 0 solves the full record.
	SeriesWarmup time.Duration `koanf:"series_warmup" validate:"gte=0"`
}

// Quality holds the measurement filter settings.
type Quality struct {
	RejectedRanks       []string `koanf:"rejected_ranks" validate:"dive,oneof=Excellent Good Fair Poor Unspecified"`
	UnstableControls    []string `koanf:"unstable_controls"`
	AllowUnstable       bool     `koanf:"allow_unstable"`
	Overrides           []string `koanf:"overrides"`
	MaxRatingDifference float64  `koanf:"max_rating_difference" validate:"gte=0"`
	HonorUsedFlag       bool     `koanf:"honor_used_flag"`
	Weighted            bool     `koanf:"weighted"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Site: Site{
			Timezone:       "UTC",
			BedSlope:       0.001,
			Formulation:    "dynpound",
			Celerity:       "dkda",
			KinematicRatio: 1.7,
			Gravity:        32.2,
			ManningCoef:    1.486,
		},
		Solver: Solver{
			Tolerance:      1e-6,
			MaxIterations:  50,
			MinStageRate:   1e-9,
			DerivativeStep: 0.01,
		},
		Calibration: Calibration{
			RoughnessMin:       0.01,
			RoughnessMax:       0.2,
			SlopeMin:           1e-5,
			SlopeMax:           0.05,
			MaxIterations:      100,
			Tolerance:          1e-6,
			GradientStep:       1e-4,
			Damping:            1e-3,
			AcceptanceMAPE:     10,
			MaxFailureFraction: 0.25,
			PointStep:          15 * time.Minute,
			SeriesWarmup:       24 * time.Hour,
		},
		Quality: Quality{
			RejectedRanks: []string{"Poor"},
			UnstableControls: []string{
				"FillControlChanged", "ScourControlChanged",
				"DebrisModerate", "DebrisHeavy", "VegetationHeavy",
				"IceAnchorUpstream", "IceAnchorDownstream", "IceCover", "IceShore",
				"Submerged",
			},
			HonorUsedFlag: true,
		},
	}
}
