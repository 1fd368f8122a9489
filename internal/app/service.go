// Package service wires measurement filtering, calibration and rating
// solves into the operations the commands run.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/dynrat/internal/adapters/worker"
	"github.com/okian/dynrat/internal/config"
	"github.com/okian/dynrat/internal/domain/calibrate"
	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/quality"
	"github.com/okian/dynrat/internal/domain/solver"
	"github.com/okian/dynrat/pkg/logger"
)

// Params groups the domain parameters a Service runs with.
type Params struct {
	Solver      solver.Params
	Calibration calibrate.Params
	Quality     quality.Params
	Workers     int
}

// DefaultParams returns the domain defaults.
func DefaultParams() Params {
	return Params{
		Solver:      solver.DefaultParams(),
		Calibration: calibrate.DefaultParams(),
		Quality:     quality.DefaultParams(),
	}
}

// ParamsFromConfig maps a loaded config onto the domain parameters.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	celerity, err := solver.ParseCelerityMethod(cfg.Site.Celerity)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	form, err := solver.ParseFormulation(cfg.Site.Formulation)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	sp := solver.Params{
		Formulation:    form,
		BedSlope:       cfg.Site.BedSlope,
		SlopeRatio:     cfg.Site.SlopeRatio,
		Celerity:       celerity,
		KinematicRatio: cfg.Site.KinematicRatio,
		Gravity:        cfg.Site.Gravity,
		ManningCoef:    cfg.Site.ManningCoef,
		Tolerance:      cfg.Solver.Tolerance,
		MaxIterations:  cfg.Solver.MaxIterations,
		MinStageRate:   cfg.Solver.MinStageRate,
		DerivativeStep: cfg.Solver.DerivativeStep,
		PointStep:      cfg.Calibration.PointStep,
	}

	c := cfg.Calibration
	cp := calibrate.Params{
		RoughnessMin:       c.RoughnessMin,
		RoughnessMax:       c.RoughnessMax,
		FitSlope:           c.FitSlope,
		SlopeMin:           c.SlopeMin,
		SlopeMax:           c.SlopeMax,
		MaxIterations:      c.MaxIterations,
		Tolerance:          c.Tolerance,
		GradientStep:       c.GradientStep,
		Damping:            c.Damping,
		AcceptanceMAPE:     c.AcceptanceMAPE,
		MaxFailureFraction: c.MaxFailureFraction,
		Mode:               calibrate.ModePoint,
		SeriesWarmup:       c.SeriesWarmup,
	}
	if c.Series {
		cp.Mode = calibrate.ModeSeries
	}

	q := cfg.Quality
	qp := quality.Params{
		AllowUnstable:       q.AllowUnstable,
		Overrides:           append([]string(nil), q.Overrides...),
		MaxRatingDifference: q.MaxRatingDifference,
		HonorUsedFlag:       q.HonorUsedFlag,
		Weighted:            q.Weighted,
	}
	for _, r := range q.RejectedRanks {
		qp.RejectedRanks = append(qp.RejectedRanks, model.ParseQualityRank(r))
	}
	for _, s := range q.UnstableControls {
		cc := model.ParseControlCondition(s)
		if cc == model.ControlUnspecified && !strings.EqualFold(s, string(model.ControlUnspecified)) {
			return Params{}, fmt.Errorf("%w: unknown control condition %q", config.ErrInvalidConfig, s)
		}
		qp.UnstableControls = append(qp.UnstableControls, cc)
	}

	p := Params{Solver: sp, Calibration: cp, Quality: qp, Workers: c.Workers}
	if err := p.Solver.Validate(); err != nil {
		return Params{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if err := p.Calibration.Validate(); err != nil {
		return Params{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return p, nil
}

// Service runs solves and calibrations.
type Service struct {
	p      Params
	pool   *worker.Pool
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSolverParams sets the solver parameters.
func WithSolverParams(p solver.Params) Option {
	return func(s *Service) { s.p.Solver = p }
}

// WithCalibrationParams sets the calibration parameters.
func WithCalibrationParams(p calibrate.Params) Option {
	return func(s *Service) { s.p.Calibration = p }
}

// WithQualityParams sets the measurement filter parameters.
func WithQualityParams(p quality.Params) Option {
	return func(s *Service) { s.p.Quality = p }
}

// WithWorkers bounds the Jacobian pool; 0 uses every CPU.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.p.Workers = n
		}
	}
}

// WithParams sets every parameter group at once.
func WithParams(p Params) Option {
	return func(s *Service) { s.p = p }
}

// New constructs a Service with default parameters.
func New(opts ...Option) *Service {
	s := &Service{p: DefaultParams(), logger: logger.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewPool(s.p.Workers, worker.WithName("jacobian"), worker.WithLogger(s.logger.Named("pool")))
	return s
}

// Params returns the parameters the service runs with.
func (s *Service) Params() Params { return s.p }

// Solve computes the rating curve of series through xs. When series carries
// rated discharge the curve's error against it is logged.
func (s *Service) Solve(ctx context.Context, xs geometry.CrossSection, series model.StageSeries) (model.RatingCurve, error) {
	curve, _, err := s.solve(ctx, xs, s.p.Solver, series)
	return curve, err
}

func (s *Service) solve(ctx context.Context, xs geometry.CrossSection, sp solver.Params, series model.StageSeries) (model.RatingCurve, *calibrate.RatedComparison, error) {
	sol, err := solver.New(xs, sp, solver.WithLogger(s.logger.Named("solver")))
	if err != nil {
		return model.RatingCurve{}, nil, err
	}
	curve, err := sol.Solve(ctx, series)
	if err != nil {
		return model.RatingCurve{}, nil, err
	}
	fields := []logger.Field{
		logger.Int("points", len(curve.Points)),
		logger.Int("failures", len(curve.Failures())),
	}
	if len(curve.Points) > 0 {
		fields = append(fields,
			logger.Time("from", curve.Points[0].Time),
			logger.Time("to", curve.Points[len(curve.Points)-1].Time))
	}
	s.logger.Info(ctx, "rating solved", fields...)

	cmp := calibrate.CompareRated(curve, series)
	if cmp.N == 0 {
		return curve, nil, nil
	}
	s.logger.Info(ctx, "rating compared with rated discharge",
		logger.Int("points", cmp.N),
		logger.Float64("mean_error", cmp.MeanError),
		logger.Float64("relative_error", cmp.RelativeError),
		logger.Float64("rmse", cmp.RMSE))
	return curve, &cmp, nil
}

// Report is the outcome of a calibration request.
type Report struct {
	Partition quality.Partition
	Result    *calibrate.Result
	// Curve is the series solved with the fitted parameters; empty when no
	// series was given.
	Curve model.RatingCurve
	// Rated compares Curve with the series' rated discharge; nil when the
	// series carries none.
	Rated *calibrate.RatedComparison
}

// Summary renders a short human-readable account of the report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "measurements: %s\n", r.Partition)
	if res := r.Result; res != nil {
		fmt.Fprintf(&b, "calibration %s: %s after %d iterations (%s)\n", res.RunID, res.Outcome, res.Iterations, res.Duration)
		fmt.Fprintf(&b, "  roughness: %v\n", res.CrossSection.Roughness)
		fmt.Fprintf(&b, "  bed slope: %g\n", res.Solver.BedSlope)
		fmt.Fprintf(&b, "  MAPE %.3f%%  RMSE %.3f  bias %.3f%%  failed %d\n", res.MAPE, res.RMSE, res.Bias, res.Failed)
	}
	if n := len(r.Curve.Points); n > 0 {
		fmt.Fprintf(&b, "rating: %d points, %d failures\n", n, len(r.Curve.Failures()))
	}
	if r.Rated != nil {
		fmt.Fprintf(&b, "rated discharge: %s\n", r.Rated)
	}
	return b.String()
}

// Calibrate filters ms, fits xs to the usable measurements and, when series
// is non-empty, solves it with the fitted parameters. A fit outside the
// acceptance threshold returns the Report together with
// calibrate.ErrAcceptance.
func (s *Service) Calibrate(ctx context.Context, xs geometry.CrossSection, ms []model.FieldMeasurement, series model.StageSeries) (*Report, error) {
	rep := &Report{Partition: quality.Filter(ms, s.p.Quality)}
	s.logger.Info(ctx, "measurements filtered",
		logger.Int("usable", len(rep.Partition.Usable)),
		logger.Int("excluded", len(rep.Partition.Excluded)))
	for _, ex := range rep.Partition.Excluded {
		s.logger.Debug(ctx, "measurement excluded",
			logger.String("number", ex.Measurement.Number),
			logger.Time("time", ex.Measurement.Time),
			logger.Any("reasons", ex.Reasons),
			logger.String("detail", ex.Detail))
	}

	cal, err := calibrate.New(s.p.Calibration,
		calibrate.WithLogger(s.logger),
		calibrate.WithPool(s.pool))
	if err != nil {
		return nil, err
	}
	res, err := cal.Run(ctx, calibrate.Input{
		Partition:    rep.Partition,
		CrossSection: xs,
		Solver:       s.p.Solver,
		Series:       series,
	})
	if res == nil {
		return nil, err
	}
	rep.Result = res
	accept := err
	if accept != nil && !errors.Is(accept, calibrate.ErrAcceptance) {
		return nil, accept
	}

	if len(series) > 0 {
		curve, rated, err := s.solve(ctx, res.CrossSection, res.Solver, series)
		if err != nil {
			return nil, fmt.Errorf("final solve: %w", err)
		}
		rep.Curve, rep.Rated = curve, rated
	}
	return rep, accept
}
