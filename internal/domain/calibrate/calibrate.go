package calibrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/dynrat/internal/adapters/worker"
	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/internal/domain/quality"
	"github.com/okian/dynrat/internal/domain/solver"
	"github.com/okian/dynrat/pkg/logger"
	"github.com/okian/dynrat/pkg/metrics"
)

const (
	maxDamping  = 1e10
	costFloor   = 1e-24
	diagFloor   = 1e-12
	minFDStep   = 1e-9
	dampingUp   = 10
	dampingDown = 10
)

// Outcome of a run.
type Outcome string

// Outcomes.
const (
	Converged    Outcome = "converged"
	NotConverged Outcome = "not_converged"
	Rejected     Outcome = "rejected"
)

// Input is what a run fits against.
type Input struct {
	// Partition comes from quality.Filter; only its usable side is fitted.
	Partition    quality.Partition
	CrossSection geometry.CrossSection
	Solver       solver.Params
	// Series is required in ModeSeries and must cover the measurement times.
	Series model.StageSeries
}

// Residual is the fit at one usable measurement.
type Residual struct {
	Measurement model.FieldMeasurement
	Weight      float64
	Simulated   float64
	// Percent is 100 (simulated - measured) / measured.
	Percent float64
	Failed  bool
	Err     error
}

// Result of a calibration run.
type Result struct {
	RunID        string
	Outcome      Outcome
	Mode         Mode
	CrossSection geometry.CrossSection
	// Solver carries the fitted bed slope when slope fitting is on.
	Solver     solver.Params
	Iterations int
	Cost       float64
	MAPE       float64
	RMSE       float64
	Bias       float64
	Residuals  []Residual
	Used       int
	Excluded   int
	Failed     int
	// SeriesRecords is the number of stage records each series-mode
	// evaluation solves.
	SeriesRecords int
	StartedAt     time.Time
	Duration      time.Duration
}

// Calibrator runs calibrations. It is safe for concurrent use.
type Calibrator struct {
	p      Params
	pool   *worker.Pool
	logger logger.Logger
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithLogger sets the calibrator logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Calibrator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPool sets the pool that evaluates Jacobian columns.
func WithPool(p *worker.Pool) Option {
	return func(c *Calibrator) {
		if p != nil {
			c.pool = p
		}
	}
}

// New validates p and returns a Calibrator.
func New(p Params, opts ...Option) (*Calibrator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("calibration params: %w", err)
	}
	if p.Mode == "" {
		p.Mode = ModePoint
	}
	c := &Calibrator{p: p, logger: logger.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = worker.NewPool(0, worker.WithName("jacobian"), worker.WithLogger(c.logger))
	}
	return c, nil
}

// Run fits the usable measurements of in. A converged fit with MAPE above
// the acceptance threshold returns the Result together with ErrAcceptance.
// Hitting the iteration bound or the failure fraction returns a
// model.ErrConvergence error and no Result. Cancellation is checked between
// iterations and discards the partial fit.
func (c *Calibrator) Run(ctx context.Context, in Input) (*Result, error) {
	const op = "calibrate.Run"
	start := time.Now()
	res := &Result{
		RunID:     uuid.NewString(),
		Mode:      c.p.Mode,
		Used:      len(in.Partition.Usable),
		Excluded:  len(in.Partition.Excluded),
		StartedAt: start,
	}
	log := c.logger.Named("calibrate")

	if err := in.CrossSection.Validate(); err != nil {
		return nil, err
	}
	if res.Used == 0 {
		return nil, model.NewError(op, model.ErrData, 0, "no usable measurements")
	}
	if c.p.Mode == ModeSeries && len(in.Series) == 0 {
		return nil, model.NewError(op, model.ErrData, 0, "series mode needs a stage series")
	}

	series := in.Series
	if c.p.Mode == ModeSeries {
		series = c.clip(series, in.Partition.Usable)
		res.SeriesRecords = len(series)
	}

	m := in.CrossSection.Section.Subsections()
	obj := &objective{
		xs:       in.CrossSection,
		sp:       in.Solver,
		usable:   in.Partition.Usable,
		series:   series,
		mode:     c.p.Mode,
		fitSlope: c.p.FitSlope,
		m:        m,
	}
	lo, hi := c.p.bounds(m)
	x := append([]float64(nil), in.CrossSection.Roughness...)
	if c.p.FitSlope {
		x = append(x, in.Solver.BedSlope)
	}
	project(x, lo, hi)

	log.Info(ctx, "calibration started",
		logger.String("run_id", res.RunID),
		logger.String("mode", string(c.p.Mode)),
		logger.Int("measurements", res.Used),
		logger.Int("parameters", len(x)),
	)

	fail := func(outcome Outcome, err error) (*Result, error) {
		metrics.RecordCalibrationRun(string(outcome), res.Iterations, time.Since(start).Seconds())
		log.Error(ctx, "calibration failed",
			logger.String("run_id", res.RunID),
			logger.String("outcome", string(outcome)),
			logger.Int("iterations", res.Iterations),
			logger.Error(err),
		)
		return nil, err
	}

	cur, err := c.evaluate(ctx, obj, x)
	if err != nil {
		return fail(NotConverged, err)
	}

	lambda := c.p.Damping
	converged := false
	for res.Iterations < c.p.MaxIterations && !converged {
		if err := ctx.Err(); err != nil {
			return fail(NotConverged, fmt.Errorf("calibration canceled: %w", err))
		}
		res.Iterations++
		if cur.cost <= costFloor {
			converged = true
			break
		}

		jac, err := c.jacobian(ctx, obj, x, cur, lo, hi)
		if err != nil {
			return fail(NotConverged, err)
		}
		r := mat.NewVecDense(len(cur.residuals), cur.residuals)
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), r)

		improved := false
		for lambda <= maxDamping {
			step, ok := dampedStep(&jtj, &grad, lambda)
			if !ok {
				lambda *= dampingUp
				continue
			}
			trial := make([]float64, len(x))
			for j := range x {
				trial[j] = x[j] - step[j]
			}
			project(trial, lo, hi)

			next, err := c.evaluate(ctx, obj, trial)
			if err != nil {
				return fail(NotConverged, err)
			}
			if next.cost < cur.cost {
				reduction := (cur.cost - next.cost) / cur.cost
				moved := maxRelativeChange(x, trial)
				x, cur = trial, next
				lambda = math.Max(lambda/dampingDown, 1e-12)
				improved = true
				if reduction < c.p.Tolerance || moved < c.p.Tolerance {
					converged = true
				}
				break
			}
			lambda *= dampingUp
		}
		if !improved {
			// No descent direction left inside the bounds.
			converged = true
		}
		log.Debug(ctx, "calibration iteration",
			logger.Int("iteration", res.Iterations),
			logger.Float64("cost", cur.cost),
			logger.Float64("lambda", lambda),
			logger.Any("parameters", x),
		)
	}

	if !converged {
		return fail(NotConverged, &model.Error{
			Op:         op,
			Kind:       model.ErrConvergence,
			Iterations: res.Iterations,
			Residual:   cur.cost,
			Msg:        "calibration did not converge",
		})
	}

	res.CrossSection = in.CrossSection.WithRoughness(x[:m])
	res.Solver = in.Solver
	if c.p.FitSlope {
		res.Solver.BedSlope = x[m]
	}
	res.Cost = cur.cost
	res.Failed = cur.failed
	res.Residuals = make([]Residual, len(obj.usable))
	for i, u := range obj.usable {
		rr := Residual{Measurement: u.Measurement, Weight: u.Weight, Err: cur.errs[i], Failed: cur.errs[i] != nil}
		if !rr.Failed {
			rr.Simulated = cur.simulated[i]
			rr.Percent = 100 * (rr.Simulated - u.Measurement.Discharge) / u.Measurement.Discharge
		}
		res.Residuals[i] = rr
	}
	if res.Failed == len(res.Residuals) {
		return fail(NotConverged, &model.Error{
			Op:         op,
			Kind:       model.ErrConvergence,
			Iterations: res.Iterations,
			Msg:        fmt.Sprintf("none of %d measurements evaluated", res.Failed),
		})
	}
	res.MAPE, res.RMSE, res.Bias = summarize(res.Residuals)
	res.Duration = time.Since(start)
	res.Outcome = Converged
	if c.p.AcceptanceMAPE > 0 && res.MAPE > c.p.AcceptanceMAPE {
		res.Outcome = Rejected
	}

	metrics.RecordCalibrationRun(string(res.Outcome), res.Iterations, res.Duration.Seconds())
	metrics.UpdateCalibrationFit(res.MAPE, res.CrossSection.Roughness)
	log.Info(ctx, "calibration finished",
		logger.String("run_id", res.RunID),
		logger.String("outcome", string(res.Outcome)),
		logger.Int("iterations", res.Iterations),
		logger.Float64("mape", res.MAPE),
		logger.Float64("rmse", res.RMSE),
		logger.Float64("bias", res.Bias),
		logger.Any("roughness", res.CrossSection.Roughness),
		logger.Int("failed", res.Failed),
		logger.Int("series_records", res.SeriesRecords),
		logger.Duration("duration", res.Duration),
	)

	if res.Outcome == Rejected {
		return res, fmt.Errorf("%w: MAPE %.2f%% exceeds %.2f%%", ErrAcceptance, res.MAPE, c.p.AcceptanceMAPE)
	}
	return res, nil
}

// evaluate runs the objective and enforces the failure fraction.
func (c *Calibrator) evaluate(ctx context.Context, obj *objective, x []float64) (evaluation, error) {
	ev, err := obj.evaluate(ctx, x)
	if err != nil {
		return ev, err
	}
	n := len(obj.usable)
	if frac := float64(ev.failed) / float64(n); frac > c.p.MaxFailureFraction {
		return ev, &model.Error{
			Op:       "calibrate.evaluate",
			Kind:     model.ErrConvergence,
			Residual: ev.cost,
			Msg: fmt.Sprintf("%d of %d measurements failed to evaluate (limit %.0f%%)",
				ev.failed, n, 100*c.p.MaxFailureFraction),
		}
	}
	return ev, nil
}

// jacobian builds the forward-difference Jacobian of the residuals. Each
// column runs as its own pool job on its own copy of the parameters.
func (c *Calibrator) jacobian(ctx context.Context, obj *objective, x []float64, base evaluation, lo, hi []float64) (*mat.Dense, error) {
	rows, cols := len(base.residuals), len(x)
	jac := mat.NewDense(rows, cols, nil)
	jobs := make([]worker.Job, cols)
	for j := range jobs {
		jobs[j] = func(ctx context.Context) error {
			trial := append([]float64(nil), x...)
			h := math.Max(c.p.GradientStep*math.Abs(x[j]), minFDStep)
			if trial[j]+h > hi[j] {
				h = -h
			}
			trial[j] += h
			if trial[j] < lo[j] {
				trial[j] = lo[j]
				h = trial[j] - x[j]
			}
			ev, err := obj.evaluate(ctx, trial)
			if err != nil {
				return fmt.Errorf("jacobian column %d: %w", j, err)
			}
			// Columns are disjoint, so concurrent writes do not overlap.
			jac.SetCol(j, fdColumn(base, ev, h))
			return nil
		}
	}
	if err := c.pool.Run(ctx, jobs); err != nil {
		return nil, err
	}
	return jac, nil
}

// fdColumn is one forward-difference Jacobian column. Rows where either
// evaluation failed carry no slope information and stay zero.
func fdColumn(base, trial evaluation, h float64) []float64 {
	col := make([]float64, len(base.residuals))
	for i := range col {
		if base.errs[i] != nil || trial.errs[i] != nil {
			continue
		}
		col[i] = (trial.residuals[i] - base.residuals[i]) / h
	}
	return col
}

// clip keeps the part of series within SeriesWarmup of the measurement span.
// The full series is kept when the clip would leave fewer than two records.
func (c *Calibrator) clip(series model.StageSeries, usable []quality.Usable) model.StageSeries {
	if c.p.SeriesWarmup <= 0 || len(usable) == 0 {
		return series
	}
	first, last := usable[0].Measurement.Time, usable[0].Measurement.Time
	for _, u := range usable[1:] {
		if t := u.Measurement.Time; t.Before(first) {
			first = t
		} else if t.After(last) {
			last = t
		}
	}
	sub := series.Subset(first.Add(-c.p.SeriesWarmup), last.Add(c.p.SeriesWarmup))
	if len(sub) < 2 {
		return series
	}
	return sub
}

// dampedStep solves (J'J + lambda D) step = J'r with D the diagonal of J'J.
func dampedStep(jtj *mat.Dense, grad *mat.VecDense, lambda float64) ([]float64, bool) {
	n, _ := jtj.Dims()
	var a mat.Dense
	a.CloneFrom(jtj)
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, jtj.At(i, i))
	}
	floor := math.Max(maxDiag*diagFloor, diagFloor)
	for i := 0; i < n; i++ {
		a.Set(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), floor))
	}
	var step mat.VecDense
	if err := step.SolveVec(&a, grad); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, false
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = step.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, false
		}
	}
	return out, true
}

func maxRelativeChange(a, b []float64) float64 {
	var m float64
	for i := range a {
		m = math.Max(m, math.Abs(b[i]-a[i])/math.Max(math.Abs(a[i]), minFDStep))
	}
	return m
}
