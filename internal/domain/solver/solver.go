package solver

import (
	"context"
	"errors"
	"math"

	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
	"github.com/okian/dynrat/pkg/logger"
	"github.com/okian/dynrat/pkg/metrics"
)

// Solver evaluates the rating for one cross-section state. It holds no
// mutable state and is safe for concurrent use.
type Solver struct {
	xs     geometry.CrossSection
	p      Params
	invert float64
	top    float64
	logger logger.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the logger used for step failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates the cross section and parameters.
func New(xs geometry.CrossSection, p Params, opts ...Option) (*Solver, error) {
	if err := xs.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Celerity == "" {
		p.Celerity = CelerityDKDA
	}
	if p.Formulation == "" {
		p.Formulation = FormulationDynpound
	}
	s := &Solver{xs: xs, p: p, logger: logger.Default()}
	s.invert, s.top = xs.Section.Range()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns the parameters the solver runs with.
func (s *Solver) Params() Params { return s.p }

// CrossSection returns the cross-section state.
func (s *Solver) CrossSection() geometry.CrossSection { return s.xs }

func (s *Solver) hydraulics(h float64) (geometry.Hydraulics, error) {
	return s.xs.Hydraulics(h, s.p.ManningCoef)
}

// wetted fails with ErrDegenerateInput when the section does not carry flow at h.
func (s *Solver) wetted(op string, h float64) (geometry.Hydraulics, error) {
	hyd, err := s.hydraulics(h)
	if err != nil {
		return hyd, err
	}
	switch {
	case hyd.TopWidth <= 0:
		return hyd, model.NewError(op, model.ErrDegenerateInput, h, "zero top width")
	case hyd.Area <= 0 || hyd.Conveyance <= 0:
		return hyd, model.NewError(op, model.ErrDegenerateInput, h, "zero conveyance")
	}
	return hyd, nil
}

// derivative returns dK/dh and dP/dh by central difference, falling back to
// a backward difference at the top of the section.
func (s *Solver) derivative(h float64) (dK, dP float64, err error) {
	d := s.p.DerivativeStep
	lo, hi := h-d/2, h+d/2
	if hi > s.top {
		lo, hi = h-d, h
	}
	a, err := s.hydraulics(lo)
	if err != nil {
		return 0, 0, err
	}
	b, err := s.hydraulics(hi)
	if err != nil {
		return 0, 0, err
	}
	return (b.Conveyance - a.Conveyance) / (hi - lo), (b.WettedPerimeter - a.WettedPerimeter) / (hi - lo), nil
}

// Steady returns the uniform-flow rating Q = K sqrt(S_o) at stage h.
func (s *Solver) Steady(h float64) (model.RatingPoint, error) {
	const op = "solver.Steady"
	hyd, err := s.wetted(op, h)
	if err != nil {
		return model.RatingPoint{}, err
	}
	dK, _, err := s.derivative(h)
	if err != nil {
		return model.RatingPoint{}, err
	}
	root := math.Sqrt(s.p.BedSlope)
	return model.RatingPoint{
		Stage:          h,
		Discharge:      hyd.Conveyance * root,
		DischargeSlope: dK * root,
		FrictionSlope:  s.p.BedSlope,
		Conveyance:     hyd.Conveyance,
		Beta:           hyd.Beta,
		Steady:         true,
		Valid:          true,
	}, nil
}

// step holds everything the zero function needs that does not depend on Q.
type step struct {
	h, hPrev float64
	qPrev    float64
	dt       float64
	rate     float64
	hyd      geometry.Hydraulics
	aPrev    float64
	celerity float64
	y        float64
	dK       float64

	// DYNMOD coefficients; l2 is the conveyance.
	dynmod             bool
	l2, l3, l4, l5, l6 float64
}

func (s *Solver) prepare(op string, h, hPrev, qPrev, dt float64) (step, error) {
	st := step{h: h, hPrev: hPrev, qPrev: qPrev, dt: dt, rate: (h - hPrev) / dt}
	hyd, err := s.wetted(op, h)
	if err != nil {
		return st, err
	}
	st.hyd = hyd
	prev, err := s.hydraulics(hPrev)
	if err != nil {
		return st, err
	}
	st.aPrev = prev.Area

	dK, dP, err := s.derivative(h)
	if err != nil {
		return st, err
	}
	st.dK = dK

	qRef := qPrev
	if qRef <= 0 {
		qRef = hyd.Conveyance * math.Sqrt(s.p.BedSlope)
	}
	if s.p.Formulation == FormulationDynmod {
		s.prepareDynmod(&st, prev, qRef)
		return st, nil
	}
	switch s.p.Celerity {
	case CelerityKinematic:
		k := 5.0/3.0 - 2.0/3.0*(hyd.Area/(hyd.TopWidth*hyd.WettedPerimeter))*dP
		st.celerity = k * qRef / hyd.Area
	case CelerityConstant:
		st.celerity = s.p.KinematicRatio * qRef / hyd.Area
	default:
		st.celerity = math.Sqrt(s.p.BedSlope) * dK / hyd.TopWidth
	}
	if !(st.celerity > 0) || math.IsInf(st.celerity, 0) {
		return st, model.NewError(op, model.ErrDegenerateInput, h, "non-positive celerity %g", st.celerity)
	}

	st.y = -st.rate / st.celerity
	if r := s.p.SlopeRatio; r > 0 {
		st.y -= 2.0 / 3.0 * s.p.BedSlope / (r * r)
	}
	return st, nil
}

// prepareDynmod fills the L-coefficients of Fread's DYNMOD zero function
// (eq. 15). The shape factor k uses the top-width change over the step.
func (s *Solver) prepareDynmod(st *step, prev geometry.Hydraulics, qRef float64) {
	g, so := s.p.Gravity, s.p.BedSlope
	a, b := st.hyd.Area, st.hyd.TopWidth
	dB := 0.0
	if st.h != st.hPrev {
		dB = (b - prev.TopWidth) / (st.h - st.hPrev)
	}
	k := 5.0/3.0 - 2.0/3.0*(a/(b*b))*dB

	st.dynmod = true
	st.celerity = k * qRef / a
	st.l2 = st.hyd.Conveyance
	st.l3 = so + st.qPrev/(g*st.aPrev*st.dt)
	st.l4 = a * st.rate / k
	st.l5 = (1-1/k)*b*st.rate/(g*a*a) - 1/(g*a*st.dt)
	if r := s.p.SlopeRatio; r > 0 {
		st.l3 += 2.0 / 3.0 * so / (r * r)
		st.l6 = -2.0 / 3.0 * so * b / (r * r * g * a * a * a)
	}
}

// zero evaluates the momentum residual f(Q) and its derivative.
func (s *Solver) zero(st *step, q float64) (f, df float64) {
	if st.dynmod {
		l0 := st.l3 + st.l4/q + st.l5*q + st.l6*q*q
		if !(l0 > 0) {
			return math.NaN(), math.NaN()
		}
		l1 := -st.l4/(q*q) + st.l5 + 2*st.l6*q
		root := math.Sqrt(l0)
		return q - st.l2*root, 1 - 0.5*st.l2*l1/root
	}
	g := s.p.Gravity
	a, b, k, beta := st.hyd.Area, st.hyd.TopWidth, st.hyd.Conveyance, st.hyd.Beta
	da := a - st.aPrev
	froude := beta * b / (g * a * a * a)

	f = (q-st.qPrev)/(g*a*st.dt) -
		2*beta*q*da/(g*a*a*st.dt) +
		(1-froude*q*q)*st.y +
		q*math.Abs(q)/(k*k) -
		s.p.BedSlope
	df = 1/(g*a*st.dt) -
		2*beta*da/(g*a*a*st.dt) -
		2*froude*q*st.y +
		2*math.Abs(q)/(k*k)
	return f, df
}

// Step solves discharge at stage h given the previous stage hPrev and
// discharge qPrev a time dt (seconds) earlier.
func (s *Solver) Step(h, hPrev, qPrev, dt float64) (model.RatingPoint, error) {
	const op = "solver.Step"
	if !(dt > 0) || math.IsInf(dt, 0) {
		return model.RatingPoint{}, model.NewError(op, model.ErrData, h, "time step must be positive, got %g", dt)
	}
	rate := (h - hPrev) / dt
	if math.Abs(rate) < s.p.MinStageRate {
		pt, err := s.Steady(h)
		pt.StageRate = rate
		return pt, err
	}

	st, err := s.prepare(op, h, hPrev, qPrev, dt)
	if err != nil {
		return model.RatingPoint{}, err
	}

	q := qPrev
	if q <= 0 {
		q = st.hyd.Conveyance * math.Sqrt(s.p.BedSlope)
	}

	var f float64
	converged := false
	it := 0
	for it < s.p.MaxIterations {
		it++
		var df float64
		f, df = s.zero(&st, q)
		if df == 0 || math.IsNaN(df) || math.IsInf(df, 0) || math.IsNaN(f) {
			break
		}
		next := q - f/df
		if next <= 0 {
			next = q / 2
		}
		rel := math.Abs(next-q) / next
		q = next
		if rel < s.p.Tolerance {
			converged = true
			break
		}
	}
	f, _ = s.zero(&st, q)

	if !converged {
		return model.RatingPoint{}, &model.Error{
			Op:         op,
			Kind:       model.ErrConvergence,
			Stage:      h,
			Iterations: it,
			Residual:   f,
			Msg:        "newton iteration did not converge",
		}
	}

	sf := (q / st.hyd.Conveyance) * (q / st.hyd.Conveyance)
	return model.RatingPoint{
		Stage:          h,
		StageRate:      rate,
		Discharge:      q,
		DischargeSlope: math.Sqrt(sf) * st.dK,
		FrictionSlope:  sf,
		Conveyance:     st.hyd.Conveyance,
		Beta:           st.hyd.Beta,
		Celerity:       st.celerity,
		Iterations:     it,
		Residual:       f,
		Valid:          true,
	}, nil
}

// PointDischarge evaluates discharge at stage h rising at rate (ft/s),
// stepping from a virtual sample PointStep earlier on the steady rating.
func (s *Solver) PointDischarge(h, rate float64) (model.RatingPoint, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return model.RatingPoint{}, model.NewError("solver.PointDischarge", model.ErrData, h, "non-finite stage rate")
	}
	if math.Abs(rate) < s.p.MinStageRate {
		pt, err := s.Steady(h)
		pt.StageRate = rate
		return pt, err
	}
	dt := s.p.PointStep.Seconds()
	hPrev := h - rate*dt
	lo := s.invert + s.p.DerivativeStep
	hPrev = math.Max(lo, math.Min(s.top, hPrev))
	if hPrev == h {
		pt, err := s.Steady(h)
		pt.StageRate = rate
		return pt, err
	}
	dt = (h - hPrev) / rate

	prev, err := s.Steady(hPrev)
	if err != nil {
		return model.RatingPoint{}, err
	}
	return s.Step(h, hPrev, prev.Discharge, dt)
}

// IsConvergence reports whether err is a per-step convergence failure.
func IsConvergence(err error) bool { return errors.Is(err, model.ErrConvergence) }

func (s *Solver) logFailure(ctx context.Context, err error, pt model.RatingPoint) {
	fields := []logger.Field{
		logger.Time("time", pt.Time),
		logger.Float64("stage", pt.Stage),
		logger.String("kind", model.KindName(err)),
		logger.Error(err),
	}
	var me *model.Error
	if errors.As(err, &me) {
		fields = append(fields, logger.Int("iterations", me.Iterations), logger.Float64("residual", me.Residual))
	}
	s.logger.Warn(ctx, "rating step failed", fields...)
	metrics.RecordSolverFailure(model.KindName(err))
}
