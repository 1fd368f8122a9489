package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/dynrat/internal/domain/geometry"
	"github.com/okian/dynrat/internal/domain/model"
)

// bracket searches [lo, hi] for a sign change of fn with the Illinois
// variant of regula falsi, stopping when the bracket is narrower than tol.
func bracket(fn func(h float64) (float64, error), lo, hi, tol float64, maxIter int) (root float64, iters int, resid float64, err error) {
	flo, err := fn(lo)
	if err != nil {
		return 0, 0, 0, err
	}
	fhi, err := fn(hi)
	if err != nil {
		return 0, 0, 0, err
	}
	if flo == 0 {
		return lo, 0, 0, nil
	}
	if fhi == 0 {
		return hi, 0, 0, nil
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		return 0, 0, math.Min(math.Abs(flo), math.Abs(fhi)), errNoBracket
	}

	side := 0
	for iters = 1; iters <= maxIter; iters++ {
		x := (lo*fhi - hi*flo) / (fhi - flo)
		if !(x > lo && x < hi) {
			x = (lo + hi) / 2
		}
		fx, err := fn(x)
		if err != nil {
			return 0, iters, 0, err
		}
		if fx == 0 || hi-lo < tol {
			return x, iters, fx, nil
		}
		if math.Signbit(fx) == math.Signbit(flo) {
			lo, flo = x, fx
			if side == -1 {
				fhi /= 2
			}
			side = -1
		} else {
			hi, fhi = x, fx
			if side == 1 {
				flo /= 2
			}
			side = 1
		}
		if hi-lo < tol {
			return (lo + hi) / 2, iters, fx, nil
		}
	}
	return 0, maxIter, math.Min(math.Abs(flo), math.Abs(fhi)), errNotConverged
}

type bracketError string

func (e bracketError) Error() string { return string(e) }

const (
	errNoBracket    = bracketError("root not bracketed in section range")
	errNotConverged = bracketError("bracketed search did not converge")
)

// stageBounds is the searchable stage range: just above the invert up to
// the section top.
func (s *Solver) stageBounds() (float64, float64) {
	return s.invert + s.p.DerivativeStep, s.top
}

func (s *Solver) stageTolerance() float64 {
	return s.p.Tolerance * math.Max(1, math.Abs(s.top))
}

// SteadyStage inverts the steady rating: the stage at which K sqrt(S_o) = q.
func (s *Solver) SteadyStage(q float64) (float64, error) {
	const op = "solver.SteadyStage"
	if !(q > 0) || math.IsInf(q, 0) {
		return 0, model.NewError(op, model.ErrData, 0, "discharge must be positive, got %g", q)
	}
	root := math.Sqrt(s.p.BedSlope)
	lo, hi := s.stageBounds()
	fn := func(h float64) (float64, error) {
		hyd, err := s.hydraulics(h)
		if err != nil {
			return 0, err
		}
		return hyd.Conveyance*root - q, nil
	}
	h, it, resid, err := bracket(fn, lo, hi, s.stageTolerance(), 4*s.p.MaxIterations)
	if err != nil {
		return 0, s.inverseError(op, err, q, it, resid)
	}
	return h, nil
}

// StageFor solves the momentum equation for stage given discharge q, with
// the previous state (hPrev, qPrev) a time dt earlier. The residual is not
// monotonic in stage over the whole section, so the search starts at hPrev:
// a secant iteration first, then a bracket grown outward from hPrev.
func (s *Solver) StageFor(q, qPrev, hPrev, dt float64) (float64, error) {
	const op = "solver.StageFor"
	if !(q > 0) || math.IsInf(q, 0) {
		return 0, model.NewError(op, model.ErrData, hPrev, "discharge must be positive, got %g", q)
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0, model.NewError(op, model.ErrData, hPrev, "time step must be positive, got %g", dt)
	}
	lo, hi := s.stageBounds()
	fn := func(h float64) (float64, error) {
		st, err := s.prepare(op, h, hPrev, qPrev, dt)
		if err != nil {
			return 0, err
		}
		f, _ := s.zero(&st, q)
		return f, nil
	}
	h0 := math.Max(lo, math.Min(hi, hPrev))
	tol := s.stageTolerance()
	width := math.Max(10*s.p.DerivativeStep, 1e-3*(hi-lo))

	if h, ok := secant(fn, h0, width, lo, hi, tol, s.p.MaxIterations); ok {
		return h, nil
	}
	a, b, err := expand(fn, h0, width, lo, hi)
	if err != nil {
		return 0, s.inverseError(op, err, q, 0, 0)
	}
	h, it, resid, err := bracket(fn, a, b, tol, 4*s.p.MaxIterations)
	if err != nil {
		return 0, s.inverseError(op, err, q, it, resid)
	}
	return h, nil
}

// secant iterates from x0 and x0+width. It gives up on an evaluation
// error, a flat secant or an iterate leaving [lo, hi].
func secant(fn func(float64) (float64, error), x0, width, lo, hi, tol float64, maxIter int) (float64, bool) {
	x1 := x0 + width
	if x1 > hi {
		x1 = x0 - width
	}
	if x1 < lo {
		return 0, false
	}
	f0, err := fn(x0)
	if err != nil {
		return 0, false
	}
	if f0 == 0 {
		return x0, true
	}
	f1, err := fn(x1)
	if err != nil {
		return 0, false
	}
	for i := 0; i < maxIter; i++ {
		if f1 == f0 {
			return 0, false
		}
		x2 := x1 - f1*(x1-x0)/(f1-f0)
		if !(x2 >= lo && x2 <= hi) {
			return 0, false
		}
		if math.Abs(x2-x1) < tol {
			return x2, true
		}
		f2, err := fn(x2)
		if err != nil {
			return 0, false
		}
		if f2 == 0 {
			return x2, true
		}
		x0, f0, x1, f1 = x1, f1, x2, f2
	}
	return 0, false
}

// expand doubles a window around h0 until one side of it changes sign,
// returning the first bracket found. Above h0 is tried before below.
func expand(fn func(float64) (float64, error), h0, width, lo, hi float64) (float64, float64, error) {
	f0, err := fn(h0)
	if err != nil {
		return 0, 0, err
	}
	if f0 == 0 {
		return h0, h0, nil
	}
	for w := width; ; w *= 2 {
		a, b := math.Max(lo, h0-w), math.Min(hi, h0+w)
		if b > h0 {
			fb, err := fn(b)
			if err != nil {
				return 0, 0, err
			}
			if fb == 0 || math.Signbit(fb) != math.Signbit(f0) {
				return h0, b, nil
			}
		}
		if a < h0 {
			fa, err := fn(a)
			if err != nil {
				return 0, 0, err
			}
			if fa == 0 || math.Signbit(fa) != math.Signbit(f0) {
				return a, h0, nil
			}
		}
		if a == lo && b == hi {
			return 0, 0, errNoBracket
		}
	}
}

func (s *Solver) inverseError(op string, err error, q float64, it int, resid float64) error {
	var be bracketError
	if !errors.As(err, &be) {
		return err
	}
	kind := model.ErrConvergence
	if errors.Is(err, errNoBracket) {
		kind = model.ErrGeometry
	}
	return &model.Error{Op: op, Kind: kind, Iterations: it, Residual: resid, Msg: fmt.Sprintf("%v for q=%g", err, q)}
}

// SlopeRatio estimates r = S_o/S_w for a typical flood from its initial and
// peak stage and discharge and the time of rise in days (Fread 1973, eq. 13).
func SlopeRatio(xs geometry.CrossSection, h0, hp, q0, qp, bedSlope, riseDays float64) (float64, error) {
	const op = "solver.SlopeRatio"
	if !(hp > h0) {
		return 0, model.NewError(op, model.ErrData, hp, "peak stage must exceed initial stage")
	}
	if !(riseDays > 0) || !(bedSlope > 0) {
		return 0, model.NewError(op, model.ErrData, hp, "rise time and bed slope must be positive")
	}
	props, err := xs.Section.At((h0 + hp) / 2)
	if err != nil {
		return 0, err
	}
	area := geometry.Total(props).Area
	if area <= 0 {
		return 0, model.NewError(op, model.ErrDegenerateInput, (h0+hp)/2, "zero area at mean stage")
	}
	return 56200 * (qp + q0) / ((hp - h0) * area) * riseDays * bedSlope, nil
}
