// Package solver computes instantaneous discharge from stage with the
// single-reach diffusive-wave formulations of Fread (1973): DYNPOUND, and
// the older DYNMOD L-coefficient form.
package solver

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/dynrat/internal/domain/model"
)

// Physical constants in US customary units.
const (
	Gravity          = 32.2  // ft/s^2
	ManningConstant  = 1.486 // ft^(1/3)/s
	DefaultKinematic = 1.7
)

// CelerityMethod selects how the kinematic wave celerity is computed.
type CelerityMethod string

// Celerity methods.
const (
	// CelerityDKDA uses c = sqrt(S_o) dK/dA.
	CelerityDKDA CelerityMethod = "dkda"
	// CelerityKinematic uses c = k Q/A with k from the section shape.
	CelerityKinematic CelerityMethod = "kinematic"
	// CelerityConstant uses c = KinematicRatio Q/A.
	CelerityConstant CelerityMethod = "constant"
)

// ParseCelerityMethod maps a config string to a CelerityMethod.
func ParseCelerityMethod(s string) (CelerityMethod, error) {
	switch CelerityMethod(s) {
	case CelerityDKDA, CelerityKinematic, CelerityConstant:
		return CelerityMethod(s), nil
	case "":
		return CelerityDKDA, nil
	}
	return "", fmt.Errorf("unknown celerity method %q", s)
}

// Formulation selects the momentum equation form a step solves.
type Formulation string

// Formulations.
const (
	// FormulationDynpound solves the diffusive-wave residual in Q directly.
	FormulationDynpound Formulation = "dynpound"
	// FormulationDynmod solves Q = K sqrt(L0(Q)) with L0 = L3 + L4/Q + L5 Q + L6 Q^2.
	FormulationDynmod Formulation = "dynmod"
)

// ParseFormulation maps a config string to a Formulation.
func ParseFormulation(s string) (Formulation, error) {
	switch Formulation(s) {
	case FormulationDynpound, FormulationDynmod:
		return Formulation(s), nil
	case "":
		return FormulationDynpound, nil
	}
	return "", fmt.Errorf("unknown formulation %q", s)
}

// Params are the site and numerical parameters of a solve.
type Params struct {
	Formulation Formulation

	BedSlope float64
	// SlopeRatio is r = S_o/S_w; zero drops the wave-slope term.
	SlopeRatio     float64
	Celerity       CelerityMethod
	KinematicRatio float64
	Gravity        float64
	ManningCoef    float64

	// Tolerance is the relative change in Q that ends the Newton loop.
	Tolerance     float64
	MaxIterations int
	// MinStageRate (ft/s) below which a step is solved as steady flow.
	MinStageRate float64
	// DerivativeStep (ft) for finite-difference derivatives of geometry.
	DerivativeStep float64
	// PointStep is the virtual time step of single-point evaluations.
	PointStep time.Duration
}

// DefaultParams returns the solver defaults for a bed slope of 0.001.
func DefaultParams() Params {
	return Params{
		Formulation:    FormulationDynpound,
		BedSlope:       0.001,
		Celerity:       CelerityDKDA,
		KinematicRatio: DefaultKinematic,
		Gravity:        Gravity,
		ManningCoef:    ManningConstant,
		Tolerance:      1e-6,
		MaxIterations:  50,
		MinStageRate:   1e-9,
		DerivativeStep: 0.01,
		PointStep:      15 * time.Minute,
	}
}

// Validate rejects parameters the solver cannot run with.
func (p Params) Validate() error {
	const op = "solver.Params.Validate"
	bad := func(format string, args ...any) error {
		return model.NewError(op, model.ErrDegenerateInput, 0, format, args...)
	}
	switch {
	case !(p.BedSlope > 0) || math.IsInf(p.BedSlope, 0):
		return bad("bed slope must be positive, got %g", p.BedSlope)
	case p.SlopeRatio < 0 || math.IsNaN(p.SlopeRatio):
		return bad("slope ratio must be non-negative, got %g", p.SlopeRatio)
	case !(p.Gravity > 0):
		return bad("gravity must be positive")
	case !(p.ManningCoef > 0):
		return bad("manning coefficient must be positive")
	case !(p.Tolerance > 0):
		return bad("tolerance must be positive")
	case p.MaxIterations < 1:
		return bad("max iterations must be at least 1")
	case p.MinStageRate < 0:
		return bad("min stage rate must be non-negative")
	case !(p.DerivativeStep > 0):
		return bad("derivative step must be positive")
	case p.PointStep <= 0:
		return bad("point step must be positive")
	}
	if _, err := ParseFormulation(string(p.Formulation)); err != nil {
		return bad("%v", err)
	}
	if _, err := ParseCelerityMethod(string(p.Celerity)); err != nil {
		return bad("%v", err)
	}
	if p.Celerity == CelerityConstant && !(p.KinematicRatio > 0) {
		return bad("kinematic ratio must be positive")
	}
	return nil
}
