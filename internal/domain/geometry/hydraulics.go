package geometry

import (
	"math"

	"github.com/okian/dynrat/internal/domain/model"
)

// CrossSection pairs a Section with its per-subsection Manning roughness.
// The roughness vector is the calibrator's free parameter; a solve never
// mutates it.
type CrossSection struct {
	Section   Section
	Roughness []float64
}

// Validate checks that roughness matches the subsections and is positive.
func (x CrossSection) Validate() error {
	const op = "geometry.CrossSection.Validate"
	if x.Section == nil {
		return model.NewError(op, model.ErrGeometry, 0, "nil section")
	}
	if len(x.Roughness) != x.Section.Subsections() {
		return model.NewError(op, model.ErrGeometry, 0,
			"%d roughness values for %d subsections", len(x.Roughness), x.Section.Subsections())
	}
	for i, n := range x.Roughness {
		if !(n > 0) || math.IsInf(n, 0) {
			return model.NewError(op, model.ErrGeometry, 0, "roughness %d must be positive, got %g", i, n)
		}
	}
	return nil
}

// WithRoughness returns a copy of x using roughness n.
func (x CrossSection) WithRoughness(n []float64) CrossSection {
	return CrossSection{Section: x.Section, Roughness: append([]float64(nil), n...)}
}

// SubHydraulics are the derived properties of one subsection.
type SubHydraulics struct {
	Props
	Conveyance float64
}

// Hydraulics are the derived properties of the whole section at one stage.
type Hydraulics struct {
	Stage           float64
	Area            float64
	TopWidth        float64
	WettedPerimeter float64
	Conveyance      float64
	// Beta is the momentum (velocity distribution) coefficient.
	Beta float64
	Sub  []SubHydraulics
}

// Hydraulics evaluates Manning conveyance K_i = (coef/n_i) A_i R_i^(2/3) per
// subsection and beta = (A/K^2) sum(K_i^2/A_i). coef is 1.486 in US units.
func (x CrossSection) Hydraulics(h, coef float64) (Hydraulics, error) {
	props, err := x.Section.At(h)
	if err != nil {
		return Hydraulics{}, err
	}
	out := Hydraulics{Stage: h, Sub: make([]SubHydraulics, len(props))}
	wet := 0
	for i, p := range props {
		out.Sub[i].Props = p
		out.Area += p.Area
		out.TopWidth += p.TopWidth
		out.WettedPerimeter += p.WettedPerimeter
		if !p.Wet() {
			continue
		}
		wet++
		r := p.Area / p.WettedPerimeter
		k := coef / x.Roughness[i] * p.Area * math.Pow(r, 2.0/3.0)
		out.Sub[i].Conveyance = k
		out.Conveyance += k
	}

	switch {
	case wet == 1:
		out.Beta = 1
	case out.Conveyance > 0:
		var sum float64
		for _, s := range out.Sub {
			if s.Wet() {
				sum += s.Conveyance * s.Conveyance / s.Area
			}
		}
		out.Beta = out.Area / (out.Conveyance * out.Conveyance) * sum
	}
	return out, nil
}
