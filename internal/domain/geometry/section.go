// Package geometry evaluates cross-section properties as pure functions of
// stage, per roughness subsection.
package geometry

import (
	"fmt"
	"math"

	"github.com/okian/dynrat/internal/domain/model"
)

// Props are the properties of one subsection at a stage.
type Props struct {
	Area            float64 // ft^2
	TopWidth        float64 // ft
	WettedPerimeter float64 // ft
}

// Wet reports whether the subsection carries flow.
func (p Props) Wet() bool { return p.Area > 0 && p.WettedPerimeter > 0 }

// Section provides subsection properties as functions of stage.
type Section interface {
	// Subsections returns the number of roughness subsections.
	Subsections() int
	// Range returns the lowest stage with flow area and the highest stage
	// at which the section is defined.
	Range() (invert, top float64)
	// At returns the properties of every subsection at stage h. Stages below
	// a subsection's invert yield zero properties; stages above top fail
	// with model.ErrGeometry.
	At(h float64) ([]Props, error)
}

// Trapezoid is an analytic single-subsection trapezoidal channel.
type Trapezoid struct {
	Invert      float64
	BottomWidth float64
	SideSlope   float64 // horizontal per vertical
	MaxDepth    float64
}

// NewTrapezoid validates the shape parameters.
func NewTrapezoid(invert, bottomWidth, sideSlope, maxDepth float64) (*Trapezoid, error) {
	const op = "geometry.NewTrapezoid"
	switch {
	case bottomWidth < 0 || sideSlope < 0:
		return nil, model.NewError(op, model.ErrGeometry, invert, "negative width or side slope")
	case bottomWidth == 0 && sideSlope == 0:
		return nil, model.NewError(op, model.ErrGeometry, invert, "zero-width channel")
	case !(maxDepth > 0) || math.IsInf(maxDepth, 0):
		return nil, model.NewError(op, model.ErrGeometry, invert, "max depth must be positive and finite")
	}
	return &Trapezoid{Invert: invert, BottomWidth: bottomWidth, SideSlope: sideSlope, MaxDepth: maxDepth}, nil
}

func (t *Trapezoid) Subsections() int { return 1 }

func (t *Trapezoid) Range() (float64, float64) { return t.Invert, t.Invert + t.MaxDepth }

func (t *Trapezoid) At(h float64) ([]Props, error) {
	y := h - t.Invert
	if y > t.MaxDepth {
		return nil, model.NewError("geometry.Trapezoid.At", model.ErrGeometry, h,
			"stage above section top %g", t.Invert+t.MaxDepth)
	}
	if y <= 0 {
		return []Props{{}}, nil
	}
	return []Props{{
		Area:            (t.BottomWidth + t.SideSlope*y) * y,
		TopWidth:        t.BottomWidth + 2*t.SideSlope*y,
		WettedPerimeter: t.BottomWidth + 2*y*math.Sqrt(1+t.SideSlope*t.SideSlope),
	}}, nil
}

// Compound joins several sections into one, concatenating their subsections
// (for example a main channel and two overbanks).
type Compound struct {
	parts []Section
	n     int
}

// Compose builds a Compound from parts.
func Compose(parts ...Section) (*Compound, error) {
	if len(parts) == 0 {
		return nil, model.NewError("geometry.Compose", model.ErrGeometry, 0, "no sections")
	}
	c := &Compound{parts: parts}
	for i, p := range parts {
		if p == nil {
			return nil, model.NewError("geometry.Compose", model.ErrGeometry, 0, "section %d is nil", i)
		}
		c.n += p.Subsections()
	}
	return c, nil
}

func (c *Compound) Subsections() int { return c.n }

func (c *Compound) Range() (float64, float64) {
	invert, top := math.Inf(1), math.Inf(1)
	for _, p := range c.parts {
		lo, hi := p.Range()
		invert = math.Min(invert, lo)
		top = math.Min(top, hi)
	}
	return invert, top
}

func (c *Compound) At(h float64) ([]Props, error) {
	out := make([]Props, 0, c.n)
	for i, p := range c.parts {
		props, err := p.At(h)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		out = append(out, props...)
	}
	return out, nil
}

// Total sums subsection properties.
func Total(props []Props) Props {
	var t Props
	for _, p := range props {
		t.Area += p.Area
		t.TopWidth += p.TopWidth
		t.WettedPerimeter += p.WettedPerimeter
	}
	return t
}
