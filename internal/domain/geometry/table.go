package geometry

import (
	"math"
	"sort"

	"github.com/okian/dynrat/internal/domain/model"
)

// TableSubsection holds stage/property pairs for one subsection.
type TableSubsection struct {
	Name            string
	Stage           []float64
	Area            []float64
	TopWidth        []float64
	WettedPerimeter []float64
}

// Table is a Section interpolated linearly from per-subsection tables.
type Table struct {
	subs   []TableSubsection
	invert float64
	top    float64
}

// NewTable validates the subsection tables. Stage must strictly increase and
// area, top width and wetted perimeter must be non-negative and non-decreasing.
func NewTable(subs ...TableSubsection) (*Table, error) {
	const op = "geometry.NewTable"
	if len(subs) == 0 {
		return nil, model.NewError(op, model.ErrGeometry, 0, "no subsections")
	}
	t := &Table{subs: make([]TableSubsection, len(subs)), invert: math.Inf(1), top: math.Inf(1)}
	for i, s := range subs {
		n := len(s.Stage)
		if n < 2 {
			return nil, model.NewError(op, model.ErrGeometry, 0, "subsection %d: need at least two stages", i)
		}
		if len(s.Area) != n || len(s.TopWidth) != n || len(s.WettedPerimeter) != n {
			return nil, model.NewError(op, model.ErrGeometry, 0, "subsection %d: column lengths differ", i)
		}
		for j := 0; j < n; j++ {
			for _, v := range []float64{s.Stage[j], s.Area[j], s.TopWidth[j], s.WettedPerimeter[j]} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, model.NewError(op, model.ErrGeometry, s.Stage[j], "subsection %d: non-finite value", i)
				}
			}
			if s.Area[j] < 0 || s.TopWidth[j] < 0 || s.WettedPerimeter[j] < 0 {
				return nil, model.NewError(op, model.ErrGeometry, s.Stage[j], "subsection %d: negative property", i)
			}
			if j == 0 {
				continue
			}
			if s.Stage[j] <= s.Stage[j-1] {
				return nil, model.NewError(op, model.ErrGeometry, s.Stage[j], "subsection %d: stage not increasing", i)
			}
			if s.Area[j] < s.Area[j-1] || s.TopWidth[j] < s.TopWidth[j-1] || s.WettedPerimeter[j] < s.WettedPerimeter[j-1] {
				return nil, model.NewError(op, model.ErrGeometry, s.Stage[j], "subsection %d: non-monotonic geometry", i)
			}
		}
		t.subs[i] = TableSubsection{
			Name:            s.Name,
			Stage:           append([]float64(nil), s.Stage...),
			Area:            append([]float64(nil), s.Area...),
			TopWidth:        append([]float64(nil), s.TopWidth...),
			WettedPerimeter: append([]float64(nil), s.WettedPerimeter...),
		}
		t.invert = math.Min(t.invert, s.Stage[0])
		t.top = math.Min(t.top, s.Stage[n-1])
	}
	return t, nil
}

func (t *Table) Subsections() int { return len(t.subs) }

func (t *Table) Range() (float64, float64) { return t.invert, t.top }

// Names returns the subsection names.
func (t *Table) Names() []string {
	out := make([]string, len(t.subs))
	for i, s := range t.subs {
		out[i] = s.Name
	}
	return out
}

func (t *Table) At(h float64) ([]Props, error) {
	if h > t.top {
		return nil, model.NewError("geometry.Table.At", model.ErrGeometry, h, "stage above table top %g", t.top)
	}
	out := make([]Props, len(t.subs))
	for i, s := range t.subs {
		if h < s.Stage[0] {
			continue
		}
		out[i] = Props{
			Area:            interp(h, s.Stage, s.Area),
			TopWidth:        interp(h, s.Stage, s.TopWidth),
			WettedPerimeter: interp(h, s.Stage, s.WettedPerimeter),
		}
	}
	return out, nil
}

// interp assumes xs[0] <= x <= xs[len-1].
func interp(x float64, xs, ys []float64) float64 {
	j := sort.SearchFloat64s(xs, x)
	if j < len(xs) && xs[j] == x {
		return ys[j]
	}
	if j == 0 {
		return ys[0]
	}
	if j >= len(xs) {
		return ys[len(ys)-1]
	}
	w := (x - xs[j-1]) / (xs[j] - xs[j-1])
	return ys[j-1] + w*(ys[j]-ys[j-1])
}

// Tabulate samples sec at the given stages into a Table.
func Tabulate(sec Section, stages []float64) (*Table, error) {
	n := sec.Subsections()
	subs := make([]TableSubsection, n)
	for _, h := range stages {
		props, err := sec.At(h)
		if err != nil {
			return nil, err
		}
		for i, p := range props {
			subs[i].Stage = append(subs[i].Stage, h)
			subs[i].Area = append(subs[i].Area, p.Area)
			subs[i].TopWidth = append(subs[i].TopWidth, p.TopWidth)
			subs[i].WettedPerimeter = append(subs[i].WettedPerimeter, p.WettedPerimeter)
		}
	}
	return NewTable(subs...)
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
