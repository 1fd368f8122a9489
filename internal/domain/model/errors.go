package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel error kinds. Callers match them with errors.Is.
var (
	// ErrGeometry: non-monotonic or undefined cross-section function.
	ErrGeometry = errors.New("geometry error")
	// ErrConvergence: an iterative solve exceeded its iteration bound.
	ErrConvergence = errors.New("convergence error")
	// ErrData: malformed or out-of-order stage or measurement data.
	ErrData = errors.New("data error")
	// ErrDegenerateInput: zero top width, zero conveyance or a similar singular state.
	ErrDegenerateInput = errors.New("degenerate input")
)

// Error carries the context needed to diagnose a failure without re-running.
type Error struct {
	Op         string
	Kind       error
	Time       time.Time
	Stage      float64
	Iterations int
	Residual   float64
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if !e.Time.IsZero() {
		fmt.Fprintf(&b, " (time=%s", e.Time.UTC().Format(time.RFC3339))
	} else {
		b.WriteString(" (")
	}
	fmt.Fprintf(&b, " stage=%g", e.Stage)
	if e.Iterations > 0 {
		fmt.Fprintf(&b, " iterations=%d residual=%g", e.Iterations, e.Residual)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds an *Error of the given kind.
func NewError(op string, kind error, stage float64, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind of err, or nil when it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrGeometry, ErrConvergence, ErrData, ErrDegenerateInput} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is a short label for metrics and logs.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrGeometry:
		return "geometry"
	case ErrConvergence:
		return "convergence"
	case ErrData:
		return "data"
	case ErrDegenerateInput:
		return "degenerate"
	default:
		return "other"
	}
}
