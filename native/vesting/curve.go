package vesting

import (
	"errors"
	"fmt"
	"math/big"
)

// Curve construction failures. Validation runs once, before an agreement is
// persisted; a curve that validated clean never fails at evaluation time.
var (
	ErrCurveEmpty         = errors.New("vesting: curve has no points")
	ErrUnorderedOffsets   = errors.New("vesting: curve offsets must be strictly increasing")
	ErrNotMonotonic       = errors.New("vesting: curve amounts must be non-decreasing")
	ErrNegativeAmount     = errors.New("vesting: curve amounts must be non-negative")
	ErrExceedsTotal       = errors.New("vesting: curve amount exceeds vest total")
	ErrOffsetPastDuration = errors.New("vesting: curve offset beyond vest duration")
)

// CurveKind tags the supported release-curve shapes. New shapes slot in by
// extending ValueAt and Validate; the claim and cancellation paths only ever
// talk to the Curve through those two methods.
type CurveKind uint8

const (
	CurveConstant CurveKind = iota
	CurveSaturatingLinear
	CurvePiecewiseLinear
)

// Valid reports whether the kind is within the supported range.
func (k CurveKind) Valid() bool {
	switch k {
	case CurveConstant, CurveSaturatingLinear, CurvePiecewiseLinear:
		return true
	default:
		return false
	}
}

func (k CurveKind) String() string {
	switch k {
	case CurveConstant:
		return "constant"
	case CurveSaturatingLinear:
		return "saturating_linear"
	case CurvePiecewiseLinear:
		return "piecewise_linear"
	default:
		return "unknown"
	}
}

// Point is a single control point of a piecewise-linear curve: at Offset
// seconds past the vest start, Amount units have been released.
type Point struct {
	Offset uint64
	Amount *big.Int
}

// Clone returns a deep copy of the point with a non-nil amount.
func (p Point) Clone() Point {
	out := Point{Offset: p.Offset, Amount: big.NewInt(0)}
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	}
	return out
}

// Curve is the released(t) function of a vesting agreement. It is evaluated
// with integer arithmetic only; interpolation rounds down so that the sum of
// repeated partial claims can never exceed the exact curve value.
type Curve struct {
	Kind CurveKind

	// Constant curves release Y at every instant. Cancellation rewrites the
	// active curve into a constant pinned at the vested amount.
	Y *big.Int

	// SaturatingLinear interpolates from (MinX, MinY) to (MaxX, MaxY) and
	// clamps outside that window.
	MinX uint64
	MinY *big.Int
	MaxX uint64
	MaxY *big.Int

	// PiecewiseLinear interpolates between consecutive Steps and clamps to
	// the first and last step outside the defined range.
	Steps []Point
}

// NewConstant returns a curve releasing y at every instant.
func NewConstant(y *big.Int) *Curve {
	return &Curve{Kind: CurveConstant, Y: cloneBigInt(y)}
}

// NewSaturatingLinear returns the canonical even-release curve from (0, 0) to
// (durationSeconds, total).
func NewSaturatingLinear(durationSeconds uint64, total *big.Int) *Curve {
	return &Curve{
		Kind: CurveSaturatingLinear,
		MinX: 0,
		MinY: big.NewInt(0),
		MaxX: durationSeconds,
		MaxY: cloneBigInt(total),
	}
}

// NewPiecewiseLinear returns a curve interpolating between the supplied
// control points. The points are deep-copied; validation happens separately.
func NewPiecewiseLinear(points []Point) *Curve {
	steps := make([]Point, len(points))
	for i, p := range points {
		steps[i] = p.Clone()
	}
	return &Curve{Kind: CurvePiecewiseLinear, Steps: steps}
}

// Clone returns a deep copy of the curve so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Curve) Clone() *Curve {
	if c == nil {
		return nil
	}
	out := &Curve{Kind: c.Kind, MinX: c.MinX, MaxX: c.MaxX}
	out.Y = cloneBigInt(c.Y)
	out.MinY = cloneBigInt(c.MinY)
	out.MaxY = cloneBigInt(c.MaxY)
	if c.Steps != nil {
		out.Steps = make([]Point, len(c.Steps))
		for i, p := range c.Steps {
			out.Steps[i] = p.Clone()
		}
	}
	return out
}

// Validate checks the curve against the agreement's schedule window and
// committed total: offsets strictly increasing and inside the duration,
// amounts non-negative and non-decreasing, and no amount above total.
func (c *Curve) Validate(durationSeconds uint64, total *big.Int) error {
	if c == nil {
		return ErrCurveEmpty
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("vesting: invalid curve kind %d", c.Kind)
	}
	bound := cloneBigInt(total)
	switch c.Kind {
	case CurveConstant:
		y := cloneBigInt(c.Y)
		if y.Sign() < 0 {
			return ErrNegativeAmount
		}
		if y.Cmp(bound) > 0 {
			return ErrExceedsTotal
		}
	case CurveSaturatingLinear:
		if c.MinX >= c.MaxX {
			return ErrUnorderedOffsets
		}
		if c.MaxX > durationSeconds {
			return ErrOffsetPastDuration
		}
		minY, maxY := cloneBigInt(c.MinY), cloneBigInt(c.MaxY)
		if minY.Sign() < 0 || maxY.Sign() < 0 {
			return ErrNegativeAmount
		}
		if maxY.Cmp(minY) < 0 {
			return ErrNotMonotonic
		}
		if maxY.Cmp(bound) > 0 {
			return ErrExceedsTotal
		}
	case CurvePiecewiseLinear:
		if len(c.Steps) == 0 {
			return ErrCurveEmpty
		}
		prev := Point{}
		for i, p := range c.Steps {
			if p.Amount == nil || p.Amount.Sign() < 0 {
				return ErrNegativeAmount
			}
			if i > 0 {
				if p.Offset <= prev.Offset {
					return ErrUnorderedOffsets
				}
				if p.Amount.Cmp(prev.Amount) < 0 {
					return ErrNotMonotonic
				}
			}
			if p.Offset > durationSeconds {
				return ErrOffsetPastDuration
			}
			if p.Amount.Cmp(bound) > 0 {
				return ErrExceedsTotal
			}
			prev = p
		}
	}
	return nil
}

// ValueAt evaluates released(offset) for an offset in seconds past the vest
// start. Offsets before the defined range clamp to the first value, offsets
// past it saturate at the final value.
func (c *Curve) ValueAt(offset uint64) *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	switch c.Kind {
	case CurveConstant:
		return cloneBigInt(c.Y)
	case CurveSaturatingLinear:
		if offset <= c.MinX {
			return cloneBigInt(c.MinY)
		}
		if offset >= c.MaxX {
			return cloneBigInt(c.MaxY)
		}
		return interpolate(c.MinX, c.MinY, c.MaxX, c.MaxY, offset)
	case CurvePiecewiseLinear:
		if len(c.Steps) == 0 {
			return big.NewInt(0)
		}
		first := c.Steps[0]
		last := c.Steps[len(c.Steps)-1]
		if offset <= first.Offset {
			return cloneBigInt(first.Amount)
		}
		if offset >= last.Offset {
			return cloneBigInt(last.Amount)
		}
		for i := 1; i < len(c.Steps); i++ {
			if offset <= c.Steps[i].Offset {
				a, b := c.Steps[i-1], c.Steps[i]
				return interpolate(a.Offset, a.Amount, b.Offset, b.Amount, offset)
			}
		}
		return cloneBigInt(last.Amount)
	default:
		return big.NewInt(0)
	}
}

// Range returns the minimum and maximum values the curve ever takes. For
// monotonic curves these are the first and last control values.
func (c *Curve) Range() (*big.Int, *big.Int) {
	if c == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	switch c.Kind {
	case CurveConstant:
		return cloneBigInt(c.Y), cloneBigInt(c.Y)
	case CurveSaturatingLinear:
		return cloneBigInt(c.MinY), cloneBigInt(c.MaxY)
	case CurvePiecewiseLinear:
		if len(c.Steps) == 0 {
			return big.NewInt(0), big.NewInt(0)
		}
		return cloneBigInt(c.Steps[0].Amount), cloneBigInt(c.Steps[len(c.Steps)-1].Amount)
	default:
		return big.NewInt(0), big.NewInt(0)
	}
}

// interpolate computes ay + (by-ay)*(x-ax)/(bx-ax) with floor division.
// Rounding down keeps cumulative payouts at or below the exact curve value
// no matter how many partial claims the recipient splits the vest into.
func interpolate(ax uint64, ay *big.Int, bx uint64, by *big.Int, x uint64) *big.Int {
	rise := new(big.Int).Sub(by, ay)
	run := new(big.Int).SetUint64(bx - ax)
	dx := new(big.Int).SetUint64(x - ax)
	step := rise.Mul(rise, dx)
	step.Quo(step, run)
	return step.Add(step, ay)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
