package vesting

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// FundingStatus tracks whether the committed total has been observed on the
// escrow account. The transition to Funded happens at most once and never
// reverts.
type FundingStatus uint8

const (
	FundingUnfunded FundingStatus = iota
	FundingFunded
)

// Valid reports whether the status value is within the supported range.
func (s FundingStatus) Valid() bool {
	switch s {
	case FundingUnfunded, FundingFunded:
		return true
	default:
		return false
	}
}

func (s FundingStatus) String() string {
	switch s {
	case FundingUnfunded:
		return "unfunded"
	case FundingFunded:
		return "funded"
	default:
		return "unknown"
	}
}

// CancelStatus tracks whether the owner has terminated the agreement.
// Cancelled is terminal; no funding or claim transition is permitted after it.
type CancelStatus uint8

const (
	CancelActive CancelStatus = iota
	CancelCancelled
)

// Valid reports whether the status value is within the supported range.
func (s CancelStatus) Valid() bool {
	switch s {
	case CancelActive, CancelCancelled:
		return true
	default:
		return false
	}
}

func (s CancelStatus) String() string {
	switch s {
	case CancelActive:
		return "active"
	case CancelCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ScheduleKind selects how the instantiation record describes the release
// curve.
type ScheduleKind uint8

const (
	// ScheduleSaturatingLinear vests evenly from 0 to total over the vest
	// duration.
	ScheduleSaturatingLinear ScheduleKind = iota
	// SchedulePiecewiseLinear vests by interpolating between caller-supplied
	// (seconds, amount) control points.
	SchedulePiecewiseLinear
)

// Schedule is the caller-facing curve description supplied at instantiation.
// It is compiled into a validated Curve before the agreement is persisted.
type Schedule struct {
	Kind   ScheduleKind
	Points []Point
}

// Compile builds the release curve for the given commitment and validates it
// against the schedule window.
func (s Schedule) Compile(durationSeconds uint64, total *big.Int) (*Curve, error) {
	var curve *Curve
	switch s.Kind {
	case ScheduleSaturatingLinear:
		curve = NewSaturatingLinear(durationSeconds, total)
	case SchedulePiecewiseLinear:
		curve = NewPiecewiseLinear(s.Points)
	default:
		return nil, fmt.Errorf("vesting: unsupported schedule kind %d", s.Kind)
	}
	if err := curve.Validate(durationSeconds, total); err != nil {
		return nil, err
	}
	return curve, nil
}

// Vest captures the full durable state of a single vesting agreement: the
// immutable terms fixed at instantiation plus the mutable funding, claim and
// cancellation progress.
type Vest struct {
	ID          uuid.UUID
	Recipient   [20]byte
	Owner       [20]byte
	Denom       string
	Total       *big.Int
	Title       string
	Description string

	// StartTime is the schedule origin in unix seconds; the curve's domain is
	// [0, DurationSeconds] past it.
	StartTime       int64
	DurationSeconds uint64
	Curve           *Curve

	Funding      FundingStatus
	Cancellation CancelStatus

	// Claimed accumulates every payout to the recipient. It never decreases
	// and never exceeds Total.
	Claimed *big.Int
	// Overpayment is any funding excess above Total, held for return to the
	// owner on cancellation or once the vest pays out in full.
	Overpayment *big.Int

	CreatedAt   int64
	CancelledAt int64
}

// Clone returns a deep copy of the vest so callers can safely mutate the copy
// without affecting the stored instance.
func (v *Vest) Clone() *Vest {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Total = cloneBigInt(v.Total)
	clone.Claimed = cloneBigInt(v.Claimed)
	clone.Overpayment = cloneBigInt(v.Overpayment)
	clone.Curve = v.Curve.Clone()
	return &clone
}

// NormalizeDenom canonicalises an asset identifier. Only the identifier value
// matters to the engine; transfer execution is the host's concern.
func NormalizeDenom(denom string) (string, error) {
	trimmed := strings.TrimSpace(denom)
	if trimmed == "" {
		return "", fmt.Errorf("vesting: empty denom")
	}
	return trimmed, nil
}

// SanitizeVest validates and normalises a vest record loaded from storage,
// returning a cloned instance with canonical denom and non-nil amount fields.
// The function does not mutate the original value.
func SanitizeVest(v *Vest) (*Vest, error) {
	if v == nil {
		return nil, fmt.Errorf("vesting: nil vest")
	}
	clone := v.Clone()
	denom, err := NormalizeDenom(clone.Denom)
	if err != nil {
		return nil, err
	}
	clone.Denom = denom
	if clone.Total.Sign() <= 0 {
		return nil, fmt.Errorf("vesting: total must be positive")
	}
	if clone.Claimed.Sign() < 0 || clone.Claimed.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("vesting: claimed outside [0, total]")
	}
	if clone.Overpayment.Sign() < 0 {
		return nil, fmt.Errorf("vesting: negative overpayment")
	}
	if !clone.Funding.Valid() {
		return nil, fmt.Errorf("vesting: invalid funding status: %d", clone.Funding)
	}
	if !clone.Cancellation.Valid() {
		return nil, fmt.Errorf("vesting: invalid cancellation status: %d", clone.Cancellation)
	}
	if clone.Funding == FundingUnfunded && clone.Claimed.Sign() != 0 {
		return nil, fmt.Errorf("vesting: claimed without funding")
	}
	return clone, nil
}

// elapsed clamps now into the schedule window and returns the curve offset.
func (v *Vest) elapsed(now int64) uint64 {
	if now <= v.StartTime {
		return 0
	}
	e := uint64(now - v.StartTime)
	if e > v.DurationSeconds {
		return v.DurationSeconds
	}
	return e
}

// VestedAt returns released(now): the cumulative amount the curve has
// released at the given instant. Query and claim paths share this evaluation
// so reported figures always agree with subsequent payouts.
func (v *Vest) VestedAt(now int64) *big.Int {
	if v == nil || v.Curve == nil {
		return big.NewInt(0)
	}
	return v.Curve.ValueAt(v.elapsed(now))
}

// ClaimableAt returns the amount the recipient could withdraw at the given
// instant: vested so far minus already claimed, bounded by the liquid balance
// still committed to the vest. Zero before funding and after cancellation.
func (v *Vest) ClaimableAt(now int64) *big.Int {
	if v == nil || v.Funding != FundingFunded || v.Cancellation != CancelActive {
		return big.NewInt(0)
	}
	claimable := new(big.Int).Sub(v.VestedAt(now), v.Claimed)
	if claimable.Sign() < 0 {
		return big.NewInt(0)
	}
	liquid := new(big.Int).Sub(v.Total, v.Claimed)
	if claimable.Cmp(liquid) > 0 {
		return liquid
	}
	return claimable
}

// TotalToVest returns the maximum amount the curve will ever release. After
// cancellation the curve is pinned, so this drops to the vested-at-cancel
// value.
func (v *Vest) TotalToVest() *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	_, max := v.Curve.Range()
	return max
}

// Duration returns the schedule length in seconds. The second return value is
// false once the agreement has been cancelled and the curve pinned constant.
func (v *Vest) Duration() (uint64, bool) {
	if v == nil || v.Curve == nil || v.Curve.Kind == CurveConstant {
		return 0, false
	}
	return v.DurationSeconds, true
}
