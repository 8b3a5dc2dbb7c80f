package vesting

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"vestpay/core/events"
	"vestpay/core/types"
)

var (
	errNilState = errors.New("vesting engine: state not configured")

	// ErrNotInitialized is returned when an operation arrives before the
	// agreement has been instantiated.
	ErrNotInitialized = errors.New("vesting: agreement not initialized")
	// ErrAlreadyInitialized rejects a second instantiation; the engine
	// manages exactly one agreement.
	ErrAlreadyInitialized = errors.New("vesting: agreement already initialized")
	// ErrInvalidTotal rejects non-positive vest totals at construction.
	ErrInvalidTotal = errors.New("vesting: total must be positive")
	// ErrInvalidDuration rejects non-positive schedule durations.
	ErrInvalidDuration = errors.New("vesting: duration must be positive")
	// ErrScheduleElapsed rejects agreements whose entire window already lies
	// in the past; those would amount to a plain transfer.
	ErrScheduleElapsed = errors.New("vesting: schedule already elapsed")
	// ErrNotFunded is returned when a claim arrives before funding.
	ErrNotFunded = errors.New("vesting: not funded")
	// ErrNothingToClaim is returned when no amount is currently payable. The
	// recipient may simply retry later.
	ErrNothingToClaim = errors.New("vesting: nothing to claim")
	// ErrCancelled rejects claims against a terminated agreement.
	ErrCancelled = errors.New("vesting: agreement cancelled")
	// ErrNotOwner rejects cancellation by anyone but the agreement owner.
	ErrNotOwner = errors.New("vesting: caller is not the owner")
	// ErrAlreadyCancelled rejects a second cancellation.
	ErrAlreadyCancelled = errors.New("vesting: already cancelled")
)

// InvalidWithdrawalError reports a claim request above the currently
// claimable amount. The claimable figure lets the host surface a precise
// message without recomputing it.
type InvalidWithdrawalError struct {
	Request   *big.Int
	Claimable *big.Int
}

func (e *InvalidWithdrawalError) Error() string {
	return fmt.Sprintf("vesting: invalid withdrawal: requested %s, claimable %s", e.Request, e.Claimable)
}

// FundingOutcome reports the result of a funding check. Funding may
// legitimately be attempted many times, so every outcome is a reported value
// rather than an error.
type FundingOutcome uint8

const (
	FundingOutcomeFunded FundingOutcome = iota
	FundingOutcomeInsufficient
	FundingOutcomeAlreadyFunded
	FundingOutcomeCancelled
)

func (o FundingOutcome) String() string {
	switch o {
	case FundingOutcomeFunded:
		return "funded"
	case FundingOutcomeInsufficient:
		return "insufficient"
	case FundingOutcomeAlreadyFunded:
		return "already_funded"
	case FundingOutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transfer is an outbound settlement instruction for the host to execute.
// The engine never moves funds itself; it records the state change and hands
// the instruction back, and the host must apply both as one unit.
type Transfer struct {
	To     [20]byte
	Denom  string
	Amount *big.Int
}

// ClaimResult reports a successful claim: the amount paid out, the updated
// cumulative claimed figure, and the transfer instructions to execute.
type ClaimResult struct {
	Paid      *big.Int
	Claimed   *big.Int
	Transfers []Transfer
}

// CancelResult reports the settlement split at cancellation.
type CancelResult struct {
	ToRecipient *big.Int
	ToOwner     *big.Int
	Transfers   []Transfer
}

// VestInit carries the instantiation record for a new agreement. StartTime is
// unix seconds; hosts holding nanosecond timestamps divide once at the
// boundary.
type VestInit struct {
	ID              uuid.UUID
	Total           *big.Int
	Denom           string
	Recipient       [20]byte
	Owner           [20]byte
	StartTime       int64
	DurationSeconds uint64
	Schedule        Schedule
	Title           string
	Description     string
}

type engineState interface {
	VestingGet() (*Vest, bool)
	VestingPut(*Vest) error
}

// Engine drives the funding/claim/cancellation state machine for a single
// vesting agreement. Every operation takes the current time as an explicit
// argument, so runs are deterministic and replayable; the host serialises
// invocations.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a vesting engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vestingEvent{evt: event})
}

func (e *Engine) loadVest() (*Vest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	vest, ok := e.state.VestingGet()
	if !ok {
		return nil, ErrNotInitialized
	}
	return vest, nil
}

func (e *Engine) storeVest(v *Vest) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.VestingPut(v)
}

// Initialize validates the instantiation record, compiles the release curve
// and persists the new agreement in the Unfunded state.
func (e *Engine) Initialize(init VestInit, now int64) (*Vest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.VestingGet(); ok {
		return nil, ErrAlreadyInitialized
	}
	denom, err := NormalizeDenom(init.Denom)
	if err != nil {
		return nil, err
	}
	total := cloneBigInt(init.Total)
	if total.Sign() <= 0 {
		return nil, ErrInvalidTotal
	}
	if init.DurationSeconds == 0 {
		return nil, ErrInvalidDuration
	}
	start := init.StartTime
	if start == 0 {
		start = now
	}
	if start+int64(init.DurationSeconds) <= now {
		return nil, ErrScheduleElapsed
	}
	curve, err := init.Schedule.Compile(init.DurationSeconds, total)
	if err != nil {
		return nil, err
	}
	vest := &Vest{
		ID:              init.ID,
		Recipient:       init.Recipient,
		Owner:           init.Owner,
		Denom:           denom,
		Total:           total,
		Title:           init.Title,
		Description:     init.Description,
		StartTime:       start,
		DurationSeconds: init.DurationSeconds,
		Curve:           curve,
		Funding:         FundingUnfunded,
		Cancellation:    CancelActive,
		Claimed:         big.NewInt(0),
		Overpayment:     big.NewInt(0),
		CreatedAt:       now,
	}
	if err := e.storeVest(vest); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(vest))
	return vest.Clone(), nil
}

// Fund runs the funding gate against the balance the host currently observes
// on the escrow account. Once the balance covers the committed total the
// agreement flips to Funded; any excess is retained as overpayment for later
// return to the owner. The transition is one-way and the call idempotent.
func (e *Engine) Fund(observedBalance *big.Int, now int64) (FundingOutcome, error) {
	vest, err := e.loadVest()
	if err != nil {
		return FundingOutcomeInsufficient, err
	}
	if vest.Cancellation == CancelCancelled {
		return FundingOutcomeCancelled, nil
	}
	if vest.Funding == FundingFunded {
		return FundingOutcomeAlreadyFunded, nil
	}
	observed := cloneBigInt(observedBalance)
	if observed.Cmp(vest.Total) < 0 {
		return FundingOutcomeInsufficient, nil
	}
	vest.Funding = FundingFunded
	vest.Overpayment = new(big.Int).Sub(observed, vest.Total)
	if err := e.storeVest(vest); err != nil {
		return FundingOutcomeInsufficient, err
	}
	e.emit(NewFundedEvent(vest, now))
	return FundingOutcomeFunded, nil
}

// Claim pays out vested-but-unclaimed funds to the recipient. A nil request
// claims everything currently claimable; an explicit request must not exceed
// it. Claim is the only path that increases the claimed figure. Once the vest
// pays out in full, any retained overpayment is returned to the owner in the
// same settlement.
func (e *Engine) Claim(now int64, request *big.Int) (*ClaimResult, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	if vest.Cancellation == CancelCancelled {
		return nil, ErrCancelled
	}
	if vest.Funding != FundingFunded {
		return nil, ErrNotFunded
	}
	claimable := vest.ClaimableAt(now)
	amount := claimable
	if request != nil {
		amount = cloneBigInt(request)
	}
	if amount.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if amount.Sign() < 0 || amount.Cmp(claimable) > 0 {
		return nil, &InvalidWithdrawalError{Request: amount, Claimable: claimable}
	}
	vest.Claimed = new(big.Int).Add(vest.Claimed, amount)
	transfers := []Transfer{{To: vest.Recipient, Denom: vest.Denom, Amount: cloneBigInt(amount)}}
	if vest.Claimed.Cmp(vest.Total) == 0 && vest.Overpayment.Sign() > 0 {
		transfers = append(transfers, Transfer{To: vest.Owner, Denom: vest.Denom, Amount: cloneBigInt(vest.Overpayment)})
		vest.Overpayment = big.NewInt(0)
	}
	if err := e.storeVest(vest); err != nil {
		return nil, err
	}
	e.emit(NewClaimedEvent(vest, amount, now))
	return &ClaimResult{
		Paid:      cloneBigInt(amount),
		Claimed:   cloneBigInt(vest.Claimed),
		Transfers: transfers,
	}, nil
}

// Cancel terminates the agreement. Vested-but-unclaimed funds settle to the
// recipient immediately; the rest of the observed balance, including any
// overpayment, returns to the owner. The vested amount is pinned by rewriting
// the curve into a constant, so no further amount ever vests and queries
// after cancellation stay consistent. The transition is terminal even when
// nothing is owed.
func (e *Engine) Cancel(caller [20]byte, observedBalance *big.Int, now int64) (*CancelResult, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	if caller != vest.Owner {
		return nil, ErrNotOwner
	}
	if vest.Cancellation == CancelCancelled {
		return nil, ErrAlreadyCancelled
	}

	toRecipient := big.NewInt(0)
	toOwner := big.NewInt(0)
	pinned := big.NewInt(0)
	if vest.Funding == FundingFunded {
		vested := vest.VestedAt(now)
		pinned = vested
		toRecipient = new(big.Int).Sub(vested, vest.Claimed)
		if toRecipient.Sign() < 0 {
			toRecipient = big.NewInt(0)
		}
		// Everything held beyond the recipient's entitlement returns to the
		// owner: the never-to-vest remainder plus any funding overpayment.
		// Prior claims already left the account, so the split drains the
		// observed balance exactly.
		toOwner = new(big.Int).Sub(cloneBigInt(observedBalance), toRecipient)
		if toOwner.Sign() < 0 {
			toOwner = big.NewInt(0)
		}
	}

	var transfers []Transfer
	if toRecipient.Sign() > 0 {
		transfers = append(transfers, Transfer{To: vest.Recipient, Denom: vest.Denom, Amount: cloneBigInt(toRecipient)})
	}
	if toOwner.Sign() > 0 {
		transfers = append(transfers, Transfer{To: vest.Owner, Denom: vest.Denom, Amount: cloneBigInt(toOwner)})
	}

	vest.Cancellation = CancelCancelled
	vest.CancelledAt = now
	vest.Curve = NewConstant(pinned)
	vest.Overpayment = big.NewInt(0)
	if err := e.storeVest(vest); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(vest, toRecipient, toOwner, now))
	return &CancelResult{
		ToRecipient: toRecipient,
		ToOwner:     toOwner,
		Transfers:   transfers,
	}, nil
}

// Info returns a copy of the current agreement state.
func (e *Engine) Info() (*Vest, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	return vest.Clone(), nil
}

// Vested returns released(now) using the same curve evaluation as the claim
// path.
func (e *Engine) Vested(now int64) (*big.Int, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	return vest.VestedAt(now), nil
}

// Claimable returns the amount a claim at the given instant would pay out.
func (e *Engine) Claimable(now int64) (*big.Int, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	return vest.ClaimableAt(now), nil
}

// TotalToVest returns the maximum amount that will ever vest. After
// cancellation this is the pinned vested-at-cancel value.
func (e *Engine) TotalToVest() (*big.Int, error) {
	vest, err := e.loadVest()
	if err != nil {
		return nil, err
	}
	return vest.TotalToVest(), nil
}

// Duration returns the schedule length in seconds, reporting false once the
// agreement has been cancelled.
func (e *Engine) Duration() (uint64, bool, error) {
	vest, err := e.loadVest()
	if err != nil {
		return 0, false, err
	}
	d, ok := vest.Duration()
	return d, ok, nil
}
