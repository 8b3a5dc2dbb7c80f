package vesting

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"vestpay/core/events"
)

type mockState struct {
	vest *Vest
}

func (m *mockState) VestingGet() (*Vest, bool) {
	if m.vest == nil {
		return nil, false
	}
	return m.vest.Clone(), true
}

func (m *mockState) VestingPut(v *Vest) error {
	sanitized, err := SanitizeVest(v)
	if err != nil {
		return err
	}
	m.vest = sanitized
	return nil
}

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	testRecipient = newTestAddress(0x11)
	testOwner     = newTestAddress(0x22)
)

// defaultInit vests 100_000_000 evenly over 100 seconds starting at t=1000.
func defaultInit() VestInit {
	return VestInit{
		ID:              uuid.MustParse("b9cfe519-3b95-4b82-8eb7-f8a6b9ff0001"),
		Total:           big.NewInt(100_000_000),
		Denom:           "uluna",
		Recipient:       testRecipient,
		Owner:           testOwner,
		StartTime:       1_000,
		DurationSeconds: 100,
		Schedule:        Schedule{Kind: ScheduleSaturatingLinear},
		Title:           "team payroll",
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	state := &mockState{}
	engine := NewEngine()
	engine.SetState(state)
	return engine, state
}

func initialized(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	engine, state := newTestEngine(t)
	if _, err := engine.Initialize(defaultInit(), 1_000); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, state
}

func funded(t *testing.T, observed int64) (*Engine, *mockState) {
	t.Helper()
	engine, state := initialized(t)
	outcome, err := engine.Fund(big.NewInt(observed), 1_000)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if outcome != FundingOutcomeFunded {
		t.Fatalf("fund outcome = %s, want funded", outcome)
	}
	return engine, state
}

func mustClaim(t *testing.T, engine *Engine, now int64, request *big.Int) *ClaimResult {
	t.Helper()
	res, err := engine.Claim(now, request)
	if err != nil {
		t.Fatalf("claim at %d: %v", now, err)
	}
	return res
}

func TestInitializeValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*VestInit)
		now    int64
		want   error
	}{
		{
			name:   "zero total",
			mutate: func(i *VestInit) { i.Total = big.NewInt(0) },
			now:    1_000,
			want:   ErrInvalidTotal,
		},
		{
			name:   "negative total",
			mutate: func(i *VestInit) { i.Total = big.NewInt(-5) },
			now:    1_000,
			want:   ErrInvalidTotal,
		},
		{
			name:   "zero duration",
			mutate: func(i *VestInit) { i.DurationSeconds = 0 },
			now:    1_000,
			want:   ErrInvalidDuration,
		},
		{
			name:   "schedule already elapsed",
			mutate: func(*VestInit) {},
			now:    1_100,
			want:   ErrScheduleElapsed,
		},
		{
			name: "curve exceeds total",
			mutate: func(i *VestInit) {
				i.Schedule = Schedule{
					Kind:   SchedulePiecewiseLinear,
					Points: points(1, 0, 100, 100_000_001),
				}
			},
			now:  1_000,
			want: ErrExceedsTotal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			init := defaultInit()
			tc.mutate(&init)
			if _, err := engine.Initialize(init, tc.now); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInitializeOnce(t *testing.T) {
	engine, _ := initialized(t)
	if _, err := engine.Initialize(defaultInit(), 1_000); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeStartsUnfunded(t *testing.T) {
	_, state := initialized(t)
	vest := state.vest
	if vest.Funding != FundingUnfunded || vest.Cancellation != CancelActive {
		t.Fatalf("fresh vest in state %s/%s", vest.Funding, vest.Cancellation)
	}
	if vest.Claimed.Sign() != 0 {
		t.Fatalf("fresh vest has claimed = %s", vest.Claimed)
	}
}

func TestFundInsufficient(t *testing.T) {
	engine, state := initialized(t)
	outcome, err := engine.Fund(big.NewInt(99_999_999), 1_000)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if outcome != FundingOutcomeInsufficient {
		t.Fatalf("outcome = %s, want insufficient", outcome)
	}
	if state.vest.Funding != FundingUnfunded {
		t.Fatalf("insufficient funding must not transition status")
	}
}

func TestFundOneWay(t *testing.T) {
	engine, state := funded(t, 100_000_000)
	mustClaim(t, engine, 1_050, nil)
	claimedBefore := new(big.Int).Set(state.vest.Claimed)

	outcome, err := engine.Fund(big.NewInt(0), 1_060)
	if err != nil {
		t.Fatalf("refund attempt: %v", err)
	}
	if outcome != FundingOutcomeAlreadyFunded {
		t.Fatalf("outcome = %s, want already_funded", outcome)
	}
	if state.vest.Funding != FundingFunded {
		t.Fatalf("funding status reverted")
	}
	if state.vest.Claimed.Cmp(claimedBefore) != 0 {
		t.Fatalf("repeat funding changed claimed: %s -> %s", claimedBefore, state.vest.Claimed)
	}
}

func TestFundRecordsOverpayment(t *testing.T) {
	_, state := funded(t, 100_000_100)
	if state.vest.Overpayment.Int64() != 100 {
		t.Fatalf("overpayment = %s, want 100", state.vest.Overpayment)
	}
}

func TestClaimBeforeFunding(t *testing.T) {
	engine, _ := initialized(t)
	if _, err := engine.Claim(1_050, nil); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded, got %v", err)
	}
}

func TestClaimNothingVested(t *testing.T) {
	engine, _ := funded(t, 100_000_000)
	if _, err := engine.Claim(1_000, nil); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaimRequestAboveClaimable(t *testing.T) {
	engine, _ := funded(t, 100_000_000)
	_, err := engine.Claim(1_050, big.NewInt(50_000_001))
	var withdrawal *InvalidWithdrawalError
	if !errors.As(err, &withdrawal) {
		t.Fatalf("expected InvalidWithdrawalError, got %v", err)
	}
	if withdrawal.Claimable.Int64() != 50_000_000 {
		t.Fatalf("claimable = %s, want 50000000", withdrawal.Claimable)
	}
}

func TestClaimPartialThenSweep(t *testing.T) {
	engine, state := funded(t, 100_000_000)

	res := mustClaim(t, engine, 1_050, big.NewInt(3))
	if res.Paid.Int64() != 3 || state.vest.Claimed.Int64() != 3 {
		t.Fatalf("partial claim paid %s, claimed %s", res.Paid, state.vest.Claimed)
	}
	if len(res.Transfers) != 1 || res.Transfers[0].To != testRecipient {
		t.Fatalf("unexpected transfers: %+v", res.Transfers)
	}

	res = mustClaim(t, engine, 1_050, nil)
	if res.Paid.Int64() != 49_999_997 {
		t.Fatalf("sweep paid %s, want 49999997", res.Paid)
	}
	if state.vest.Claimed.Int64() != 50_000_000 {
		t.Fatalf("claimed = %s, want 50000000", state.vest.Claimed)
	}

	// Nothing more vests without time advancing.
	if _, err := engine.Claim(1_050, nil); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaimAccumulationMatchesCurve(t *testing.T) {
	engine, state := funded(t, 100_000_000)

	sum := big.NewInt(0)
	for _, now := range []int64{1_003, 1_017, 1_017 + 1, 1_042, 1_077, 1_099, 1_100, 1_500} {
		res, err := engine.Claim(now, nil)
		if errors.Is(err, ErrNothingToClaim) {
			continue
		}
		if err != nil {
			t.Fatalf("claim at %d: %v", now, err)
		}
		sum.Add(sum, res.Paid)
	}
	if sum.Int64() != 100_000_000 {
		t.Fatalf("accumulated claims = %s, want total", sum)
	}
	if state.vest.Claimed.Cmp(state.vest.Total) != 0 {
		t.Fatalf("claimed %s != total %s", state.vest.Claimed, state.vest.Total)
	}
}

func TestClaimAfterLateFunding(t *testing.T) {
	// Funding after the schedule start makes everything vested so far
	// claimable at once; no separate catch-up step exists.
	total := big.NewInt(1_000_000_000_000)
	half := big.NewInt(500_000_000_000)
	engine, _ := newTestEngine(t)
	init := defaultInit()
	init.Total = total
	init.DurationSeconds = 5_184_001
	init.Schedule = Schedule{Kind: SchedulePiecewiseLinear, Points: []Point{
		{Offset: 1, Amount: big.NewInt(0)},
		{Offset: 2_592_000, Amount: big.NewInt(0)},
		{Offset: 2_592_001, Amount: half},
		{Offset: 5_184_000, Amount: half},
		{Offset: 5_184_001, Amount: total},
	}}
	if _, err := engine.Initialize(init, 1_000); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	fundTime := init.StartTime + 2_592_001
	outcome, err := engine.Fund(total, fundTime)
	if err != nil || outcome != FundingOutcomeFunded {
		t.Fatalf("fund: outcome %s err %v", outcome, err)
	}
	res := mustClaim(t, engine, fundTime, nil)
	if res.Paid.Cmp(half) != 0 {
		t.Fatalf("first claim paid %s, want %s", res.Paid, half)
	}
}

func TestClaimExhaustionReturnsOverpayment(t *testing.T) {
	engine, state := funded(t, 100_000_100)

	res := mustClaim(t, engine, 2_000, nil)
	if res.Paid.Int64() != 100_000_000 {
		t.Fatalf("paid %s, want full total", res.Paid)
	}
	if len(res.Transfers) != 2 {
		t.Fatalf("expected recipient payout plus overpayment return, got %+v", res.Transfers)
	}
	if res.Transfers[1].To != testOwner || res.Transfers[1].Amount.Int64() != 100 {
		t.Fatalf("overpayment transfer = %+v", res.Transfers[1])
	}
	if state.vest.Overpayment.Sign() != 0 {
		t.Fatalf("overpayment not cleared: %s", state.vest.Overpayment)
	}
}

func TestCancelNotOwner(t *testing.T) {
	engine, _ := funded(t, 100_000_000)
	if _, err := engine.Cancel(testRecipient, big.NewInt(100_000_000), 1_050); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestCancelUnfunded(t *testing.T) {
	engine, state := initialized(t)
	res, err := engine.Cancel(testOwner, big.NewInt(0), 1_050)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.ToRecipient.Sign() != 0 || res.ToOwner.Sign() != 0 {
		t.Fatalf("unfunded cancel disbursed (%s, %s)", res.ToRecipient, res.ToOwner)
	}
	if len(res.Transfers) != 0 {
		t.Fatalf("unfunded cancel produced transfers: %+v", res.Transfers)
	}
	if state.vest.Cancellation != CancelCancelled {
		t.Fatalf("cancellation did not transition")
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	engine, _ := funded(t, 100_000_000)
	if _, err := engine.Cancel(testOwner, big.NewInt(100_000_000), 1_050); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	outcome, err := engine.Fund(big.NewInt(200_000_000), 1_060)
	if err != nil {
		t.Fatalf("fund after cancel: %v", err)
	}
	if outcome != FundingOutcomeCancelled {
		t.Fatalf("fund outcome = %s, want cancelled", outcome)
	}
	if _, err := engine.Claim(1_060, nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := engine.Cancel(testOwner, big.NewInt(0), 1_060); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestCancelConservation(t *testing.T) {
	engine, state := funded(t, 100_000_000)
	mustClaim(t, engine, 1_030, nil)
	claimed := new(big.Int).Set(state.vest.Claimed)

	funded := big.NewInt(100_000_000)
	observed := new(big.Int).Sub(funded, claimed)
	res, err := engine.Cancel(testOwner, observed, 1_050)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The split drains the account: no funds created, destroyed or stranded.
	swept := new(big.Int).Add(res.ToRecipient, res.ToOwner)
	if swept.Cmp(observed) != 0 {
		t.Fatalf("toRecipient + toOwner = %s, want observed %s", swept, observed)
	}
	conserved := new(big.Int).Add(swept, claimed)
	if conserved.Cmp(funded) != 0 {
		t.Fatalf("toRecipient + toOwner + claimed = %s, want funded %s", conserved, funded)
	}
	if res.ToRecipient.Int64() != 20_000_000 {
		t.Fatalf("toRecipient = %s, want vested minus claimed", res.ToRecipient)
	}
}

func TestCancelBeforeVestingWithOverpayment(t *testing.T) {
	engine, _ := funded(t, 100_000_100)
	res, err := engine.Cancel(testOwner, big.NewInt(100_000_100), 1_000)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.ToRecipient.Sign() != 0 {
		t.Fatalf("toRecipient = %s, want 0", res.ToRecipient)
	}
	if res.ToOwner.Int64() != 100_000_100 {
		t.Fatalf("toOwner = %s, want 100000100", res.ToOwner)
	}
}

func TestCancelAtScheduleEnd(t *testing.T) {
	engine, _ := funded(t, 100_000_100)
	res, err := engine.Cancel(testOwner, big.NewInt(100_000_100), 1_100)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.ToRecipient.Int64() != 100_000_000 {
		t.Fatalf("toRecipient = %s, want total", res.ToRecipient)
	}
	if res.ToOwner.Int64() != 100 {
		t.Fatalf("toOwner = %s, want overpayment only", res.ToOwner)
	}
}

func TestCancelPinsVestedAmount(t *testing.T) {
	engine, state := funded(t, 100_000_000)
	if _, err := engine.Cancel(testOwner, big.NewInt(100_000_000), 1_050); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	vested, err := engine.Vested(1_099)
	if err != nil {
		t.Fatalf("vested: %v", err)
	}
	if vested.Int64() != 50_000_000 {
		t.Fatalf("vested after cancel = %s, want pinned 50000000", vested)
	}
	total, err := engine.TotalToVest()
	if err != nil {
		t.Fatalf("totalToVest: %v", err)
	}
	if total.Int64() != 50_000_000 {
		t.Fatalf("totalToVest after cancel = %s, want 50000000", total)
	}
	if _, ok, _ := engine.Duration(); ok {
		t.Fatalf("duration still reported after cancel")
	}
	if state.vest.Curve.Kind != CurveConstant {
		t.Fatalf("curve not pinned constant")
	}
}

func TestQueriesAgreeWithClaims(t *testing.T) {
	engine, _ := funded(t, 100_000_000)
	for _, now := range []int64{1_013, 1_027, 1_064} {
		claimable, err := engine.Claimable(now)
		if err != nil {
			t.Fatalf("claimable: %v", err)
		}
		res := mustClaim(t, engine, now, nil)
		if res.Paid.Cmp(claimable) != 0 {
			t.Fatalf("claimable %s disagrees with claim payout %s at %d", claimable, res.Paid, now)
		}
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	state := &mockState{}
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)

	if _, err := engine.Initialize(defaultInit(), 1_000); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.Fund(big.NewInt(100_000_000), 1_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	mustClaim(t, engine, 1_050, nil)
	if _, err := engine.Cancel(testOwner, big.NewInt(50_000_000), 1_060); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	want := []string{
		EventTypeVestingCreated,
		EventTypeVestingFunded,
		EventTypeVestingClaimed,
		EventTypeVestingCancelled,
	}
	if len(emitter.types) != len(want) {
		t.Fatalf("emitted %v, want %v", emitter.types, want)
	}
	for i, typ := range want {
		if emitter.types[i] != typ {
			t.Fatalf("event %d = %s, want %s", i, emitter.types[i], typ)
		}
	}
}
