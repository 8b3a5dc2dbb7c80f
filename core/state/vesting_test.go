package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"vestpay/native/vesting"
	"vestpay/storage"
)

func testVest() *vesting.Vest {
	var recipient, owner [20]byte
	recipient[0] = 0x11
	owner[0] = 0x22
	return &vesting.Vest{
		ID:              uuid.MustParse("0d1f3a52-7f7e-4a7c-9a30-59c0f39a0002"),
		Recipient:       recipient,
		Owner:           owner,
		Denom:           "uluna",
		Total:           big.NewInt(1_000_000),
		Title:           "payroll",
		Description:     "monthly team payroll",
		StartTime:       1_700_000_000,
		DurationSeconds: 5_184_001,
		Curve: vesting.NewPiecewiseLinear([]vesting.Point{
			{Offset: 1, Amount: big.NewInt(0)},
			{Offset: 5_184_001, Amount: big.NewInt(1_000_000)},
		}),
		Funding:      vesting.FundingFunded,
		Cancellation: vesting.CancelActive,
		Claimed:      big.NewInt(250),
		Overpayment:  big.NewInt(42),
		CreatedAt:    1_699_999_000,
	}
}

func TestVestingStoreRoundtrip(t *testing.T) {
	store := NewVestingStore(storage.NewMemDB())
	original := testVest()
	if err := store.Save(original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != original.ID {
		t.Fatalf("id mismatch: %s != %s", loaded.ID, original.ID)
	}
	if loaded.Denom != original.Denom || loaded.Title != original.Title || loaded.Description != original.Description {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}
	if loaded.Total.Cmp(original.Total) != 0 || loaded.Claimed.Cmp(original.Claimed) != 0 || loaded.Overpayment.Cmp(original.Overpayment) != 0 {
		t.Fatalf("amount mismatch: %+v", loaded)
	}
	if loaded.StartTime != original.StartTime || loaded.DurationSeconds != original.DurationSeconds || loaded.CreatedAt != original.CreatedAt {
		t.Fatalf("schedule mismatch: %+v", loaded)
	}
	if loaded.Funding != original.Funding || loaded.Cancellation != original.Cancellation {
		t.Fatalf("status mismatch: %+v", loaded)
	}
	if loaded.Curve.Kind != vesting.CurvePiecewiseLinear || len(loaded.Curve.Steps) != 2 {
		t.Fatalf("curve mismatch: %+v", loaded.Curve)
	}
	if loaded.VestedAt(original.StartTime+5_184_001).Cmp(original.Total) != 0 {
		t.Fatalf("reloaded curve evaluates wrong")
	}
}

func TestVestingStoreMissing(t *testing.T) {
	store := NewVestingStore(storage.NewMemDB())
	if _, err := store.Load(); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := store.VestingGet(); ok {
		t.Fatalf("VestingGet reported a record on empty store")
	}
	exists, err := store.Exists()
	if err != nil || exists {
		t.Fatalf("Exists() = (%v, %v), want (false, nil)", exists, err)
	}
}

func TestVestingStoreRejectsInvalidRecord(t *testing.T) {
	store := NewVestingStore(storage.NewMemDB())
	broken := testVest()
	broken.Claimed = big.NewInt(2_000_000) // above total
	if err := store.Save(broken); err == nil {
		t.Fatalf("expected save of invalid record to fail")
	}
}

func TestVestingStoreCancelledRoundtrip(t *testing.T) {
	store := NewVestingStore(storage.NewMemDB())
	vest := testVest()
	vest.Cancellation = vesting.CancelCancelled
	vest.CancelledAt = 1_700_100_000
	vest.Curve = vesting.NewConstant(big.NewInt(500))
	if err := store.Save(vest); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Cancellation != vesting.CancelCancelled || loaded.CancelledAt != 1_700_100_000 {
		t.Fatalf("cancellation fields lost: %+v", loaded)
	}
	if loaded.Curve.Kind != vesting.CurveConstant || loaded.Curve.Y.Int64() != 500 {
		t.Fatalf("pinned curve lost: %+v", loaded.Curve)
	}
}

func TestEscrowAccountAddressDeterministic(t *testing.T) {
	id := uuid.MustParse("0d1f3a52-7f7e-4a7c-9a30-59c0f39a0002")
	a := EscrowAccountAddress(id)
	b := EscrowAccountAddress(id)
	if a != b {
		t.Fatalf("address derivation not deterministic")
	}
	other := EscrowAccountAddress(uuid.MustParse("0d1f3a52-7f7e-4a7c-9a30-59c0f39a0003"))
	if a == other {
		t.Fatalf("distinct agreements produced the same escrow address")
	}
}
