package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"vestpay/native/vesting"
	"vestpay/storage"
)

const vestingRecordPrefix = "vestpay/vesting/record"

func vestingStorageKey() []byte {
	return ethcrypto.Keccak256([]byte(vestingRecordPrefix))
}

// EscrowAccountAddress derives the deterministic ledger address deposits land
// on for the given agreement, in the style of a module vault address.
func EscrowAccountAddress(id uuid.UUID) [20]byte {
	hash := ethcrypto.Keccak256([]byte("vestpay/escrow/account"), id[:])
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}

// storedVest is the RLP wire form of the vest aggregate. Signed timestamps
// ride as big integers because RLP has no signed encoding, and every big.Int
// field is normalised non-nil before encoding.
type storedVest struct {
	ID              [16]byte
	Recipient       [20]byte
	Owner           [20]byte
	Denom           string
	Title           string
	Description     string
	Total           *big.Int
	StartTime       *big.Int
	DurationSeconds uint64
	Curve           storedCurve
	Funding         uint8
	Cancellation    uint8
	Claimed         *big.Int
	Overpayment     *big.Int
	CreatedAt       *big.Int
	CancelledAt     *big.Int
}

type storedCurve struct {
	Kind  uint8
	Y     *big.Int
	MinX  uint64
	MinY  *big.Int
	MaxX  uint64
	MaxY  *big.Int
	Steps []storedPoint
}

type storedPoint struct {
	Offset uint64
	Amount *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredVest(v *vesting.Vest) *storedVest {
	if v == nil {
		return nil
	}
	return &storedVest{
		ID:              v.ID,
		Recipient:       v.Recipient,
		Owner:           v.Owner,
		Denom:           v.Denom,
		Title:           v.Title,
		Description:     v.Description,
		Total:           nonNil(v.Total),
		StartTime:       big.NewInt(v.StartTime),
		DurationSeconds: v.DurationSeconds,
		Curve:           newStoredCurve(v.Curve),
		Funding:         uint8(v.Funding),
		Cancellation:    uint8(v.Cancellation),
		Claimed:         nonNil(v.Claimed),
		Overpayment:     nonNil(v.Overpayment),
		CreatedAt:       big.NewInt(v.CreatedAt),
		CancelledAt:     big.NewInt(v.CancelledAt),
	}
}

func newStoredCurve(c *vesting.Curve) storedCurve {
	if c == nil {
		return storedCurve{}
	}
	out := storedCurve{
		Kind: uint8(c.Kind),
		Y:    nonNil(c.Y),
		MinX: c.MinX,
		MinY: nonNil(c.MinY),
		MaxX: c.MaxX,
		MaxY: nonNil(c.MaxY),
	}
	for _, p := range c.Steps {
		out.Steps = append(out.Steps, storedPoint{Offset: p.Offset, Amount: nonNil(p.Amount)})
	}
	return out
}

func (s *storedVest) toVest() (*vesting.Vest, error) {
	if s == nil {
		return nil, fmt.Errorf("vesting: nil storage record")
	}
	curve := &vesting.Curve{
		Kind: vesting.CurveKind(s.Curve.Kind),
		Y:    nonNil(s.Curve.Y),
		MinX: s.Curve.MinX,
		MinY: nonNil(s.Curve.MinY),
		MaxX: s.Curve.MaxX,
		MaxY: nonNil(s.Curve.MaxY),
	}
	for _, p := range s.Curve.Steps {
		curve.Steps = append(curve.Steps, vesting.Point{Offset: p.Offset, Amount: nonNil(p.Amount)})
	}
	out := &vesting.Vest{
		ID:              uuid.UUID(s.ID),
		Recipient:       s.Recipient,
		Owner:           s.Owner,
		Denom:           s.Denom,
		Title:           s.Title,
		Description:     s.Description,
		Total:           nonNil(s.Total),
		DurationSeconds: s.DurationSeconds,
		Curve:           curve,
		Funding:         vesting.FundingStatus(s.Funding),
		Cancellation:    vesting.CancelStatus(s.Cancellation),
		Claimed:         nonNil(s.Claimed),
		Overpayment:     nonNil(s.Overpayment),
	}
	if s.StartTime != nil {
		out.StartTime = s.StartTime.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if s.CancelledAt != nil {
		out.CancelledAt = s.CancelledAt.Int64()
	}
	return vesting.SanitizeVest(out)
}

// VestingStore persists the single vest aggregate under a keccak-derived key.
// It satisfies the engine's state interface and exposes error-carrying
// variants for hosts that need to distinguish an absent record from a
// corrupt one.
type VestingStore struct {
	db  storage.Database
	key []byte
}

// NewVestingStore wires a vesting store over the given database.
func NewVestingStore(db storage.Database) *VestingStore {
	return &VestingStore{db: db, key: vestingStorageKey()}
}

// Load returns the stored vest, storage.ErrNotFound when no agreement has
// been instantiated yet, or a decoding error for a corrupt record.
func (s *VestingStore) Load() (*vesting.Vest, error) {
	raw, err := s.db.Get(s.key)
	if err != nil {
		return nil, err
	}
	var stored storedVest
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("vesting: decode stored record: %w", err)
	}
	return stored.toVest()
}

// Save validates and persists the vest.
func (s *VestingStore) Save(v *vesting.Vest) error {
	sanitized, err := vesting.SanitizeVest(v)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(newStoredVest(sanitized))
	if err != nil {
		return fmt.Errorf("vesting: encode record: %w", err)
	}
	return s.db.Put(s.key, raw)
}

// VestingGet implements the engine state interface.
func (s *VestingStore) VestingGet() (*vesting.Vest, bool) {
	v, err := s.Load()
	if err != nil {
		return nil, false
	}
	return v, true
}

// VestingPut implements the engine state interface.
func (s *VestingStore) VestingPut(v *vesting.Vest) error {
	return s.Save(v)
}

// Exists reports whether an agreement record is present without decoding it.
func (s *VestingStore) Exists() (bool, error) {
	_, err := s.db.Get(s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
