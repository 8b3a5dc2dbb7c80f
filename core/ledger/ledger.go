package ledger

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vestpay/native/vesting"
	"vestpay/storage"
)

const balancePrefix = "vestpay/ledger/balance"

// ErrInsufficientFunds is returned when a debit or transfer exceeds the
// source balance.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Ledger is the host-side balance book: per-address, per-denom amounts backed
// by the key-value store. The vesting engine never touches it directly; the
// host resolves observed balances from it and executes the engine's transfer
// instructions against it.
type Ledger struct {
	db storage.Database
}

// NewLedger wires a balance book over the given database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(addr [20]byte, denom string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(denom)+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, denom...)
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

// Balance returns the current amount held by addr in denom. Missing entries
// read as zero.
func (l *Ledger) Balance(addr [20]byte, denom string) (*big.Int, error) {
	raw, err := l.db.Get(balanceKey(addr, denom))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("ledger: decode balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) setBalance(addr [20]byte, denom string, amount *big.Int) error {
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("ledger: encode balance: %w", err)
	}
	return l.db.Put(balanceKey(addr, denom), raw)
}

// Credit adds amount to the addr balance.
func (l *Ledger) Credit(addr [20]byte, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative credit amount")
	}
	balance, err := l.Balance(addr, denom)
	if err != nil {
		return err
	}
	return l.setBalance(addr, denom, balance.Add(balance, amount))
}

// Debit removes amount from the addr balance, rejecting overdrafts.
func (l *Ledger) Debit(addr [20]byte, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative debit amount")
	}
	balance, err := l.Balance(addr, denom)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	return l.setBalance(addr, denom, balance.Sub(balance, amount))
}

// Transfer atomically (under the host's single-writer discipline) moves
// amount between two addresses. Zero-amount transfers are no-ops.
func (l *Ledger) Transfer(from, to [20]byte, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative transfer amount")
	}
	if err := l.Debit(from, denom, amount); err != nil {
		return err
	}
	return l.Credit(to, denom, amount)
}

// Apply executes a batch of engine transfer instructions debiting the escrow
// account. The caller must have persisted the matching state change first;
// state update plus transfers form one settlement unit.
func (l *Ledger) Apply(from [20]byte, transfers []vesting.Transfer) error {
	for _, t := range transfers {
		if err := l.Transfer(from, t.To, t.Denom, t.Amount); err != nil {
			return err
		}
	}
	return nil
}
