// Package bank models ETH value movement as explicit per-account wei
// balances. The marketplace never touches an ambient "contract balance";
// every payment in and share paid out is a Transfer between two accounts.
package bank

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientFunds indicates the sender's wei balance is smaller
	// than the transfer amount.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")

	// ErrInvalidAmount indicates a nil or negative amount.
	ErrInvalidAmount = errors.New("bank: invalid amount")
)

// Bank moves wei between accounts. In a real deployment this is the chain's
// native value transfer; here it is an explicit collaborator so tests can
// assert exact balances.
type Bank interface {
	Transfer(from, to common.Address, amount *big.Int) error
	Balance(account common.Address) *big.Int
}

// MemBank is the in-process Bank used by the daemon and tests.
type MemBank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func NewMemBank() *MemBank {
	return &MemBank{balances: make(map[common.Address]*big.Int)}
}

// Deposit credits an account out of thin air. Test and faucet use only.
func (b *MemBank) Deposit(account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance(account).Add(b.balance(account), amount)
}

func (b *MemBank) balance(account common.Address) *big.Int {
	bal, ok := b.balances[account]
	if !ok {
		bal = new(big.Int)
		b.balances[account] = bal
	}
	return bal
}

func (b *MemBank) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	src.Sub(src, amount)
	b.balance(to).Add(b.balance(to), amount)
	return nil
}

func (b *MemBank) Balance(account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}
