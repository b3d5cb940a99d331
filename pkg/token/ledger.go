package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// MemLedger is the in-process reference Ledger. It mirrors the deployed
// token's semantics: role-gated mint/burn, allowance-gated transferFrom,
// no balance may ever go negative.
type MemLedger struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	roles      map[Role]map[common.Address]bool
	supply     *big.Int
}

// NewMemLedger creates an empty ledger. The deployer holds AdminRole and may
// grant further roles.
func NewMemLedger(deployer common.Address) *MemLedger {
	l := &MemLedger{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		roles:      make(map[Role]map[common.Address]bool),
		supply:     new(big.Int),
	}
	l.roles[AdminRole] = map[common.Address]bool{deployer: true}
	return l
}

// GrantRole gives account the role. Caller must hold AdminRole.
func (l *MemLedger) GrantRole(caller common.Address, role Role, account common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.roles[AdminRole][caller] {
		return ErrUnauthorized
	}
	if l.roles[role] == nil {
		l.roles[role] = make(map[common.Address]bool)
	}
	l.roles[role][account] = true
	return nil
}

// RevokeRole removes the role from account. Caller must hold AdminRole.
func (l *MemLedger) RevokeRole(caller common.Address, role Role, account common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.roles[AdminRole][caller] {
		return ErrUnauthorized
	}
	delete(l.roles[role], account)
	return nil
}

// HasRole reports whether account holds role.
func (l *MemLedger) HasRole(role Role, account common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roles[role][account]
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

func (l *MemLedger) balance(addr common.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}

func (l *MemLedger) Mint(caller, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.roles[MinterRole][caller] {
		return ErrUnauthorized
	}
	l.balance(to).Add(l.balance(to), amount)
	l.supply.Add(l.supply, amount)
	return nil
}

func (l *MemLedger) Burn(caller, from common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.roles[BurnerRole][caller] {
		return ErrUnauthorized
	}
	b := l.balance(from)
	if b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *MemLedger) Transfer(caller, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(caller, to, amount)
}

func (l *MemLedger) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner: from, spender: caller}
	allowed, ok := l.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (l *MemLedger) move(from, to common.Address, amount *big.Int) error {
	b := l.balance(from)
	if b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.balance(to).Add(l.balance(to), amount)
	return nil
}

func (l *MemLedger) Approve(caller, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner: caller, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

func (l *MemLedger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (l *MemLedger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalSupply returns the current minted supply.
func (l *MemLedger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}
