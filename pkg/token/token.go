// Package token defines the marketplace's boundary to the fungible token
// ledger: an ERC-20-style interface with role-gated mint and burn, plus an
// in-memory reference implementation used by the daemon and tests.
package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrUnauthorized indicates the caller lacks the role required by the
	// operation (MINTER_ROLE for Mint, BURNER_ROLE for Burn).
	ErrUnauthorized = errors.New("token: caller lacks required role")

	// ErrInsufficientBalance indicates the source account holds fewer
	// tokens than the operation needs.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInsufficientAllowance indicates the spender's approved allowance
	// is smaller than the transfer amount.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")

	// ErrInvalidAmount indicates a nil, negative, or zero amount.
	ErrInvalidAmount = errors.New("token: invalid amount")

	// ErrZeroAddress indicates the zero address was used where a real
	// account is required.
	ErrZeroAddress = errors.New("token: zero address")
)

// Role is a 32-byte capability tag, keccak-256 of the role name.
type Role [32]byte

var (
	AdminRole  = RoleID("ADMIN_ROLE")
	MinterRole = RoleID("MINTER_ROLE")
	BurnerRole = RoleID("BURNER_ROLE")
)

// RoleID hashes a role name into its capability tag.
func RoleID(name string) Role {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	var r Role
	copy(r[:], h.Sum(nil))
	return r
}

// Ledger is the external token-account service the marketplace orchestrates
// against. The caller address is explicit on every mutating call; the ledger
// enforces roles and allowances, the marketplace never bypasses them.
//
// Amounts are raw token units. Implementations must treat returned big.Ints
// as snapshots: mutating them must not affect ledger state.
type Ledger interface {
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller, from common.Address, amount *big.Int) error
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
	Approve(caller, spender common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int
	BalanceOf(account common.Address) *big.Int
}
