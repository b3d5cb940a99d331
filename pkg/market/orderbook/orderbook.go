// Package orderbook holds escrowed sell bids and their partial-fill
// accounting. Bids are kept in an index-stable slice and tombstoned
// (Active=false) instead of removed, so pending references by index stay
// valid across cancels and fills. Token escrow itself lives on the ledger
// under the marketplace's address; this package only tracks who is owed
// what.
package orderbook

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrBidNotFound indicates the bid index is out of range.
	ErrBidNotFound = errors.New("orderbook: bid not found")

	// ErrBidInactive indicates the bid was already filled, canceled, or
	// swept. A second cancel fails with this, never double-refunds.
	ErrBidInactive = errors.New("orderbook: bid inactive")

	// ErrOverFill indicates a fill larger than the bid's remaining amount.
	ErrOverFill = errors.New("orderbook: fill exceeds remaining amount")

	// ErrPaymentMismatch indicates the payment does not equal
	// fillAmount * bid price exactly.
	ErrPaymentMismatch = errors.New("orderbook: payment mismatch")

	// ErrNotSeller indicates the caller does not own the bid.
	ErrNotSeller = errors.New("orderbook: caller is not the seller")
)

// Bid is a standing offer to sell AmountRemaining escrowed tokens at Price
// wei per token. AmountRemaining only ever decreases.
type Bid struct {
	Index           int            `json:"index"`
	Seller          common.Address `json:"seller"`
	AmountRemaining *big.Int       `json:"amountRemaining"`
	Price           *big.Int       `json:"price"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Book is the indexed bid arena. Reads are concurrent; mutation is
// serialized by the orchestrator.
type Book struct {
	mu   sync.RWMutex
	bids []*Bid
}

func NewBook() *Book {
	return &Book{}
}

// Append records a new active bid and returns it. Escrow must already have
// been transferred in by the caller.
func (b *Book) Append(seller common.Address, amount, price *big.Int, now time.Time) *Bid {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid := &Bid{
		Index:           len(b.bids),
		Seller:          seller,
		AmountRemaining: new(big.Int).Set(amount),
		Price:           new(big.Int).Set(price),
		Active:          true,
		CreatedAt:       now,
	}
	b.bids = append(b.bids, bid)
	return bid
}

// Get returns the bid at index, active or not.
func (b *Book) Get(index int) (*Bid, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= len(b.bids) {
		return nil, ErrBidNotFound
	}
	return b.bids[index], nil
}

// CheckFill validates a fill against the bid at index without mutating it:
// the bid must be active, fillAmount within the remaining amount, and
// payment exactly fillAmount * price.
func (b *Book) CheckFill(index int, fillAmount, payment *big.Int) (*Bid, error) {
	bid, err := b.Get(index)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !bid.Active {
		return nil, ErrBidInactive
	}
	if fillAmount.Cmp(bid.AmountRemaining) > 0 {
		return nil, ErrOverFill
	}
	want := new(big.Int).Mul(fillAmount, bid.Price)
	if payment.Cmp(want) != 0 {
		return nil, ErrPaymentMismatch
	}
	return bid, nil
}

// Fill decrements the bid's remaining amount, deactivating it when it
// reaches zero. Returns true if the bid was fully filled by this call.
func (b *Book) Fill(index int, fillAmount *big.Int) (closed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.bids) {
		return false, ErrBidNotFound
	}
	bid := b.bids[index]
	if !bid.Active {
		return false, ErrBidInactive
	}
	if fillAmount.Cmp(bid.AmountRemaining) > 0 {
		return false, ErrOverFill
	}
	bid.AmountRemaining.Sub(bid.AmountRemaining, fillAmount)
	if bid.AmountRemaining.Sign() == 0 {
		bid.Active = false
		return true, nil
	}
	return false, nil
}

// Cancel tombstones the bid and returns the escrow still owed to its
// seller. Only the bid's seller may cancel.
func (b *Book) Cancel(index int, caller common.Address) (*Bid, *big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.bids) {
		return nil, nil, ErrBidNotFound
	}
	bid := b.bids[index]
	if !bid.Active {
		return nil, nil, ErrBidInactive
	}
	if caller != bid.Seller {
		return nil, nil, ErrNotSeller
	}
	refund := new(big.Int).Set(bid.AmountRemaining)
	bid.AmountRemaining.SetInt64(0)
	bid.Active = false
	return bid, refund, nil
}

// Sweep tombstones every active bid owned by seller and returns the
// refunds owed. Backs the caller-facing cancel-all.
func (b *Book) Sweep(seller common.Address) []*Refund {
	b.mu.Lock()
	defer b.mu.Unlock()
	var refunds []*Refund
	for _, bid := range b.bids {
		if !bid.Active || bid.Seller != seller {
			continue
		}
		refunds = append(refunds, b.tombstone(bid))
	}
	return refunds
}

// SweepAll tombstones every active bid regardless of owner. Reserved for
// the round-end sweep; external callers never reach it directly.
func (b *Book) SweepAll() []*Refund {
	b.mu.Lock()
	defer b.mu.Unlock()
	var refunds []*Refund
	for _, bid := range b.bids {
		if !bid.Active {
			continue
		}
		refunds = append(refunds, b.tombstone(bid))
	}
	return refunds
}

func (b *Book) tombstone(bid *Bid) *Refund {
	refund := &Refund{
		Bid:    bid,
		Amount: new(big.Int).Set(bid.AmountRemaining),
	}
	bid.AmountRemaining.SetInt64(0)
	bid.Active = false
	return refund
}

// Refund pairs a swept bid with the escrow owed back to its seller.
type Refund struct {
	Bid    *Bid
	Amount *big.Int
}

// Bids returns the full bid arena in index order. The slice is a copy; the
// records are live.
func (b *Book) Bids() []*Bid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Bid, len(b.bids))
	copy(out, b.bids)
	return out
}

// ActiveBids returns only the open bids.
func (b *Book) ActiveBids() []*Bid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Bid
	for _, bid := range b.bids {
		if bid.Active {
			out = append(out, bid)
		}
	}
	return out
}

// Restore rebuilds the arena from persisted bids, which must be in index
// order.
func (b *Book) Restore(bids []*Bid) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = bids
}
