// Package market composes the referral registry, fee distributor, round
// state machine, and order book into the marketplace, and is the only
// component that talks to the token ledger and the ETH bank.
//
// Every public operation runs under one mutex: the single global sequential
// ordering the core's correctness depends on. An operation validates every
// precondition before issuing its first ledger or bank effect, so a rejected
// call leaves all state untouched.
package market

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/acdmlabs/tokenmarket/pkg/bank"
	"github.com/acdmlabs/tokenmarket/pkg/market/fees"
	"github.com/acdmlabs/tokenmarket/pkg/market/orderbook"
	"github.com/acdmlabs/tokenmarket/pkg/market/referral"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
	"github.com/acdmlabs/tokenmarket/pkg/token"
	"github.com/acdmlabs/tokenmarket/pkg/util"
)

// Authorizer answers whether an account holds the marketplace admin
// capability. Role storage itself lives outside the core.
type Authorizer interface {
	IsAdmin(account common.Address) bool
}

// AuthorizerFunc adapts a plain predicate to Authorizer.
type AuthorizerFunc func(account common.Address) bool

func (f AuthorizerFunc) IsAdmin(account common.Address) bool { return f(account) }

// Options wires the marketplace's collaborators. Address is the
// marketplace's own account: it holds token escrow on the ledger and the
// treasury balance at the bank.
type Options struct {
	Address    common.Address
	Rounds     rounds.Config
	Authorizer Authorizer
	Ledger     token.Ledger
	Bank       bank.Bank
	Clock      util.Clock
	Logger     *zap.SugaredLogger
	Store      *Store // nil disables persistence
	Events     Sink   // nil disables event delivery
}

type Marketplace struct {
	mu sync.Mutex

	addr   common.Address
	auth   Authorizer
	ledger token.Ledger
	bank   bank.Bank
	clock  util.Clock
	log    *zap.SugaredLogger
	store  *Store
	sink   Sink

	registry *referral.Registry
	machine  *rounds.Machine
	book     *orderbook.Book

	regSeq uint64 // registration ordering for persistence
}

func New(opts Options) (*Marketplace, error) {
	if opts.Ledger == nil || opts.Bank == nil {
		return nil, fmt.Errorf("market: ledger and bank are required")
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = AuthorizerFunc(func(common.Address) bool { return false })
	}

	m := &Marketplace{
		addr:     opts.Address,
		auth:     opts.Authorizer,
		ledger:   opts.Ledger,
		bank:     opts.Bank,
		clock:    opts.Clock,
		log:      opts.Logger,
		store:    opts.Store,
		sink:     opts.Events,
		registry: referral.NewRegistry(),
		machine:  rounds.NewMachine(opts.Rounds, opts.Clock),
		book:     orderbook.NewBook(),
	}

	if m.store != nil {
		state, err := m.store.Load()
		if err != nil {
			return nil, fmt.Errorf("market: load state: %w", err)
		}
		m.machine.Restore(state.Rounds)
		m.book.Restore(state.Bids)
		for _, reg := range state.Registrations {
			m.registry.Restore(reg.Account, reg.Referrer)
			if reg.Seq >= m.regSeq {
				m.regSeq = reg.Seq + 1
			}
		}
		m.log.Infow("state_restored",
			"rounds", len(state.Rounds),
			"bids", len(state.Bids),
			"registrations", len(state.Registrations),
		)
	}
	return m, nil
}

// Address returns the marketplace's own account.
func (m *Marketplace) Address() common.Address { return m.addr }

// checkCaller rejects the zero address before any other precondition.
// Every public operation names its acting account explicitly.
func checkCaller(caller common.Address) error {
	if caller == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}

// SetEventSink installs the event sink after construction. The API server
// needs the marketplace to exist before it can offer its sink.
func (m *Marketplace) SetEventSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Marketplace) emit(ev Event) {
	if m.sink != nil {
		m.sink(ev)
	}
}

/* ------------------------------ registration ------------------------------ */

// Register links caller under referrer. The link is immutable and the
// referrer's discovery list caps at two entries.
func (m *Marketplace) Register(caller, referrer common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return err
	}
	if err := m.registry.Register(caller, referrer); err != nil {
		return err
	}
	seq := m.regSeq
	m.regSeq++
	if m.store != nil {
		if err := m.store.SaveRegistration(Registration{Account: caller, Referrer: referrer, Seq: seq}); err != nil {
			m.log.Errorw("persist_registration_failed", "err", err)
		}
	}

	ev := newEvent(EventRegistered, caller, m.clock.Now())
	ev.Referrer = addrPtr(referrer)
	m.emit(ev)
	m.log.Infow("registered", "account", caller.Hex(), "referrer", referrer.Hex())
	return nil
}

// ChainOf returns caller's referral chain, up to two ancestors.
func (m *Marketplace) ChainOf(account common.Address) []common.Address {
	return m.registry.ChainOf(account)
}

// RefereesOf returns the discovery list registered under referrer.
func (m *Marketplace) RefereesOf(referrer common.Address) []common.Address {
	return m.registry.RefereesOf(referrer)
}

/* ------------------------------ sale rounds ------------------------------- */

// StartSaleRound opens the next sale round and mints its supply into the
// marketplace's escrow. Admin only; rejected while any round is active.
func (m *Marketplace) StartSaleRound(caller common.Address) (*rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if !m.auth.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}
	_, supply, err := m.machine.NextSale()
	if err != nil {
		return nil, err
	}

	// Ledger effect before local commit: a failed mint leaves the
	// machine idle.
	if supply.Sign() > 0 {
		if err := m.ledger.Mint(m.addr, m.addr, supply); err != nil {
			return nil, fmt.Errorf("mint sale supply: %w", err)
		}
	}
	r, err := m.machine.StartSale()
	if err != nil {
		// NextSale passed under the same lock; this cannot happen.
		return nil, err
	}
	m.persistRound(r)

	ev := newEvent(EventSaleRoundStarted, caller, m.clock.Now())
	ev.Round = intPtr(r.Index)
	ev.Amount = new(big.Int).Set(r.TokensMinted)
	ev.Price = new(big.Int).Set(r.Price)
	m.emit(ev)
	m.log.Infow("sale_round_started",
		"round", r.Index,
		"price", r.Price.String(),
		"minted", r.TokensMinted.String(),
	)
	return r, nil
}

// Buy purchases floor(ethWei / price) tokens from the active sale round.
// The full payment is split across the buyer's referral chain and the
// treasury; the sub-price residue stays with the treasury.
func (m *Marketplace) Buy(caller common.Address, ethWei *big.Int) (tokens *big.Int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if ethWei == nil || ethWei.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	r, ok := m.machine.ActiveSale()
	if !ok {
		return nil, rounds.ErrRoundNotActive
	}
	tokens = new(big.Int).Quo(ethWei, r.Price)
	if tokens.Sign() == 0 {
		return nil, fmt.Errorf("payment below token price: %w", ErrInvalidAmount)
	}
	if tokens.Cmp(r.TokensRemaining) > 0 {
		return nil, rounds.ErrInsufficientSupply
	}

	chain := m.registry.ChainOf(caller)
	shares, _ := fees.SaleSplit(ethWei, len(chain))

	// Payment in; this is the last check that can fail.
	if err := m.bank.Transfer(caller, m.addr, ethWei); err != nil {
		return nil, err
	}
	if err := m.ledger.Mint(m.addr, caller, tokens); err != nil {
		return nil, fmt.Errorf("mint to buyer: %w", err)
	}
	for i, share := range shares {
		if share.Sign() == 0 {
			continue
		}
		if err := m.bank.Transfer(m.addr, chain[i], share); err != nil {
			return nil, fmt.Errorf("referral payout: %w", err)
		}
	}
	if err := m.machine.DebitSupply(tokens); err != nil {
		return nil, err
	}
	m.persistRound(r)

	ev := newEvent(EventTokenPurchased, caller, m.clock.Now())
	ev.Round = intPtr(r.Index)
	ev.Amount = new(big.Int).Set(tokens)
	ev.Price = new(big.Int).Set(r.Price)
	ev.Payment = new(big.Int).Set(ethWei)
	m.emit(ev)
	m.log.Infow("token_purchased",
		"buyer", caller.Hex(),
		"round", r.Index,
		"tokens", tokens.String(),
		"payment", ethWei.String(),
		"referral_levels", len(chain),
	)
	return tokens, nil
}

// EndSaleRound closes the elapsed sale round, burns its unsold supply, and
// opens the trade round that follows. Admin only.
func (m *Marketplace) EndSaleRound(caller common.Address) (*rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if !m.auth.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}
	sale, ok := m.machine.ActiveSale()
	if !ok {
		return nil, rounds.ErrRoundNotActive
	}
	if !sale.Elapsed(m.clock.Now()) {
		return nil, rounds.ErrRoundNotElapsed
	}

	// Burn before the local transition; zero remainder skips the call.
	if sale.TokensRemaining.Sign() > 0 {
		if err := m.ledger.Burn(m.addr, m.addr, sale.TokensRemaining); err != nil {
			return nil, fmt.Errorf("burn unsold supply: %w", err)
		}
	}
	unsold, sale, trade, err := m.machine.EndSale()
	if err != nil {
		return nil, err
	}
	m.persistRounds(sale, trade)

	ev := newEvent(EventSaleRoundEnded, caller, m.clock.Now())
	ev.Round = intPtr(sale.Index)
	ev.Amount = unsold
	m.emit(ev)
	m.log.Infow("sale_round_ended", "round", sale.Index, "burned", unsold.String(), "trade_round", trade.Index)
	return trade, nil
}

/* ------------------------------ trade rounds ------------------------------ */

// CreateBid escrows amount tokens from seller and appends an active bid.
// Sellers may queue bids while no trade round is open; only fills require
// one. The seller must have pre-approved the marketplace for the amount.
func (m *Marketplace) CreateBid(seller common.Address, amount, price *big.Int) (*orderbook.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(seller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if m.ledger.BalanceOf(seller).Cmp(amount) < 0 {
		return nil, token.ErrInsufficientBalance
	}

	// Escrow in; allowance is enforced by the ledger.
	if err := m.ledger.TransferFrom(m.addr, seller, m.addr, amount); err != nil {
		return nil, err
	}
	bid := m.book.Append(seller, amount, price, m.clock.Now())
	m.persistBid(bid)

	ev := newEvent(EventBidCreated, seller, m.clock.Now())
	ev.BidIndex = intPtr(bid.Index)
	ev.Amount = new(big.Int).Set(amount)
	ev.Price = new(big.Int).Set(price)
	m.emit(ev)
	m.log.Infow("bid_created", "seller", seller.Hex(), "bid", bid.Index, "amount", amount.String(), "price", price.String())
	return bid, nil
}

// Trade fills fillAmount tokens of the bid at bidIndex, paying ethPaid,
// which must equal fillAmount * bid price exactly. The payment splits 95/5
// between seller and treasury and accrues to the trade round's volume.
func (m *Marketplace) Trade(buyer common.Address, bidIndex int, fillAmount, ethPaid *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(buyer); err != nil {
		return err
	}
	if fillAmount == nil || fillAmount.Sign() <= 0 || ethPaid == nil || ethPaid.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, ok := m.machine.ActiveTrade(); !ok {
		return rounds.ErrRoundNotActive
	}
	bid, err := m.book.CheckFill(bidIndex, fillAmount, ethPaid)
	if err != nil {
		return err
	}
	sellerShare, _ := fees.TradeSplit(ethPaid)

	// Payment in; the buyer's balance is the last precondition.
	if err := m.bank.Transfer(buyer, m.addr, ethPaid); err != nil {
		return err
	}
	if err := m.ledger.Transfer(m.addr, buyer, fillAmount); err != nil {
		return fmt.Errorf("escrow out: %w", err)
	}
	if sellerShare.Sign() > 0 {
		if err := m.bank.Transfer(m.addr, bid.Seller, sellerShare); err != nil {
			return fmt.Errorf("seller payout: %w", err)
		}
	}
	closed, err := m.book.Fill(bidIndex, fillAmount)
	if err != nil {
		return err
	}
	if err := m.machine.AddTradeVolume(ethPaid); err != nil {
		return err
	}
	m.persistBid(bid)
	if trade, ok := m.machine.ActiveTrade(); ok {
		m.persistRound(trade)
	}

	ev := newEvent(EventTradeExecuted, buyer, m.clock.Now())
	ev.BidIndex = intPtr(bidIndex)
	ev.Seller = addrPtr(bid.Seller)
	ev.Amount = new(big.Int).Set(fillAmount)
	ev.Price = new(big.Int).Set(bid.Price)
	ev.Payment = new(big.Int).Set(ethPaid)
	m.emit(ev)
	if closed {
		closedEv := newEvent(EventBidClosed, bid.Seller, m.clock.Now())
		closedEv.BidIndex = intPtr(bidIndex)
		m.emit(closedEv)
	}
	m.log.Infow("trade_executed",
		"buyer", buyer.Hex(),
		"seller", bid.Seller.Hex(),
		"bid", bidIndex,
		"amount", fillAmount.String(),
		"payment", ethPaid.String(),
		"closed", closed,
	)
	return nil
}

// CancelBid returns the bid's remaining escrow to its seller and tombstones
// it. Only the seller may cancel; a second cancel fails with no refund.
func (m *Marketplace) CancelBid(caller common.Address, bidIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return err
	}
	bid, refund, err := m.book.Cancel(bidIndex, caller)
	if err != nil {
		return err
	}
	if refund.Sign() > 0 {
		if err := m.ledger.Transfer(m.addr, bid.Seller, refund); err != nil {
			return fmt.Errorf("escrow refund: %w", err)
		}
	}
	m.persistBid(bid)

	ev := newEvent(EventBidCanceled, caller, m.clock.Now())
	ev.BidIndex = intPtr(bidIndex)
	ev.Amount = refund
	m.emit(ev)
	m.log.Infow("bid_canceled", "seller", caller.Hex(), "bid", bidIndex, "refund", refund.String())
	return nil
}

// CancelAllBids cancels every active bid owned by caller.
func (m *Marketplace) CancelAllBids(caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return err
	}
	refunds := m.book.Sweep(caller)
	if err := m.refund(refunds); err != nil {
		return err
	}

	ev := newEvent(EventAllBidsCanceled, caller, m.clock.Now())
	m.emit(ev)
	m.log.Infow("all_bids_canceled", "seller", caller.Hex(), "bids", len(refunds))
	return nil
}

// EndTradeRound closes the elapsed trade round, sweeps all remaining bids
// back to their sellers, and retains the volume for the next sale round.
// Admin only.
func (m *Marketplace) EndTradeRound(caller common.Address) (*rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if !m.auth.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}
	trade, ok := m.machine.ActiveTrade()
	if !ok {
		return nil, rounds.ErrRoundNotActive
	}
	if !trade.Elapsed(m.clock.Now()) {
		return nil, rounds.ErrRoundNotElapsed
	}

	r, err := m.machine.EndTrade()
	if err != nil {
		return nil, err
	}
	refunds := m.book.SweepAll()
	if err := m.refund(refunds); err != nil {
		return nil, err
	}
	m.persistRound(r)

	ev := newEvent(EventTradeRoundEnded, caller, m.clock.Now())
	ev.Round = intPtr(r.Index)
	ev.VolumeWei = new(big.Int).Set(r.TradeVolumeWei)
	m.emit(ev)
	m.log.Infow("trade_round_ended", "round", r.Index, "volume_wei", r.TradeVolumeWei.String(), "swept_bids", len(refunds))
	return r, nil
}

func (m *Marketplace) refund(refunds []*orderbook.Refund) error {
	for _, rf := range refunds {
		if rf.Amount.Sign() > 0 {
			if err := m.ledger.Transfer(m.addr, rf.Bid.Seller, rf.Amount); err != nil {
				return fmt.Errorf("escrow refund: %w", err)
			}
		}
		m.persistBid(rf.Bid)
	}
	return nil
}

/* ------------------------------- accessors -------------------------------- */

// CurrentSaleRound returns the active sale round, if any.
func (m *Marketplace) CurrentSaleRound() (*rounds.Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.ActiveSale()
}

// CurrentTradeRound returns the active trade round, if any.
func (m *Marketplace) CurrentTradeRound() (*rounds.Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.ActiveTrade()
}

// RoundHistory returns every round record in ordinal order.
func (m *Marketplace) RoundHistory() []*rounds.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.History()
}

// Bids returns the full bid arena, tombstones included.
func (m *Marketplace) Bids() []*orderbook.Bid {
	return m.book.Bids()
}

// ActiveBids returns only the open bids.
func (m *Marketplace) ActiveBids() []*orderbook.Bid {
	return m.book.ActiveBids()
}

// TreasuryBalance returns the wei held by the marketplace that has not been
// attributed to a seller or referrer.
func (m *Marketplace) TreasuryBalance() *big.Int {
	return m.bank.Balance(m.addr)
}

// EscrowBalance returns the tokens the ledger holds under the marketplace's
// address: unsold sale supply plus bid escrow.
func (m *Marketplace) EscrowBalance() *big.Int {
	return m.ledger.BalanceOf(m.addr)
}

func (m *Marketplace) persistRound(r *rounds.Round) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRound(r); err != nil {
		m.log.Errorw("persist_round_failed", "round", r.Index, "err", err)
	}
}

func (m *Marketplace) persistRounds(rs ...*rounds.Round) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRounds(rs...); err != nil {
		m.log.Errorw("persist_rounds_failed", "err", err)
	}
}

func (m *Marketplace) persistBid(b *orderbook.Bid) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveBid(b); err != nil {
		m.log.Errorw("persist_bid_failed", "bid", b.Index, "err", err)
	}
}
