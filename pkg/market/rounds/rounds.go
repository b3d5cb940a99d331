// Package rounds owns the alternating sale/trade round lifecycle: ordering,
// elapsed checks, price progression, and per-round supply and trade-volume
// accounting. It holds no ledger effects; the orchestrator mints and burns.
package rounds

import (
	"errors"
	"math/big"
	"time"

	"github.com/acdmlabs/tokenmarket/pkg/util"
)

var (
	// ErrRoundAlreadyActive indicates a round of either kind is still
	// open, so a new sale round may not start.
	ErrRoundAlreadyActive = errors.New("rounds: round already active")

	// ErrRoundNotActive indicates the operation needs an active round of
	// the required kind and there is none.
	ErrRoundNotActive = errors.New("rounds: round not active")

	// ErrRoundNotElapsed indicates the round's fixed duration has not yet
	// passed. Ending exactly at startTime+duration is allowed.
	ErrRoundNotElapsed = errors.New("rounds: round not elapsed")

	// ErrInsufficientSupply indicates a purchase asks for more tokens
	// than the sale round has left.
	ErrInsufficientSupply = errors.New("rounds: insufficient supply")
)

type Kind uint8

const (
	KindSale Kind = iota
	KindTrade
)

func (k Kind) String() string {
	switch k {
	case KindSale:
		return "sale"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Round is one entry in the append-only round history. Price and
// TokensRemaining are set for sale rounds, TradeVolumeWei for trade rounds.
type Round struct {
	Index     int           `json:"index"`
	Kind      Kind          `json:"kind"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Active    bool          `json:"active"`

	Price           *big.Int `json:"price,omitempty"`
	TokensMinted    *big.Int `json:"tokensMinted,omitempty"`
	TokensRemaining *big.Int `json:"tokensRemaining,omitempty"`

	TradeVolumeWei *big.Int `json:"tradeVolumeWei,omitempty"`
}

// Elapsed reports whether the round's duration has passed at now.
// The boundary instant itself counts as elapsed.
func (r *Round) Elapsed(now time.Time) bool {
	return !now.Before(r.StartTime.Add(r.Duration))
}

// Config carries the economic constants of the round cycle.
type Config struct {
	GenesisPrice   *big.Int
	GenesisSupply  *big.Int
	PriceIncrement *big.Int
	Duration       time.Duration
}

// Machine enforces the Idle -> Sale -> Trade -> Sale -> ... alternation.
// Mutating methods are serialized by the orchestrator.
type Machine struct {
	clock   util.Clock
	cfg     Config
	history []*Round
	sale    *Round // active sale round, nil otherwise
	trade   *Round // active trade round, nil otherwise

	lastSalePrice   *big.Int // price of the most recent sale round
	lastTradeVolume *big.Int // volume of the most recent ended trade round
}

func NewMachine(cfg Config, clock util.Clock) *Machine {
	return &Machine{clock: clock, cfg: cfg}
}

var (
	priceGrowthNum = big.NewInt(103)
	priceGrowthDen = big.NewInt(100)
	two            = big.NewInt(2)
)

// NextPrice advances a sale price one round: prev x 1.03 truncated to the
// wei, plus the fixed increment.
func (m *Machine) NextPrice(prev *big.Int) *big.Int {
	next := new(big.Int).Mul(prev, priceGrowthNum)
	next.Quo(next, priceGrowthDen)
	return next.Add(next, m.cfg.PriceIncrement)
}

// NextSale previews the price and supply the next sale round would open
// with, without committing anything. The first round uses the genesis price
// and supply; later rounds derive both from the previous sale price and the
// last trade round's volume:
//
//	supply = floor(2 * tradeVolumeWei / newPrice)
//
// Fails while any round is still active.
func (m *Machine) NextSale() (price, supply *big.Int, err error) {
	if m.sale != nil || m.trade != nil {
		return nil, nil, ErrRoundAlreadyActive
	}
	if m.lastSalePrice == nil {
		price = new(big.Int).Set(m.cfg.GenesisPrice)
		supply = new(big.Int).Set(m.cfg.GenesisSupply)
	} else {
		price = m.NextPrice(m.lastSalePrice)
		// A restored history can end on a closed sale round with no
		// trade round behind it; a missing volume means zero.
		vol := m.lastTradeVolume
		if vol == nil {
			vol = new(big.Int)
		}
		supply = new(big.Int).Mul(two, vol)
		supply.Quo(supply, price)
	}
	return price, supply, nil
}

// StartSale opens the sale round previewed by NextSale and returns it.
func (m *Machine) StartSale() (*Round, error) {
	price, supply, err := m.NextSale()
	if err != nil {
		return nil, err
	}

	r := &Round{
		Index:           len(m.history),
		Kind:            KindSale,
		StartTime:       m.clock.Now(),
		Duration:        m.cfg.Duration,
		Active:          true,
		Price:           price,
		TokensMinted:    new(big.Int).Set(supply),
		TokensRemaining: new(big.Int).Set(supply),
	}
	m.history = append(m.history, r)
	m.sale = r
	m.lastSalePrice = price
	return r, nil
}

// ActiveSale returns the open sale round, if any.
func (m *Machine) ActiveSale() (*Round, bool) {
	if m.sale == nil {
		return nil, false
	}
	return m.sale, true
}

// ActiveTrade returns the open trade round, if any.
func (m *Machine) ActiveTrade() (*Round, bool) {
	if m.trade == nil {
		return nil, false
	}
	return m.trade, true
}

// DebitSupply removes sold tokens from the active sale round.
func (m *Machine) DebitSupply(tokens *big.Int) error {
	if m.sale == nil {
		return ErrRoundNotActive
	}
	if tokens.Cmp(m.sale.TokensRemaining) > 0 {
		return ErrInsufficientSupply
	}
	m.sale.TokensRemaining.Sub(m.sale.TokensRemaining, tokens)
	return nil
}

// EndSale closes the active sale round once elapsed and opens the trade
// round that follows it. Returns the unsold remainder (for the orchestrator
// to burn), the closed sale round, and the new trade round.
func (m *Machine) EndSale() (unsold *big.Int, sale, trade *Round, err error) {
	if m.sale == nil {
		return nil, nil, nil, ErrRoundNotActive
	}
	if !m.sale.Elapsed(m.clock.Now()) {
		return nil, nil, nil, ErrRoundNotElapsed
	}

	sale = m.sale
	unsold = new(big.Int).Set(sale.TokensRemaining)
	sale.TokensRemaining.SetInt64(0)
	sale.Active = false
	m.sale = nil

	trade = &Round{
		Index:          len(m.history),
		Kind:           KindTrade,
		StartTime:      m.clock.Now(),
		Duration:       m.cfg.Duration,
		Active:         true,
		TradeVolumeWei: new(big.Int),
	}
	m.history = append(m.history, trade)
	m.trade = trade
	return unsold, sale, trade, nil
}

// AddTradeVolume accumulates a fill's payment into the active trade round.
func (m *Machine) AddTradeVolume(wei *big.Int) error {
	if m.trade == nil {
		return ErrRoundNotActive
	}
	m.trade.TradeVolumeWei.Add(m.trade.TradeVolumeWei, wei)
	return nil
}

// EndTrade closes the active trade round once elapsed. Its accumulated
// volume feeds the next sale round's supply formula.
func (m *Machine) EndTrade() (*Round, error) {
	if m.trade == nil {
		return nil, ErrRoundNotActive
	}
	if !m.trade.Elapsed(m.clock.Now()) {
		return nil, ErrRoundNotElapsed
	}

	r := m.trade
	r.Active = false
	m.trade = nil
	m.lastTradeVolume = new(big.Int).Set(r.TradeVolumeWei)
	return r, nil
}

// History returns the round records in ordinal order. The slice is a copy;
// the records are live and must not be mutated by callers.
func (m *Machine) History() []*Round {
	out := make([]*Round, len(m.history))
	copy(out, m.history)
	return out
}

// Round returns the record at ordinal i.
func (m *Machine) Round(i int) (*Round, bool) {
	if i < 0 || i >= len(m.history) {
		return nil, false
	}
	return m.history[i], true
}

// Restore rebuilds machine state from a persisted history. Rounds must be
// in ordinal order.
func (m *Machine) Restore(history []*Round) {
	m.history = history
	m.sale, m.trade = nil, nil
	m.lastSalePrice, m.lastTradeVolume = nil, nil
	for _, r := range history {
		switch r.Kind {
		case KindSale:
			m.lastSalePrice = r.Price
			if r.Active {
				m.sale = r
			}
		case KindTrade:
			if r.Active {
				m.trade = r
			} else {
				m.lastTradeVolume = new(big.Int).Set(r.TradeVolumeWei)
			}
		}
	}
}
