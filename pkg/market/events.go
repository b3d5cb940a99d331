package market

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventRegistered       EventType = "registered"
	EventSaleRoundStarted EventType = "sale_round_started"
	EventTokenPurchased   EventType = "token_purchased"
	EventSaleRoundEnded   EventType = "sale_round_ended"
	EventTradeRoundEnded  EventType = "trade_round_ended"
	EventBidCreated       EventType = "bid_created"
	EventBidCanceled      EventType = "bid_canceled"
	EventAllBidsCanceled  EventType = "all_bids_canceled"
	EventBidClosed        EventType = "bid_closed"
	EventTradeExecuted    EventType = "trade_executed"
)

// Event is the structured record emitted after every completed state
// transition. Fields not meaningful for a given type are omitted.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	Account common.Address `json:"account"`

	Referrer *common.Address `json:"referrer,omitempty"`
	Seller   *common.Address `json:"seller,omitempty"`

	Round     *int     `json:"round,omitempty"`
	BidIndex  *int     `json:"bidIndex,omitempty"`
	Amount    *big.Int `json:"amount,omitempty"`  // token units
	Price     *big.Int `json:"price,omitempty"`   // wei per token
	Payment   *big.Int `json:"payment,omitempty"` // wei
	VolumeWei *big.Int `json:"volumeWei,omitempty"`
}

// Sink receives events after all of an operation's effects have applied.
// It must not call back into the marketplace.
type Sink func(Event)

func newEvent(typ EventType, account common.Address, now time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Time:    now,
		Account: account,
	}
}

func intPtr(i int) *int                        { return &i }
func addrPtr(a common.Address) *common.Address { return &a }
