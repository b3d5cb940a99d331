package api

import (
	"math/big"
	"time"

	"github.com/acdmlabs/tokenmarket/pkg/market/orderbook"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
)

// Request types. Addresses are 0x-hex; wei and token amounts are decimal
// strings to survive JSON number precision limits.

type RegisterRequest struct {
	Account  string `json:"account"`
	Referrer string `json:"referrer"`
}

// CallerRequest covers operations that carry nothing but the calling
// account: round transitions and bid cancellations.
type CallerRequest struct {
	Caller string `json:"caller"`
}

type BuyRequest struct {
	Buyer      string `json:"buyer"`
	PaymentWei string `json:"paymentWei"`
}

type CreateBidRequest struct {
	Seller   string `json:"seller"`
	Amount   string `json:"amount"`
	PriceWei string `json:"priceWei"`
}

type TradeRequest struct {
	Buyer      string `json:"buyer"`
	Amount     string `json:"amount"`
	PaymentWei string `json:"paymentWei"`
}

// Response types.

type RoundInfo struct {
	Index           int       `json:"index"`
	Kind            string    `json:"kind"`
	StartTime       time.Time `json:"startTime"`
	EndsAt          time.Time `json:"endsAt"`
	Active          bool      `json:"active"`
	PriceWei        string    `json:"priceWei,omitempty"`
	TokensMinted    string    `json:"tokensMinted,omitempty"`
	TokensRemaining string    `json:"tokensRemaining,omitempty"`
	TradeVolumeWei  string    `json:"tradeVolumeWei,omitempty"`
}

type BidInfo struct {
	Index           int       `json:"index"`
	Seller          string    `json:"seller"`
	AmountRemaining string    `json:"amountRemaining"`
	PriceWei        string    `json:"priceWei"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

type ReferralInfo struct {
	Account  string   `json:"account"`
	Chain    []string `json:"chain"`
	Referees []string `json:"referees"`
}

type BuyResponse struct {
	Tokens string `json:"tokens"`
}

type TreasuryInfo struct {
	BalanceWei   string `json:"balanceWei"`
	EscrowTokens string `json:"escrowTokens"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func bigString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func roundInfo(r *rounds.Round) RoundInfo {
	info := RoundInfo{
		Index:     r.Index,
		Kind:      r.Kind.String(),
		StartTime: r.StartTime,
		EndsAt:    r.StartTime.Add(r.Duration),
		Active:    r.Active,
	}
	if r.Kind == rounds.KindSale {
		info.PriceWei = bigString(r.Price)
		info.TokensMinted = bigString(r.TokensMinted)
		info.TokensRemaining = bigString(r.TokensRemaining)
	} else {
		info.TradeVolumeWei = bigString(r.TradeVolumeWei)
	}
	return info
}

func bidInfo(b *orderbook.Bid) BidInfo {
	return BidInfo{
		Index:           b.Index,
		Seller:          b.Seller.Hex(),
		AmountRemaining: bigString(b.AmountRemaining),
		PriceWei:        bigString(b.Price),
		Active:          b.Active,
		CreatedAt:       b.CreatedAt,
	}
}
