package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/acdmlabs/tokenmarket/pkg/bank"
	"github.com/acdmlabs/tokenmarket/pkg/market"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
	"github.com/acdmlabs/tokenmarket/pkg/token"
	"github.com/acdmlabs/tokenmarket/pkg/util"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	mktAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type harness struct {
	srv    *Server
	mkt    *market.Marketplace
	ledger *token.MemLedger
	bank   *bank.MemBank
	clock  *util.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ledger := token.NewMemLedger(deployer)
	require.NoError(t, ledger.GrantRole(deployer, token.MinterRole, mktAddr))
	require.NoError(t, ledger.GrantRole(deployer, token.BurnerRole, mktAddr))

	bk := bank.NewMemBank()
	bk.Deposit(alice, eth("10"))
	bk.Deposit(bob, eth("10"))

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	mkt, err := market.New(market.Options{
		Address: mktAddr,
		Rounds: rounds.Config{
			GenesisPrice:   big.NewInt(10_000_000_000_000),
			GenesisSupply:  big.NewInt(100_000),
			PriceIncrement: big.NewInt(4_000_000_000_000),
			Duration:       3 * 24 * time.Hour,
		},
		Authorizer: market.AuthorizerFunc(func(a common.Address) bool { return a == admin }),
		Ledger:     ledger,
		Bank:       bk,
		Clock:      clock,
	})
	require.NoError(t, err)

	return &harness{
		srv:    NewServer(mkt),
		mkt:    mkt,
		ledger: ledger,
		bank:   bk,
		clock:  clock,
	}
}

func eth(s string) *big.Int {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		panic("bad eth amount: " + s)
	}
	wei, _ := new(big.Float).Mul(f, big.NewFloat(1e18)).Int(nil)
	return wei
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (h *harness) startSale(t *testing.T) {
	t.Helper()
	rec := h.do(t, "POST", "/api/v1/rounds/sale/start", CallerRequest{Caller: admin.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartSaleRound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "POST", "/api/v1/rounds/sale/start", CallerRequest{Caller: alice.Hex()})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, "POST", "/api/v1/rounds/sale/start", CallerRequest{Caller: admin.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[RoundInfo](t, rec)
	require.Equal(t, "sale", info.Kind)
	require.Equal(t, "10000000000000", info.PriceWei)
	require.Equal(t, "100000", info.TokensMinted)
	require.True(t, info.Active)

	// Starting again while the round runs is a state conflict.
	rec = h.do(t, "POST", "/api/v1/rounds/sale/start", CallerRequest{Caller: admin.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestBuy(t *testing.T) {
	h := newHarness(t)
	h.startSale(t)

	rec := h.do(t, "POST", "/api/v1/buy", BuyRequest{
		Buyer:      alice.Hex(),
		PaymentWei: "30000000000000", // 3 tokens at genesis price
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BuyResponse](t, rec)
	require.Equal(t, "3", resp.Tokens)
	require.Equal(t, big.NewInt(3), h.ledger.BalanceOf(alice))

	// Below one token's price.
	rec = h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: alice.Hex(), PaymentWei: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed amount string.
	rec = h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: alice.Hex(), PaymentWei: "lots"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed address.
	rec = h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: "nobody", PaymentWei: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuyWithoutRound(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "POST", "/api/v1/buy", BuyRequest{
		Buyer:      alice.Hex(),
		PaymentWei: "10000000000000",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterAndReferrals(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "POST", "/api/v1/register", RegisterRequest{
		Account:  alice.Hex(),
		Referrer: bob.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Re-registering is a conflict.
	rec = h.do(t, "POST", "/api/v1/register", RegisterRequest{
		Account:  alice.Hex(),
		Referrer: bob.Hex(),
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, "GET", "/api/v1/accounts/"+alice.Hex()+"/referrals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[ReferralInfo](t, rec)
	require.Equal(t, []string{bob.Hex()}, info.Chain)

	rec = h.do(t, "GET", "/api/v1/accounts/"+bob.Hex()+"/referrals", nil)
	info = decode[ReferralInfo](t, rec)
	require.Equal(t, []string{alice.Hex()}, info.Referees)
}

func TestCurrentRound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "GET", "/api/v1/rounds/current", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	h.startSale(t)
	rec = h.do(t, "GET", "/api/v1/rounds/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[RoundInfo](t, rec)
	require.Equal(t, "sale", info.Kind)

	rec = h.do(t, "GET", "/api/v1/rounds", nil)
	history := decode[[]RoundInfo](t, rec)
	require.Len(t, history, 1)
}

func TestBidLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.startSale(t)

	// Alice buys 10 tokens, then offers 4 of them at double the price.
	rec := h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: alice.Hex(), PaymentWei: "100000000000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, h.ledger.Approve(alice, mktAddr, big.NewInt(4)))

	rec = h.do(t, "POST", "/api/v1/bids", CreateBidRequest{
		Seller:   alice.Hex(),
		Amount:   "4",
		PriceWei: "20000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bid := decode[BidInfo](t, rec)
	require.Equal(t, 0, bid.Index)
	require.Equal(t, "4", bid.AmountRemaining)

	// Trading needs an active trade round.
	rec = h.do(t, "POST", "/api/v1/bids/0/trade", TradeRequest{
		Buyer:      bob.Hex(),
		Amount:     "2",
		PaymentWei: "40000000000000",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	h.clock.Advance(3*24*time.Hour + time.Second)
	rec = h.do(t, "POST", "/api/v1/rounds/sale/end", CallerRequest{Caller: admin.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "POST", "/api/v1/bids/0/trade", TradeRequest{
		Buyer:      bob.Hex(),
		Amount:     "2",
		PaymentWei: "40000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, big.NewInt(2), h.ledger.BalanceOf(bob))

	// Wrong payment for the fill.
	rec = h.do(t, "POST", "/api/v1/bids/0/trade", TradeRequest{
		Buyer:      bob.Hex(),
		Amount:     "1",
		PaymentWei: "1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown bid.
	rec = h.do(t, "POST", "/api/v1/bids/42/trade", TradeRequest{
		Buyer:      bob.Hex(),
		Amount:     "1",
		PaymentWei: "20000000000000",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Only the seller cancels.
	rec = h.do(t, "POST", "/api/v1/bids/0/cancel", CallerRequest{Caller: bob.Hex()})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, "POST", "/api/v1/bids/0/cancel", CallerRequest{Caller: alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "GET", "/api/v1/bids?active=true", nil)
	require.Empty(t, decode[[]BidInfo](t, rec))

	rec = h.do(t, "GET", "/api/v1/bids", nil)
	require.Len(t, decode[[]BidInfo](t, rec), 1)
}

func TestZeroAddressCallerRejected(t *testing.T) {
	h := newHarness(t)
	h.startSale(t)

	rec := h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: alice.Hex(), PaymentWei: "40000000000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, h.ledger.Approve(alice, mktAddr, big.NewInt(4)))
	rec = h.do(t, "POST", "/api/v1/bids", CreateBidRequest{
		Seller:   alice.Hex(),
		Amount:   "4",
		PriceWei: "20000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 0x000...000 is well-formed hex, so it survives address parsing; the
	// core must refuse it before any ownership check runs.
	zero := common.Address{}.Hex()
	rec = h.do(t, "POST", "/api/v1/bids/0/cancel", CallerRequest{Caller: zero})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = h.do(t, "POST", "/api/v1/bids/cancel-all", CallerRequest{Caller: zero})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = h.do(t, "GET", "/api/v1/bids?active=true", nil)
	require.Len(t, decode[[]BidInfo](t, rec), 1)

	rec = h.do(t, "POST", "/api/v1/rounds/sale/end", CallerRequest{Caller: zero})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, "POST", "/api/v1/register", RegisterRequest{Account: zero, Referrer: bob.Hex()})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTreasury(t *testing.T) {
	h := newHarness(t)
	h.startSale(t)

	rec := h.do(t, "POST", "/api/v1/buy", BuyRequest{Buyer: alice.Hex(), PaymentWei: "10000000000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "GET", "/api/v1/treasury", nil)
	info := decode[TreasuryInfo](t, rec)
	require.Equal(t, "10000000000000", info.BalanceWei)
}

func TestEventSinkBroadcasts(t *testing.T) {
	h := newHarness(t)
	// The sink forwards into the hub's buffered channel; with no hub
	// goroutine running this only checks it does not panic or block.
	sink := h.srv.EventSink()
	require.NotNil(t, sink)
	sink(market.Event{Type: market.EventRegistered})
}
