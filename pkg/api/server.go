// Package api exposes the marketplace over REST and streams its event feed
// over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/acdmlabs/tokenmarket/pkg/bank"
	"github.com/acdmlabs/tokenmarket/pkg/market"
	"github.com/acdmlabs/tokenmarket/pkg/market/orderbook"
	"github.com/acdmlabs/tokenmarket/pkg/market/referral"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
	"github.com/acdmlabs/tokenmarket/pkg/token"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	mkt    *market.Marketplace
	router *mux.Router
	hub    *Hub
}

func NewServer(mkt *market.Marketplace) *Server {
	s := &Server{
		mkt:    mkt,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

// EventSink returns a market.Sink that broadcasts every event to connected
// WebSocket clients. Wire it into market.Options.Events.
func (s *Server) EventSink() market.Sink {
	return func(ev market.Event) {
		s.hub.Broadcast(ev)
	}
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Referrals
	api.HandleFunc("/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/accounts/{address}/referrals", s.handleGetReferrals).Methods("GET")

	// Rounds
	api.HandleFunc("/rounds", s.handleGetRounds).Methods("GET")
	api.HandleFunc("/rounds/current", s.handleGetCurrentRound).Methods("GET")
	api.HandleFunc("/rounds/sale/start", s.handleStartSaleRound).Methods("POST")
	api.HandleFunc("/rounds/sale/end", s.handleEndSaleRound).Methods("POST")
	api.HandleFunc("/rounds/trade/end", s.handleEndTradeRound).Methods("POST")

	// Primary issuance
	api.HandleFunc("/buy", s.handleBuy).Methods("POST")

	// Order book
	api.HandleFunc("/bids", s.handleGetBids).Methods("GET")
	api.HandleFunc("/bids", s.handleCreateBid).Methods("POST")
	api.HandleFunc("/bids/cancel-all", s.handleCancelAllBids).Methods("POST")
	api.HandleFunc("/bids/{index}/trade", s.handleTrade).Methods("POST")
	api.HandleFunc("/bids/{index}/cancel", s.handleCancelBid).Methods("POST")

	// Treasury
	api.HandleFunc("/treasury", s.handleGetTreasury).Methods("GET")

	// Event feed
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the routed handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.router }

/* -------------------------------- handlers -------------------------------- */

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, ok := parseAddress(w, req.Account)
	if !ok {
		return
	}
	referrer, ok := parseAddress(w, req.Referrer)
	if !ok {
		return
	}
	if err := s.mkt.Register(account, referrer); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "registered"})
}

func (s *Server) handleGetReferrals(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	chain := s.mkt.ChainOf(account)
	referees := s.mkt.RefereesOf(account)
	info := ReferralInfo{
		Account:  account.Hex(),
		Chain:    make([]string, len(chain)),
		Referees: make([]string, len(referees)),
	}
	for i, a := range chain {
		info.Chain[i] = a.Hex()
	}
	for i, a := range referees {
		info.Referees[i] = a.Hex()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetRounds(w http.ResponseWriter, r *http.Request) {
	history := s.mkt.RoundHistory()
	out := make([]RoundInfo, len(history))
	for i, rd := range history {
		out[i] = roundInfo(rd)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetCurrentRound(w http.ResponseWriter, r *http.Request) {
	if rd, ok := s.mkt.CurrentSaleRound(); ok {
		respondJSON(w, roundInfo(rd))
		return
	}
	if rd, ok := s.mkt.CurrentTradeRound(); ok {
		respondJSON(w, roundInfo(rd))
		return
	}
	respondError(w, http.StatusNotFound, "no active round")
}

func (s *Server) handleStartSaleRound(w http.ResponseWriter, r *http.Request) {
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	rd, err := s.mkt.StartSaleRound(caller)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, roundInfo(rd))
}

func (s *Server) handleEndSaleRound(w http.ResponseWriter, r *http.Request) {
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	rd, err := s.mkt.EndSaleRound(caller)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, roundInfo(rd))
}

func (s *Server) handleEndTradeRound(w http.ResponseWriter, r *http.Request) {
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	rd, err := s.mkt.EndTradeRound(caller)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, roundInfo(rd))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	buyer, ok := parseAddress(w, req.Buyer)
	if !ok {
		return
	}
	payment, ok := parseBig(w, req.PaymentWei)
	if !ok {
		return
	}
	tokens, err := s.mkt.Buy(buyer, payment)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, BuyResponse{Tokens: tokens.String()})
}

func (s *Server) handleGetBids(w http.ResponseWriter, r *http.Request) {
	var bids []*orderbook.Bid
	if r.URL.Query().Get("active") == "true" {
		bids = s.mkt.ActiveBids()
	} else {
		bids = s.mkt.Bids()
	}
	out := make([]BidInfo, len(bids))
	for i, b := range bids {
		out[i] = bidInfo(b)
	}
	respondJSON(w, out)
}

func (s *Server) handleCreateBid(w http.ResponseWriter, r *http.Request) {
	var req CreateBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	seller, ok := parseAddress(w, req.Seller)
	if !ok {
		return
	}
	amount, ok := parseBig(w, req.Amount)
	if !ok {
		return
	}
	price, ok := parseBig(w, req.PriceWei)
	if !ok {
		return
	}
	bid, err := s.mkt.CreateBid(seller, amount, price)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, bidInfo(bid))
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, mux.Vars(r)["index"])
	if !ok {
		return
	}
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	buyer, ok := parseAddress(w, req.Buyer)
	if !ok {
		return
	}
	amount, ok := parseBig(w, req.Amount)
	if !ok {
		return
	}
	payment, ok := parseBig(w, req.PaymentWei)
	if !ok {
		return
	}
	if err := s.mkt.Trade(buyer, index, amount, payment); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "filled"})
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, mux.Vars(r)["index"])
	if !ok {
		return
	}
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	if err := s.mkt.CancelBid(caller, index); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "canceled"})
}

func (s *Server) handleCancelAllBids(w http.ResponseWriter, r *http.Request) {
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	if err := s.mkt.CancelAllBids(caller); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "canceled"})
}

func (s *Server) handleGetTreasury(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, TreasuryInfo{
		BalanceWei:   s.mkt.TreasuryBalance().String(),
		EscrowTokens: s.mkt.EscrowBalance().String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

/* -------------------------------- helpers --------------------------------- */

func decodeCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return common.Address{}, false
	}
	return parseAddress(w, req.Caller)
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address: "+s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseBig(w http.ResponseWriter, s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amount: "+s)
		return nil, false
	}
	return n, true
}

func parseIndex(w http.ResponseWriter, s string) (int, bool) {
	i, err := strconv.Atoi(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bid index: "+s)
		return 0, false
	}
	return i, true
}

// respondOpError maps a marketplace error onto an HTTP status by taxonomy:
// authorization 403, bad arguments 400, missing bids 404, state
// preconditions 409, and exhausted resources 402.
func respondOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrZeroAddress),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, referral.ErrInvalidReferral),
		errors.Is(err, orderbook.ErrPaymentMismatch),
		errors.Is(err, orderbook.ErrOverFill):
		status = http.StatusBadRequest
	case errors.Is(err, orderbook.ErrBidNotFound):
		status = http.StatusNotFound
	case errors.Is(err, referral.ErrAlreadyRegistered),
		errors.Is(err, referral.ErrReferrerListFull),
		errors.Is(err, orderbook.ErrBidInactive),
		errors.Is(err, orderbook.ErrNotSeller),
		errors.Is(err, rounds.ErrRoundAlreadyActive),
		errors.Is(err, rounds.ErrRoundNotActive),
		errors.Is(err, rounds.ErrRoundNotElapsed):
		status = http.StatusConflict
	case errors.Is(err, rounds.ErrInsufficientSupply),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, bank.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
