package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/acdmlabs/tokenmarket/params"
	"github.com/acdmlabs/tokenmarket/pkg/api"
	"github.com/acdmlabs/tokenmarket/pkg/bank"
	"github.com/acdmlabs/tokenmarket/pkg/market"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
	"github.com/acdmlabs/tokenmarket/pkg/token"
	"github.com/acdmlabs/tokenmarket/pkg/util"
)

// marketplaceAddr is the marketplace's own account on the ledger and the
// bank: token escrow and the fee treasury accumulate here.
var marketplaceAddr = common.HexToAddress("0x00000000000000000000000000000000000acd1")

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if cfg.Node.AdminAddr == "" || !common.IsHexAddress(cfg.Node.AdminAddr) {
		sugar.Fatalw("admin_addr_required", "hint", "set ADMIN_ADDR to a hex address")
	}
	admin := common.HexToAddress(cfg.Node.AdminAddr)

	// ---- Ledger and bank ----
	ledger := token.NewMemLedger(admin)
	if err := ledger.GrantRole(admin, token.MinterRole, marketplaceAddr); err != nil {
		sugar.Fatalw("grant_minter_failed", "err", err)
	}
	if err := ledger.GrantRole(admin, token.BurnerRole, marketplaceAddr); err != nil {
		sugar.Fatalw("grant_burner_failed", "err", err)
	}

	bk := bank.NewMemBank()

	// Dev convenience: fund listed accounts with 10 ETH each so buys work
	// against the in-memory bank. DEV_FUND_ACCOUNTS=0xabc...,0xdef...
	if accounts := os.Getenv("DEV_FUND_ACCOUNTS"); accounts != "" {
		tenEth := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
		for _, s := range strings.Split(accounts, ",") {
			s = strings.TrimSpace(s)
			if !common.IsHexAddress(s) {
				sugar.Warnw("dev_fund_skip", "value", s)
				continue
			}
			bk.Deposit(common.HexToAddress(s), tenEth)
			sugar.Infow("dev_fund", "account", s, "wei", tenEth.String())
		}
	}

	// ---- Persistence ----
	var store *market.Store
	if cfg.Node.DBPath != "" {
		store, err = market.OpenStore(cfg.Node.DBPath)
		if err != nil {
			sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
		}
		defer store.Close()
		sugar.Infow("store_opened", "path", cfg.Node.DBPath)
	}

	// ---- Marketplace core ----
	mkt, err := market.New(market.Options{
		Address: marketplaceAddr,
		Rounds: rounds.Config{
			GenesisPrice:   cfg.Rounds.GenesisPriceWei,
			GenesisSupply:  cfg.Rounds.GenesisSupply,
			PriceIncrement: cfg.Rounds.PriceIncrementWei,
			Duration:       cfg.Rounds.Duration,
		},
		Authorizer: market.AuthorizerFunc(func(a common.Address) bool { return a == admin }),
		Ledger:     ledger,
		Bank:       bk,
		Clock:      util.RealClock{},
		Logger:     sugar,
		Store:      store,
	})
	if err != nil {
		sugar.Fatalw("marketplace_init_failed", "err", err)
	}

	sugar.Infow("marketplace_ready",
		"admin", admin.Hex(),
		"genesis_price_wei", cfg.Rounds.GenesisPriceWei.String(),
		"genesis_supply", cfg.Rounds.GenesisSupply.String(),
		"round_duration", cfg.Rounds.Duration.String(),
	)

	// ---- API server ----
	apiServer := api.NewServer(mkt)
	mkt.SetEventSink(apiServer.EventSink())

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sugar.Info("shutting down")
}
