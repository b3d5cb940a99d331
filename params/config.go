package params

import (
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Rounds holds the economic parameters of the sale/trade round cycle.
// All wei values are exact integers; prices are wei per token unit.
type Rounds struct {
	GenesisPriceWei   *big.Int      // first sale round price
	GenesisSupply     *big.Int      // token units minted for the first sale round
	PriceIncrementWei *big.Int      // flat increment added on every price step
	Duration          time.Duration // length of each sale and trade round
}

type Node struct {
	DBPath    string // pebble database directory ("" disables persistence)
	APIAddr   string // REST/WebSocket listen address
	AdminAddr string // hex address granted marketplace admin capability
	LogFile   string
}

type Config struct {
	Rounds Rounds
	Node   Node
}

func Default() Config {
	return Config{
		Rounds: Rounds{
			GenesisPriceWei:   big.NewInt(10_000_000_000_000), // 0.00001 ETH
			GenesisSupply:     big.NewInt(100_000),
			PriceIncrementWei: big.NewInt(4_000_000_000_000), // 0.000004 ETH
			Duration:          3 * 24 * time.Hour,
		},
		Node: Node{
			DBPath:  "./data/marketplace.db",
			APIAddr: ":8080",
			LogFile: "data/marketd.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("GENESIS_PRICE_WEI"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok && n.Sign() > 0 {
			cfg.Rounds.GenesisPriceWei = n
		}
	}
	if v := os.Getenv("GENESIS_SUPPLY"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok && n.Sign() > 0 {
			cfg.Rounds.GenesisSupply = n
		}
	}
	if v := os.Getenv("PRICE_INCREMENT_WEI"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok && n.Sign() >= 0 {
			cfg.Rounds.PriceIncrementWei = n
		}
	}
	if v := os.Getenv("ROUND_DURATION_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Rounds.Duration = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.Node.AdminAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
