package fees

import (
	"math/big"
	"testing"
)

func TestSaleSplitTwoLevels(t *testing.T) {
	payment := big.NewInt(1_000_000)
	shares, treasury := SaleSplit(payment, 2)

	if len(shares) != 2 {
		t.Fatalf("len(shares) = %d, want 2", len(shares))
	}
	if shares[0].Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("level-1 share = %s, want 50000", shares[0])
	}
	if shares[1].Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("level-2 share = %s, want 30000", shares[1])
	}
	if treasury.Cmp(big.NewInt(920_000)) != 0 {
		t.Fatalf("treasury = %s, want 920000", treasury)
	}
}

func TestSaleSplitDepths(t *testing.T) {
	tests := []struct {
		name         string
		depth        int
		wantTreasury int64
	}{
		{name: "no chain", depth: 0, wantTreasury: 10_000},
		{name: "one level", depth: 1, wantTreasury: 9_500},
		{name: "two levels", depth: 2, wantTreasury: 9_200},
		{name: "depth clamped", depth: 5, wantTreasury: 9_200},
	}
	payment := big.NewInt(10_000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares, treasury := SaleSplit(payment, tt.depth)
			if treasury.Cmp(big.NewInt(tt.wantTreasury)) != 0 {
				t.Fatalf("treasury = %s, want %d", treasury, tt.wantTreasury)
			}
			sum := new(big.Int).Set(treasury)
			for _, s := range shares {
				sum.Add(sum, s)
			}
			if sum.Cmp(payment) != 0 {
				t.Fatalf("shares sum to %s, want %s", sum, payment)
			}
		})
	}
}

// Truncated remainders must land in the treasury, never vanish.
func TestSplitConservation(t *testing.T) {
	payments := []int64{1, 3, 7, 99, 101, 9_999, 10_001, 123_456_789}
	for _, p := range payments {
		payment := big.NewInt(p)
		for depth := 0; depth <= 2; depth++ {
			shares, treasury := SaleSplit(payment, depth)
			sum := new(big.Int).Set(treasury)
			for _, s := range shares {
				sum.Add(sum, s)
			}
			if sum.Cmp(payment) != 0 {
				t.Fatalf("SaleSplit(%d, depth=%d): sum %s != payment", p, depth, sum)
			}
		}

		seller, treasury := TradeSplit(payment)
		sum := new(big.Int).Add(seller, treasury)
		if sum.Cmp(payment) != 0 {
			t.Fatalf("TradeSplit(%d): sum %s != payment", p, sum)
		}
	}
}

func TestTradeSplit(t *testing.T) {
	seller, treasury := TradeSplit(big.NewInt(1000))
	if seller.Cmp(big.NewInt(950)) != 0 || treasury.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("TradeSplit(1000) = %s/%s, want 950/50", seller, treasury)
	}

	// Below one treasury unit of precision the remainder still goes to
	// the treasury: 95% of 7 truncates to 6, treasury takes 1.
	seller, treasury = TradeSplit(big.NewInt(7))
	if seller.Cmp(big.NewInt(6)) != 0 || treasury.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("TradeSplit(7) = %s/%s, want 6/1", seller, treasury)
	}
}
