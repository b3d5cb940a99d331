// Package fees computes how a payment splits across a referral chain and
// the platform treasury. Pure integer arithmetic: shares are basis points
// of the payment with truncating division, and the truncation remainder
// always accrues to the treasury, so the split sums to the payment exactly.
package fees

import "math/big"

const (
	// BpsScale is the basis-point denominator.
	BpsScale = 10_000

	// Level1Bps and Level2Bps are the primary-issuance referral shares:
	// 5% to the direct referrer, 3% to the referrer's referrer.
	Level1Bps = 500
	Level2Bps = 300

	// SellerBps is the seller's share of a secondary-trade payment.
	SellerBps = 9_500
)

var bpsScale = big.NewInt(BpsScale)

func share(payment *big.Int, bps int64) *big.Int {
	s := new(big.Int).Mul(payment, big.NewInt(bps))
	return s.Quo(s, bpsScale)
}

// SaleSplit distributes a primary-issuance payment over a referral chain of
// depth 0, 1, or 2. shares[i] is the amount owed to chain level i; treasury
// absorbs the rest, including every truncated remainder.
func SaleSplit(payment *big.Int, chainDepth int) (shares []*big.Int, treasury *big.Int) {
	treasury = new(big.Int).Set(payment)
	if chainDepth <= 0 {
		return nil, treasury
	}
	levels := []int64{Level1Bps, Level2Bps}
	if chainDepth > len(levels) {
		chainDepth = len(levels)
	}
	shares = make([]*big.Int, chainDepth)
	for i := 0; i < chainDepth; i++ {
		shares[i] = share(payment, levels[i])
		treasury.Sub(treasury, shares[i])
	}
	return shares, treasury
}

// TradeSplit distributes a secondary-trade payment: 95% to the seller,
// the remaining 5% (plus any truncation remainder) to the treasury.
func TradeSplit(payment *big.Int) (seller, treasury *big.Int) {
	seller = share(payment, SellerBps)
	treasury = new(big.Int).Sub(payment, seller)
	return seller, treasury
}
