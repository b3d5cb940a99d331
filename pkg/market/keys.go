package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Round and bid keys are zero-padded ordinals so a
// prefix scan yields them in index order.
const (
	prefixRound        = "round:"
	prefixBid          = "bid:"
	prefixRegistration = "reg:"
)

func roundKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixRound, index))
}

func bidKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixBid, index))
}

func registrationKey(account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixRegistration, account.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
