package market

import "errors"

var (
	// ErrUnauthorized indicates the caller lacks the marketplace admin
	// capability required by round-control operations.
	ErrUnauthorized = errors.New("market: caller is not an admin")

	// ErrInvalidAmount indicates a nil, zero, or negative amount or
	// price, or a payment too small to buy a single token.
	ErrInvalidAmount = errors.New("market: invalid amount")

	// ErrZeroAddress indicates the zero address was passed as the caller
	// of an operation. No account is ever the zero address.
	ErrZeroAddress = errors.New("market: zero address caller")
)
