package liquidator

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/native/oracle"
)

// ErrUnknownVenueToken indicates the venue holds no listing for a token.
var ErrUnknownVenueToken = errors.New("liquidator: token not listed on venue")

type venueListing struct {
	feed  common.Address
	scale *big.Int
}

// InventoryExchange fills swaps at oracle parity out of its own inventory
// address. It holds no curve; the caller bears the venue's inventory risk and
// the router's slippage bound is the only price protection.
type InventoryExchange struct {
	venueAddr common.Address
	bank      TokenBank
	oracles   *oracle.Registry
	listings  map[common.Address]venueListing
}

// NewInventoryExchange constructs a venue trading from the supplied address.
func NewInventoryExchange(venueAddr common.Address, bank TokenBank, oracles *oracle.Registry) *InventoryExchange {
	return &InventoryExchange{
		venueAddr: venueAddr,
		bank:      bank,
		oracles:   oracles,
		listings:  make(map[common.Address]venueListing),
	}
}

// ListToken registers a tradable token with its price feed and native scale.
func (x *InventoryExchange) ListToken(token common.Address, feed common.Address, scale *big.Int) {
	if x == nil || scale == nil || scale.Sign() <= 0 {
		return
	}
	x.listings[token] = venueListing{feed: feed, scale: new(big.Int).Set(scale)}
}

// Swap debits owner's tokenIn, credits tokenOut at the oracle cross rate and
// reports the amount delivered.
func (x *InventoryExchange) Swap(owner common.Address, tokenIn common.Address, tokenOut common.Address, amountIn *big.Int, minAmountOut *big.Int) (*big.Int, error) {
	if x == nil || x.bank == nil {
		return nil, errNilBank
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	in, ok := x.listings[tokenIn]
	if !ok {
		return nil, ErrUnknownVenueToken
	}
	out, ok := x.listings[tokenOut]
	if !ok {
		return nil, ErrUnknownVenueToken
	}
	priceIn, err := x.oracles.Price(in.feed)
	if err != nil {
		return nil, err
	}
	priceOut, err := x.oracles.Price(out.feed)
	if err != nil {
		return nil, err
	}
	// amountOut = amountIn * priceIn/scaleIn * scaleOut/priceOut, floored.
	amountOut := new(big.Int).Mul(amountIn, priceIn)
	amountOut.Mul(amountOut, out.scale)
	denom := new(big.Int).Mul(in.scale, priceOut)
	amountOut.Quo(amountOut, denom)
	if err := x.bank.Transfer(owner, x.venueAddr, tokenIn, amountIn); err != nil {
		return nil, err
	}
	if err := x.bank.Transfer(x.venueAddr, owner, tokenOut, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}
