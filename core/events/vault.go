package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/types"
)

const (
	// TypePositionDeposited is emitted when an NFT position enters the vault.
	TypePositionDeposited = "vault.position_deposited"
	// TypePositionWithdrawn is emitted when a depositor reclaims a position.
	TypePositionWithdrawn = "vault.position_withdrawn"
	// TypePositionForceLiquidated is emitted when a position is seized.
	TypePositionForceLiquidated = "vault.position_force_liquidated"
)

// PositionDeposited captures an NFT deposit and the shares minted for it.
type PositionDeposited struct {
	Depositor common.Address
	TokenID   uint64
	ValueUSD  *big.Int
	Shares    *big.Int
}

func (PositionDeposited) EventType() string { return TypePositionDeposited }

// Event renders the canonical attribute payload.
func (e PositionDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypePositionDeposited,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"valueUsd":  bigString(e.ValueUSD),
			"shares":    bigString(e.Shares),
		},
	}
}

// PositionWithdrawn captures an NFT withdrawal and the shares burned for it.
type PositionWithdrawn struct {
	Depositor common.Address
	TokenID   uint64
	ValueUSD  *big.Int
	Shares    *big.Int
}

func (PositionWithdrawn) EventType() string { return TypePositionWithdrawn }

// Event renders the canonical attribute payload.
func (e PositionWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePositionWithdrawn,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"valueUsd":  bigString(e.ValueUSD),
			"shares":    bigString(e.Shares),
		},
	}
}

// PositionForceLiquidated captures a privileged seizure of a position.
type PositionForceLiquidated struct {
	Depositor  common.Address
	Liquidator common.Address
	TokenID    uint64
	Shares     *big.Int
}

func (PositionForceLiquidated) EventType() string { return TypePositionForceLiquidated }

// Event renders the canonical attribute payload.
func (e PositionForceLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionForceLiquidated,
		Attributes: map[string]string{
			"depositor":  e.Depositor.Hex(),
			"liquidator": e.Liquidator.Hex(),
			"tokenId":    strconv.FormatUint(e.TokenID, 10),
			"shares":     bigString(e.Shares),
		},
	}
}
