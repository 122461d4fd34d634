package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/types"
)

const (
	// TypeBaseSupplied is emitted when base asset is supplied to the market.
	TypeBaseSupplied = "market.base_supplied"
	// TypeBaseWithdrawn is emitted when base asset leaves the market.
	TypeBaseWithdrawn = "market.base_withdrawn"
	// TypeCollateralSupplied is emitted on collateral deposits.
	TypeCollateralSupplied = "market.collateral_supplied"
	// TypeCollateralWithdrawn is emitted on collateral withdrawals.
	TypeCollateralWithdrawn = "market.collateral_withdrawn"
	// TypeAbsorbed is emitted when an underwater account is absorbed.
	TypeAbsorbed = "market.absorbed"
)

// BaseSupplied captures a base-asset supply into the shared ledger.
type BaseSupplied struct {
	From   common.Address
	Dst    common.Address
	Amount *big.Int
}

func (BaseSupplied) EventType() string { return TypeBaseSupplied }

// Event renders the canonical attribute payload.
func (e BaseSupplied) Event() *types.Event {
	return &types.Event{
		Type: TypeBaseSupplied,
		Attributes: map[string]string{
			"from":   e.From.Hex(),
			"dst":    e.Dst.Hex(),
			"amount": bigString(e.Amount),
		},
	}
}

// BaseWithdrawn captures a base-asset withdrawal or borrow.
type BaseWithdrawn struct {
	Src    common.Address
	To     common.Address
	Amount *big.Int
}

func (BaseWithdrawn) EventType() string { return TypeBaseWithdrawn }

// Event renders the canonical attribute payload.
func (e BaseWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeBaseWithdrawn,
		Attributes: map[string]string{
			"src":    e.Src.Hex(),
			"to":     e.To.Hex(),
			"amount": bigString(e.Amount),
		},
	}
}

// CollateralSupplied captures a collateral deposit for a specific asset.
type CollateralSupplied struct {
	From   common.Address
	Dst    common.Address
	Asset  common.Address
	Amount *big.Int
}

func (CollateralSupplied) EventType() string { return TypeCollateralSupplied }

// Event renders the canonical attribute payload.
func (e CollateralSupplied) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralSupplied,
		Attributes: map[string]string{
			"from":   e.From.Hex(),
			"dst":    e.Dst.Hex(),
			"asset":  e.Asset.Hex(),
			"amount": bigString(e.Amount),
		},
	}
}

// CollateralWithdrawn captures a collateral withdrawal for a specific asset.
type CollateralWithdrawn struct {
	Src    common.Address
	To     common.Address
	Asset  common.Address
	Amount *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

// Event renders the canonical attribute payload.
func (e CollateralWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralWithdrawn,
		Attributes: map[string]string{
			"src":    e.Src.Hex(),
			"to":     e.To.Hex(),
			"asset":  e.Asset.Hex(),
			"amount": bigString(e.Amount),
		},
	}
}

// Absorbed captures the seizure of an underwater account.
type Absorbed struct {
	Absorber      common.Address
	Account       common.Address
	BasePaidOut   *big.Int
	ReserveBurden *big.Int
}

func (Absorbed) EventType() string { return TypeAbsorbed }

// Event renders the canonical attribute payload.
func (e Absorbed) Event() *types.Event {
	return &types.Event{
		Type: TypeAbsorbed,
		Attributes: map[string]string{
			"absorber":      e.Absorber.Hex(),
			"account":       e.Account.Hex(),
			"basePaidOut":   bigString(e.BasePaidOut),
			"reserveBurden": bigString(e.ReserveBurden),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
