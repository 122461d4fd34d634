package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Totals captures the global accounting state for the money market. Base
// amounts are held in principal terms so that the sum of per-account
// principals always matches the recorded aggregates exactly.
type Totals struct {
	// BaseSupplyIndex is the cumulative interest index applied to supplier
	// principal, ray scaled.
	BaseSupplyIndex *big.Int
	// BaseBorrowIndex is the cumulative interest index applied to borrower
	// principal, ray scaled.
	BaseBorrowIndex *big.Int
	// TrackingSupplyIndex accrues reward units per supplied principal.
	TrackingSupplyIndex *big.Int
	// TrackingBorrowIndex accrues reward units per borrowed principal.
	TrackingBorrowIndex *big.Int
	// TotalSupplyBase is the aggregate positive principal across accounts.
	TotalSupplyBase *big.Int
	// TotalBorrowBase is the aggregate borrowed principal magnitude.
	TotalBorrowBase *big.Int
	// LastAccrualTime is the unix timestamp of the last index refresh.
	LastAccrualTime uint64
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return nil
	}
	clone := &Totals{LastAccrualTime: t.LastAccrualTime}
	clone.BaseSupplyIndex = cloneBig(t.BaseSupplyIndex)
	clone.BaseBorrowIndex = cloneBig(t.BaseBorrowIndex)
	clone.TrackingSupplyIndex = cloneBig(t.TrackingSupplyIndex)
	clone.TrackingBorrowIndex = cloneBig(t.TrackingBorrowIndex)
	clone.TotalSupplyBase = cloneBig(t.TotalSupplyBase)
	clone.TotalBorrowBase = cloneBig(t.TotalBorrowBase)
	return clone
}

// AccountState maintains the base-asset position for a single account. The
// account never stores a balance directly: Principal combined with the global
// indices yields the present value at any point in time.
type AccountState struct {
	// Address is the unique account identifier.
	Address common.Address
	// Principal is the signed index-independent base position. Positive means
	// supplied, negative means borrowed.
	Principal *big.Int
	// AssetsIn flags which collateral assets the account holds, one bit per
	// registered asset offset.
	AssetsIn uint16
	// BaseTrackingIndex snapshots the tracking index at the last principal
	// change.
	BaseTrackingIndex *big.Int
	// BaseTrackingAccrued collects earned reward units.
	BaseTrackingAccrued *big.Int
}

// Clone returns a deep copy of the account state.
func (a *AccountState) Clone() *AccountState {
	if a == nil {
		return nil
	}
	clone := &AccountState{Address: a.Address, AssetsIn: a.AssetsIn}
	clone.Principal = cloneBig(a.Principal)
	clone.BaseTrackingIndex = cloneBig(a.BaseTrackingIndex)
	clone.BaseTrackingAccrued = cloneBig(a.BaseTrackingAccrued)
	return clone
}

// AssetInfo is the immutable static configuration for one collateral asset.
// The registry is bounded (maxAssets entries) and set once at construction.
type AssetInfo struct {
	// Offset is the asset's position in the registry and its bit in the
	// per-account AssetsIn bitmap.
	Offset uint8
	// Asset is the collateral token address.
	Asset common.Address
	// PriceFeed identifies the oracle adapter pricing this asset.
	PriceFeed common.Address
	// Scale is 10^decimals for the asset's native precision.
	Scale *big.Int
	// BorrowCollateralFactorBps weights the asset's USD value toward borrowing
	// power, in basis points.
	BorrowCollateralFactorBps uint64
	// LiquidateCollateralFactorBps weights the asset's USD value toward
	// avoiding liquidation. Must exceed the borrow factor.
	LiquidateCollateralFactorBps uint64
	// LiquidationFactorBps is the penalty fraction of seized collateral value
	// credited against debt during absorption.
	LiquidationFactorBps uint64
	// SupplyCap bounds the total collateral the market accepts for the asset.
	SupplyCap *big.Int
}

// Clone returns a deep copy of the asset configuration.
func (a AssetInfo) Clone() AssetInfo {
	clone := a
	clone.Scale = cloneBig(a.Scale)
	clone.SupplyCap = cloneBig(a.SupplyCap)
	return clone
}

// Params groups the market-wide configuration fixed at construction.
type Params struct {
	// BaseToken is the market's borrowable asset.
	BaseToken common.Address
	// BaseScale is 10^decimals of the base token.
	BaseScale *big.Int
	// BasePriceFeed prices the base token in USD.
	BasePriceFeed common.Address
	// BorrowMin is the smallest borrow magnitude the market accepts, in base
	// units.
	BorrowMin *big.Int
	// ReserveFactorBps withholds a share of borrow interest from suppliers.
	ReserveFactorBps uint64
	// TrackingSupplySpeed emits reward units per second to suppliers.
	TrackingSupplySpeed *big.Int
	// TrackingBorrowSpeed emits reward units per second to borrowers.
	TrackingBorrowSpeed *big.Int
	// TrackingMinPrincipal gates reward index advancement so tiny
	// denominators cannot blow up the per-unit rate.
	TrackingMinPrincipal *big.Int
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.BaseScale = cloneBig(p.BaseScale)
	clone.BorrowMin = cloneBig(p.BorrowMin)
	clone.TrackingSupplySpeed = cloneBig(p.TrackingSupplySpeed)
	clone.TrackingBorrowSpeed = cloneBig(p.TrackingBorrowSpeed)
	clone.TrackingMinPrincipal = cloneBig(p.TrackingMinPrincipal)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
