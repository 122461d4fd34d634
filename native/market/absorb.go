package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/events"
	nativecommon "rangemarket/native/common"
)

// Absorb seizes every collateral balance of an underwater account, credits
// the discounted value against its debt and writes any remaining shortfall
// off against protocol reserves. Ordinary collateral is handed to the
// absorber directly; vault collateral is dispatched per tokenId through the
// ledger's forced transfer. The engine-wide latch blocks re-entrant
// absorption while a seizure is mid-flight.
func (e *Engine) Absorb(absorber common.Address, account common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.absorbers[absorber] {
		return ErrUnauthorized
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	state, err := e.ensureAccountState(account)
	if err != nil {
		return err
	}
	liquidatable, err := e.isLiquidatableWith(state, totals)
	if err != nil {
		return err
	}
	if !liquidatable {
		return ErrNotLiquidatable
	}

	basePrice, err := e.oracles.Price(e.params.BasePriceFeed)
	if err != nil {
		return err
	}

	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	absorberAcc, err := e.loadTokenAccount(absorber)
	if err != nil {
		return err
	}

	type seizure struct {
		asset    common.Address
		newTotal *big.Int
	}
	var seizures []seizure

	deltaUSD := big.NewInt(0)
	for i := range e.assets {
		info := e.assets[i]
		if state.AssetsIn&(1<<info.Offset) == 0 {
			continue
		}
		balance, err := e.collateralBalance(account, info.Asset)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			continue
		}
		price, err := e.collateralPrice(info, account)
		if err != nil {
			return err
		}
		value := usdValue(balance, price, info.Scale)
		deltaUSD.Add(deltaUSD, mulFactor(value, info.LiquidationFactorBps))

		if binding, ok := e.isVaultAsset(info.Asset); ok {
			if err := e.dispatchVaultCollateral(binding, account, absorber, value); err != nil {
				return err
			}
		} else {
			if !moduleAcc.Debit(info.Asset, balance) {
				return ErrInsufficientReserves
			}
			absorberAcc.Credit(info.Asset, balance)
		}

		total, err := e.collateralTotal(info.Asset)
		if err != nil {
			return err
		}
		newTotal := new(big.Int).Sub(total, balance)
		if newTotal.Sign() < 0 {
			newTotal = big.NewInt(0)
		}
		seizures = append(seizures, seizure{asset: info.Asset, newTotal: newTotal})
	}

	deltaBase := new(big.Int).Mul(deltaUSD, e.params.BaseScale)
	deltaBase.Quo(deltaBase, basePrice)

	accrueAccount(state, totals)
	oldPrincipal := new(big.Int).Set(state.Principal)
	balance := presentValue(oldPrincipal, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	balance.Add(balance, deltaBase)

	reserveBurden := big.NewInt(0)
	if balance.Sign() < 0 {
		reserveBurden = new(big.Int).Neg(balance)
		balance = big.NewInt(0)
	}
	newPrincipal := principalValue(balance, totals.BaseSupplyIndex, totals.BaseBorrowIndex)

	repay, supply := repayAndSupplyAmount(oldPrincipal, newPrincipal)
	totals.TotalBorrowBase = new(big.Int).Sub(totals.TotalBorrowBase, repay)
	if totals.TotalBorrowBase.Sign() < 0 {
		totals.TotalBorrowBase = big.NewInt(0)
	}
	totals.TotalSupplyBase = new(big.Int).Add(totals.TotalSupplyBase, supply)

	state.Principal = newPrincipal
	state.AssetsIn = 0

	for _, s := range seizures {
		if err := e.state.PutCollateral(account, s.asset, big.NewInt(0)); err != nil {
			return err
		}
		if err := e.state.PutCollateralTotal(s.asset, s.newTotal); err != nil {
			return err
		}
	}
	if err := e.state.PutTokenAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(absorber, absorberAcc); err != nil {
		return err
	}
	if err := e.state.PutAccountState(account, state); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}

	e.emitter.Emit(events.Absorbed{
		Absorber:      absorber,
		Account:       account,
		BasePaidOut:   deltaBase,
		ReserveBurden: reserveBurden,
	})
	return nil
}

// dispatchVaultCollateral force-transfers the account's NFT positions to the
// absorber, greedily in ledger order, until their combined value covers the
// seized USD value. Overshoot on the final position is accepted and never
// corrected.
func (e *Engine) dispatchVaultCollateral(binding vaultBinding, account common.Address, absorber common.Address, targetUSD *big.Int) error {
	tokenIDs, err := binding.collab.GetLiquidatableTokenIds(account)
	if err != nil {
		return err
	}
	covered := big.NewInt(0)
	for _, tokenID := range tokenIDs {
		if covered.Cmp(targetUSD) >= 0 {
			break
		}
		value, err := binding.collab.GetTokenIdValueUSD(tokenID)
		if err != nil {
			return err
		}
		if err := binding.collab.ForceLiquidateTransfer(tokenID, absorber); err != nil {
			return err
		}
		covered.Add(covered, value)
	}
	return nil
}
