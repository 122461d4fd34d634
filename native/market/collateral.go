package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/events"
	nativecommon "rangemarket/native/common"
)

// collateralOverride lets a solvency walk observe a speculative balance for
// one asset before that balance has been persisted. Withdrawals must be
// checked against the post-withdrawal state; on failure nothing is persisted,
// which rolls the speculative mutation back atomically.
type collateralOverride struct {
	asset   common.Address
	balance *big.Int
}

// SupplyCollateral locks collateral for an account. The 0 to non-zero
// transition flags the asset in the account's membership bitmap.
func (e *Engine) SupplyCollateral(from common.Address, dst common.Address, asset common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	info, err := e.AssetInfoByAddress(asset)
	if err != nil {
		return err
	}

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	total, err := e.collateralTotal(asset)
	if err != nil {
		return err
	}
	newTotal := new(big.Int).Add(total, amount)
	if info.SupplyCap != nil && info.SupplyCap.Sign() > 0 && newTotal.Cmp(info.SupplyCap) > 0 {
		return ErrSupplyCapExceeded
	}

	fromAcc, err := e.loadTokenAccount(from)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if !fromAcc.Debit(asset, amount) {
		return errInsufficientBalance
	}
	moduleAcc.Credit(asset, amount)

	account, err := e.ensureAccountState(dst)
	if err != nil {
		return err
	}
	balance, err := e.collateralBalance(dst, asset)
	if err != nil {
		return err
	}
	newBalance := new(big.Int).Add(balance, amount)
	updateAssetsIn(account, info, balance, newBalance)

	if err := e.state.PutTokenAccount(from, fromAcc); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutCollateral(dst, asset, newBalance); err != nil {
		return err
	}
	if err := e.state.PutCollateralTotal(asset, newTotal); err != nil {
		return err
	}
	if err := e.state.PutAccountState(dst, account); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralSupplied{From: from, Dst: dst, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawCollateral releases collateral back to the recipient. The solvency
// post-condition runs against the post-withdrawal balance; a failed check
// aborts before anything is persisted.
func (e *Engine) WithdrawCollateral(src common.Address, to common.Address, asset common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	info, err := e.AssetInfoByAddress(asset)
	if err != nil {
		return err
	}

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	account, err := e.ensureAccountState(src)
	if err != nil {
		return err
	}
	balance, err := e.collateralBalance(src, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	newBalance := new(big.Int).Sub(balance, amount)
	updateAssetsIn(account, info, balance, newBalance)

	ok, err := e.isBorrowCollateralizedWith(account, totals, &collateralOverride{asset: asset, balance: newBalance})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCollateralized
	}

	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	toAcc, err := e.loadTokenAccount(to)
	if err != nil {
		return err
	}
	if !moduleAcc.Debit(asset, amount) {
		return ErrInsufficientReserves
	}
	toAcc.Credit(asset, amount)

	total, err := e.collateralTotal(asset)
	if err != nil {
		return err
	}
	newTotal := new(big.Int).Sub(total, amount)
	if newTotal.Sign() < 0 {
		newTotal = big.NewInt(0)
	}

	if err := e.state.PutTokenAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(to, toAcc); err != nil {
		return err
	}
	if err := e.state.PutCollateral(src, asset, newBalance); err != nil {
		return err
	}
	if err := e.state.PutCollateralTotal(asset, newTotal); err != nil {
		return err
	}
	if err := e.state.PutAccountState(src, account); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralWithdrawn{Src: src, To: to, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferCollateral moves collateral between two accounts inside the market.
// Only the source side can weaken, so only the source is re-checked.
func (e *Engine) TransferCollateral(src common.Address, dst common.Address, asset common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if src == dst {
		return errSelfTransfer
	}
	info, err := e.AssetInfoByAddress(asset)
	if err != nil {
		return err
	}

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	srcState, err := e.ensureAccountState(src)
	if err != nil {
		return err
	}
	dstState, err := e.ensureAccountState(dst)
	if err != nil {
		return err
	}
	srcBalance, err := e.collateralBalance(src, asset)
	if err != nil {
		return err
	}
	if srcBalance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	dstBalance, err := e.collateralBalance(dst, asset)
	if err != nil {
		return err
	}

	newSrcBalance := new(big.Int).Sub(srcBalance, amount)
	newDstBalance := new(big.Int).Add(dstBalance, amount)
	updateAssetsIn(srcState, info, srcBalance, newSrcBalance)
	updateAssetsIn(dstState, info, dstBalance, newDstBalance)

	ok, err := e.isBorrowCollateralizedWith(srcState, totals, &collateralOverride{asset: asset, balance: newSrcBalance})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCollateralized
	}

	if err := e.state.PutCollateral(src, asset, newSrcBalance); err != nil {
		return err
	}
	if err := e.state.PutCollateral(dst, asset, newDstBalance); err != nil {
		return err
	}
	if err := e.state.PutAccountState(src, srcState); err != nil {
		return err
	}
	if err := e.state.PutAccountState(dst, dstState); err != nil {
		return err
	}
	return e.state.PutTotals(totals)
}

// WithdrawCollateralExact is the vault-only withdrawal path. The vault knows
// the exact USD value of the specific NFT being removed, so the solvency check
// subtracts that value instead of repricing the account's remaining shares at
// the blended average. Exact accounting is never less permissive than the
// average when the removed position is priced below it.
func (e *Engine) WithdrawCollateralExact(caller common.Address, account common.Address, asset common.Address, shares *big.Int, valueUSD *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()
	if shares == nil || shares.Sign() <= 0 || valueUSD == nil || valueUSD.Sign() < 0 {
		return errInvalidAmount
	}
	binding, ok := e.vaults[asset]
	if !ok || binding.addr != caller {
		return ErrUnauthorized
	}
	info, err := e.AssetInfoByAddress(asset)
	if err != nil {
		return err
	}

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	state, err := e.ensureAccountState(account)
	if err != nil {
		return err
	}
	balance, err := e.collateralBalance(account, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(shares) < 0 {
		return errInsufficientBalance
	}
	newBalance := new(big.Int).Sub(balance, shares)
	updateAssetsIn(state, info, balance, newBalance)

	ok, err = e.isBorrowCollateralizedExact(state, totals, info, balance, valueUSD)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCollateralized
	}

	total, err := e.collateralTotal(asset)
	if err != nil {
		return err
	}
	newTotal := new(big.Int).Sub(total, shares)
	if newTotal.Sign() < 0 {
		newTotal = big.NewInt(0)
	}

	if err := e.state.PutCollateral(account, asset, newBalance); err != nil {
		return err
	}
	if err := e.state.PutCollateralTotal(asset, newTotal); err != nil {
		return err
	}
	if err := e.state.PutAccountState(account, state); err != nil {
		return err
	}
	return e.state.PutTotals(totals)
}

// IsBorrowCollateralized reports whether the account's weighted collateral
// covers its debt at borrow collateral factors.
func (e *Engine) IsBorrowCollateralized(addr common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	totals, err := e.ensureTotals()
	if err != nil {
		return false, err
	}
	e.accrue(totals)
	account, err := e.ensureAccountState(addr)
	if err != nil {
		return false, err
	}
	return e.isBorrowCollateralizedWith(account, totals, nil)
}

// IsLiquidatable reports whether the account's weighted collateral no longer
// covers its debt at the larger liquidate collateral factors.
func (e *Engine) IsLiquidatable(addr common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	totals, err := e.ensureTotals()
	if err != nil {
		return false, err
	}
	e.accrue(totals)
	account, err := e.ensureAccountState(addr)
	if err != nil {
		return false, err
	}
	return e.isLiquidatableWith(account, totals)
}

func (e *Engine) isBorrowCollateralizedState(account *AccountState, totals *Totals) (bool, error) {
	return e.isBorrowCollateralizedWith(account, totals, nil)
}

// isBorrowCollateralizedWith walks the account's flagged assets accumulating
// borrow-factor-weighted USD liquidity against the signed base position. The
// factor is monotonic so the walk may exit true as soon as liquidity turns
// non-negative.
func (e *Engine) isBorrowCollateralizedWith(account *AccountState, totals *Totals, override *collateralOverride) (bool, error) {
	if account.Principal.Sign() >= 0 {
		return true, nil
	}
	liquidity, err := e.baseLiquidity(account, totals)
	if err != nil {
		return false, err
	}
	for i := range e.assets {
		if liquidity.Sign() >= 0 {
			return true, nil
		}
		info := e.assets[i]
		if account.AssetsIn&(1<<info.Offset) == 0 {
			continue
		}
		balance, err := e.collateralBalanceWith(account.Address, info.Asset, override)
		if err != nil {
			return false, err
		}
		if balance.Sign() == 0 {
			continue
		}
		price, err := e.collateralPrice(info, account.Address)
		if err != nil {
			return false, err
		}
		weighted := mulFactor(usdValue(balance, price, info.Scale), info.BorrowCollateralFactorBps)
		liquidity.Add(liquidity, weighted)
	}
	return liquidity.Sign() >= 0, nil
}

// isLiquidatableWith shares the walk shape of the borrow check but weights by
// the larger liquidate collateral factor and exits false once covered.
func (e *Engine) isLiquidatableWith(account *AccountState, totals *Totals) (bool, error) {
	if account.Principal.Sign() >= 0 {
		return false, nil
	}
	liquidity, err := e.baseLiquidity(account, totals)
	if err != nil {
		return false, err
	}
	for i := range e.assets {
		if liquidity.Sign() >= 0 {
			return false, nil
		}
		info := e.assets[i]
		if account.AssetsIn&(1<<info.Offset) == 0 {
			continue
		}
		balance, err := e.collateralBalanceWith(account.Address, info.Asset, nil)
		if err != nil {
			return false, err
		}
		if balance.Sign() == 0 {
			continue
		}
		price, err := e.collateralPrice(info, account.Address)
		if err != nil {
			return false, err
		}
		weighted := mulFactor(usdValue(balance, price, info.Scale), info.LiquidateCollateralFactorBps)
		liquidity.Add(liquidity, weighted)
	}
	return liquidity.Sign() < 0, nil
}

// isBorrowCollateralizedExact prices the vault asset's remaining holdings as
// the account's current vault value minus the exact value being removed,
// bypassing the blended per-share recomputation.
func (e *Engine) isBorrowCollateralizedExact(account *AccountState, totals *Totals, removed AssetInfo, oldBalance *big.Int, removedValueUSD *big.Int) (bool, error) {
	if account.Principal.Sign() >= 0 {
		return true, nil
	}
	liquidity, err := e.baseLiquidity(account, totals)
	if err != nil {
		return false, err
	}
	for i := range e.assets {
		if liquidity.Sign() >= 0 {
			return true, nil
		}
		info := e.assets[i]
		if info.Asset == removed.Asset {
			price, err := e.collateralPrice(info, account.Address)
			if err != nil {
				return false, err
			}
			remaining := usdValue(oldBalance, price, info.Scale)
			remaining.Sub(remaining, removedValueUSD)
			if remaining.Sign() < 0 {
				remaining = big.NewInt(0)
			}
			liquidity.Add(liquidity, mulFactor(remaining, info.BorrowCollateralFactorBps))
			continue
		}
		if account.AssetsIn&(1<<info.Offset) == 0 {
			continue
		}
		balance, err := e.collateralBalanceWith(account.Address, info.Asset, nil)
		if err != nil {
			return false, err
		}
		if balance.Sign() == 0 {
			continue
		}
		price, err := e.collateralPrice(info, account.Address)
		if err != nil {
			return false, err
		}
		liquidity.Add(liquidity, mulFactor(usdValue(balance, price, info.Scale), info.BorrowCollateralFactorBps))
	}
	return liquidity.Sign() >= 0, nil
}

// baseLiquidity converts the signed base present value into USD terms.
func (e *Engine) baseLiquidity(account *AccountState, totals *Totals) (*big.Int, error) {
	if e.oracles == nil {
		return nil, ErrBadAsset
	}
	basePrice, err := e.oracles.Price(e.params.BasePriceFeed)
	if err != nil {
		return nil, err
	}
	present := presentValue(account.Principal, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	liquidity := new(big.Int).Mul(present, basePrice)
	liquidity.Quo(liquidity, e.params.BaseScale)
	return liquidity, nil
}

// collateralPrice resolves the asset's USD price, routing vault-kind assets
// through the account-specific valuation entrypoint. This branching is a hard
// rule: the vault's value is split across depositors by their own positions,
// not a market-wide average.
func (e *Engine) collateralPrice(info AssetInfo, account common.Address) (*big.Int, error) {
	if e.oracles == nil {
		return nil, ErrBadAsset
	}
	if _, ok := e.isVaultAsset(info.Asset); ok {
		return e.oracles.PriceForAccount(info.PriceFeed, account)
	}
	return e.oracles.Price(info.PriceFeed)
}

func (e *Engine) collateralBalance(addr common.Address, asset common.Address) (*big.Int, error) {
	balance, err := e.state.GetCollateral(addr, asset)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (e *Engine) collateralBalanceWith(addr common.Address, asset common.Address, override *collateralOverride) (*big.Int, error) {
	if override != nil && override.asset == asset {
		return new(big.Int).Set(override.balance), nil
	}
	return e.collateralBalance(addr, asset)
}

func (e *Engine) collateralTotal(asset common.Address) (*big.Int, error) {
	total, err := e.state.GetCollateralTotal(asset)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(total), nil
}

// updateAssetsIn maintains the membership bit on zero boundary transitions.
func updateAssetsIn(account *AccountState, info AssetInfo, oldBalance, newBalance *big.Int) {
	if account == nil {
		return
	}
	if oldBalance.Sign() == 0 && newBalance.Sign() > 0 {
		account.AssetsIn |= 1 << info.Offset
	} else if oldBalance.Sign() > 0 && newBalance.Sign() == 0 {
		account.AssetsIn &^= 1 << info.Offset
	}
}

// CollateralBalanceOf returns the held collateral for (account, asset).
func (e *Engine) CollateralBalanceOf(addr common.Address, asset common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.collateralBalance(addr, asset)
}
