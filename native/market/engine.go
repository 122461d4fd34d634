package market

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/events"
	"rangemarket/core/types"
	nativecommon "rangemarket/native/common"
	"rangemarket/native/oracle"
)

var (
	errNilState             = errors.New("market engine: state not configured")
	errInvalidAmount        = errors.New("market engine: amount must be positive")
	errInsufficientBalance  = errors.New("market engine: insufficient balance")
	errSelfTransfer         = errors.New("market engine: self transfer not allowed")
	errTooManyAssets        = errors.New("market engine: asset registry full")
	ErrUnauthorized         = errors.New("market engine: unauthorized")
	ErrBadAsset             = errors.New("market engine: unknown or misconfigured asset")
	ErrNotCollateralized    = errors.New("market engine: account not collateralized")
	ErrBorrowTooSmall       = errors.New("market engine: borrow below minimum")
	ErrSupplyCapExceeded    = errors.New("market engine: collateral supply cap exceeded")
	ErrInsufficientReserves = errors.New("market engine: insufficient reserves")
	ErrNotLiquidatable      = errors.New("market engine: account not liquidatable")
)

const moduleName = "market"

// maxAssets bounds the collateral registry; the AssetsIn bitmap is a uint16
// so twelve slots leave headroom.
const maxAssets = 12

// engineState is the persistence layer behind the engine. Operations load
// records, mutate them in memory and persist only on success, which gives
// every entry point all-or-nothing semantics.
type engineState interface {
	GetTotals() (*Totals, error)
	PutTotals(*Totals) error
	GetAccountState(addr common.Address) (*AccountState, error)
	PutAccountState(addr common.Address, account *AccountState) error
	GetCollateral(addr common.Address, asset common.Address) (*big.Int, error)
	PutCollateral(addr common.Address, asset common.Address, balance *big.Int) error
	GetCollateralTotal(asset common.Address) (*big.Int, error)
	PutCollateralTotal(asset common.Address, total *big.Int) error
	GetTokenAccount(addr common.Address) (*types.Account, error)
	PutTokenAccount(addr common.Address, account *types.Account) error
}

// VaultCollaborator is the NFT-vault surface the market consumes. Apart from
// the explicitly mutating hand-off (ForceLiquidateTransfer) every method is a
// read-only query.
type VaultCollaborator interface {
	IsVaultKind() bool
	GetLiquidatableTokenIds(account common.Address) ([]uint64, error)
	GetTokenIdShares(tokenID uint64) (*big.Int, error)
	GetTokenIdValueUSD(tokenID uint64) (*big.Int, error)
	ForceLiquidateTransfer(tokenID uint64, to common.Address) error
	GetUserTokenAmounts(account common.Address) (*big.Int, *big.Int, error)
}

type vaultBinding struct {
	collab VaultCollaborator
	// addr is the vault module's own address, the only caller allowed on the
	// exact-withdrawal path.
	addr common.Address
}

// Engine orchestrates the shared-ledger money market: signed per-account
// principal under compounding indices, per-asset collateral balances and the
// solvency checks that blend the two.
type Engine struct {
	state         engineState
	moduleAddress common.Address
	params        Params
	interestModel *InterestModel
	assets        []AssetInfo
	assetsByAddr  map[common.Address]uint8
	vaults        map[common.Address]vaultBinding
	oracles       *oracle.Registry
	absorbers     map[common.Address]bool
	pauses        nativecommon.PauseView
	latch         nativecommon.ReentrancyLatch
	emitter       events.Emitter
	timestamp     uint64
}

// NewEngine constructs a market engine holding base-asset liquidity at the
// supplied module address.
func NewEngine(moduleAddr common.Address, params Params) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params.Clone(),
		assetsByAddr:  make(map[common.Address]uint8),
		vaults:        make(map[common.Address]vaultBinding),
		absorbers:     make(map[common.Address]bool),
		emitter:       events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetInterestModel configures the interest rate model used during accrual.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil {
		return
	}
	e.interestModel = model.Clone()
}

// SetOracles wires the price feed registry consulted by solvency checks.
func (e *Engine) SetOracles(registry *oracle.Registry) {
	if e == nil {
		return
	}
	e.oracles = registry
}

// SetEmitter wires the event sink. A nil emitter restores the noop default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetTime records the timestamp used when computing accrual deltas. Every
// state-changing operation accrues at this time first.
func (e *Engine) SetTime(now uint64) {
	if e == nil {
		return
	}
	e.timestamp = now
}

// SetAuthorizedAbsorber grants or revokes the right to trigger absorption.
func (e *Engine) SetAuthorizedAbsorber(addr common.Address, allowed bool) {
	if e == nil {
		return
	}
	if allowed {
		e.absorbers[addr] = true
	} else {
		delete(e.absorbers, addr)
	}
}

// ModuleAddress returns the address holding the market's pooled balances.
func (e *Engine) ModuleAddress() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.moduleAddress
}

// BaseToken returns the market's borrowable asset address.
func (e *Engine) BaseToken() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.params.BaseToken
}

// AddAsset registers a collateral asset. The registry is append-only and
// bounded; the liquidate factor must exceed the borrow factor and the penalty
// factor may not exceed 100%.
func (e *Engine) AddAsset(info AssetInfo) error {
	if e == nil {
		return errNilState
	}
	if len(e.assets) >= maxAssets {
		return errTooManyAssets
	}
	if info.Scale == nil || info.Scale.Sign() <= 0 {
		return ErrBadAsset
	}
	if info.LiquidateCollateralFactorBps <= info.BorrowCollateralFactorBps {
		return ErrBadAsset
	}
	if info.LiquidationFactorBps > 10_000 {
		return ErrBadAsset
	}
	if _, exists := e.assetsByAddr[info.Asset]; exists {
		return ErrBadAsset
	}
	info = info.Clone()
	info.Offset = uint8(len(e.assets))
	e.assets = append(e.assets, info)
	e.assetsByAddr[info.Asset] = info.Offset
	return nil
}

// RegisterVault binds an NFT-vault collaborator to its collateral asset. The
// vault address is remembered so the exact-withdrawal path can authenticate
// its caller.
func (e *Engine) RegisterVault(asset common.Address, vaultAddr common.Address, collab VaultCollaborator) error {
	if e == nil {
		return errNilState
	}
	if _, exists := e.assetsByAddr[asset]; !exists {
		return ErrBadAsset
	}
	e.vaults[asset] = vaultBinding{collab: collab, addr: vaultAddr}
	return nil
}

// AssetInfoByAddress resolves the static configuration for an asset.
func (e *Engine) AssetInfoByAddress(asset common.Address) (AssetInfo, error) {
	if e == nil {
		return AssetInfo{}, errNilState
	}
	offset, ok := e.assetsByAddr[asset]
	if !ok {
		return AssetInfo{}, ErrBadAsset
	}
	return e.assets[offset].Clone(), nil
}

// isVaultAsset reports whether the asset routes through the account-specific
// valuation entrypoint. The check fails closed: a missing or non-vault
// collaborator simply prices through the generic feed.
func (e *Engine) isVaultAsset(asset common.Address) (vaultBinding, bool) {
	binding, ok := e.vaults[asset]
	if !ok || binding.collab == nil {
		return vaultBinding{}, false
	}
	if !binding.collab.IsVaultKind() {
		return vaultBinding{}, false
	}
	return binding, true
}

// Accrue refreshes the global indices up to the engine's current timestamp.
func (e *Engine) Accrue() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.latch.Enter(); err != nil {
		return err
	}
	defer e.latch.Exit()

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	if !e.accrue(totals) {
		return nil
	}
	return e.state.PutTotals(totals)
}

// accrue advances the supply/borrow indices with the kinked curve and the
// reward tracking indices proportionally to elapsed time. Calling it twice at
// the same timestamp is a no-op the second time.
func (e *Engine) accrue(totals *Totals) bool {
	if totals == nil {
		return false
	}
	var elapsed uint64
	if e.timestamp > totals.LastAccrualTime {
		elapsed = e.timestamp - totals.LastAccrualTime
	}
	if elapsed == 0 {
		return false
	}

	presentSupply := presentValue(totals.TotalSupplyBase, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	presentBorrowMag := new(big.Int).Mul(totals.TotalBorrowBase, totals.BaseBorrowIndex)
	presentBorrowMag.Quo(presentBorrowMag, ray)

	if e.interestModel != nil && presentBorrowMag.Sign() > 0 {
		utilisation := e.interestModel.Utilisation(presentBorrowMag, presentSupply)
		borrowAPR := e.interestModel.BorrowAPR(utilisation)
		supplyAPR := e.interestModel.SupplyAPR(utilisation, e.params.ReserveFactorBps)

		totals.BaseBorrowIndex = rayMul(totals.BaseBorrowIndex, rateFactor(borrowAPR, elapsed))
		totals.BaseSupplyIndex = rayMul(totals.BaseSupplyIndex, rateFactor(supplyAPR, elapsed))
	}

	e.accrueTracking(totals, elapsed)
	totals.LastAccrualTime = e.timestamp
	return true
}

func (e *Engine) accrueTracking(totals *Totals, elapsed uint64) {
	minPrincipal := e.params.TrackingMinPrincipal
	advance := func(index, speed, totalPrincipal *big.Int) *big.Int {
		if speed == nil || speed.Sign() == 0 {
			return index
		}
		if totalPrincipal == nil || totalPrincipal.Sign() == 0 {
			return index
		}
		if minPrincipal != nil && totalPrincipal.Cmp(minPrincipal) < 0 {
			return index
		}
		delta := new(big.Int).Mul(speed, new(big.Int).SetUint64(elapsed))
		delta.Mul(delta, ray)
		delta.Quo(delta, totalPrincipal)
		return new(big.Int).Add(index, delta)
	}
	totals.TrackingSupplyIndex = advance(totals.TrackingSupplyIndex, e.params.TrackingSupplySpeed, totals.TotalSupplyBase)
	totals.TrackingBorrowIndex = advance(totals.TrackingBorrowIndex, e.params.TrackingBorrowSpeed, totals.TotalBorrowBase)
}

// accrueAccount settles the account's reward accrual against the current
// tracking indices before its principal changes.
func accrueAccount(account *AccountState, totals *Totals) {
	if account == nil || totals == nil {
		return
	}
	var index *big.Int
	magnitude := new(big.Int)
	if account.Principal.Sign() >= 0 {
		index = totals.TrackingSupplyIndex
		magnitude.Set(account.Principal)
	} else {
		index = totals.TrackingBorrowIndex
		magnitude.Neg(account.Principal)
	}
	if account.BaseTrackingIndex != nil && index != nil {
		delta := new(big.Int).Sub(index, account.BaseTrackingIndex)
		if delta.Sign() > 0 && magnitude.Sign() > 0 {
			earned := new(big.Int).Mul(magnitude, delta)
			earned.Quo(earned, ray)
			account.BaseTrackingAccrued = new(big.Int).Add(account.BaseTrackingAccrued, earned)
		}
	}
	account.BaseTrackingIndex = new(big.Int).Set(index)
}

// SupplyBase moves base asset from the supplier into the pooled ledger. A
// supply first retires any outstanding debt; only the remainder becomes a
// positive balance.
func (e *Engine) SupplyBase(from common.Address, dst common.Address, amount *big.Int) error {
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

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	fromAcc, err := e.loadTokenAccount(from)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if !fromAcc.Debit(e.params.BaseToken, amount) {
		return errInsufficientBalance
	}
	moduleAcc.Credit(e.params.BaseToken, amount)

	account, err := e.ensureAccountState(dst)
	if err != nil {
		return err
	}
	accrueAccount(account, totals)

	oldPrincipal := new(big.Int).Set(account.Principal)
	balance := presentValue(oldPrincipal, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	balance.Add(balance, amount)
	newPrincipal := principalValue(balance, totals.BaseSupplyIndex, totals.BaseBorrowIndex)

	repay, supply := repayAndSupplyAmount(oldPrincipal, newPrincipal)
	totals.TotalBorrowBase = new(big.Int).Sub(totals.TotalBorrowBase, repay)
	if totals.TotalBorrowBase.Sign() < 0 {
		totals.TotalBorrowBase = big.NewInt(0)
	}
	totals.TotalSupplyBase = new(big.Int).Add(totals.TotalSupplyBase, supply)
	account.Principal = newPrincipal

	if err := e.state.PutTokenAccount(from, fromAcc); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutAccountState(dst, account); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}

	e.emitter.Emit(events.BaseSupplied{From: from, Dst: dst, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawBase releases base asset from the ledger to the recipient, borrowing
// whatever the positive balance does not cover. Emerging debt must meet the
// borrow minimum and leave the account collateralized.
func (e *Engine) WithdrawBase(src common.Address, to common.Address, amount *big.Int) error {
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

	totals, err := e.ensureTotals()
	if err != nil {
		return err
	}
	e.accrue(totals)

	account, err := e.ensureAccountState(src)
	if err != nil {
		return err
	}
	accrueAccount(account, totals)

	oldPrincipal := new(big.Int).Set(account.Principal)
	balance := presentValue(oldPrincipal, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	balance.Sub(balance, amount)
	newPrincipal := principalValue(balance, totals.BaseSupplyIndex, totals.BaseBorrowIndex)

	if newPrincipal.Sign() < 0 {
		if err := e.checkBorrowSize(balance); err != nil {
			return err
		}
	}

	withdraw, borrow := withdrawAndBorrowAmount(oldPrincipal, newPrincipal)
	totals.TotalSupplyBase = new(big.Int).Sub(totals.TotalSupplyBase, withdraw)
	if totals.TotalSupplyBase.Sign() < 0 {
		totals.TotalSupplyBase = big.NewInt(0)
	}
	totals.TotalBorrowBase = new(big.Int).Add(totals.TotalBorrowBase, borrow)
	account.Principal = newPrincipal

	if newPrincipal.Sign() < 0 {
		ok, err := e.isBorrowCollateralizedState(account, totals)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotCollateralized
		}
	}

	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	toAcc, err := e.loadTokenAccount(to)
	if err != nil {
		return err
	}
	if !moduleAcc.Debit(e.params.BaseToken, amount) {
		return ErrInsufficientReserves
	}
	toAcc.Credit(e.params.BaseToken, amount)

	if err := e.state.PutTokenAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutTokenAccount(to, toAcc); err != nil {
		return err
	}
	if err := e.state.PutAccountState(src, account); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}

	e.emitter.Emit(events.BaseWithdrawn{Src: src, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferBase moves present-value balance between two ledger accounts without
// any token leaving the pool. The source may go negative subject to the same
// borrow checks as a withdrawal.
func (e *Engine) TransferBase(src common.Address, dst common.Address, amount *big.Int) error {
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
	accrueAccount(srcState, totals)
	accrueAccount(dstState, totals)

	oldSrc := new(big.Int).Set(srcState.Principal)
	srcBalance := presentValue(oldSrc, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	srcBalance.Sub(srcBalance, amount)
	newSrc := principalValue(srcBalance, totals.BaseSupplyIndex, totals.BaseBorrowIndex)

	oldDst := new(big.Int).Set(dstState.Principal)
	dstBalance := presentValue(oldDst, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	dstBalance.Add(dstBalance, amount)
	newDst := principalValue(dstBalance, totals.BaseSupplyIndex, totals.BaseBorrowIndex)

	if newSrc.Sign() < 0 {
		if err := e.checkBorrowSize(srcBalance); err != nil {
			return err
		}
	}

	withdraw, borrow := withdrawAndBorrowAmount(oldSrc, newSrc)
	repay, supply := repayAndSupplyAmount(oldDst, newDst)
	totals.TotalSupplyBase = new(big.Int).Sub(totals.TotalSupplyBase, withdraw)
	totals.TotalSupplyBase.Add(totals.TotalSupplyBase, supply)
	if totals.TotalSupplyBase.Sign() < 0 {
		totals.TotalSupplyBase = big.NewInt(0)
	}
	totals.TotalBorrowBase = new(big.Int).Add(totals.TotalBorrowBase, borrow)
	totals.TotalBorrowBase.Sub(totals.TotalBorrowBase, repay)
	if totals.TotalBorrowBase.Sign() < 0 {
		totals.TotalBorrowBase = big.NewInt(0)
	}
	srcState.Principal = newSrc
	dstState.Principal = newDst

	if newSrc.Sign() < 0 {
		ok, err := e.isBorrowCollateralizedState(srcState, totals)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotCollateralized
		}
	}

	if err := e.state.PutAccountState(src, srcState); err != nil {
		return err
	}
	if err := e.state.PutAccountState(dst, dstState); err != nil {
		return err
	}
	return e.state.PutTotals(totals)
}

// checkBorrowSize enforces the minimum borrow magnitude on an emerging
// negative balance.
func (e *Engine) checkBorrowSize(balance *big.Int) error {
	if e.params.BorrowMin == nil || e.params.BorrowMin.Sign() == 0 {
		return nil
	}
	magnitude := new(big.Int).Neg(balance)
	if magnitude.Cmp(e.params.BorrowMin) < 0 {
		return ErrBorrowTooSmall
	}
	return nil
}

// BaseBalanceOf returns the signed present value of an account's base
// position at the engine's current timestamp.
func (e *Engine) BaseBalanceOf(addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	totals, err := e.ensureTotals()
	if err != nil {
		return nil, err
	}
	e.accrue(totals)
	account, err := e.ensureAccountState(addr)
	if err != nil {
		return nil, err
	}
	return presentValue(account.Principal, totals.BaseSupplyIndex, totals.BaseBorrowIndex), nil
}

// BaseTrackingAccrued reports the reward units earned by an account so far.
func (e *Engine) BaseTrackingAccrued(addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	totals, err := e.ensureTotals()
	if err != nil {
		return nil, err
	}
	e.accrue(totals)
	account, err := e.ensureAccountState(addr)
	if err != nil {
		return nil, err
	}
	accrueAccount(account, totals)
	return new(big.Int).Set(account.BaseTrackingAccrued), nil
}

// GetReserves reports the protocol-owned share of the module's base holdings:
// what the pool physically holds, minus what it owes suppliers, plus what
// borrowers owe it.
func (e *Engine) GetReserves() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	totals, err := e.ensureTotals()
	if err != nil {
		return nil, err
	}
	e.accrue(totals)
	moduleAcc, err := e.loadTokenAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	reserves := moduleAcc.Balance(e.params.BaseToken)
	presentSupply := presentValue(totals.TotalSupplyBase, totals.BaseSupplyIndex, totals.BaseBorrowIndex)
	presentBorrow := new(big.Int).Mul(totals.TotalBorrowBase, totals.BaseBorrowIndex)
	presentBorrow.Quo(presentBorrow, ray)
	reserves.Sub(reserves, presentSupply)
	reserves.Add(reserves, presentBorrow)
	return reserves, nil
}

func (e *Engine) ensureTotals() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	totals, err := e.state.GetTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &Totals{}
	}
	if totals.BaseSupplyIndex == nil || totals.BaseSupplyIndex.Sign() == 0 {
		totals.BaseSupplyIndex = new(big.Int).Set(ray)
	}
	if totals.BaseBorrowIndex == nil || totals.BaseBorrowIndex.Sign() == 0 {
		totals.BaseBorrowIndex = new(big.Int).Set(ray)
	}
	if totals.TrackingSupplyIndex == nil {
		totals.TrackingSupplyIndex = big.NewInt(0)
	}
	if totals.TrackingBorrowIndex == nil {
		totals.TrackingBorrowIndex = big.NewInt(0)
	}
	if totals.TotalSupplyBase == nil {
		totals.TotalSupplyBase = big.NewInt(0)
	}
	if totals.TotalBorrowBase == nil {
		totals.TotalBorrowBase = big.NewInt(0)
	}
	return totals, nil
}

func (e *Engine) ensureAccountState(addr common.Address) (*AccountState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccountState(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &AccountState{Address: addr}
	}
	if account.Principal == nil {
		account.Principal = big.NewInt(0)
	}
	if account.BaseTrackingIndex == nil {
		account.BaseTrackingIndex = big.NewInt(0)
	}
	if account.BaseTrackingAccrued == nil {
		account.BaseTrackingAccrued = big.NewInt(0)
	}
	return account, nil
}

func (e *Engine) loadTokenAccount(addr common.Address) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount(addr)
	}
	return acc, nil
}
