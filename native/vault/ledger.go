package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/events"
	nativecommon "rangemarket/native/common"
	"rangemarket/native/oracle"
)

var (
	errNilSource = errors.New("vault: position source not configured")
	// ErrUnauthorized indicates the caller lacks the required privilege.
	ErrUnauthorized = errors.New("vault: caller not authorized")
	// ErrNotOwner indicates the token is not held by the expected address.
	ErrNotOwner = errors.New("vault: token not owned by depositor")
	// ErrUnknownToken indicates the token is not tracked by the ledger.
	ErrUnknownToken = errors.New("vault: token not deposited")
	// ErrBelowMinimum indicates a deposit would mint fewer than MinShares.
	ErrBelowMinimum = errors.New("vault: deposit below minimum shares")
	// ErrTransferRestricted indicates a share transfer outside the allowed
	// settlement pair.
	ErrTransferRestricted = errors.New("vault: shares are not transferable")
	// ErrInsufficientShares indicates a transfer exceeds the held balance.
	ErrInsufficientShares = errors.New("vault: insufficient share balance")
)

const moduleName = "vault"

// PositionSource is the NFT position collaborator backing the ledger. It
// reports each position's principal token amounts and moves custody of the
// underlying NFT.
type PositionSource interface {
	OwnerOf(tokenID uint64) (common.Address, error)
	PrincipalAmounts(tokenID uint64) (amount0 *big.Int, amount1 *big.Int, err error)
	Transfer(tokenID uint64, from common.Address, to common.Address) error
}

// SettlementMarket is the money-market surface the ledger calls when a
// withdrawal removes shares that currently back a borrow position.
type SettlementMarket interface {
	WithdrawCollateralExact(caller common.Address, account common.Address, asset common.Address, shares *big.Int, valueUSD *big.Int) error
}

// NFTReceiver is notified when a forced liquidation hands it custody of a
// position NFT, so it can queue the token for disposal.
type NFTReceiver interface {
	OnNFTReceived(vault common.Address, tokenID uint64) error
}

type position struct {
	depositor common.Address
	shares    *big.Int
}

// Ledger pools NFT positions behind a fungible share token. Shares move only
// between the ledger and its settlement counterparty; each position stays
// attributed to its depositor regardless of where the shares sit, so the
// per-account valuation is always computed from the depositor's own tokens.
// Like the market engine the ledger assumes single-threaded execution per
// call and guards its mutating entry points with a reentrancy latch.
type Ledger struct {
	latch nativecommon.ReentrancyLatch

	moduleAddr   common.Address
	shareToken   common.Address
	counterparty common.Address
	minShares    *big.Int

	source  PositionSource
	oracles *oracle.Registry
	feed0   common.Address
	feed1   common.Address
	scale0  *big.Int
	scale1  *big.Int

	market      SettlementMarket
	receivers   map[common.Address]NFTReceiver
	liquidators map[common.Address]bool
	pauses      nativecommon.PauseView
	emitter     events.Emitter

	totalShares *big.Int
	totalValue  *big.Int
	balances    map[common.Address]*big.Int

	positions    map[uint64]*position
	byDepositor  map[common.Address][]uint64
	depositorIdx map[uint64]int
	registry     []uint64
	registryIdx  map[uint64]int
}

// Config carries the immutable ledger wiring.
type Config struct {
	ModuleAddress common.Address
	ShareToken    common.Address
	Counterparty  common.Address
	MinShares     *big.Int
	Token0Feed    common.Address
	Token1Feed    common.Address
	Token0Scale   *big.Int
	Token1Scale   *big.Int
}

// NewLedger constructs an empty ledger from the supplied wiring.
func NewLedger(cfg Config, source PositionSource, oracles *oracle.Registry) *Ledger {
	minShares := big.NewInt(0)
	if cfg.MinShares != nil {
		minShares = new(big.Int).Set(cfg.MinShares)
	}
	scale0 := big.NewInt(1)
	if cfg.Token0Scale != nil && cfg.Token0Scale.Sign() > 0 {
		scale0 = new(big.Int).Set(cfg.Token0Scale)
	}
	scale1 := big.NewInt(1)
	if cfg.Token1Scale != nil && cfg.Token1Scale.Sign() > 0 {
		scale1 = new(big.Int).Set(cfg.Token1Scale)
	}
	return &Ledger{
		moduleAddr:   cfg.ModuleAddress,
		shareToken:   cfg.ShareToken,
		counterparty: cfg.Counterparty,
		minShares:    minShares,
		source:       source,
		oracles:      oracles,
		feed0:        cfg.Token0Feed,
		feed1:        cfg.Token1Feed,
		scale0:       scale0,
		scale1:       scale1,
		receivers:    make(map[common.Address]NFTReceiver),
		liquidators:  make(map[common.Address]bool),
		emitter:      events.NoopEmitter{},
		totalShares:  big.NewInt(0),
		totalValue:   big.NewInt(0),
		balances:     make(map[common.Address]*big.Int),
		positions:    make(map[uint64]*position),
		byDepositor:  make(map[common.Address][]uint64),
		depositorIdx: make(map[uint64]int),
		registryIdx:  make(map[uint64]int),
	}
}

// SetPauses wires the administrative pause switchboard.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter wires the event sink. A nil emitter restores the noop default.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetMarket wires the settlement market consulted on collateral-backed
// withdrawals.
func (l *Ledger) SetMarket(market SettlementMarket) {
	if l == nil {
		return
	}
	l.market = market
}

// SetNFTReceiver registers (or, with a nil receiver, clears) the disposal
// hook invoked when a forced liquidation delivers an NFT to addr.
func (l *Ledger) SetNFTReceiver(addr common.Address, receiver NFTReceiver) {
	if l == nil {
		return
	}
	if receiver == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = receiver
}

// SetLiquidator grants or revokes the forced-transfer privilege.
func (l *Ledger) SetLiquidator(addr common.Address, allowed bool) {
	if l == nil {
		return
	}
	if allowed {
		l.liquidators[addr] = true
	} else {
		delete(l.liquidators, addr)
	}
}

// ModuleAddress returns the ledger's own address.
func (l *Ledger) ModuleAddress() common.Address {
	if l == nil {
		return common.Address{}
	}
	return l.moduleAddr
}

// ShareToken returns the fungible share token address.
func (l *Ledger) ShareToken() common.Address {
	if l == nil {
		return common.Address{}
	}
	return l.shareToken
}

// Deposit takes custody of an NFT position owned by the depositor, values it
// from principal token amounts at current oracle prices and mints shares at
// the prevailing exchange rate. Unclaimed yield is deliberately excluded from
// the valuation.
func (l *Ledger) Deposit(depositor common.Address, tokenID uint64) (*big.Int, error) {
	if l == nil || l.source == nil {
		return nil, errNilSource
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := l.latch.Enter(); err != nil {
		return nil, err
	}
	defer l.latch.Exit()

	if _, exists := l.positions[tokenID]; exists {
		return nil, ErrNotOwner
	}
	owner, err := l.source.OwnerOf(tokenID)
	if err != nil {
		return nil, err
	}
	if owner != depositor {
		return nil, ErrNotOwner
	}

	value, err := l.tokenValue(tokenID)
	if err != nil {
		return nil, err
	}
	shares := l.sharesForValue(value)
	if shares.Cmp(l.minShares) < 0 {
		return nil, ErrBelowMinimum
	}

	if err := l.source.Transfer(tokenID, depositor, l.moduleAddr); err != nil {
		return nil, err
	}

	l.positions[tokenID] = &position{depositor: depositor, shares: shares}
	l.depositorIdx[tokenID] = len(l.byDepositor[depositor])
	l.byDepositor[depositor] = append(l.byDepositor[depositor], tokenID)
	l.registryIdx[tokenID] = len(l.registry)
	l.registry = append(l.registry, tokenID)

	l.credit(depositor, shares)
	l.totalShares.Add(l.totalShares, shares)
	l.totalValue.Add(l.totalValue, value)

	l.emitter.Emit(events.PositionDeposited{
		Depositor: depositor,
		TokenID:   tokenID,
		ValueUSD:  value,
		Shares:    shares,
	})
	return new(big.Int).Set(shares), nil
}

// Withdraw returns the NFT to its depositor and burns the position's shares.
// When the shares sit with the settlement counterparty the market is asked to
// release exactly this position's value before the burn.
func (l *Ledger) Withdraw(depositor common.Address, tokenID uint64) error {
	if l == nil || l.source == nil {
		return errNilSource
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := l.latch.Enter(); err != nil {
		return err
	}
	defer l.latch.Exit()

	pos, ok := l.positions[tokenID]
	if !ok {
		return ErrUnknownToken
	}
	if pos.depositor != depositor {
		return ErrNotOwner
	}

	value, err := l.tokenValue(tokenID)
	if err != nil {
		return err
	}

	burnFrom := depositor
	if l.balance(depositor).Cmp(pos.shares) < 0 {
		burnFrom = l.counterparty
		if l.market == nil || l.balance(burnFrom).Cmp(pos.shares) < 0 {
			return ErrInsufficientShares
		}
		if err := l.market.WithdrawCollateralExact(l.moduleAddr, depositor, l.shareToken, pos.shares, value); err != nil {
			return err
		}
	}

	if err := l.source.Transfer(tokenID, l.moduleAddr, depositor); err != nil {
		return err
	}
	if err := l.debit(burnFrom, pos.shares); err != nil {
		return err
	}
	l.removePosition(tokenID, pos)
	l.reduceTotals(pos.shares, value)

	l.emitter.Emit(events.PositionWithdrawn{
		Depositor: depositor,
		TokenID:   tokenID,
		ValueUSD:  value,
		Shares:    new(big.Int).Set(pos.shares),
	})
	return nil
}

// TransferShares moves shares between the ledger's settlement pair. Any leg
// that does not touch the counterparty or the ledger itself is rejected.
func (l *Ledger) TransferShares(from common.Address, to common.Address, amount *big.Int) error {
	if l == nil {
		return errNilSource
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := l.latch.Enter(); err != nil {
		return err
	}
	defer l.latch.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientShares
	}
	if !l.settlementLeg(from) && !l.settlementLeg(to) {
		return ErrTransferRestricted
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *Ledger) settlementLeg(addr common.Address) bool {
	return addr == l.counterparty || addr == l.moduleAddr
}

// ForceLiquidate is the address-authenticated entry point for operators; it
// rejects callers outside the liquidator set before delegating to the forced
// transfer.
func (l *Ledger) ForceLiquidate(caller common.Address, tokenID uint64, to common.Address) error {
	if l == nil {
		return errNilSource
	}
	if !l.liquidators[caller] {
		return ErrUnauthorized
	}
	return l.ForceLiquidateTransfer(tokenID, to)
}

// ForceLiquidateTransfer hands the NFT behind tokenID to the liquidator and
// burns the settlement counterparty's shares for it. No repayment is
// required; proceeds return out-of-band. Privilege is established at wiring
// time: only the market engine holds the ledger as its collaborator. The
// latch closes the ledger for the duration, so the position source cannot
// re-enter mid-transfer.
func (l *Ledger) ForceLiquidateTransfer(tokenID uint64, to common.Address) error {
	if l == nil || l.source == nil {
		return errNilSource
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := l.latch.Enter(); err != nil {
		return err
	}
	defer l.latch.Exit()
	pos, ok := l.positions[tokenID]
	if !ok {
		return ErrUnknownToken
	}
	value, err := l.tokenValue(tokenID)
	if err != nil {
		return err
	}

	// The collateralized shares sit with the counterparty; fall back to the
	// depositor's own balance for positions never supplied as collateral.
	burnFrom := l.counterparty
	if l.balance(burnFrom).Cmp(pos.shares) < 0 {
		burnFrom = pos.depositor
	}
	if l.balance(burnFrom).Cmp(pos.shares) < 0 {
		return ErrInsufficientShares
	}

	if err := l.source.Transfer(tokenID, l.moduleAddr, to); err != nil {
		return err
	}
	if err := l.debit(burnFrom, pos.shares); err != nil {
		return err
	}
	l.removePosition(tokenID, pos)
	l.reduceTotals(pos.shares, value)

	l.emitter.Emit(events.PositionForceLiquidated{
		Depositor:  pos.depositor,
		Liquidator: to,
		TokenID:    tokenID,
		Shares:     new(big.Int).Set(pos.shares),
	})
	if receiver, ok := l.receivers[to]; ok {
		return receiver.OnNFTReceived(l.moduleAddr, tokenID)
	}
	return nil
}

// IsVaultKind marks the ledger as a vault-kind collaborator.
func (l *Ledger) IsVaultKind() bool { return l != nil }

// GetLiquidatableTokenIds lists the account's deposited positions.
func (l *Ledger) GetLiquidatableTokenIds(account common.Address) ([]uint64, error) {
	if l == nil {
		return nil, errNilSource
	}
	return append([]uint64(nil), l.byDepositor[account]...), nil
}

// GetTokenIdShares returns the shares minted for tokenID.
func (l *Ledger) GetTokenIdShares(tokenID uint64) (*big.Int, error) {
	if l == nil {
		return nil, errNilSource
	}
	pos, ok := l.positions[tokenID]
	if !ok {
		return nil, ErrUnknownToken
	}
	return new(big.Int).Set(pos.shares), nil
}

// GetTokenIdValueUSD returns tokenID's live oracle-priced value.
func (l *Ledger) GetTokenIdValueUSD(tokenID uint64) (*big.Int, error) {
	if l == nil {
		return nil, errNilSource
	}
	if _, ok := l.positions[tokenID]; !ok {
		return nil, ErrUnknownToken
	}
	return l.tokenValue(tokenID)
}

// GetUserTokenAmounts sums the principal token amounts across the account's
// positions.
func (l *Ledger) GetUserTokenAmounts(account common.Address) (*big.Int, *big.Int, error) {
	if l == nil || l.source == nil {
		return nil, nil, errNilSource
	}
	total0 := big.NewInt(0)
	total1 := big.NewInt(0)
	for _, tokenID := range l.byDepositor[account] {
		amount0, amount1, err := l.source.PrincipalAmounts(tokenID)
		if err != nil {
			return nil, nil, err
		}
		total0.Add(total0, amount0)
		total1.Add(total1, amount1)
	}
	return total0, total1, nil
}

// ValueOf sums the live value of every position attributed to the account,
// independent of where the minted shares currently sit.
func (l *Ledger) ValueOf(account common.Address) (*big.Int, error) {
	if l == nil {
		return nil, errNilSource
	}
	total := big.NewInt(0)
	for _, tokenID := range l.byDepositor[account] {
		value, err := l.tokenValue(tokenID)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// SharesOf sums the shares minted against the account's positions.
func (l *Ledger) SharesOf(account common.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	for _, tokenID := range l.byDepositor[account] {
		if pos, ok := l.positions[tokenID]; ok {
			total.Add(total, pos.shares)
		}
	}
	return total
}

// BalanceOf returns the free share balance held directly by the address.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return l.balance(addr)
}

// TotalShares returns the outstanding share supply.
func (l *Ledger) TotalShares() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.totalShares)
}

// TotalValue returns the tracked aggregate deposit value.
func (l *Ledger) TotalValue() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.totalValue)
}

// ActivePositions returns the global registry of deposited tokenIds.
func (l *Ledger) ActivePositions() []uint64 {
	if l == nil {
		return nil
	}
	return append([]uint64(nil), l.registry...)
}

// LatestPrice implements oracle.Adapter: the pool-wide value per share. The
// observation time is the staler of the two underlying token feeds.
func (l *Ledger) LatestPrice() (*big.Int, uint64, error) {
	if l == nil {
		return nil, 0, oracle.ErrNoFeed
	}
	if l.totalShares.Sign() == 0 {
		return nil, 0, oracle.ErrBadPrice
	}
	price := new(big.Int).Mul(l.totalValue, oracle.PriceScale)
	price.Quo(price, l.totalShares)
	if price.Sign() <= 0 {
		return nil, 0, oracle.ErrBadPrice
	}
	return price, l.feedObservation(), nil
}

// LatestPriceForAccount implements oracle.AccountPriced: the account's own
// positions priced against the account's own shares.
func (l *Ledger) LatestPriceForAccount(account common.Address) (*big.Int, error) {
	if l == nil {
		return nil, oracle.ErrNoFeed
	}
	shares := l.SharesOf(account)
	if shares.Sign() == 0 {
		return nil, oracle.ErrBadPrice
	}
	value, err := l.ValueOf(account)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(value, oracle.PriceScale)
	price.Quo(price, shares)
	if price.Sign() <= 0 {
		return nil, oracle.ErrBadPrice
	}
	return price, nil
}

func (l *Ledger) feedObservation() uint64 {
	observation := uint64(0)
	seen := false
	for _, feed := range []common.Address{l.feed0, l.feed1} {
		adapter := l.oracles.Adapter(feed)
		if adapter == nil {
			continue
		}
		_, updatedAt, err := adapter.LatestPrice()
		if err != nil {
			continue
		}
		if !seen || updatedAt < observation {
			observation = updatedAt
			seen = true
		}
	}
	return observation
}

func (l *Ledger) tokenValue(tokenID uint64) (*big.Int, error) {
	amount0, amount1, err := l.source.PrincipalAmounts(tokenID)
	if err != nil {
		return nil, err
	}
	price0, err := l.oracles.Price(l.feed0)
	if err != nil {
		return nil, err
	}
	price1, err := l.oracles.Price(l.feed1)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount0, price0)
	value.Quo(value, l.scale0)
	second := new(big.Int).Mul(amount1, price1)
	second.Quo(second, l.scale1)
	return value.Add(value, second), nil
}

func (l *Ledger) sharesForValue(value *big.Int) *big.Int {
	if l.totalShares.Sign() == 0 || l.totalValue.Sign() == 0 {
		return new(big.Int).Set(value)
	}
	shares := new(big.Int).Mul(value, l.totalShares)
	return shares.Quo(shares, l.totalValue)
}

// removePosition deletes tokenID from both position lists with swap-with-last
// removal so neither list is ever scanned.
func (l *Ledger) removePosition(tokenID uint64, pos *position) {
	list := l.byDepositor[pos.depositor]
	idx := l.depositorIdx[tokenID]
	last := len(list) - 1
	if idx != last {
		moved := list[last]
		list[idx] = moved
		l.depositorIdx[moved] = idx
	}
	list = list[:last]
	if len(list) == 0 {
		delete(l.byDepositor, pos.depositor)
	} else {
		l.byDepositor[pos.depositor] = list
	}
	delete(l.depositorIdx, tokenID)

	idx = l.registryIdx[tokenID]
	last = len(l.registry) - 1
	if idx != last {
		moved := l.registry[last]
		l.registry[idx] = moved
		l.registryIdx[moved] = idx
	}
	l.registry = l.registry[:last]
	delete(l.registryIdx, tokenID)

	delete(l.positions, tokenID)
}

func (l *Ledger) reduceTotals(shares, value *big.Int) {
	l.totalShares.Sub(l.totalShares, shares)
	if l.totalShares.Sign() < 0 {
		l.totalShares = big.NewInt(0)
	}
	l.totalValue.Sub(l.totalValue, value)
	if l.totalValue.Sign() < 0 {
		l.totalValue = big.NewInt(0)
	}
}

func (l *Ledger) balance(addr common.Address) *big.Int {
	if balance, ok := l.balances[addr]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	balance, ok := l.balances[addr]
	if !ok {
		balance = big.NewInt(0)
		l.balances[addr] = balance
	}
	balance.Add(balance, amount)
}

func (l *Ledger) debit(addr common.Address, amount *big.Int) error {
	balance, ok := l.balances[addr]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	balance.Sub(balance, amount)
	return nil
}
