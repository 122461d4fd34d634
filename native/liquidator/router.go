package liquidator

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/events"
	nativecommon "rangemarket/native/common"
	"rangemarket/native/oracle"
	"rangemarket/observability/metrics"
)

var (
	errNilBank       = errors.New("liquidator: token bank not configured")
	errInvalidAmount = errors.New("liquidator: amount must be positive")
	// ErrUnauthorized indicates the caller is not a registered operator.
	ErrUnauthorized = errors.New("liquidator: caller not authorized")
	// ErrUnknownMarket indicates no market is registered at the address.
	ErrUnknownMarket = errors.New("liquidator: market not registered")
	// ErrUnknownVault indicates no unwinder is registered for the vault.
	ErrUnknownVault = errors.New("liquidator: vault not registered")
	// ErrUnknownVenue indicates the swap config names an unregistered venue.
	ErrUnknownVenue = errors.New("liquidator: venue not registered")
	// ErrTooMuchSlippage indicates a swap returned less than the
	// oracle-derived minimum.
	ErrTooMuchSlippage = errors.New("liquidator: too much slippage")
	// ErrInvalidSlippage indicates a slippage bound above 100%.
	ErrInvalidSlippage = errors.New("liquidator: slippage bound above 100%")
)

const moduleName = "liquidator"

// Market is the money-market surface the router liquidates against and
// remits proceeds to.
type Market interface {
	Absorb(absorber common.Address, account common.Address) error
	ModuleAddress() common.Address
	BaseToken() common.Address
}

// TokenBank moves fungible token balances between addresses. The router never
// holds keys; custody is modelled entirely through bank balances.
type TokenBank interface {
	BalanceOf(addr common.Address, token common.Address) (*big.Int, error)
	Transfer(from common.Address, to common.Address, token common.Address, amount *big.Int) error
}

// Exchange is a synchronous swap venue. It debits owner's tokenIn, credits
// owner's tokenOut and reports the amount received.
type Exchange interface {
	Swap(owner common.Address, tokenIn common.Address, tokenOut common.Address, amountIn *big.Int, minAmountOut *big.Int) (*big.Int, error)
}

// PositionUnwinder is the vault-side surface for disposing seized NFT
// positions: withdraw the liquidity behind a tokenId and report the pool's
// token pair.
type PositionUnwinder interface {
	OwnerOf(tokenID uint64) (common.Address, error)
	WithdrawLiquidity(tokenID uint64, to common.Address) (amount0 *big.Int, amount1 *big.Int, err error)
	PoolTokens() (token0 common.Address, token1 common.Address)
}

// LiquidityRouter is the external venue handling asynchronous third-party LP
// withdrawals. Completion is observed later purely as a balance increase.
type LiquidityRouter interface {
	RequestWithdrawal(amount *big.Int, minAmountOut *big.Int, executionFee *big.Int) error
}

// SwapConfig selects the venue and slippage bound for one collateral asset.
type SwapConfig struct {
	Venue          string
	Feed           common.Address
	MaxSlippageBps uint64
}

type vaultRoute struct {
	unwinder PositionUnwinder
	market   common.Address
	swap     SwapConfig
}

type pendingVault struct {
	market common.Address
	swap   SwapConfig
	tokens []uint64
	queued map[uint64]bool
}

// Router converts seized collateral into the base asset and returns the
// proceeds, without pre-funded capital. ERC-20 collateral is swapped
// synchronously; NFT positions are queued and unwound later; third-party LP
// withdrawals are asynchronous and settled market-imprecisely.
type Router struct {
	latch nativecommon.ReentrancyLatch

	routerAddr common.Address
	bank       TokenBank
	oracles    *oracle.Registry
	markets    map[common.Address]Market
	vaults     map[common.Address]vaultRoute
	venues     map[string]Exchange
	operators  map[common.Address]bool
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    *metrics.LiquidatorMetrics

	pending map[common.Address]*pendingVault

	perpRouter     LiquidityRouter
	perpFeed       common.Address
	perpSlippBps   uint64
	executionFee   *big.Int
	perpRequests   []*big.Int
	lastPerpMarket common.Address
}

// NewRouter constructs a router operating from the supplied address.
func NewRouter(routerAddr common.Address, bank TokenBank, oracles *oracle.Registry) *Router {
	return &Router{
		routerAddr:   routerAddr,
		bank:         bank,
		oracles:      oracles,
		markets:      make(map[common.Address]Market),
		vaults:       make(map[common.Address]vaultRoute),
		venues:       make(map[string]Exchange),
		operators:    make(map[common.Address]bool),
		emitter:      events.NoopEmitter{},
		logger:       slog.Default(),
		metrics:      metrics.Liquidator(),
		pending:      make(map[common.Address]*pendingVault),
		executionFee: big.NewInt(0),
	}
}

// SetPauses wires the administrative pause switchboard.
func (r *Router) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetEmitter wires the event sink. A nil emitter restores the noop default.
func (r *Router) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

// SetLogger overrides the structured logger.
func (r *Router) SetLogger(logger *slog.Logger) {
	if r == nil || logger == nil {
		return
	}
	r.logger = logger
}

// SetOperator grants or revokes liquidation-execution rights.
func (r *Router) SetOperator(addr common.Address, allowed bool) {
	if r == nil {
		return
	}
	if allowed {
		r.operators[addr] = true
	} else {
		delete(r.operators, addr)
	}
}

// RegisterMarket adds a market keyed by its module address.
func (r *Router) RegisterMarket(market Market) {
	if r == nil || market == nil {
		return
	}
	r.markets[market.ModuleAddress()] = market
}

// RegisterVenue adds a named swap venue.
func (r *Router) RegisterVenue(name string, venue Exchange) {
	if r == nil || venue == nil {
		return
	}
	r.venues[name] = venue
}

// RegisterVault declares the disposal route for NFTs arriving from a vault:
// the unwinder, the market the proceeds belong to and the swap config for the
// pool's tokens.
func (r *Router) RegisterVault(vault common.Address, unwinder PositionUnwinder, market common.Address, swap SwapConfig) error {
	if r == nil {
		return errNilBank
	}
	if unwinder == nil {
		return ErrUnknownVault
	}
	if _, ok := r.markets[market]; !ok {
		return ErrUnknownMarket
	}
	r.vaults[vault] = vaultRoute{unwinder: unwinder, market: market, swap: swap}
	return nil
}

// ConfigurePerp wires the asynchronous LP disposal venue.
func (r *Router) ConfigurePerp(router LiquidityRouter, feed common.Address, slippageBps uint64, executionFee *big.Int) {
	if r == nil {
		return
	}
	r.perpRouter = router
	r.perpFeed = feed
	r.perpSlippBps = slippageBps
	if executionFee != nil {
		r.executionFee = new(big.Int).Set(executionFee)
	}
}

// RouterAddress returns the address the router trades from.
func (r *Router) RouterAddress() common.Address {
	if r == nil {
		return common.Address{}
	}
	return r.routerAddr
}

// ExecuteLiquidations absorbs each listed account and synchronously disposes
// the ERC-20 collateral received, remitting base proceeds to the market. The
// absorb step is best-effort: an account that fails to absorb is logged and
// skipped so the rest of the batch still settles.
func (r *Router) ExecuteLiquidations(caller common.Address, marketAddr common.Address, accounts []common.Address, assets []common.Address, swaps []SwapConfig) error {
	if r == nil || r.bank == nil {
		return errNilBank
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !r.operators[caller] {
		return ErrUnauthorized
	}
	if len(assets) != len(swaps) {
		return ErrUnknownVenue
	}
	market, ok := r.markets[marketAddr]
	if !ok {
		return ErrUnknownMarket
	}
	if err := r.latch.Enter(); err != nil {
		return err
	}
	defer r.latch.Exit()

	before := make([]*big.Int, len(assets))
	for i, asset := range assets {
		balance, err := r.bank.BalanceOf(r.routerAddr, asset)
		if err != nil {
			return err
		}
		before[i] = balance
	}

	for _, account := range accounts {
		if err := market.Absorb(r.routerAddr, account); err != nil {
			r.logger.Warn("absorb skipped",
				"market", marketAddr.Hex(),
				"account", account.Hex(),
				"err", err)
			r.metrics.ObserveAbsorb(false)
			continue
		}
		r.metrics.ObserveAbsorb(true)
	}

	base := market.BaseToken()
	for i, asset := range assets {
		balance, err := r.bank.BalanceOf(r.routerAddr, asset)
		if err != nil {
			return err
		}
		received := new(big.Int).Sub(balance, before[i])
		if received.Sign() <= 0 {
			continue
		}
		proceeds, err := r.swapToBase(asset, base, received, swaps[i])
		if err != nil {
			return err
		}
		if err := r.remit(market, proceeds); err != nil {
			return err
		}
	}
	return nil
}

// OnNFTReceived records a seized NFT for deferred disposal, merging it into
// the vault's pending record. Repeated pushes of the same tokenId collapse to
// one queue entry.
func (r *Router) OnNFTReceived(vault common.Address, tokenID uint64) error {
	if r == nil {
		return errNilBank
	}
	route, ok := r.vaults[vault]
	if !ok {
		return ErrUnknownVault
	}
	record, ok := r.pending[vault]
	if !ok {
		record = &pendingVault{
			market: route.market,
			swap:   route.swap,
			queued: make(map[uint64]bool),
		}
		r.pending[vault] = record
	}
	if record.queued[tokenID] {
		return nil
	}
	record.queued[tokenID] = true
	record.tokens = append(record.tokens, tokenID)
	r.emitter.Emit(events.NFTQueued{Vault: vault, TokenID: tokenID})
	return nil
}

// ProcessPendingNFTs unwinds every queued position for the selected vaults,
// swaps the recovered tokens to base and remits exactly the measured base
// delta to each vault's originating market. An empty filter selects every
// pending vault. Positions the router no longer owns are skipped.
func (r *Router) ProcessPendingNFTs(filter []common.Address) error {
	if r == nil || r.bank == nil {
		return errNilBank
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := r.latch.Enter(); err != nil {
		return err
	}
	defer r.latch.Exit()

	vaults := filter
	if len(vaults) == 0 {
		vaults = make([]common.Address, 0, len(r.pending))
		for vault := range r.pending {
			vaults = append(vaults, vault)
		}
	}
	for _, vault := range vaults {
		record, ok := r.pending[vault]
		if !ok {
			continue
		}
		if err := r.processVault(vault, record); err != nil {
			return err
		}
		delete(r.pending, vault)
	}
	return nil
}

func (r *Router) processVault(vault common.Address, record *pendingVault) error {
	route, ok := r.vaults[vault]
	if !ok {
		return ErrUnknownVault
	}
	market, ok := r.markets[record.market]
	if !ok {
		return ErrUnknownMarket
	}
	base := market.BaseToken()
	token0, token1 := route.unwinder.PoolTokens()

	baseBefore, err := r.bank.BalanceOf(r.routerAddr, base)
	if err != nil {
		return err
	}
	total0 := big.NewInt(0)
	total1 := big.NewInt(0)
	for _, tokenID := range record.tokens {
		owner, err := route.unwinder.OwnerOf(tokenID)
		if err != nil || owner != r.routerAddr {
			// Already disposed through another path.
			continue
		}
		amount0, amount1, err := route.unwinder.WithdrawLiquidity(tokenID, r.routerAddr)
		if err != nil {
			return err
		}
		total0.Add(total0, amount0)
		total1.Add(total1, amount1)
		r.metrics.ObserveDisposal()
		r.emitter.Emit(events.NFTProcessed{Vault: vault, TokenID: tokenID})
	}

	if total0.Sign() > 0 && token0 != base {
		if _, err := r.swapToBase(token0, base, total0, record.swap); err != nil {
			return err
		}
	}
	if total1.Sign() > 0 && token1 != base {
		if _, err := r.swapToBase(token1, base, total1, record.swap); err != nil {
			return err
		}
	}

	baseAfter, err := r.bank.BalanceOf(r.routerAddr, base)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(baseAfter, baseBefore)
	if delta.Sign() <= 0 {
		return nil
	}
	return r.remit(market, delta)
}

// RequestPerpWithdrawal asks the external liquidity router to unwind LP
// shares with an oracle-derived minimum-out, paying the configured execution
// fee. Completion is observed later as a base balance increase only.
func (r *Router) RequestPerpWithdrawal(caller common.Address, marketAddr common.Address, amount *big.Int) error {
	if r == nil {
		return errNilBank
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !r.operators[caller] {
		return ErrUnauthorized
	}
	if r.perpRouter == nil {
		return ErrUnknownVenue
	}
	if _, ok := r.markets[marketAddr]; !ok {
		return ErrUnknownMarket
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if r.perpSlippBps > 10_000 {
		return ErrInvalidSlippage
	}

	price, err := r.oracles.Price(r.perpFeed)
	if err != nil {
		return err
	}
	minOut := new(big.Int).Mul(amount, price)
	minOut.Quo(minOut, oracle.PriceScale)
	minOut.Mul(minOut, new(big.Int).SetUint64(10_000-r.perpSlippBps))
	minOut.Quo(minOut, big.NewInt(10_000))

	if err := r.perpRouter.RequestWithdrawal(amount, minOut, r.executionFee); err != nil {
		return err
	}
	r.perpRequests = append(r.perpRequests, new(big.Int).Set(amount))
	r.lastPerpMarket = marketAddr
	return nil
}

// ProcessPendingWithdrawals remits the router's entire base balance to the
// most-recently-specified perp market and clears all perp bookkeeping,
// whether or not the underlying withdrawals have completed. Proceeds are not
// matched back to individual requests.
func (r *Router) ProcessPendingWithdrawals(marketAddr common.Address) error {
	if r == nil || r.bank == nil {
		return errNilBank
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if err := r.latch.Enter(); err != nil {
		return err
	}
	defer r.latch.Exit()

	destination := r.lastPerpMarket
	if destination == (common.Address{}) {
		destination = marketAddr
	}
	market, ok := r.markets[destination]
	if !ok {
		return ErrUnknownMarket
	}

	r.perpRequests = nil
	r.lastPerpMarket = common.Address{}

	balance, err := r.bank.BalanceOf(r.routerAddr, market.BaseToken())
	if err != nil {
		return err
	}
	if balance.Sign() <= 0 {
		return nil
	}
	return r.remit(market, balance)
}

// PendingNFTCount reports the queue length for a vault.
func (r *Router) PendingNFTCount(vault common.Address) int {
	if r == nil {
		return 0
	}
	record, ok := r.pending[vault]
	if !ok {
		return 0
	}
	return len(record.tokens)
}

// PendingNFTs returns the queued tokenIds for a vault in arrival order.
func (r *Router) PendingNFTs(vault common.Address) []uint64 {
	if r == nil {
		return nil
	}
	record, ok := r.pending[vault]
	if !ok {
		return nil
	}
	return append([]uint64(nil), record.tokens...)
}

// PendingPerpRequests reports the outstanding perp withdrawal count.
func (r *Router) PendingPerpRequests() int {
	if r == nil {
		return 0
	}
	return len(r.perpRequests)
}

func (r *Router) swapToBase(asset common.Address, base common.Address, amount *big.Int, cfg SwapConfig) (*big.Int, error) {
	venue, ok := r.venues[cfg.Venue]
	if !ok {
		return nil, ErrUnknownVenue
	}
	if cfg.MaxSlippageBps > 10_000 {
		return nil, ErrInvalidSlippage
	}
	minOut := big.NewInt(0)
	if cfg.Feed != (common.Address{}) {
		price, err := r.oracles.Price(cfg.Feed)
		if err != nil {
			return nil, err
		}
		minOut = new(big.Int).Mul(amount, price)
		minOut.Quo(minOut, oracle.PriceScale)
		minOut.Mul(minOut, new(big.Int).SetUint64(10_000-cfg.MaxSlippageBps))
		minOut.Quo(minOut, big.NewInt(10_000))
	}
	out, err := venue.Swap(r.routerAddr, asset, base, amount, minOut)
	if err != nil {
		return nil, err
	}
	if out.Cmp(minOut) < 0 {
		return nil, ErrTooMuchSlippage
	}
	return out, nil
}

func (r *Router) remit(market Market, amount *big.Int) error {
	destination := market.ModuleAddress()
	if err := r.bank.Transfer(r.routerAddr, destination, market.BaseToken(), amount); err != nil {
		return err
	}
	remitted, _ := new(big.Float).SetInt(amount).Float64()
	r.metrics.ObserveRemittance(destination.Hex(), remitted)
	r.emitter.Emit(events.ProceedsRemitted{Market: destination, Amount: amount})
	return nil
}
