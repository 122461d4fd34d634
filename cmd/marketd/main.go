package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rangemarket/config"
	"rangemarket/core/events"
	"rangemarket/native/liquidator"
	"rangemarket/native/market"
	"rangemarket/native/oracle"
	"rangemarket/native/vault"
	"rangemarket/observability/logging"
	"rangemarket/observability/metrics"
	"rangemarket/storage"
)

const disposalVenue = "inventory"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKET_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()
	state := storage.NewState(db)

	oracles := oracle.NewRegistry(time.Duration(cfg.Oracle.MaxAgeSeconds) * time.Second)
	feeds := newFeedSet(oracles)

	emitter := &logEmitter{logger: logger}

	engine, err := buildEngine(cfg, state, oracles, emitter, feeds)
	if err != nil {
		logger.Error("Failed to build market engine", slog.Any("error", err))
		os.Exit(1)
	}

	var book *vault.PositionBook
	var ledger *vault.Ledger
	if cfg.Vault.ModuleAddress != "" {
		book, ledger, err = buildVault(cfg, state, oracles, engine, emitter, feeds)
		if err != nil {
			logger.Error("Failed to build vault ledger", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var router *liquidator.Router
	if cfg.Router.ModuleAddress != "" {
		router, err = buildRouter(cfg, state, oracles, engine, ledger, book, logger, emitter, feeds)
		if err != nil {
			logger.Error("Failed to build liquidation router", slog.Any("error", err))
			os.Exit(1)
		}
	}

	go accrualLoop(engine, cfg.AccrualInterval, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/oracle/price", feeds.handlePost)

	logger.Info("marketd started",
		slog.String("listen", cfg.ListenAddress),
		slog.String("market", cfg.Market.ModuleAddress),
		slog.Bool("vault", ledger != nil),
		slog.Bool("router", router != nil))
	if err := http.ListenAndServe(cfg.ListenAddress, mux); err != nil {
		logger.Error("HTTP listener stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildEngine(cfg *config.Config, state *storage.State, oracles *oracle.Registry, emitter events.Emitter, feeds *feedSet) (*market.Engine, error) {
	params := market.Params{
		BaseToken:            common.HexToAddress(cfg.Market.BaseToken),
		BaseScale:            pow10(cfg.Market.BaseDecimals),
		BasePriceFeed:        common.HexToAddress(cfg.Market.BasePriceFeed),
		BorrowMin:            cfg.Market.BorrowMin,
		ReserveFactorBps:     cfg.Market.ReserveFactorBps,
		TrackingSupplySpeed:  cfg.Market.TrackingSupplySpeed,
		TrackingBorrowSpeed:  cfg.Market.TrackingBorrowSpeed,
		TrackingMinPrincipal: cfg.Market.TrackingMinPrincipal,
	}
	engine := market.NewEngine(common.HexToAddress(cfg.Market.ModuleAddress), params)
	engine.SetState(state)
	engine.SetOracles(oracles)
	engine.SetEmitter(emitter)
	engine.SetInterestModel(market.NewInterestModel(
		cfg.Market.InterestBaseRate,
		cfg.Market.InterestSlopeLow,
		cfg.Market.InterestSlopeHigh,
		cfg.Market.InterestKink,
	))
	engine.SetTime(uint64(time.Now().Unix()))

	feeds.ensure(cfg.Market.BasePriceFeed)
	for _, asset := range cfg.Assets {
		info := market.AssetInfo{
			Asset:                        common.HexToAddress(asset.Asset),
			PriceFeed:                    common.HexToAddress(asset.PriceFeed),
			Scale:                        pow10(asset.Decimals),
			BorrowCollateralFactorBps:    asset.BorrowCollateralFactorBps,
			LiquidateCollateralFactorBps: asset.LiquidateCollateralFactorBps,
			LiquidationFactorBps:         asset.LiquidationFactorBps,
			SupplyCap:                    asset.SupplyCap,
		}
		if err := engine.AddAsset(info); err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Asset, err)
		}
		if !asset.Vault {
			feeds.ensure(asset.PriceFeed)
		}
	}
	return engine, nil
}

func buildVault(cfg *config.Config, state *storage.State, oracles *oracle.Registry, engine *market.Engine, emitter events.Emitter, feeds *feedSet) (*vault.PositionBook, *vault.Ledger, error) {
	feeds.ensure(cfg.Vault.Token0Feed)
	feeds.ensure(cfg.Vault.Token1Feed)
	book := vault.NewPositionBook(
		common.HexToAddress(cfg.Vault.Token0),
		common.HexToAddress(cfg.Vault.Token1),
		common.HexToAddress(cfg.Vault.Pool),
		state,
	)
	ledger := vault.NewLedger(vault.Config{
		ModuleAddress: common.HexToAddress(cfg.Vault.ModuleAddress),
		ShareToken:    common.HexToAddress(cfg.Vault.ShareToken),
		Counterparty:  common.HexToAddress(cfg.Market.ModuleAddress),
		MinShares:     cfg.Vault.MinShares,
		Token0Feed:    common.HexToAddress(cfg.Vault.Token0Feed),
		Token1Feed:    common.HexToAddress(cfg.Vault.Token1Feed),
		Token0Scale:   pow10(cfg.Vault.Token0Decimals),
		Token1Scale:   pow10(cfg.Vault.Token1Decimals),
	}, book, oracles)
	ledger.SetMarket(engine)
	ledger.SetEmitter(emitter)

	vaultAddr := common.HexToAddress(cfg.Vault.ModuleAddress)
	for _, asset := range cfg.Assets {
		if !asset.Vault {
			continue
		}
		assetAddr := common.HexToAddress(asset.Asset)
		if err := engine.RegisterVault(assetAddr, vaultAddr, ledger); err != nil {
			return nil, nil, fmt.Errorf("vault asset %s: %w", asset.Asset, err)
		}
		// The ledger prices its own share token.
		oracles.Register(common.HexToAddress(asset.PriceFeed), ledger)
	}
	return book, ledger, nil
}

func buildRouter(cfg *config.Config, state *storage.State, oracles *oracle.Registry, engine *market.Engine, ledger *vault.Ledger, book *vault.PositionBook, logger *slog.Logger, emitter events.Emitter, feeds *feedSet) (*liquidator.Router, error) {
	routerAddr := common.HexToAddress(cfg.Router.ModuleAddress)
	router := liquidator.NewRouter(routerAddr, state, oracles)
	router.SetLogger(logger)
	router.SetEmitter(emitter)
	router.RegisterMarket(engine)
	for _, operator := range cfg.Router.Operators {
		router.SetOperator(common.HexToAddress(operator), true)
	}
	engine.SetAuthorizedAbsorber(routerAddr, true)
	ledger.SetLiquidator(routerAddr, true)

	if cfg.Router.VenueAddress != "" {
		venue := liquidator.NewInventoryExchange(common.HexToAddress(cfg.Router.VenueAddress), state, oracles)
		venue.ListToken(common.HexToAddress(cfg.Market.BaseToken), common.HexToAddress(cfg.Market.BasePriceFeed), pow10(cfg.Market.BaseDecimals))
		for _, asset := range cfg.Assets {
			if asset.Vault {
				continue
			}
			venue.ListToken(common.HexToAddress(asset.Asset), common.HexToAddress(asset.PriceFeed), pow10(asset.Decimals))
		}
		if cfg.Vault.Token0 != "" {
			venue.ListToken(common.HexToAddress(cfg.Vault.Token0), common.HexToAddress(cfg.Vault.Token0Feed), pow10(cfg.Vault.Token0Decimals))
		}
		if cfg.Vault.Token1 != "" {
			venue.ListToken(common.HexToAddress(cfg.Vault.Token1), common.HexToAddress(cfg.Vault.Token1Feed), pow10(cfg.Vault.Token1Decimals))
		}
		router.RegisterVenue(disposalVenue, venue)

		if book != nil && ledger != nil {
			err := router.RegisterVault(common.HexToAddress(cfg.Vault.ModuleAddress), book, engine.ModuleAddress(), liquidator.SwapConfig{
				Venue:          disposalVenue,
				MaxSlippageBps: cfg.Router.DisposalSlippageBps,
			})
			if err != nil {
				return nil, err
			}
			ledger.SetNFTReceiver(routerAddr, router)
		}
	}

	if cfg.Router.PerpFeed != "" {
		feeds.ensure(cfg.Router.PerpFeed)
	}
	return router, nil
}

func accrualLoop(engine *market.Engine, intervalSeconds uint64, logger *slog.Logger) {
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()
	collector := metrics.Market()
	for range ticker.C {
		engine.SetTime(uint64(time.Now().Unix()))
		err := engine.Accrue()
		collector.ObserveAccrual(err)
		if err != nil {
			logger.Warn("Accrual failed", slog.Any("error", err))
			continue
		}
		if reserves, err := engine.GetReserves(); err == nil {
			value, _ := new(big.Float).SetInt(reserves).Float64()
			collector.SetReserves(value)
		}
	}
}

// feedSet owns the push-updated price feeds: one static adapter per
// configured feed address, updated over HTTP by the price poster.
type feedSet struct {
	oracles *oracle.Registry
	feeds   map[common.Address]*oracle.StaticFeed
}

func newFeedSet(oracles *oracle.Registry) *feedSet {
	return &feedSet{oracles: oracles, feeds: make(map[common.Address]*oracle.StaticFeed)}
}

func (s *feedSet) ensure(addr string) {
	if addr == "" {
		return
	}
	feedAddr := common.HexToAddress(addr)
	if _, ok := s.feeds[feedAddr]; ok {
		return
	}
	feed := oracle.NewStaticFeed(nil, 0)
	s.feeds[feedAddr] = feed
	s.oracles.Register(feedAddr, feed)
}

type priceUpdate struct {
	Feed      string `json:"feed"`
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updatedAt,omitempty"`
}

func (s *feedSet) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var update priceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	feed, ok := s.feeds[common.HexToAddress(update.Feed)]
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}
	price, ok := new(big.Int).SetString(update.Price, 10)
	if !ok || price.Sign() <= 0 {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}
	updatedAt := update.UpdatedAt
	if updatedAt == 0 {
		updatedAt = uint64(time.Now().Unix())
	}
	feed.SetPrice(price, updatedAt)
	w.WriteHeader(http.StatusNoContent)
}

type logEmitter struct {
	logger *slog.Logger
}

func (e *logEmitter) Emit(ev events.Event) {
	e.logger.Info("event", slog.String("type", ev.EventType()))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
