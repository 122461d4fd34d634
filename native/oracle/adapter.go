package oracle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrBadPrice indicates a feed returned a non-positive or unusable price.
	ErrBadPrice = errors.New("oracle: bad price")
	// ErrStalePrice indicates a feed reading fell outside the freshness window.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrNoFeed indicates no adapter is registered for the requested feed.
	ErrNoFeed = errors.New("oracle: feed not registered")
)

// PriceScale is the fixed-point denominator for USD prices: every adapter
// reports prices with 8 fractional digits.
var PriceScale = big.NewInt(100_000_000)

// Adapter resolves a fixed-point USD price for a single asset.
type Adapter interface {
	// LatestPrice returns the current price at PriceScale precision together
	// with the unix timestamp of the underlying observation.
	LatestPrice() (price *big.Int, updatedAt uint64, err error)
}

// AccountPriced is the optional per-account pricing capability. Feeds backed
// by a depositor-partitioned asset report a different price per account, so
// callers must consult this entrypoint instead of the generic one whenever the
// capability is present.
type AccountPriced interface {
	Adapter
	LatestPriceForAccount(account common.Address) (*big.Int, error)
}

// PriceForAccount checks the adapter for the per-account capability and falls
// back to the generic price when the capability is absent or its call fails.
func PriceForAccount(a Adapter, account common.Address) (*big.Int, error) {
	if a == nil {
		return nil, ErrNoFeed
	}
	if priced, ok := a.(AccountPriced); ok {
		if price, err := priced.LatestPriceForAccount(account); err == nil {
			if price == nil || price.Sign() <= 0 {
				return nil, ErrBadPrice
			}
			return new(big.Int).Set(price), nil
		}
	}
	price, _, err := a.LatestPrice()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrBadPrice
	}
	return new(big.Int).Set(price), nil
}

// StaticFeed is a programmable adapter used for fixed-price assets and tests.
type StaticFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	updatedAt uint64
	fail      error
}

// NewStaticFeed returns a feed reporting the supplied price.
func NewStaticFeed(price *big.Int, updatedAt uint64) *StaticFeed {
	feed := &StaticFeed{updatedAt: updatedAt}
	if price != nil {
		feed.price = new(big.Int).Set(price)
	}
	return feed
}

// SetPrice replaces the reported price and observation time.
func (f *StaticFeed) SetPrice(price *big.Int, updatedAt uint64) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if price == nil {
		f.price = nil
	} else {
		f.price = new(big.Int).Set(price)
	}
	f.updatedAt = updatedAt
}

// SetError forces subsequent reads to fail, modelling a broken upstream feed.
func (f *StaticFeed) SetError(err error) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

// LatestPrice implements Adapter.
func (f *StaticFeed) LatestPrice() (*big.Int, uint64, error) {
	if f == nil {
		return nil, 0, ErrNoFeed
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fail != nil {
		return nil, 0, f.fail
	}
	if f.price == nil || f.price.Sign() <= 0 {
		return nil, 0, ErrBadPrice
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}
