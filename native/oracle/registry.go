package oracle

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves feed addresses to adapters and enforces a shared
// freshness window across all registered feeds.
type Registry struct {
	mu     sync.RWMutex
	feeds  map[common.Address]Adapter
	maxAge time.Duration
	now    func() uint64
}

// NewRegistry constructs an empty registry. A zero maxAge disables the
// freshness check.
func NewRegistry(maxAge time.Duration) *Registry {
	return &Registry{
		feeds:  make(map[common.Address]Adapter),
		maxAge: maxAge,
		now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the wall clock used for freshness checks.
func (r *Registry) SetClock(now func() uint64) {
	if r == nil || now == nil {
		return
	}
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register adds or replaces the adapter behind the supplied feed address.
func (r *Registry) Register(feed common.Address, adapter Adapter) {
	if r == nil || adapter == nil {
		return
	}
	r.mu.Lock()
	r.feeds[feed] = adapter
	r.mu.Unlock()
}

// Adapter returns the adapter registered for the feed address, or nil.
func (r *Registry) Adapter(feed common.Address) Adapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeds[feed]
}

// Price resolves a validated generic price for the feed address.
func (r *Registry) Price(feed common.Address) (*big.Int, error) {
	if r == nil {
		return nil, ErrNoFeed
	}
	r.mu.RLock()
	adapter := r.feeds[feed]
	maxAge := r.maxAge
	now := r.now
	r.mu.RUnlock()
	if adapter == nil {
		return nil, ErrNoFeed
	}
	price, updatedAt, err := adapter.LatestPrice()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrBadPrice
	}
	if maxAge > 0 && now != nil {
		cutoff := now()
		age := uint64(maxAge / time.Second)
		if updatedAt+age < cutoff {
			return nil, ErrStalePrice
		}
	}
	return new(big.Int).Set(price), nil
}

// PriceForAccount resolves a per-account price for the feed address, falling
// back to the generic price when the capability is unsupported.
func (r *Registry) PriceForAccount(feed common.Address, account common.Address) (*big.Int, error) {
	if r == nil {
		return nil, ErrNoFeed
	}
	r.mu.RLock()
	adapter := r.feeds[feed]
	r.mu.RUnlock()
	if adapter == nil {
		return nil, ErrNoFeed
	}
	return PriceForAccount(adapter, account)
}
