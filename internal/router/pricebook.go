package router

import (
	"strings"
	"time"

	"github.com/mExOms/sor/pkg/cache"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// PriceBook holds the last known reference price per asset
type PriceBook struct {
	cache *cache.MemoryCache
	ttl   time.Duration
}

// NewPriceBook creates a price book whose entries expire after ttl (0 = never)
func NewPriceBook(ttl time.Duration) *PriceBook {
	return &PriceBook{
		cache: cache.NewMemoryCache(time.Minute),
		ttl:   ttl,
	}
}

// Set records a reference price for the asset
func (p *PriceBook) Set(asset string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.cache.Set(strings.ToUpper(asset), price, p.ttl)
}

// Get returns the cached price for the asset
func (p *PriceBook) Get(asset string) (decimal.Decimal, bool) {
	v, ok := p.cache.Get(strings.ToUpper(asset))
	if !ok {
		return decimal.Zero, false
	}
	price, ok := v.(decimal.Decimal)
	return price, ok
}

// ReferencePrice prefers the order's limit price, then the cached price
func (p *PriceBook) ReferencePrice(o *types.Order) (decimal.Decimal, bool) {
	if o.LimitPrice.IsPositive() {
		return o.LimitPrice, true
	}
	return p.Get(o.Asset)
}

// Close stops the cache's cleanup loop
func (p *PriceBook) Close() {
	p.cache.Close()
}
