package currency

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"fleetledger/internal/cache"
	"fleetledger/internal/core"
)

// Lookup sources reported to the Observer.
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceStale    = "stale"
	SourceFallback = "fallback"
	SourceMissing  = "missing"
)

// Observer receives one call per rate resolution.
type Observer interface {
	RateLookup(source string)
}

// Resolver layers a live Source, an LRU cache of its answers and a static
// fallback table.
//
// Preview lookups may use any layer. Live lookups only accept a fresh
// answer from the source: committed settlements never use cached or
// fallback rates.
type Resolver struct {
	live     Source
	cache    *cache.LRUCache[core.Rate]
	fallback *StaticTable
	group    singleflight.Group
	timeout  time.Duration
	observer Observer
}

// ResolverConfig holds Resolver settings.
type ResolverConfig struct {
	CacheSize int
	TTL       time.Duration
	Timeout   time.Duration
}

// DefaultResolverConfig returns the defaults used when config leaves them unset.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		CacheSize: 64,
		TTL:       15 * time.Minute,
		Timeout:   5 * time.Second,
	}
}

// NewResolver creates a Resolver. live and fallback may be nil.
func NewResolver(live Source, fallback *StaticTable, cfg ResolverConfig, observer Observer) *Resolver {
	def := DefaultResolverConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if fallback == nil {
		fallback = NewStaticTable()
	}
	return &Resolver{
		live:     live,
		cache:    cache.NewLRUCache[core.Rate](cfg.CacheSize, cfg.TTL),
		fallback: fallback,
		timeout:  cfg.Timeout,
		observer: observer,
	}
}

// Cache exposes the rate cache so it can be registered for cleanup.
func (r *Resolver) Cache() *cache.LRUCache[core.Rate] {
	return r.cache
}

func (r *Resolver) observe(source string) {
	if r.observer != nil {
		r.observer.RateLookup(source)
	}
}

// Preview resolves a rate for display figures: fresh cache, then the live
// source, then the last known cached value, then the fallback table.
func (r *Resolver) Preview(ctx context.Context, base, quote core.Currency) (core.Rate, error) {
	key := core.PairKey(base, quote)
	if rate, ok := r.cache.Get(key); ok {
		r.observe(SourceCache)
		return rate, nil
	}

	rate, err := r.fetch(ctx, base, quote)
	if err == nil {
		r.observe(SourceLive)
		return rate, nil
	}
	slog.WarnContext(ctx, "Live rate unavailable for preview", "pair", key, "error", err)

	if stale, _, ok := r.cache.Peek(key); ok {
		r.observe(SourceStale)
		stale.Source = SourceStale
		return stale, nil
	}
	rate, fbErr := r.fallback.Rate(ctx, base, quote)
	if fbErr == nil {
		r.observe(SourceFallback)
		return rate, nil
	}
	r.observe(SourceMissing)
	return core.Rate{}, &core.ConversionError{From: base, To: quote, Reason: "no live, cached or fallback rate", Err: core.ErrRateUnavailable}
}

// Live resolves a rate from the live source only.
func (r *Resolver) Live(ctx context.Context, base, quote core.Currency) (core.Rate, error) {
	rate, err := r.fetch(ctx, base, quote)
	if err != nil {
		r.observe(SourceMissing)
		return core.Rate{}, &core.ConversionError{From: base, To: quote, Reason: "live rate unavailable", Err: err}
	}
	r.observe(SourceLive)
	return rate, nil
}

// Refresh fetches the given pairs into the cache and returns how many
// succeeded.
func (r *Resolver) Refresh(ctx context.Context, pairs [][2]core.Currency) int {
	ok := 0
	for _, p := range pairs {
		if _, err := r.fetch(ctx, p[0], p[1]); err != nil {
			slog.WarnContext(ctx, "Rate refresh failed", "pair", core.PairKey(p[0], p[1]), "error", err)
			continue
		}
		ok++
	}
	return ok
}

// fetch asks the live source, collapsing concurrent requests for the same
// pair, and caches the answer.
func (r *Resolver) fetch(ctx context.Context, base, quote core.Currency) (core.Rate, error) {
	if r.live == nil {
		return core.Rate{}, core.ErrRateUnavailable
	}
	key := core.PairKey(base, quote)
	v, err, _ := r.group.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		rate, err := r.live.Rate(fctx, base, quote)
		if err != nil {
			return core.Rate{}, err
		}
		if err := rate.Validate(); err != nil {
			return core.Rate{}, err
		}
		r.cache.Set(key, rate)
		return rate, nil
	})
	if err != nil {
		return core.Rate{}, err
	}
	return v.(core.Rate), nil
}
