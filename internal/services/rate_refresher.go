package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetledger/internal/core"
)

// PairRefresher fetches currency pairs into a rate cache.
// *currency.Resolver implements it.
type PairRefresher interface {
	Refresh(ctx context.Context, pairs [][2]core.Currency) int
}

// RateRefresherConfig holds configuration for the rate refresher
type RateRefresherConfig struct {
	// Interval is how often the pairs are refreshed (default: 10m)
	Interval time.Duration

	// Pairs are the base/quote pairs to keep warm
	Pairs [][2]core.Currency
}

// DefaultRateRefresherConfig returns sensible defaults
func DefaultRateRefresherConfig() RateRefresherConfig {
	return RateRefresherConfig{
		Interval: 10 * time.Minute,
	}
}

// RateRefresher keeps configured currency pairs warm in the rate cache so
// previews rarely wait on the provider.
type RateRefresher struct {
	rates  PairRefresher
	config RateRefresherConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRateRefresher(rates PairRefresher, config RateRefresherConfig) *RateRefresher {
	if config.Interval <= 0 {
		config.Interval = DefaultRateRefresherConfig().Interval
	}
	return &RateRefresher{rates: rates, config: config}
}

// Start begins the refresh loop. Returns an error if already running.
func (r *RateRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("rate refresher is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Rate refresher started",
		"interval", r.config.Interval,
		"pairs", len(r.config.Pairs))
	return nil
}

// Stop stops the loop and waits for the current refresh to finish.
func (r *RateRefresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Rate refresher stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Rate refresher stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *RateRefresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RateRefresher) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Warm the cache immediately on startup
	r.refresh(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RateRefresher) refresh(ctx context.Context) {
	if len(r.config.Pairs) == 0 {
		return
	}
	ok := r.rates.Refresh(ctx, r.config.Pairs)
	slog.DebugContext(ctx, "Rates refreshed", "ok", ok, "pairs", len(r.config.Pairs))
}
