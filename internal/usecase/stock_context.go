package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	"TradeDesk/pkg/cache"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

const stockContextPrefix = "stock_context"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClockSleep returns a SleepFunc driven by clk.
func ClockSleep(clk clock.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		t := clk.Timer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StockContextConfig tunes freshness and retries.
type StockContextConfig struct {
	TTL        time.Duration
	MaxRetries int
	RetryBase  time.Duration
	RetryStep  time.Duration
}

// DefaultStockContextConfig returns a 5 minute TTL with two retries at 2s and 3s.
func DefaultStockContextConfig() StockContextConfig {
	return StockContextConfig{
		TTL:        5 * time.Minute,
		MaxRetries: 2,
		RetryBase:  2 * time.Second,
		RetryStep:  time.Second,
	}
}

// RetryDelay is base + idx*step for the idx-th retry (0-based).
func (c StockContextConfig) RetryDelay(idx int) time.Duration {
	return c.RetryBase + time.Duration(idx)*c.RetryStep
}

// StockContextOption configures StockContextCache.
type StockContextOption func(*StockContextCache)

func WithStockContextClock(clk clock.Clock) StockContextOption {
	return func(c *StockContextCache) { c.clock = clk }
}

func WithStockContextSleep(fn SleepFunc) StockContextOption {
	return func(c *StockContextCache) { c.sleep = fn }
}

func WithStockContextLogger(log *applogger.Logger) StockContextOption {
	return func(c *StockContextCache) { c.log = log.Named("stock_context") }
}

func WithStockContextMetrics(m drepo.Metrics) StockContextOption {
	return func(c *StockContextCache) { c.mx = m }
}

// StockContextCache serves stock-context snapshots with a TTL and shares one
// backend request among concurrent callers for the same symbol.
type StockContextCache struct {
	src   drepo.StockContextSource
	store cache.Service
	cfg   StockContextConfig
	group singleflight.Group
	clock clock.Clock
	sleep SleepFunc
	log   *applogger.Logger
	mx    drepo.Metrics
}

// NewStockContextCache creates the cache over src, storing entries in store.
func NewStockContextCache(src drepo.StockContextSource, store cache.Service, cfg StockContextConfig, opts ...StockContextOption) *StockContextCache {
	c := &StockContextCache{
		src:   src,
		store: store,
		cfg:   cfg,
		clock: clock.New(),
		log:   applogger.Nop(),
		mx:    drepo.NopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sleep == nil {
		c.sleep = ClockSleep(c.clock)
	}
	return c
}

// Get returns the snapshot for symbol. On failure the returned snapshot is the
// error marker (Error set) and err describes the last failure.
func (c *StockContextCache) Get(ctx context.Context, symbol string) (models.StockContext, error) {
	symbol = util.NormalizeSymbol(symbol)
	marker := models.StockContext{Symbol: symbol, Error: true}
	if !util.ValidTicker(symbol) {
		return marker, xhttp.NewValidationError("symbol", "symbol must be 1-5 letters A-Z")
	}

	if entry, ok := c.lookup(ctx, symbol); ok {
		c.mx.RecordCacheLookup("hit")
		return entry.Data, nil
	}

	// the fetch outlives any single caller; each caller only stops waiting
	ch := c.group.DoChan(symbol, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), symbol)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.mx.RecordCacheLookup("shared")
		} else {
			c.mx.RecordCacheLookup("miss")
		}
		if res.Err != nil {
			return marker, res.Err
		}
		return res.Val.(models.StockContext), nil
	case <-ctx.Done():
		return marker, ctx.Err()
	}
}

// Invalidate drops the cached entry for symbol.
func (c *StockContextCache) Invalidate(ctx context.Context, symbol string) error {
	return c.store.Delete(ctx, cache.GenerateKey(stockContextPrefix, util.NormalizeSymbol(symbol)))
}

func (c *StockContextCache) lookup(ctx context.Context, symbol string) (models.StockContextEntry, bool) {
	var entry models.StockContextEntry
	err := c.store.Get(ctx, cache.GenerateKey(stockContextPrefix, symbol), &entry)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.log.Warn("cache read failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
		return entry, false
	}
	return entry, entry.Fresh(c.clock.Now(), c.cfg.TTL)
}

func (c *StockContextCache) fetch(ctx context.Context, symbol string) (models.StockContext, error) {
	start := c.clock.Now()
	defer func() { c.mx.RecordLatency("stock_context", c.clock.Since(start)) }()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay(attempt - 1)
			c.log.Debug("retrying stock context",
				applogger.String("symbol", symbol),
				applogger.Int("retry", attempt),
				applogger.Duration("delay_ms", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return models.StockContext{}, err
			}
		}

		data, err := c.src.StockContext(ctx, symbol)
		if err == nil {
			data.Symbol = symbol
			entry := models.StockContextEntry{Symbol: symbol, Data: data, FetchedAt: c.clock.Now()}
			if err := c.store.Set(ctx, cache.GenerateKey(stockContextPrefix, symbol), entry, c.cfg.TTL); err != nil {
				c.log.Warn("cache write failed", applogger.String("symbol", symbol), applogger.Error(err))
			}
			return data, nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}
	}

	c.mx.RecordError("stock_context")
	c.log.Warn("stock context unavailable", applogger.String("symbol", symbol), applogger.Error(lastErr))
	return models.StockContext{}, fmt.Errorf("stock context %s: %w", symbol, lastErr)
}

// retryable is true for network failures and 5xx rejections.
func retryable(err error) bool {
	var appErr *xhttp.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case xhttp.CodeTransport:
		return true
	case xhttp.CodeServerRejection:
		return appErr.Status >= 500
	}
	return false
}
