package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	drepo "TradeDesk/internal/domain/repository"
	applogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"
)

// WatchlistKey is the store key holding the JSON symbol list.
const WatchlistKey = "watchlist"

// DefaultWatchlistMax caps the number of watched symbols.
const DefaultWatchlistMax = 20

// Watchlist is an ordered set of ticker symbols persisted in a KVStore.
type Watchlist struct {
	store drepo.KVStore
	max   int
	log   *applogger.Logger

	mu      sync.RWMutex
	symbols []string
}

// NewWatchlist creates an empty watchlist; call Load to read the stored one.
func NewWatchlist(store drepo.KVStore, max int, log *applogger.Logger) *Watchlist {
	if max <= 0 {
		max = DefaultWatchlistMax
	}
	return &Watchlist{store: store, max: max, log: log.Named("watchlist")}
}

// Load reads the stored list, dropping invalid and duplicate symbols and
// anything past the cap. A corrupt value yields an empty list.
func (w *Watchlist) Load(ctx context.Context) ([]string, error) {
	raw, ok, err := w.store.Get(ctx, WatchlistKey)
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}

	var stored []string
	if ok {
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			w.log.Warn("discarding corrupt watchlist", applogger.Error(err))
			stored = nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbols = w.sanitize(stored)
	return append([]string(nil), w.symbols...), nil
}

func (w *Watchlist) sanitize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !util.ValidTicker(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == w.max {
			break
		}
	}
	return out
}

// Symbols returns the watched symbols in insertion order.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.symbols...)
}

// Contains reports whether symbol is watched.
func (w *Watchlist) Contains(symbol string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexLocked(util.NormalizeSymbol(symbol)) >= 0
}

func (w *Watchlist) indexLocked(symbol string) int {
	for i, s := range w.symbols {
		if s == symbol {
			return i
		}
	}
	return -1
}

// Toggle adds or removes symbol and reports whether it is watched afterwards.
// Invalid symbols and additions past the cap are ignored.
func (w *Watchlist) Toggle(ctx context.Context, symbol string) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	if !util.ValidTicker(symbol) {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	next := append([]string(nil), w.symbols...)
	watched := false
	if i := w.indexLocked(symbol); i >= 0 {
		next = append(next[:i], next[i+1:]...)
	} else {
		if len(next) >= w.max {
			return false, nil
		}
		next = append(next, symbol)
		watched = true
	}

	if err := w.saveLocked(ctx, next); err != nil {
		return !watched, err
	}
	w.symbols = next
	return watched, nil
}

// Clear removes every symbol.
func (w *Watchlist) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.store.Delete(ctx, WatchlistKey); err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}
	w.symbols = nil
	return nil
}

func (w *Watchlist) saveLocked(ctx context.Context, symbols []string) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}
	if err := w.store.Put(ctx, WatchlistKey, string(data)); err != nil {
		return fmt.Errorf("save watchlist: %w", err)
	}
	return nil
}
