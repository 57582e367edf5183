package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	applogger "TradeDesk/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	putErr error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestWatchlistLoadFiltersAndCaps(t *testing.T) {
	kv := newMemKV()
	var symbols []string
	for i := 0; i < 26; i++ {
		symbols = append(symbols, fmt.Sprintf(`"%c"`, 'A'+i))
	}
	kv.data[WatchlistKey] = `["bad1","aapl","AAPL",` + strings.Join(symbols, ",") + `]`

	w := NewWatchlist(kv, 20, applogger.Nop())
	got, err := w.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, "AAPL", got[0])
	assert.Equal(t, "A", got[1])
	assert.Equal(t, "S", got[19])
}

func TestWatchlistCorruptValueIsEmpty(t *testing.T) {
	kv := newMemKV()
	kv.data[WatchlistKey] = `{not json`

	w := NewWatchlist(kv, 20, applogger.Nop())
	got, err := w.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWatchlistToggle(t *testing.T) {
	kv := newMemKV()
	w := NewWatchlist(kv, 2, applogger.Nop())
	ctx := context.Background()

	on, err := w.Toggle(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, w.Contains("AAPL"))
	assert.JSONEq(t, `["AAPL"]`, kv.data[WatchlistKey])

	on, err = w.Toggle(ctx, "not-a-ticker")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = w.Toggle(ctx, "MSFT")
	require.NoError(t, err)
	on, err = w.Toggle(ctx, "TSLA")
	require.NoError(t, err)
	assert.False(t, on, "cap reached")
	assert.Equal(t, []string{"AAPL", "MSFT"}, w.Symbols())

	on, err = w.Toggle(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []string{"MSFT"}, w.Symbols())

	reloaded := NewWatchlist(kv, 2, applogger.Nop())
	got, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, got)
}

func TestWatchlistToggleKeepsStateOnSaveError(t *testing.T) {
	kv := newMemKV()
	kv.putErr = errors.New("disk full")
	w := NewWatchlist(kv, 20, applogger.Nop())

	_, err := w.Toggle(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Empty(t, w.Symbols())
}

func TestWatchlistClear(t *testing.T) {
	kv := newMemKV()
	w := NewWatchlist(kv, 20, applogger.Nop())
	ctx := context.Background()

	_, err := w.Toggle(ctx, "AAPL")
	require.NoError(t, err)
	require.NoError(t, w.Clear(ctx))
	assert.Empty(t, w.Symbols())
	_, ok := kv.data[WatchlistKey]
	assert.False(t, ok)
}
