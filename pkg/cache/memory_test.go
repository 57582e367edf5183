package cache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestMemoryCacheExpiry(t *testing.T) {
	clk := clock.NewMock()
	mc := NewMemoryCache(WithMemoryClock(clk), WithMemoryCleanup(time.Hour))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "AAPL", entry{Symbol: "AAPL", Price: 190.5}, 5*time.Minute))

	var got entry
	require.NoError(t, mc.Get(ctx, "AAPL", &got))
	assert.Equal(t, entry{Symbol: "AAPL", Price: 190.5}, got)

	clk.Add(5*time.Minute - time.Second)
	ok, err := mc.Exists(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Add(time.Second)
	assert.ErrorIs(t, mc.Get(ctx, "AAPL", &got), ErrCacheMiss)
}

func TestMemoryCacheNoExpiry(t *testing.T) {
	clk := clock.NewMock()
	mc := NewMemoryCache(WithMemoryClock(clk), WithMemoryCleanup(24*time.Hour))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "list", []string{"AAPL", "MSFT"}, 0))
	// thirty cleanup sweeps pass over the entry
	clk.Add(30 * 24 * time.Hour)

	var got []string
	require.NoError(t, mc.Get(ctx, "list", &got))
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clk := clock.NewMock()
	mc := NewMemoryCache(WithMemoryClock(clk), WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	clk.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	clk.Add(time.Second)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	clk.Add(time.Second)

	require.NoError(t, mc.Set(ctx, "c", 3, 0))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}

func TestLayeredCacheFallsThroughToRemote(t *testing.T) {
	clk := clock.NewMock()
	remote := NewMemoryCache(WithMemoryClock(clk))
	local := NewMemoryCache(WithMemoryClock(clk))
	lc := NewLayeredCache(local, remote, WithLayeredMemoryTTL(time.Minute))
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "k", "v", time.Hour))

	var got string
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "v", got)

	ok, _ := local.Exists(ctx, "k")
	assert.True(t, ok, "remote hit should populate L1")

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}
