package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	mock := clock.NewMock()
	l := New(2, 1, WithClock(mock))

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "keys are independent")

	mock.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	mock.Add(10 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "refill is capped")
}

func TestLimiterSweep(t *testing.T) {
	mock := clock.NewMock()
	l := New(1, 1, WithClock(mock))

	l.Allow("a")
	mock.Add(5 * time.Minute)
	l.Allow("b")

	assert.Equal(t, 1, l.Sweep(time.Minute))
	assert.Equal(t, 0, l.Sweep(time.Minute))
}

func TestLimiterSweptKeyStartsWithFullBurst(t *testing.T) {
	mock := clock.NewMock()
	l := New(2, 0.01, WithClock(mock))

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	mock.Add(2 * time.Minute)
	assert.Equal(t, 1, l.Sweep(time.Minute))
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
}

func TestLimiterFractionalCapacityStillAdmitsOne(t *testing.T) {
	mock := clock.NewMock()
	l := New(0.5, 1, WithClock(mock))

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}
