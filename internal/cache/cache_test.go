package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](clk)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "commissions:mappings:customer", cacheKey(" Commissions ", "", "mappings", "CUSTOMER"))
}
