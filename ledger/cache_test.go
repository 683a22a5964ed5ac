package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	t.Run("hit within ttl", func(t *testing.T) {
		c := newTTLCache[string, uint64](time.Minute)
		c.put("addr", 42)

		got, ok := c.get("addr")
		assert.True(t, ok)
		assert.Equal(t, uint64(42), got)
	})

	t.Run("miss after expiry", func(t *testing.T) {
		c := newTTLCache[string, uint64](time.Millisecond)
		c.put("addr", 42)
		time.Sleep(5 * time.Millisecond)

		_, ok := c.get("addr")
		assert.False(t, ok)
	})

	t.Run("zero ttl disables caching", func(t *testing.T) {
		c := newTTLCache[string, uint64](0)
		c.put("addr", 42)

		_, ok := c.get("addr")
		assert.False(t, ok)
	})

	t.Run("put overwrites", func(t *testing.T) {
		c := newTTLCache[string, uint64](time.Minute)
		c.put("addr", 1)
		c.put("addr", 2)

		got, _ := c.get("addr")
		assert.Equal(t, uint64(2), got)
	})
}
