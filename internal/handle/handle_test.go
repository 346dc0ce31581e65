package handle

import (
	"testing"

	"github.com/beetle-gw/beetle/internal/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFreshnessPerClient(t *testing.T) {
	var c Cache
	c.Set([]byte{0x01, 0x02})

	assert.False(t, c.Seen(1))
	c.MarkSeen(1)
	assert.True(t, c.Seen(1))
	assert.False(t, c.Seen(2))

	// A fresh write clears the seen-by set for everyone.
	c.Set([]byte{0x03})
	assert.False(t, c.Seen(1))
}

func TestCacheInfiniteNeverClears(t *testing.T) {
	c := Cache{Infinite: true}
	c.Set([]byte{0xAA})
	c.MarkSeen(7)
	c.Set([]byte{0xAA}) // re-set, e.g. idempotent discovery replay
	assert.True(t, c.Seen(7))
}

func TestSubscribers(t *testing.T) {
	h := New(0x0020, uuid.Short(0x2A37))
	h.Variant = CharacteristicValue

	assert.False(t, h.IsSubscribed(5))
	h.Subscribe(5)
	assert.True(t, h.IsSubscribed(5))
	h.Unsubscribe(5)
	assert.False(t, h.IsSubscribed(5))
}

func TestStringDoesNotPanicOnZeroValue(t *testing.T) {
	var h Handle
	require.NotPanics(t, func() { _ = h.String() })
}
