package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortRoundTrip(t *testing.T) {
	u := Short(0x2A00)
	assert.True(t, u.IsShort())
	assert.Equal(t, uint16(0x2A00), u.Short16())
}

func TestExpandRoundTrip(t *testing.T) {
	u := Short(0x180D)
	long := u.Expand()
	assert.True(t, long.IsShort())
	assert.Equal(t, uint16(0x180D), long.Short16())
	assert.True(t, Equal(u, long))
}

func TestParseDashed(t *testing.T) {
	u, err := Parse("0000180d-0000-1000-8000-00805f9b34fb")
	require.NoError(t, err)
	assert.True(t, u.IsShort())
	assert.Equal(t, uint16(0x180D), u.Short16())
}

func TestParseShortHex(t *testing.T) {
	u, err := Parse("2A00")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2A00), u.Short16())
}

func TestParseInvalidLength(t *testing.T) {
	_, err := Parse("abcd12")
	assert.Error(t, err)
}

func TestNotShort(t *testing.T) {
	b := make([]byte, Len)
	for i := range b {
		b[i] = byte(i + 1)
	}
	u := New(b)
	assert.False(t, u.IsShort())
}

func TestEqualAndCompare(t *testing.T) {
	a := Short(0x1800)
	b := Short(0x1800).Expand()
	assert.True(t, Equal(a, b))
	assert.Equal(t, 0, Compare(a, b))

	c := Short(0x1801)
	assert.False(t, Equal(a, c))
	assert.NotEqual(t, 0, Compare(a, c))
}

func TestBytesRoundTrip(t *testing.T) {
	u := Short(0x2902)
	v := New(u.Bytes())
	assert.True(t, Equal(u, v))
}

func TestString(t *testing.T) {
	u := Short(0x2A00)
	assert.Equal(t, "00002a00-0000-1000-8000-00805f9b34fb", u.String())
}
