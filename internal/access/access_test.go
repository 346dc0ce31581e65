package access

import (
	"testing"

	"github.com/beetle-gw/beetle/internal/device"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/beetle-gw/beetle/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAllAlwaysTrue(t *testing.T) {
	var a AllowAll
	assert.True(t, a.Allow(1, 2, 3, OpRead))
}

type fakeController struct {
	calls int
	allow bool
}

func (f *fakeController) Allow(client, peripheral handle.DeviceID, attHandle uint16, op Operation) bool {
	f.calls++
	return f.allow
}

func TestCachedOnlyCallsInnerOnce(t *testing.T) {
	f := &fakeController{allow: true}
	c := NewCached(f)

	assert.True(t, c.Allow(1, 2, 5, OpRead))
	assert.True(t, c.Allow(1, 2, 5, OpRead))
	assert.True(t, c.Allow(1, 2, 5, OpRead))
	assert.Equal(t, 1, f.calls)
}

func TestCachedDistinguishesKeys(t *testing.T) {
	f := &fakeController{allow: false}
	c := NewCached(f)

	c.Allow(1, 2, 5, OpRead)
	c.Allow(1, 2, 5, OpWrite)
	c.Allow(1, 3, 5, OpRead)
	assert.Equal(t, 3, f.calls)
}

func TestInvalidateDeviceClearsMatchingEntries(t *testing.T) {
	f := &fakeController{allow: true}
	c := NewCached(f)

	c.Allow(1, 2, 5, OpRead)
	c.InvalidateDevice(2)
	c.Allow(1, 2, 5, OpRead)
	assert.Equal(t, 2, f.calls)
}

type nopTransport struct{}

func (nopTransport) Write([]byte) error { return nil }

func TestWireRegistryInvalidatesOnDisconnect(t *testing.T) {
	f := &fakeController{allow: true}
	c := NewCached(f)

	reg := registry.New(nil)
	c.WireRegistry(reg)

	d := device.New(0, device.LEPeripheral, nopTransport{}, hat.NewSingleAllocator(0))
	id := reg.Add(d)

	c.Allow(1, id, 5, OpRead)
	require.Equal(t, 1, f.calls)

	reg.Remove(id, nil)

	c.Allow(1, id, 5, OpRead)
	assert.Equal(t, 2, f.calls)
}
