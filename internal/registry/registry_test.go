package registry

import (
	"testing"

	"github.com/beetle-gw/beetle/internal/device"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Write(buf []byte) error { return nil }

func TestAddAssignsIDAndFiresOnConnect(t *testing.T) {
	r := New(nil)
	fired := make(chan int, 1)
	r.On(OnConnect, func(d *device.Device) { fired <- int(d.ID) })

	d := device.New(0, device.LEPeripheral, nopTransport{}, hat.NewBlockAllocator())
	id := r.Add(d)

	assert.Equal(t, id, d.ID)
	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, d, got)

	select {
	case fid := <-fired:
		assert.Equal(t, int(id), fid)
	default:
		t.Fatal("OnConnect handler never fired")
	}
}

func TestAddAssignsDistinctIDs(t *testing.T) {
	r := New(nil)
	d1 := device.New(0, device.LEPeripheral, nopTransport{}, hat.NewBlockAllocator())
	d2 := device.New(0, device.LEPeripheral, nopTransport{}, hat.NewBlockAllocator())
	id1 := r.Add(d1)
	id2 := r.Add(d2)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.Len())
}

func TestRemoveFreesHATBlocksAndFiresOnDisconnect(t *testing.T) {
	r := New(nil)
	d := device.New(0, device.LEPeripheral, nopTransport{}, hat.NewBlockAllocator())
	id := r.Add(d)

	ha := hat.NewBlockAllocator()
	ha.Reserve(id)

	fired := make(chan struct{}, 1)
	r.On(OnDisconnect, func(d *device.Device) { fired <- struct{}{} })

	r.Remove(id, []hat.HAT{ha})

	_, ok := r.Get(id)
	assert.False(t, ok)
	assert.True(t, ha.GetDeviceRange(id).IsNull())
	assert.True(t, d.IsStopped())

	select {
	case <-fired:
	default:
		t.Fatal("OnDisconnect handler never fired")
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	r := New(nil)
	assert.NotPanics(t, func() { r.Remove(99, nil) })
}
