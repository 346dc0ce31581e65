package hat

import (
	"testing"

	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockZeroOwnedByBeetle(t *testing.T) {
	b := NewBlockAllocator()
	assert.Equal(t, handle.BeetleDeviceID, b.GetDeviceForHandle(0))
	assert.Equal(t, handle.BeetleDeviceID, b.GetDeviceForHandle(255))
}

func TestReserveNeverAllocatesBlockZero(t *testing.T) {
	b := NewBlockAllocator()
	for i := handle.DeviceID(1); i < handle.DeviceID(NumBlocks); i++ {
		r := b.Reserve(i)
		require.False(t, r.IsNull())
		assert.NotEqual(t, uint16(0), r.Start)
	}
	// Now every non-zero block is taken; the next reservation fails.
	r := b.Reserve(handle.DeviceID(NumBlocks))
	assert.True(t, r.IsNull())
}

func TestReserveThenGetDeviceRangeUntilFree(t *testing.T) {
	b := NewBlockAllocator()
	r := b.Reserve(5)
	require.False(t, r.IsNull())
	assert.Equal(t, r, b.GetDeviceRange(5))

	freed := b.Free(5)
	assert.Equal(t, r, freed)
	assert.True(t, b.GetDeviceRange(5).IsNull())
}

func TestReserveIsIdempotentPerDevice(t *testing.T) {
	b := NewBlockAllocator()
	r1 := b.Reserve(9)
	r2 := b.Reserve(9)
	assert.Equal(t, r1, r2)
}

func TestGetDeviceForHandleInvariant(t *testing.T) {
	b := NewBlockAllocator()
	r := b.Reserve(3)
	for h := uint32(r.Start); h < uint32(r.End); h++ {
		assert.Equal(t, handle.DeviceID(3), b.GetDeviceForHandle(uint16(h)))
	}
}

func TestGetHandleRangeForUnownedBlock(t *testing.T) {
	b := NewBlockAllocator()
	r := b.GetHandleRange(300) // block 1, unowned initially
	assert.Equal(t, Range{Start: 256, End: 512}, r)
}

func TestFreeReturnsLastRangeWhenMultipleBlocksOwned(t *testing.T) {
	// This exercises spec.md §9 open question (b): BlockAllocator.Free
	// intentionally returns only the last freed range even when a
	// device owns several blocks, matching the source's documented
	// limitation.
	b := NewBlockAllocator()
	for i := 1; i < NumBlocks; i++ {
		b.owners[i] = handle.NullDeviceID
	}
	b.owners[2] = 42
	b.owners[5] = 42
	freed := b.Free(42)
	assert.Equal(t, blockRange(5), freed)
}

func TestSingleAllocatorImmutableExceptMatchingFree(t *testing.T) {
	s := NewSingleAllocator(7)
	assert.Equal(t, []handle.DeviceID{7}, s.GetDevices())

	// Reserve is a no-op regardless of argument: it reports the
	// argument's current range, which for 99 is null.
	r := s.Reserve(99)
	assert.Equal(t, Range{}, r)
	assert.Equal(t, handle.DeviceID(7), s.GetDeviceForHandle(0))

	// Free with the wrong id does nothing.
	assert.True(t, s.Free(99).IsNull())
	assert.Equal(t, handle.DeviceID(7), s.GetDeviceForHandle(0))

	// Free with the matching id clears it.
	freed := s.Free(7)
	assert.False(t, freed.IsNull())
	assert.Nil(t, s.GetDevices())
}
