// Package hat implements the Handle Allocation Table: the data
// structure that, on the client side of a device, maps the 16-bit ATT
// handle space into blocks owned by peer devices (spec.md §3, §4.4).
package hat

import (
	"sync"

	"github.com/beetle-gw/beetle/internal/handle"
)

// BlockSize is the number of handles in a single HAT block.
const BlockSize = 256

// NumBlocks is the number of blocks a BlockAllocator partitions the
// 16-bit handle space into (256 * 256 == 65536).
const NumBlocks = 256

// Range is an inclusive-exclusive-by-convention handle range,
// [Start, End), matching the HAT's block arithmetic. A zero Range
// (Start == End == 0) denotes "no mapping", spec.md §4.4's "null
// range".
type Range struct {
	Start, End uint16
}

// IsNull reports whether r is the null range.
func (r Range) IsNull() bool { return r.Start == 0 && r.End == 0 }

// Contains reports whether h falls within [r.Start, r.End).
func (r Range) Contains(h uint16) bool { return h >= r.Start && h < r.End }

// HAT maps handles to owning peer devices. BlockAllocator and
// SingleAllocator both implement it.
type HAT interface {
	// GetDevices returns the set of device ids currently owning at
	// least one block (or, for SingleAllocator, the configured id).
	GetDevices() []handle.DeviceID
	// GetDeviceRange returns the range owned by d, or the null range
	// if d owns nothing.
	GetDeviceRange(d handle.DeviceID) Range
	// GetDeviceForHandle returns the device owning h, or NullDeviceID.
	GetDeviceForHandle(h uint16) handle.DeviceID
	// GetHandleRange returns the block range h falls in, even if that
	// block is currently unowned.
	GetHandleRange(h uint16) Range
	// Reserve allocates a block (or, for SingleAllocator, is a no-op)
	// to d and returns the allocated range, or the null range if no
	// block was free.
	Reserve(d handle.DeviceID) Range
	// Free releases every block owned by d and returns the range that
	// was freed (spec.md §4.4 / §9 open question (b): only the last
	// range freed is returned when a device owns more than one block).
	Free(d handle.DeviceID) Range
}

// BlockAllocator partitions the handle space into NumBlocks fixed
// blocks of BlockSize handles each. Block 0 is permanently reserved
// for handle.BeetleDeviceID; it can never be reserved or freed.
type BlockAllocator struct {
	mu     sync.Mutex
	owners [NumBlocks]handle.DeviceID
}

// NewBlockAllocator returns a BlockAllocator with block 0 owned by
// handle.BeetleDeviceID and every other block free.
func NewBlockAllocator() *BlockAllocator {
	b := &BlockAllocator{}
	for i := range b.owners {
		b.owners[i] = handle.NullDeviceID
	}
	b.owners[0] = handle.BeetleDeviceID
	return b
}

func blockRange(i int) Range {
	return Range{Start: uint16(i * BlockSize), End: uint16((i + 1) * BlockSize)}
}

// blockOf returns the block index h falls in. Because BlockSize and
// NumBlocks are both 256, this is h / 256, covering the whole 16-bit
// space without overflow.
func blockOf(h uint16) int { return int(h) / BlockSize }

func (b *BlockAllocator) GetDevices() []handle.DeviceID {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[handle.DeviceID]struct{})
	var out []handle.DeviceID
	for _, id := range b.owners {
		if id == handle.NullDeviceID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (b *BlockAllocator) GetDeviceRange(d handle.DeviceID) Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceRangeLocked(d)
}

func (b *BlockAllocator) deviceRangeLocked(d handle.DeviceID) Range {
	for i, id := range b.owners {
		if id == d {
			return blockRange(i)
		}
	}
	return Range{}
}

func (b *BlockAllocator) GetDeviceForHandle(h uint16) handle.DeviceID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owners[blockOf(h)]
}

func (b *BlockAllocator) GetHandleRange(h uint16) Range {
	return blockRange(blockOf(h))
}

// Reserve allocates the first free block (never block 0) to d. If d
// already owns a block, Reserve returns that block unchanged: callers
// (registry.mapDevices) treat a repeat reservation as a no-op warning,
// not as an error (spec.md §4.7).
func (b *BlockAllocator) Reserve(d handle.DeviceID) Range {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r := b.deviceRangeLocked(d); !r.IsNull() {
		return r
	}
	for i := 1; i < NumBlocks; i++ {
		if b.owners[i] == handle.NullDeviceID {
			b.owners[i] = d
			return blockRange(i)
		}
	}
	return Range{}
}

// Free releases every block owned by d, returning the last range
// freed (spec.md §9 open question (b)); or the null range if d owned
// nothing.
func (b *BlockAllocator) Free(d handle.DeviceID) Range {
	b.mu.Lock()
	defer b.mu.Unlock()

	var freed Range
	for i, id := range b.owners {
		if id == d {
			b.owners[i] = handle.NullDeviceID
			freed = blockRange(i)
		}
	}
	return freed
}

// SingleAllocator is a trivial HAT used by devices whose client role
// always points at exactly one fixed peer (e.g. a proxy device that
// only ever talks to the device it proxies). It is immutable after
// construction: Reserve is a no-op, and Free only clears the id when
// it matches.
type SingleAllocator struct {
	mu sync.Mutex
	id handle.DeviceID
}

// NewSingleAllocator returns a SingleAllocator permanently pointed at id.
func NewSingleAllocator(id handle.DeviceID) *SingleAllocator {
	return &SingleAllocator{id: id}
}

func (s *SingleAllocator) GetDevices() []handle.DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == handle.NullDeviceID {
		return nil
	}
	return []handle.DeviceID{s.id}
}

func (s *SingleAllocator) GetDeviceRange(d handle.DeviceID) Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != handle.NullDeviceID && s.id == d {
		return Range{Start: 0, End: 0xFFFF}
	}
	return Range{}
}

func (s *SingleAllocator) GetDeviceForHandle(h uint16) handle.DeviceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *SingleAllocator) GetHandleRange(h uint16) Range {
	return Range{Start: 0, End: 0xFFFF}
}

// Reserve is a no-op: a SingleAllocator's mapping is fixed at
// construction.
func (s *SingleAllocator) Reserve(d handle.DeviceID) Range {
	return s.GetDeviceRange(d)
}

// Free clears the mapping only if d is the currently-configured id.
func (s *SingleAllocator) Free(d handle.DeviceID) Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != d {
		return Range{}
	}
	s.id = handle.NullDeviceID
	return Range{Start: 0, End: 0xFFFF}
}
