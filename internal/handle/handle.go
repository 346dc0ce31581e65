// Package handle implements the attribute handle model: a single
// entry in a device's GATT table, its discovery-time back-pointers,
// and its per-handle value cache and subscriber set (spec.md §3, §4.3).
package handle

import (
	"fmt"
	"time"

	"github.com/beetle-gw/beetle/internal/uuid"
)

// Variant tags what role a handle plays in the GATT hierarchy,
// mirroring the teacher's handleType enum (typService, typCharacteristic,
// typCharacteristicValue, typDescriptor) generalized with an explicit
// ClientCharCfg tag, since the router treats CCCDs specially (spec.md
// §4.6 branch 1).
type Variant int

const (
	// Generic is any attribute the router does not special-case:
	// an ordinary descriptor or an as-yet-unclassified handle.
	Generic Variant = iota
	PrimaryService
	Characteristic
	CharacteristicValue
	ClientCharCfg
)

func (v Variant) String() string {
	switch v {
	case PrimaryService:
		return "PrimaryService"
	case Characteristic:
		return "Characteristic"
	case CharacteristicValue:
		return "CharacteristicValue"
	case ClientCharCfg:
		return "ClientCharCfg"
	default:
		return "Generic"
	}
}

// DeviceID mirrors registry.DeviceID without importing the registry
// package (which itself depends on handle), avoiding an import cycle.
type DeviceID int32

const (
	// BeetleDeviceID is the gateway's own simulated device (spec.md §3).
	BeetleDeviceID DeviceID = 0
	// NullDeviceID means "no such device" / "no mapping".
	NullDeviceID DeviceID = -1
)

// Cache holds a handle's most recently read value plus the set of
// devices that have already been served that exact value (spec.md
// §4.3: "freshness-per-client" cache semantics).
type Cache struct {
	Value     []byte
	UpdatedAt time.Time
	// Infinite marks a cache slot that is set once, at discovery
	// time, and never invalidated: service and characteristic
	// declarations (spec.md §3).
	Infinite bool
	cachedTo map[DeviceID]struct{}
}

// Seen reports whether id has already been served this cache's
// current value.
func (c *Cache) Seen(id DeviceID) bool {
	if c.cachedTo == nil {
		return false
	}
	_, ok := c.cachedTo[id]
	return ok
}

// MarkSeen records that id has now been served this cache's value.
func (c *Cache) MarkSeen(id DeviceID) {
	if c.cachedTo == nil {
		c.cachedTo = make(map[DeviceID]struct{})
	}
	c.cachedTo[id] = struct{}{}
}

// Set replaces the cached value and, unless Infinite, clears the
// seen-by set so that every client will re-fetch the new value once
// (spec.md §4.3: "Writes that modify an attribute MUST clear
// cached_set before recording the new value").
func (c *Cache) Set(value []byte) {
	c.Value = append([]byte(nil), value...)
	c.UpdatedAt = time.Now()
	if !c.Infinite {
		c.cachedTo = nil
	}
}

// Handle is a single attribute in a device's GATT table.
type Handle struct {
	N       uint16 // attribute handle number, non-zero
	UUID    uuid.UUID
	Variant Variant

	// ServiceHandle, CharHandle, and EndGroupHandle are discovery
	// back-pointers used to answer grouping PDUs (find-by-type,
	// read-by-group) without re-walking the table (spec.md §3).
	ServiceHandle   uint16
	CharHandle      uint16
	EndGroupHandle  uint16
	// ValueHandle is only meaningful on a Characteristic declaration
	// handle: it names the handle of the paired CharacteristicValue.
	ValueHandle uint16

	// Props holds the characteristic properties byte (read/write/
	// write-no-response/notify/indicate) as declared at discovery, or
	// as locally configured for the internal device.
	Props uint8

	Cache       Cache
	Subscribers map[DeviceID]struct{}
}

// New returns a zero-valued Generic handle numbered n.
func New(n uint16, u uuid.UUID) *Handle {
	return &Handle{N: n, UUID: u}
}

// IsSubscribed reports whether id is currently subscribed (has
// written a nonzero CCCD value referring to this value handle).
func (h *Handle) IsSubscribed(id DeviceID) bool {
	_, ok := h.Subscribers[id]
	return ok
}

// Subscribe adds id to the subscriber set.
func (h *Handle) Subscribe(id DeviceID) {
	if h.Subscribers == nil {
		h.Subscribers = make(map[DeviceID]struct{})
	}
	h.Subscribers[id] = struct{}{}
}

// Unsubscribe removes id from the subscriber set. It is a no-op if id
// was not subscribed.
func (h *Handle) Unsubscribe(id DeviceID) {
	delete(h.Subscribers, id)
}

// String renders a short debug dump, matching the teacher's pattern
// of a compact Stringer on its wire-ish value types (UUID, BDAddr).
func (h *Handle) String() string {
	return fmt.Sprintf("Handle{n=0x%04x uuid=%s variant=%s subscribers=%d}",
		h.N, h.UUID, h.Variant, len(h.Subscribers))
}
