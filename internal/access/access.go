// Package access defines the interface the router consults before
// forwarding a PDU or fanning out a notification: whether a given
// client device is currently permitted to read, write, or be notified
// of a given attribute on a given peripheral (spec.md §4.6: "every
// forwarded PDU is subject to an access control check before the
// router touches the destination's handles").
//
// The real controller (an HTTPS service storing per-gateway,
// per-device access rules) is out of scope for the core (spec.md
// §1 Non-goals); this package gives the router something concrete to
// call, with a default implementation that allows everything, and a
// cached-decision wrapper for a future HTTP-backed implementation to
// plug into without the router needing to change.
package access

import (
	"sync"

	"github.com/beetle-gw/beetle/internal/device"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/registry"
)

// Operation names the kind of access being checked.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpNotify
	OpIndicate
	// OpReadType is the per-type short-circuit check the router runs
	// before forwarding a Read By Type Request at all (the original
	// controller's canReadType(source, destination, att_type)), as
	// opposed to OpRead's per-attribute check once a handle is known.
	// Callers pass handle 0, which is never a valid ATT handle, since
	// no specific attribute is in scope yet.
	OpReadType
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpNotify:
		return "notify"
	case OpIndicate:
		return "indicate"
	case OpReadType:
		return "read-type"
	default:
		return "unknown"
	}
}

// Controller decides whether a client is allowed to perform op against
// a given attribute handle on a given peripheral.
type Controller interface {
	Allow(client, peripheral handle.DeviceID, attHandle uint16, op Operation) bool
}

// AllowAll is a Controller that permits every request. It is the
// default used when no access-control backend is configured, matching
// a gateway running without the HTTPS controller attached.
type AllowAll struct{}

func (AllowAll) Allow(client, peripheral handle.DeviceID, attHandle uint16, op Operation) bool {
	return true
}

// cacheKey identifies one cached access decision.
type cacheKey struct {
	client, peripheral handle.DeviceID
	attHandle          uint16
	op                 Operation
}

// Cached wraps a Controller with an in-memory decision cache, so a
// slow (e.g. network-backed) Controller implementation is only
// consulted once per distinct (client, peripheral, handle, op) tuple
// until InvalidateDevice is called for one of its devices. WireRegistry
// hooks InvalidateDevice to the registry's OnDisconnect/OnMapped/
// OnUnmapped events, since access rules are scoped to a live device
// mapping.
type Cached struct {
	inner Controller

	mu    sync.RWMutex
	cache map[cacheKey]bool
}

// NewCached wraps inner with a decision cache.
func NewCached(inner Controller) *Cached {
	return &Cached{inner: inner, cache: make(map[cacheKey]bool)}
}

func (c *Cached) Allow(client, peripheral handle.DeviceID, attHandle uint16, op Operation) bool {
	key := cacheKey{client, peripheral, attHandle, op}

	c.mu.RLock()
	v, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return v
	}

	v = c.inner.Allow(client, peripheral, attHandle, op)

	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// InvalidateDevice drops every cached decision involving d as either
// client or peripheral.
func (c *Cached) InvalidateDevice(d handle.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if k.client == d || k.peripheral == d {
			delete(c.cache, k)
		}
	}
}

// WireRegistry hooks InvalidateDevice into reg's OnDisconnect, OnMapped
// and OnUnmapped events, so a cached decision never outlives the
// device mapping it was scoped to.
func (c *Cached) WireRegistry(reg *registry.Registry) {
	invalidate := func(d *device.Device) { c.InvalidateDevice(d.ID) }
	reg.On(registry.OnDisconnect, invalidate)
	reg.On(registry.OnMapped, invalidate)
	reg.On(registry.OnUnmapped, invalidate)
}
