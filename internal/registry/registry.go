// Package registry implements Beetle's device table: the single
// source of truth mapping device ids to live Device objects, plus the
// event-handler vectors the router and controller client hook into on
// connect, disconnect, and HAT map/unmap (spec.md §4.7).
package registry

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/beetle-gw/beetle/internal/device"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Handler is invoked for registry lifecycle events. It must not call
// back into the Registry synchronously under its own lock (Add/Remove
// fire handlers after downgrading to a state where re-entrant lookups
// are safe, but a handler that blocks holds up every other handler of
// the same event).
type Handler func(d *device.Device)

// EventKind names one of the five lifecycle events Beetle's original
// controller client and router subscribe to (spec.md §4.7).
type EventKind int

const (
	OnConnect EventKind = iota
	OnDisconnect
	OnMapped
	OnUnmapped
	OnServiceChanged
	numEvents
)

// Registry is the gateway's device table: every connected device,
// indexed by id, plus the handler vectors fired on each lifecycle
// event. The device map is backed by cornelk/hashmap for concurrent,
// read-heavy lookups (every router dispatch reads it at least once);
// the handler vectors are guarded by a plain mutex since they're
// mutated far less often and read in full on every fire, and the id
// counter is updated atomically.
type Registry struct {
	devices *hashmap.Map[handle.DeviceID, *device.Device]

	nextID int64 // atomic, starts above handle.BeetleDeviceID

	mu       sync.RWMutex
	handlers [numEvents][]Handler

	log *logrus.Entry
}

// New returns an empty Registry. log may be nil, in which case a
// discarding logger is used.
func New(log *logrus.Entry) *Registry {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	r := &Registry{
		devices: hashmap.New[handle.DeviceID, *device.Device](),
		log:     log,
	}
	atomic.StoreInt64(&r.nextID, int64(handle.BeetleDeviceID)+1)
	return r
}

// On registers fn to run whenever kind fires, in registration order.
func (r *Registry) On(kind EventKind, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], fn)
}

func (r *Registry) fire(kind EventKind, d *device.Device) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[kind]...)
	r.mu.RUnlock()
	for _, h := range hs {
		h(d)
	}
}

// Add assigns d a fresh id, publishes it to the device table, and
// fires OnConnect. The id assignment and table insert happen under an
// exclusive section; handler dispatch happens after downgrading (no
// lock held at all, since the table itself is already safe for
// concurrent readers) so a slow or reentrant handler cannot block
// other Add/Remove calls (spec.md §4.7: "addDevice ... downgrades its
// exclusive lock to shared before invoking handlers").
func (r *Registry) Add(d *device.Device) handle.DeviceID {
	id := handle.DeviceID(atomic.AddInt64(&r.nextID, 1) - 1)
	d.ID = id
	r.devices.Set(id, d)
	r.log.WithFields(logrus.Fields{"device_id": id, "type": d.Type.String()}).Info("device connected")
	r.fire(OnConnect, d)
	return id
}

// Get returns the device with id, or (nil, false).
func (r *Registry) Get(id handle.DeviceID) (*device.Device, bool) {
	return r.devices.Get(id)
}

// All returns every currently registered device. The slice is a
// snapshot; devices may connect or disconnect concurrently with the
// caller iterating it.
func (r *Registry) All() []*device.Device {
	out := make([]*device.Device, 0, r.devices.Len())
	r.devices.Range(func(_ handle.DeviceID, d *device.Device) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Len returns the number of currently registered devices.
func (r *Registry) Len() int { return r.devices.Len() }

// Remove tears d down: it stops the device's transport and
// transaction queue, releases every block the HAT has reserved on d's
// behalf among other devices' HATs (the caller passes the set of HATs
// that might reference d, since the registry itself holds no
// reference to them), fires OnDisconnect, and removes d from the
// table. It is idempotent; calling Remove on an id not present is a
// no-op.
func (r *Registry) Remove(id handle.DeviceID, hats []hat.HAT) {
	d, ok := r.devices.Get(id)
	if !ok {
		return
	}
	d.Stop()
	for _, h := range hats {
		if freed := h.Free(id); !freed.IsNull() {
			r.log.WithFields(logrus.Fields{"device_id": id, "freed_start": freed.Start, "freed_end": freed.End}).
				Debug("released HAT block on disconnect")
		}
	}
	r.devices.Del(id)
	r.log.WithField("device_id", id).Info("device disconnected")
	r.fire(OnDisconnect, d)
}

// Mapped fires OnMapped for d. The caller invokes it after reserving a
// HAT block for d on behalf of another device (spec.md §4.4: mapping
// one device's handle space into another's); nothing in the router
// calls it.
func (r *Registry) Mapped(d *device.Device) { r.fire(OnMapped, d) }

// Unmapped fires OnUnmapped for d.
func (r *Registry) Unmapped(d *device.Device) { r.fire(OnUnmapped, d) }

// ServiceChanged fires OnServiceChanged for d, used when d's GATT
// table itself changes shape (reconnection with a different service
// set) rather than when d merely connects or disconnects.
func (r *Registry) ServiceChanged(d *device.Device) { r.fire(OnServiceChanged, d) }
