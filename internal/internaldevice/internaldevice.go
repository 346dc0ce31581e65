// Package internaldevice builds the gateway's own simulated GATT
// server: the GAP service, the GATT service (with its Service Changed
// characteristic), and a Beetle-specific Debug service, all addressed
// at block 0 of every other device's HAT (spec.md §4.8). It gives the
// router something concrete to answer discovery and read requests
// against when a PDU addresses handle.BeetleDeviceID, without needing
// a real BLE radio: New returns an ordinary *device.Device whose
// Transport is a loopback that answers directly from the same
// handles table device.Device already exposes. The router still
// recognises it by its BeetleInternal type: destFor resolves block 0
// to it, and read-by-type requests against it are answered from its
// cached values rather than forwarded.
package internaldevice

import (
	"github.com/beetle-gw/beetle/internal/att"
	"github.com/beetle-gw/beetle/internal/device"
	intgatt "github.com/beetle-gw/beetle/internal/gatt"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/beetle-gw/beetle/internal/registry"
	"github.com/beetle-gw/beetle/internal/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DebugServiceUUID is a Beetle-specific 128-bit service exposing
// gateway introspection (currently just the connected-device count)
// to any connected client; it has no Bluetooth SIG assignment, hence
// the long form rather than a short 16-bit one.
var DebugServiceUUID = uuid.New(append([]byte{0xbe, 0xee, 0x1e, 0x00}, make([]byte, 12)...))

var debugCountUUID = uuid.New(append([]byte{0xbe, 0xee, 0x1e, 0x01}, make([]byte, 12)...))

// ServiceChangedValueHandle is the fixed native handle number of the
// Service Changed characteristic's value, per build's construction
// order (GAP: 1-3, GATT: 4-7, Debug: 8-10). It never changes since the
// internal device's table is static, so callers needing to notify
// subscribers (InformServicesChanged) don't have to re-discover it.
const ServiceChangedValueHandle uint16 = 7

// loopback answers every inbound PDU synchronously against the owning
// device's own handles table, rather than putting bytes on a wire.
type loopback struct {
	d           *device.Device
	deviceCount func() int
}

func (l *loopback) Write(buf []byte) error {
	resp := l.handle(buf)
	if resp != nil {
		go l.d.Receive(resp)
	}
	return nil
}

// New constructs the gateway's simulated internal device, fully
// populated and ready for the router to address as handle.BeetleDeviceID.
// deviceCount is polled on every read of the debug service's device
// count characteristic so its value is always current.
func New(gatewayName string, deviceCount func() int) *device.Device {
	lb := &loopback{deviceCount: deviceCount}
	d := device.New(handle.BeetleDeviceID, device.BeetleInternal, lb, NullHAT{})
	lb.d = d
	d.SetEndpoint(true)
	d.SetName(gatewayName)

	d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		build(handles, gatewayName)
	})
	return d
}

func build(handles *orderedmap.OrderedMap[uint16, *handle.Handle], gatewayName string) {
	n := uint16(1)

	gap := handle.New(n, intgatt.PrimaryServiceUUID)
	gap.Variant = handle.PrimaryService
	gap.Cache.Infinite = true
	gap.Cache.Set(intgatt.GAPServiceUUID.Bytes())
	handles.Set(n, gap)
	n++

	nameChar := handle.New(n, intgatt.CharacteristicUUID)
	nameChar.Variant = handle.Characteristic
	nameChar.ServiceHandle = gap.N
	nameChar.Props = intgatt.PropRead
	nameChar.ValueHandle = n + 1
	nameChar.Cache.Infinite = true
	handles.Set(n, nameChar)
	n++

	nameVal := handle.New(n, intgatt.DeviceNameUUID)
	nameVal.Variant = handle.CharacteristicValue
	nameVal.ServiceHandle = gap.N
	nameVal.CharHandle = nameChar.N
	nameVal.Cache.Infinite = true
	nameVal.Cache.Set([]byte(gatewayName))
	handles.Set(n, nameVal)
	n++
	gap.EndGroupHandle = n - 1

	gattSvc := handle.New(n, intgatt.PrimaryServiceUUID)
	gattSvc.Variant = handle.PrimaryService
	gattSvc.Cache.Infinite = true
	gattSvc.Cache.Set(intgatt.GATTServiceUUID.Bytes())
	handles.Set(n, gattSvc)
	n++

	changedChar := handle.New(n, intgatt.CharacteristicUUID)
	changedChar.Variant = handle.Characteristic
	changedChar.ServiceHandle = gattSvc.N
	// Service Changed declares indicate-only properties per the GATT
	// spec, but InformServicesChanged still sends a notification (see
	// that function's doc comment): an intentional mismatch carried
	// over unchanged from the original gateway's behavior.
	changedChar.Props = intgatt.PropIndicate
	changedChar.ValueHandle = n + 2
	changedChar.Cache.Infinite = true
	handles.Set(n, changedChar)
	n++

	cccd := handle.New(n, intgatt.ClientCharCfgUUID)
	cccd.Variant = handle.ClientCharCfg
	cccd.ServiceHandle = gattSvc.N
	cccd.CharHandle = changedChar.N
	cccd.Cache.Set([]byte{0, 0})
	handles.Set(n, cccd)
	n++

	changedVal := handle.New(n, intgatt.ServiceChangedUUID)
	changedVal.Variant = handle.CharacteristicValue
	changedVal.ServiceHandle = gattSvc.N
	changedVal.CharHandle = changedChar.N
	handles.Set(n, changedVal)
	n++
	gattSvc.EndGroupHandle = n - 1

	dbgSvc := handle.New(n, DebugServiceUUID)
	dbgSvc.Variant = handle.PrimaryService
	dbgSvc.Cache.Infinite = true
	dbgSvc.Cache.Set(DebugServiceUUID.Bytes())
	handles.Set(n, dbgSvc)
	n++

	countChar := handle.New(n, intgatt.CharacteristicUUID)
	countChar.Variant = handle.Characteristic
	countChar.ServiceHandle = dbgSvc.N
	countChar.Props = intgatt.PropRead
	countChar.ValueHandle = n + 1
	countChar.Cache.Infinite = true
	handles.Set(n, countChar)
	n++

	countVal := handle.New(n, debugCountUUID)
	countVal.Variant = handle.CharacteristicValue
	countVal.ServiceHandle = dbgSvc.N
	countVal.CharHandle = countChar.N
	handles.Set(n, countVal)
	dbgSvc.EndGroupHandle = n
}

// handle answers the opcodes a router discovery walk and read path
// ever issue against block 0: the internal device has nothing
// writable besides Service Changed's CCCD, and it only ever sends
// Service Changed, never receives a write against it from outside
// InformServicesChanged's own forwarding path (spec.md §4.8).
func (l *loopback) handle(req []byte) []byte {
	if len(req) == 0 {
		return nil
	}
	switch att.Opcode(req[0]) {
	case att.OpReadByGroupReq:
		return l.readByGroup(req)
	case att.OpReadByTypeReq:
		return l.readByType(req)
	case att.OpFindInfoReq:
		return l.findInfo(req)
	case att.OpReadReq, att.OpReadBlobReq:
		return l.read(req)
	case att.OpWriteReq:
		h, value, err := att.ParseWriteReq(req)
		if err != nil {
			return att.PackError(att.OpWriteReq, 0, att.ECodeInvalidPDU)
		}
		l.writeCCCD(h, value)
		return []byte{byte(att.OpWriteResp)}
	default:
		return att.PackError(att.Opcode(req[0]), 0, att.ECodeReqNotSupp)
	}
}

func (l *loopback) valueFor(h *handle.Handle) []byte {
	if h.Variant == handle.CharacteristicValue && uuid.Equal(h.UUID, debugCountUUID) && l.deviceCount != nil {
		n := l.deviceCount()
		return []byte{byte(n), byte(n >> 8)}
	}
	return h.Cache.Value
}

func (l *loopback) readByGroup(req []byte) []byte {
	r, attType, err := att.ParseTypeReq(req)
	if err != nil || !uuid.Equal(attType, intgatt.PrimaryServiceUUID) {
		return att.PackError(att.OpReadByGroupReq, r.Start, att.ECodeUnsuppGrpType)
	}
	var out []byte
	elemLen := 0
	l.d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
			h := pair.Value
			if h.Variant != handle.PrimaryService || h.N < r.Start || h.N > r.End {
				continue
			}
			v := l.valueFor(h)
			if elemLen == 0 {
				elemLen = 4 + len(v)
				out = []byte{byte(att.OpReadByGroupResp), byte(elemLen)}
			} else if 4+len(v) != elemLen {
				break
			}
			out = appendU16(out, h.N)
			out = appendU16(out, h.EndGroupHandle)
			out = append(out, v...)
		}
	})
	if len(out) == 0 {
		return att.PackError(att.OpReadByGroupReq, r.Start, att.ECodeAttrNotFound)
	}
	return out
}

func (l *loopback) readByType(req []byte) []byte {
	r, attType, err := att.ParseTypeReq(req)
	if err != nil {
		return att.PackError(att.OpReadByTypeReq, r.Start, att.ECodeInvalidPDU)
	}
	var out []byte
	elemLen := 0
	l.d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
			h := pair.Value
			if h.N < r.Start || h.N > r.End || !uuid.Equal(h.UUID, attType) {
				continue
			}
			v := l.valueFor(h)
			if elemLen == 0 {
				elemLen = 2 + len(v)
				out = []byte{byte(att.OpReadByTypeResp), byte(elemLen)}
			}
			if 2+len(v) != elemLen {
				break
			}
			out = appendU16(out, h.N)
			out = append(out, v...)
		}
	})
	if len(out) == 0 {
		return att.PackError(att.OpReadByTypeReq, r.Start, att.ECodeAttrNotFound)
	}
	return out
}

func (l *loopback) findInfo(req []byte) []byte {
	r, err := att.ParseFindInfoReq(req)
	if err != nil {
		return att.PackError(att.OpFindInfoReq, 0, att.ECodeInvalidPDU)
	}
	var out []byte
	l.d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
			h := pair.Value
			if h.N < r.Start || h.N > r.End || h.Variant != handle.ClientCharCfg {
				continue
			}
			if len(out) == 0 {
				out = []byte{byte(att.OpFindInfoResp), 1}
			}
			out = appendU16(out, h.N)
			out = append(out, h.UUID.Bytes()...)
		}
	})
	if len(out) == 0 {
		return att.PackError(att.OpFindInfoReq, r.Start, att.ECodeAttrNotFound)
	}
	return out
}

func (l *loopback) read(req []byte) []byte {
	op := att.Opcode(req[0])
	h, offset, err := att.ParseReadReq(op, req)
	if err != nil {
		return att.PackError(op, 0, att.ECodeInvalidPDU)
	}
	var value []byte
	var found bool
	l.d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		a, ok := handles.Get(h)
		if !ok {
			return
		}
		found = true
		value = l.valueFor(a)
	})
	if !found {
		return att.PackError(op, h, att.ECodeInvalidHandle)
	}
	if int(offset) > len(value) {
		return att.PackError(op, h, att.ECodeInvalidOffset)
	}
	return append([]byte{byte(att.OpReadResp)}, value[offset:]...)
}

func (l *loopback) writeCCCD(h uint16, value []byte) {
	l.d.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		a, ok := handles.Get(h)
		if !ok {
			return
		}
		a.Cache.Set(value)
	})
}

func appendU16(b []byte, v uint16) []byte { return append(b, byte(v), byte(v>>8)) }

// NullHAT is a hat.HAT that owns nothing; the internal device plays a
// server-only role and never acts as a client of other devices, so it
// has no meaningful HAT of its own.
type NullHAT struct{}

func (NullHAT) GetDevices() []handle.DeviceID            { return nil }
func (NullHAT) GetDeviceRange(handle.DeviceID) hat.Range { return hat.Range{} }
func (NullHAT) GetDeviceForHandle(uint16) handle.DeviceID { return handle.NullDeviceID }
func (NullHAT) GetHandleRange(uint16) hat.Range          { return hat.Range{} }
func (NullHAT) Reserve(handle.DeviceID) hat.Range        { return hat.Range{} }
func (NullHAT) Free(handle.DeviceID) hat.Range           { return hat.Range{} }

// InformServicesChanged notifies every device currently subscribed to
// the internal device's Service Changed characteristic that d's GATT
// table has changed shape, translating the internal device's native
// value handle into each subscriber's own HAT-mapped coordinate space.
//
// Service Changed's declared properties are indicate-only (see
// build's comment on changedChar), but this sends a Handle Value
// Notification rather than an Indication — an intentional mismatch
// preserved from the original gateway's behavior (an open design
// question, not a bug: some controller clients depend on the existing
// fire-and-forget semantics, and switching to a confirmed indication
// would change the internal device's acknowledgement contract).
func InformServicesChanged(internal *device.Device, reg *registry.Registry, changedValueHandle uint16, value []byte) {
	var subscribers []handle.DeviceID
	internal.WithHandles(func(handles *orderedmap.OrderedMap[uint16, *handle.Handle]) {
		vh, ok := handles.Get(changedValueHandle)
		if !ok {
			return
		}
		for id := range vh.Subscribers {
			subscribers = append(subscribers, id)
		}
	})

	for _, id := range subscribers {
		client, ok := reg.Get(id)
		if !ok || client.HAT == nil {
			continue
		}
		rng := client.HAT.GetDeviceRange(handle.BeetleDeviceID)
		if rng.IsNull() {
			continue
		}
		clientHandle := rng.Start + changedValueHandle
		_ = client.WriteCommand(att.PackWriteReq(att.OpHandleNotify, clientHandle, value))
	}
}
