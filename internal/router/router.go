// Package router implements the core ATT PDU dispatch logic: handle
// translation between a client's HAT-mapped view of the handle space
// and a peripheral's native handle numbering, per-attribute access
// control, per-client cache serving, and subscription fan-out for
// notifications and indications (spec.md §4.6).
//
// The lock ordering throughout this package follows spec.md §5:
// look up devices via the registry, then read the source's HAT, then
// touch the destination's handles table — and release each before
// acquiring the next wherever a round trip to the peripheral has to
// happen in between, since Go's sync.Mutex is not reentrant (spec.md
// §9 design note: restructure lock scope rather than reach for a
// recursive mutex).
package router

import (
	"bytes"
	"sync/atomic"

	"github.com/beetle-gw/beetle/internal/access"
	"github.com/beetle-gw/beetle/internal/att"
	"github.com/beetle-gw/beetle/internal/device"
	intgatt "github.com/beetle-gw/beetle/internal/gatt"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/beetle-gw/beetle/internal/registry"
	"github.com/beetle-gw/beetle/internal/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// handlesTable is the concrete type device.Device.WithHandles hands
// its callback; named here to keep call sites readable.
type handlesTable = *orderedmap.OrderedMap[uint16, *handle.Handle]

// Router dispatches inbound PDUs from one device to another (or to
// the gateway's own simulated device).
type Router struct {
	reg     *registry.Registry
	control access.Controller
	log     *logrus.Entry

	nextTxnID uint64 // atomic, used only for log correlation
}

// New returns a Router over reg, checking every forwarded PDU against
// control. Pass access.AllowAll{} to run without access control.
func New(reg *registry.Registry, control access.Controller, log *logrus.Entry) *Router {
	if control == nil {
		control = access.AllowAll{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Router{reg: reg, control: control, log: log}
}

// Route is the entry point a Device's Forward hook calls for every
// inbound PDU that isn't an MTU negotiation or a response to one of
// that device's own outstanding transactions.
func (r *Router) Route(src *device.Device, pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	txnID := atomic.AddUint64(&r.nextTxnID, 1)
	log := r.log.WithFields(logrus.Fields{"txn": txnID, "src": src.ID, "opcode": pdu[0]})

	op := att.Opcode(pdu[0])
	switch op {
	case att.OpFindInfoReq:
		r.routeFindInfo(src, pdu, log)
	case att.OpFindByTypeReq:
		r.routeFindByType(src, pdu, log)
	case att.OpReadByTypeReq:
		r.routeReadByType(src, pdu, log)
	case att.OpReadByGroupReq:
		r.routeReadByGroup(src, pdu, log)
	case att.OpReadReq, att.OpReadBlobReq:
		r.routeRead(src, op, pdu, log)
	case att.OpWriteReq, att.OpWriteCmd, att.OpSignedWriteCmd:
		r.routeWrite(src, op, pdu, log)
	case att.OpHandleNotify, att.OpHandleInd:
		r.routeNotifyOrIndicate(src, op, pdu, log)
	default:
		log.WithField("opcode", byte(op)).Warn("unhandled opcode")
	}
}

// destFor resolves the Device object owning a HAT block. Block 0 is
// permanently reserved for handle.BeetleDeviceID (hat.NewBlockAllocator),
// but registry.Registry.Add always assigns a fresh id starting above
// that value, so no device is ever actually registered under id 0: a
// plain reg.Get(handle.BeetleDeviceID) can never succeed. destFor works
// around this by finding the internal device by its Type tag instead,
// the same substitute for identity spec.md §9 already prefers over the
// original's dynamic_cast-based checks.
func (r *Router) destFor(owner handle.DeviceID) (*device.Device, bool) {
	if owner == handle.NullDeviceID {
		return nil, false
	}
	if owner == handle.BeetleDeviceID {
		for _, d := range r.reg.All() {
			if d.Type == device.BeetleInternal {
				return d, true
			}
		}
		return nil, false
	}
	return r.reg.Get(owner)
}

// resolve looks up the destination device owning h in src's HAT and
// translates h into that device's native handle space.
func (r *Router) resolve(src *device.Device, h uint16) (dst *device.Device, native uint16, ok bool) {
	if src.HAT == nil {
		return nil, 0, false
	}
	owner := src.HAT.GetDeviceForHandle(h)
	dst, ok = r.destFor(owner)
	if !ok {
		return nil, 0, false
	}
	rng := src.HAT.GetHandleRange(h)
	return dst, h - rng.Start, true
}

func (r *Router) sendError(src *device.Device, reqOp att.Opcode, h uint16, ecode att.ECode) {
	_ = src.WriteResponse(att.PackError(reqOp, h, ecode))
}

// ---- single-destination reads and writes ----

// routeRead forwards a Read Request or Read Blob Request to the
// handle's owning device, serving from cache when the handle carries
// an infinite (discovery-time) cache this client hasn't seen yet
// (spec.md §4.3).
func (r *Router) routeRead(src *device.Device, op att.Opcode, pdu []byte, log *logrus.Entry) {
	h, offset, err := att.ParseReadReq(op, pdu)
	if err != nil {
		r.sendError(src, op, 0, att.ECodeInvalidPDU)
		return
	}
	dst, native, ok := r.resolve(src, h)
	if !ok {
		r.sendError(src, op, h, att.ECodeInvalidHandle)
		return
	}
	if !r.control.Allow(src.ID, dst.ID, native, access.OpRead) {
		r.sendError(src, op, h, att.ECodeReadNotPerm)
		return
	}

	var cached []byte
	var servedFromCache bool
	dst.WithHandles(func(handles handlesTable) {
		hd, found := handles.Get(native)
		if !found || !hd.Cache.Infinite || hd.Cache.Value == nil || hd.Cache.Seen(src.ID) {
			return
		}
		cached = append([]byte(nil), hd.Cache.Value...)
		hd.Cache.MarkSeen(src.ID)
		servedFromCache = true
	})

	if servedFromCache {
		_ = src.WriteResponse(append([]byte{byte(att.OpReadResp)}, applyOffset(cached, offset)...))
		return
	}

	resp, err := dst.WriteTransactionBlocking(att.PackReadReq(op, native, offset))
	if err != nil || len(resp) == 0 {
		r.sendError(src, op, h, att.ECodeUnlikely)
		return
	}
	if att.Opcode(resp[0]) == att.OpError {
		_, _, ecode, _ := att.ParseError(resp)
		r.sendError(src, op, h, ecode)
		return
	}

	dst.WithHandles(func(handles handlesTable) {
		if hd, found := handles.Get(native); found && len(resp) > 1 {
			hd.Cache.Set(resp[1:])
			hd.Cache.MarkSeen(src.ID)
		}
	})
	_ = src.WriteResponse(resp)
	log.Debug("read forwarded")
}

func applyOffset(value []byte, offset uint16) []byte {
	if int(offset) >= len(value) {
		return nil
	}
	return value[offset:]
}

// routeWrite forwards a Write Request, Write Command, or Signed Write
// Command. A write targeting a Client Characteristic Configuration
// descriptor is intercepted: it updates the subscriber set on the
// owning characteristic's value handle instead of being forwarded
// verbatim (spec.md §4.6 branch 1). A CCCD write of the wrong length
// never reaches the peripheral at all: it is rejected with ECodeIO
// (spec.md §4.6 branch 1, §7, scenario §8 #5).
func (r *Router) routeWrite(src *device.Device, op att.Opcode, pdu []byte, log *logrus.Entry) {
	h, value, err := att.ParseWriteReq(pdu)
	if err != nil {
		if op == att.OpWriteReq {
			r.sendError(src, op, 0, att.ECodeInvalidPDU)
		}
		return
	}
	dst, native, ok := r.resolve(src, h)
	if !ok {
		if op == att.OpWriteReq {
			r.sendError(src, op, h, att.ECodeInvalidHandle)
		}
		return
	}
	if !r.control.Allow(src.ID, dst.ID, native, access.OpWrite) {
		if op == att.OpWriteReq {
			r.sendError(src, op, h, att.ECodeWriteNotPerm)
		}
		return
	}

	var isCCCD bool
	var valueHandle uint16
	dst.WithHandles(func(handles handlesTable) {
		hd, found := handles.Get(native)
		if !found || hd.Variant != handle.ClientCharCfg {
			return
		}
		ch, found := handles.Get(hd.CharHandle)
		if !found {
			return
		}
		isCCCD = true
		valueHandle = ch.ValueHandle
	})

	if isCCCD {
		if len(value) != 2 {
			if op == att.OpWriteReq {
				r.sendError(src, op, h, att.ECodeIO)
			}
			return
		}
		r.routeCCCDWrite(src, dst, native, valueHandle, value, op, log)
		return
	}

	forward := att.PackWriteReq(op, native, value)
	if op == att.OpWriteReq {
		resp, err := dst.WriteTransactionBlocking(forward)
		if err != nil || len(resp) == 0 {
			r.sendError(src, op, h, att.ECodeUnlikely)
			return
		}
		if att.Opcode(resp[0]) == att.OpError {
			_, _, ecode, _ := att.ParseError(resp)
			r.sendError(src, op, h, ecode)
			return
		}
		dst.WithHandles(func(handles handlesTable) {
			if hd, found := handles.Get(native); found {
				hd.Cache.Set(value)
			}
		})
		_ = src.WriteResponse(resp)
	} else {
		_ = dst.WriteCommand(forward)
		dst.WithHandles(func(handles handlesTable) {
			if hd, found := handles.Get(native); found {
				hd.Cache.Set(value)
			}
		})
	}
	log.Debug("write forwarded")
}

// routeCCCDWrite updates dst's subscriber set for src and forwards the
// CCCD write itself to the peripheral only on a 0<->1 subscriber-count
// transition, so the peripheral sees exactly one enable and one
// disable no matter how many Beetle clients are subscribed.
func (r *Router) routeCCCDWrite(src, dst *device.Device, cccdNative, valueHandle uint16, value []byte, op att.Opcode, log *logrus.Entry) {
	var wantNotify bool
	if len(value) >= 2 {
		wantNotify = value[0] != 0 || value[1] != 0
	}

	var wasEmpty, isEmptyNow bool
	dst.WithHandles(func(handles handlesTable) {
		vh, found := handles.Get(valueHandle)
		if !found {
			return
		}
		wasEmpty = len(vh.Subscribers) == 0
		if wantNotify {
			vh.Subscribe(src.ID)
		} else {
			vh.Unsubscribe(src.ID)
		}
		isEmptyNow = len(vh.Subscribers) == 0
	})

	if wasEmpty != isEmptyNow {
		resp, err := dst.WriteTransactionBlocking(att.PackWriteReq(att.OpWriteReq, cccdNative, value))
		if err == nil && len(resp) > 0 && att.Opcode(resp[0]) != att.OpError {
			log.Debug("forwarded CCCD subscriber-count transition")
		}
	}

	if op == att.OpWriteReq {
		_ = src.WriteResponse([]byte{byte(att.OpWriteResp)})
	}
}

// ---- notification / indication fan-out ----

// routeNotifyOrIndicate fans a peripheral-originated Handle Value
// Notification or Indication out to every device subscribed on the
// source handle, rewriting the handle into each subscriber's own HAT
// coordinates (spec.md §4.6 "HANDLE_NOTIFY / HANDLE_IND"; original
// Router.cpp routeHandleNotifyOrIndicate). An indication is confirmed
// back to the originating peripheral once the fan-out is queued,
// regardless of whether any individual subscriber itself confirms.
func (r *Router) routeNotifyOrIndicate(src *device.Device, op att.Opcode, pdu []byte, log *logrus.Entry) {
	nativeHandle, value, err := att.ParseWriteReq(pdu)
	if err != nil {
		return
	}

	var hd *handle.Handle
	src.WithHandles(func(handles handlesTable) {
		hd, _ = handles.Get(nativeHandle)
	})
	if hd == nil {
		log.WithField("handle", nativeHandle).Warn("notification for unknown handle")
		return
	}

	sent := 0
	for id := range hd.Subscribers {
		dst, ok := r.destFor(id)
		if !ok {
			continue
		}
		rng := dst.HAT.GetDeviceRange(src.ID)
		if rng.IsNull() {
			log.WithField("subscriber", id).Warn("subscriber has no block reserved for the notifying device")
			continue
		}

		forward := att.PackWriteReq(op, rng.Start+nativeHandle, value)
		if op == att.OpHandleNotify {
			_ = dst.WriteCommand(forward)
		} else {
			subscriber := id
			_ = dst.WriteTransaction(forward, func(resp []byte, err error) {
				if err != nil {
					log.WithField("subscriber", subscriber).WithError(err).Debug("indication not confirmed")
					return
				}
				log.WithField("subscriber", subscriber).Debug("indication confirmed")
			})
		}
		sent++
	}

	if op == att.OpHandleInd {
		_ = src.WriteResponse([]byte{byte(att.OpHandleCnf)})
	}
	log.WithField("subscribers", sent).Debug("notification fan-out complete")
}

// ---- discovery-walk PDUs ----

// nextBlockBoundary returns the HAT block range h falls in according
// to src's HAT, clamped to the caller's own [start,end] request range.
// blockEnd is returned as a uint32 so a block that runs to the top of
// the 16-bit handle space (hat.Range.End wraps to 0 in that case, see
// hat.blockRange) can still be stepped past without wrapping the walk
// back to handle 0.
func nextBlockBoundary(src *device.Device, h, reqEnd uint16) (owner handle.DeviceID, rng hat.Range, blockEnd uint32) {
	owner = src.HAT.GetDeviceForHandle(h)
	rng = src.HAT.GetHandleRange(h)
	blockLast := uint32(0x10000) - 1
	if rng.End != 0 {
		blockLast = uint32(rng.End) - 1
	}
	blockEnd = uint32(reqEnd)
	if blockLast < blockEnd {
		blockEnd = blockLast
	}
	return owner, rng, blockEnd
}

// walkCachedHandles walks src's requested handle range block by block,
// visiting every cached attribute already in that destination's own
// handle table, in ascending handle order, translated into the
// client's coordinate space. It never forwards a PDU to a peripheral:
// FIND_INFO, FIND_BY_TYPE, and READ_BY_GROUP all answer purely from
// whatever has already been discovered and cached, per spec.md §4.6
// ("walk ... the destination's handle map in ascending order") and the
// original Router.cpp's routeFindInfo / routeFindByTypeValue /
// routeReadByGroupType, none of which round-trip to the peripheral.
//
// visit returns false to stop the walk early — an MTU limit or an
// incompatible element length, exactly like the discovery PDUs'
// response-truncation rule.
func (r *Router) walkCachedHandles(src *device.Device, req att.HandleRange, visit func(dst *device.Device, rng hat.Range, hd *handle.Handle) bool) {
	h := uint32(req.Start)
	end := uint32(req.End)
	for h != 0 && h <= end {
		owner, rng, blockEnd := nextBlockBoundary(src, uint16(h), req.End)
		if owner == handle.NullDeviceID {
			h = blockEnd + 1
			continue
		}
		dst, ok := r.destFor(owner)
		if !ok {
			h = blockEnd + 1
			continue
		}

		stop := false
		dst.WithHandles(func(handles handlesTable) {
			for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
				offset := uint32(clientHandle(rng, pair.Key))
				if offset < h {
					continue
				}
				if offset > end {
					break
				}
				if !visit(dst, rng, pair.Value) {
					stop = true
					break
				}
			}
		})
		if stop {
			return
		}
		h = blockEnd + 1
	}
}

// routeReadByGroup answers a Read By Group Type Request directly from
// every owning destination's cached handle map, consulting access
// control per attribute before it is appended (spec.md §4.6).
func (r *Router) routeReadByGroup(src *device.Device, pdu []byte, log *logrus.Entry) {
	req, attType, err := att.ParseTypeReq(pdu)
	if err != nil {
		r.sendError(src, att.OpReadByGroupReq, 0, att.ECodeInvalidPDU)
		return
	}
	if req.Start == 0 || req.Start > req.End {
		r.sendError(src, att.OpReadByGroupReq, req.Start, att.ECodeInvalidHandle)
		return
	}

	mtu := int(src.MTU())
	elemLen := 0
	count := 0
	resp := []byte{byte(att.OpReadByGroupResp), 0}

	r.walkCachedHandles(src, req, func(dst *device.Device, rng hat.Range, hd *handle.Handle) bool {
		if !uuid.Equal(hd.UUID, attType) {
			return true
		}
		if !r.control.Allow(src.ID, dst.ID, hd.N, access.OpRead) {
			return true
		}
		thisLen := 4 + len(hd.Cache.Value)
		if count == 0 {
			elemLen = thisLen
			resp[1] = byte(elemLen)
		} else if thisLen != elemLen {
			return false
		}
		if len(resp)+elemLen > mtu {
			return false
		}
		resp = appendUint16LE(resp, clientHandle(rng, hd.N))
		resp = appendUint16LE(resp, clientHandle(rng, hd.EndGroupHandle))
		resp = append(resp, hd.Cache.Value...)
		count++
		return true
	})

	if count == 0 {
		r.sendError(src, att.OpReadByGroupReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	_ = src.WriteResponse(resp)
	log.WithField("elements", count).Debug("read-by-group served from cache")
}

// routeFindInfo answers a Find Information Request directly from every
// owning destination's cached handle map, consulting access control
// per attribute before it is appended (spec.md §4.6).
func (r *Router) routeFindInfo(src *device.Device, pdu []byte, log *logrus.Entry) {
	req, err := att.ParseFindInfoReq(pdu)
	if err != nil {
		r.sendError(src, att.OpFindInfoReq, 0, att.ECodeInvalidPDU)
		return
	}
	if req.Start == 0 || req.Start > req.End {
		r.sendError(src, att.OpFindInfoReq, req.Start, att.ECodeInvalidHandle)
		return
	}

	mtu := int(src.MTU())
	format := byte(0)
	count := 0
	resp := []byte{byte(att.OpFindInfoResp), 0}

	r.walkCachedHandles(src, req, func(dst *device.Device, rng hat.Range, hd *handle.Handle) bool {
		if !r.control.Allow(src.ID, dst.ID, hd.N, access.OpRead) {
			return true
		}
		uuidBytes := hd.UUID.Bytes()
		thisFormat := byte(1)
		if len(uuidBytes) == uuid.Len {
			thisFormat = 2
		}
		if format == 0 {
			format = thisFormat
		} else if format != thisFormat {
			return false
		}
		elemLen := 2 + len(uuidBytes)
		if len(resp)+elemLen > mtu {
			return false
		}
		resp = appendUint16LE(resp, clientHandle(rng, hd.N))
		resp = append(resp, uuidBytes...)
		count++
		return true
	})

	if count == 0 {
		r.sendError(src, att.OpFindInfoReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	resp[1] = format
	_ = src.WriteResponse(resp)
	log.WithField("elements", count).Debug("find-info served from cache")
}

// routeFindByType answers a Find By Type Value Request directly from
// every owning destination's cached handle map, consulting access
// control per attribute before it is appended (spec.md §4.6).
func (r *Router) routeFindByType(src *device.Device, pdu []byte, log *logrus.Entry) {
	req, attType, value, err := att.ParseFindByTypeReq(pdu)
	if err != nil {
		r.sendError(src, att.OpFindByTypeReq, 0, att.ECodeInvalidPDU)
		return
	}
	if req.Start == 0 || req.Start > req.End {
		r.sendError(src, att.OpFindByTypeReq, req.Start, att.ECodeInvalidHandle)
		return
	}

	mtu := int(src.MTU())
	count := 0
	resp := []byte{byte(att.OpFindByTypeResp)}

	r.walkCachedHandles(src, req, func(dst *device.Device, rng hat.Range, hd *handle.Handle) bool {
		if !uuid.Equal(hd.UUID, attType) {
			return true
		}
		if !r.control.Allow(src.ID, dst.ID, hd.N, access.OpRead) {
			return true
		}
		cmpLen := len(value)
		if len(hd.Cache.Value) < cmpLen {
			cmpLen = len(hd.Cache.Value)
		}
		if !bytes.Equal(hd.Cache.Value[:cmpLen], value[:cmpLen]) {
			return true
		}
		if len(resp)+4 > mtu {
			return false
		}
		resp = appendUint16LE(resp, clientHandle(rng, hd.N))
		resp = appendUint16LE(resp, clientHandle(rng, hd.EndGroupHandle))
		count++
		return true
	})

	if count == 0 {
		r.sendError(src, att.OpFindByTypeReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	_ = src.WriteResponse(resp)
	log.WithField("elements", count).Debug("find-by-type served from cache")
}

// routeReadByType forwards a Read By Type Request to the single device
// owning the requested range's start handle (spec.md §4.6; original
// Router.cpp routeReadByType notes this does not yet walk multiple
// devices). The gateway's own internal device is special-cased: it is
// served directly from its cache, bypassing access control exactly as
// the original does for BEETLE_RESERVED_DEVICE. Otherwise, a
// canReadType short-circuit runs before anything is forwarded, and the
// response is translated per element: the handle itself, and — for a
// Characteristic declaration (CHARAC_UUID) — the characteristic's
// embedded value handle, both from the peripheral's native numbering
// into the client's coordinates.
func (r *Router) routeReadByType(src *device.Device, pdu []byte, log *logrus.Entry) {
	req, attType, err := att.ParseTypeReq(pdu)
	if err != nil {
		r.sendError(src, att.OpReadByTypeReq, 0, att.ECodeInvalidPDU)
		return
	}
	if req.Start == 0 || req.Start > req.End {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeInvalidHandle)
		return
	}

	owner := src.HAT.GetDeviceForHandle(req.Start)
	if owner == handle.NullDeviceID {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	dst, ok := r.destFor(owner)
	if !ok {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	rng := src.HAT.GetHandleRange(req.Start)

	if dst.Type == device.BeetleInternal {
		r.readByTypeFromCache(src, dst, rng, req, attType, log)
		return
	}

	if !r.control.Allow(src.ID, dst.ID, 0, access.OpReadType) {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeReadNotPerm)
		return
	}

	nativeReq := att.HandleRange{Start: req.Start - rng.Start, End: req.End - rng.Start}
	resp, err := dst.WriteTransactionBlocking(att.PackTypeReq(att.OpReadByTypeReq, nativeReq, attType))
	if err != nil || len(resp) == 0 {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeUnlikely)
		return
	}
	if att.Opcode(resp[0]) == att.OpError {
		_, _, ecode, _ := att.ParseError(resp)
		r.sendError(src, att.OpReadByTypeReq, req.Start, ecode)
		return
	}
	if len(resp) < 2 {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeUnlikely)
		return
	}

	elemLen := int(resp[1])
	isCharDecl := uuid.Equal(attType, intgatt.CharacteristicUUID)

	out := []byte{byte(att.OpReadByTypeResp), resp[1]}
	body := resp[2:]
	for elemLen >= 2 && len(body) >= elemLen {
		elem := append([]byte(nil), body[:elemLen]...)
		body = body[elemLen:]
		declNative := le16(elem[0:2])

		var hd *handle.Handle
		dst.WithHandles(func(handles handlesTable) {
			hd, _ = handles.Get(declNative)
		})
		if hd == nil {
			log.WithField("handle", declNative).Warn("read-by-type response for unknown handle")
			continue
		}
		if !r.control.Allow(src.ID, dst.ID, declNative, access.OpRead) {
			continue
		}

		putUint16LE(elem[0:2], clientHandle(rng, declNative))
		if isCharDecl && elemLen >= 5 {
			valueHandle := le16(elem[3:5])
			putUint16LE(elem[3:5], clientHandle(rng, valueHandle))
		}
		out = append(out, elem...)
	}

	if len(out) == 2 {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeReadNotPerm)
		return
	}
	_ = src.WriteResponse(out)
	log.Debug("read-by-type forwarded")
}

// readByTypeFromCache answers a Read By Type Request addressed to the
// gateway's own internal device straight from its cached handle map,
// with no access-control check, matching the original's
// BEETLE_RESERVED_DEVICE branch.
func (r *Router) readByTypeFromCache(src, dst *device.Device, rng hat.Range, req att.HandleRange, attType uuid.UUID, log *logrus.Entry) {
	mtu := int(src.MTU())
	elemLen := 0
	count := 0
	resp := []byte{byte(att.OpReadByTypeResp), 0}

	dst.WithHandles(func(handles handlesTable) {
		for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
			offset := clientHandle(rng, pair.Key)
			if offset < req.Start {
				continue
			}
			if offset > req.End {
				break
			}
			hd := pair.Value
			if !uuid.Equal(hd.UUID, attType) {
				continue
			}
			thisLen := 2 + len(hd.Cache.Value)
			if count == 0 {
				elemLen = thisLen
				resp[1] = byte(elemLen)
			} else if thisLen != elemLen {
				break
			}
			if len(resp)+elemLen > mtu {
				break
			}
			resp = appendUint16LE(resp, offset)
			resp = append(resp, hd.Cache.Value...)
			count++
		}
	})

	if count == 0 {
		r.sendError(src, att.OpReadByTypeReq, req.Start, att.ECodeAttrNotFound)
		return
	}
	_ = src.WriteResponse(resp)
	log.WithField("elements", count).Debug("read-by-type served from internal device cache")
}

func clientHandle(rng hat.Range, native uint16) uint16 { return rng.Start + native }

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func putUint16LE(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }

func appendUint16LE(b []byte, v uint16) []byte { return append(b, byte(v), byte(v>>8)) }
