package router

import (
	"testing"
	"time"

	"github.com/beetle-gw/beetle/internal/access"
	"github.com/beetle-gw/beetle/internal/att"
	"github.com/beetle-gw/beetle/internal/device"
	intgatt "github.com/beetle-gw/beetle/internal/gatt"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/beetle-gw/beetle/internal/registry"
	"github.com/beetle-gw/beetle/internal/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoTransport answers every write with a canned response computed by
// respond, as if it were a peripheral replying over the air.
type echoTransport struct {
	owner   *device.Device
	respond func(req []byte) []byte
}

func (e *echoTransport) Write(buf []byte) error {
	resp := e.respond(buf)
	if resp != nil {
		go e.owner.Receive(resp)
	}
	return nil
}

func newPeripheral(id handle.DeviceID, respond func(req []byte) []byte) *device.Device {
	tr := &echoTransport{respond: respond}
	d := device.New(id, device.LEPeripheral, tr, hat.NewSingleAllocator(id))
	tr.owner = d
	d.SetEndpoint(true)
	return d
}

// recordingTransport captures the last PDU written to it — in these
// tests, the response the router writes back to an inbound client.
type recordingTransport struct {
	ch chan []byte
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{ch: make(chan []byte, 8)}
}

func (d *recordingTransport) Write(buf []byte) error {
	cp := append([]byte(nil), buf...)
	d.ch <- cp
	return nil
}

func (d *recordingTransport) awaitResponse(t *testing.T) []byte {
	t.Helper()
	select {
	case buf := <-d.ch:
		return buf
	case <-time.After(time.Second):
		t.Fatal("no response written back to the client transport")
		return nil
	}
}

func setup(t *testing.T) (*registry.Registry, *Router, *device.Device, *recordingTransport) {
	t.Helper()
	reg := registry.New(nil)
	r := New(reg, access.AllowAll{}, nil)

	tr := newRecordingTransport()
	client := device.New(0, device.IpcApplication, tr, hat.NewBlockAllocator())
	client.Forward = func(buf []byte) { r.Route(client, buf) }
	reg.Add(client)
	return reg, r, client, tr
}

func TestRouteReadForwardsToSingleDestination(t *testing.T) {
	reg, _, client, tr := setup(t)

	valueHandle := uint16(5)
	peripheral := newPeripheral(0, func(req []byte) []byte {
		h, _, _ := att.ParseReadReq(att.OpReadReq, req)
		assert.Equal(t, valueHandle, h)
		return append([]byte{byte(att.OpReadResp)}, []byte("hello")...)
	})
	pid := reg.Add(peripheral)

	rng := client.HAT.Reserve(pid)
	require.False(t, rng.IsNull())
	clientHandleVal := rng.Start + valueHandle

	client.Receive(att.PackReadReq(att.OpReadReq, clientHandleVal, 0))

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpReadResp), resp[0])
	assert.Equal(t, "hello", string(resp[1:]))
}

func TestRouteReadServesInfiniteCacheWithoutRoundTrip(t *testing.T) {
	reg, _, client, tr := setup(t)

	calls := 0
	peripheral := newPeripheral(0, func(req []byte) []byte {
		calls++
		return append([]byte{byte(att.OpReadResp)}, []byte("fromwire")...)
	})
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	const svcHandle = uint16(1)
	peripheral.WithHandles(func(handles handlesTable) {
		h := handle.New(svcHandle, intgatt.PrimaryServiceUUID)
		h.Variant = handle.PrimaryService
		h.Cache.Infinite = true
		h.Cache.Set(uuid.Short(0x180D).Bytes())
		handles.Set(svcHandle, h)
	})

	clientHandleVal := rng.Start + svcHandle

	client.Receive(att.PackReadReq(att.OpReadReq, clientHandleVal, 0))
	resp1 := tr.awaitResponse(t)
	assert.Equal(t, byte(att.OpReadResp), resp1[0])
	assert.Equal(t, 0, calls, "cached value must be served without a wire round trip")

	client.Receive(att.PackReadReq(att.OpReadReq, clientHandleVal, 0))
	resp2 := tr.awaitResponse(t)
	assert.Equal(t, byte(att.OpReadResp), resp2[0])
	assert.Equal(t, 1, calls, "second read by the same client must go to the wire, not the cache again")
}

func TestRouteCCCDWriteForwardsOnlyOnFirstSubscriber(t *testing.T) {
	reg, _, client, tr := setup(t)

	cccdWrites := 0
	peripheral := newPeripheral(0, func(req []byte) []byte {
		h, _, _ := att.ParseWriteReq(req)
		if h == 10 {
			cccdWrites++
		}
		return []byte{byte(att.OpWriteResp)}
	})
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	const charHandle, valueHandle, cccdHandle = uint16(8), uint16(9), uint16(10)
	peripheral.WithHandles(func(handles handlesTable) {
		ch := handle.New(charHandle, intgatt.CharacteristicUUID)
		ch.Variant = handle.Characteristic
		ch.ValueHandle = valueHandle
		ch.Props = intgatt.PropNotify
		handles.Set(charHandle, ch)

		val := handle.New(valueHandle, uuid.Short(0x2A37))
		val.Variant = handle.CharacteristicValue
		val.CharHandle = charHandle
		handles.Set(valueHandle, val)

		cccd := handle.New(cccdHandle, intgatt.ClientCharCfgUUID)
		cccd.Variant = handle.ClientCharCfg
		cccd.CharHandle = charHandle
		handles.Set(cccdHandle, cccd)
	})

	clientCCCD := rng.Start + cccdHandle
	client.Receive(att.PackWriteReq(att.OpWriteReq, clientCCCD, []byte{0x01, 0x00}))

	resp := tr.awaitResponse(t)
	assert.Equal(t, byte(att.OpWriteResp), resp[0])
	assert.Equal(t, 1, cccdWrites)

	peripheral.WithHandles(func(handles handlesTable) {
		val, _ := handles.Get(valueHandle)
		assert.True(t, val.IsSubscribed(client.ID))
	})
}

func TestRouteCCCDWriteRejectsMalformedLength(t *testing.T) {
	reg, _, client, tr := setup(t)

	forwarded := 0
	peripheral := newPeripheral(0, func(req []byte) []byte {
		forwarded++
		return []byte{byte(att.OpWriteResp)}
	})
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	const charHandle, valueHandle, cccdHandle = uint16(8), uint16(9), uint16(10)
	peripheral.WithHandles(func(handles handlesTable) {
		ch := handle.New(charHandle, intgatt.CharacteristicUUID)
		ch.Variant = handle.Characteristic
		ch.ValueHandle = valueHandle
		handles.Set(charHandle, ch)

		val := handle.New(valueHandle, uuid.Short(0x2A37))
		val.Variant = handle.CharacteristicValue
		val.CharHandle = charHandle
		handles.Set(valueHandle, val)

		cccd := handle.New(cccdHandle, intgatt.ClientCharCfgUUID)
		cccd.Variant = handle.ClientCharCfg
		cccd.CharHandle = charHandle
		handles.Set(cccdHandle, cccd)
	})

	clientCCCD := rng.Start + cccdHandle
	client.Receive(att.PackWriteReq(att.OpWriteReq, clientCCCD, []byte{0x01}))

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpError), resp[0])
	_, _, ecode, err := att.ParseError(resp)
	require.NoError(t, err)
	assert.Equal(t, att.ECodeIO, ecode)
	assert.Equal(t, 0, forwarded, "a malformed CCCD write must never reach the peripheral")
}

func TestRouteNotifyFansOutToEachSubscriberInItsOwnHATCoordinates(t *testing.T) {
	reg := registry.New(nil)
	r := New(reg, access.AllowAll{}, nil)

	peripheral := newPeripheral(0, func(req []byte) []byte { return nil })
	peripheral.Forward = func(buf []byte) { r.Route(peripheral, buf) }
	pid := reg.Add(peripheral)

	const valueHandle = uint16(20)
	peripheral.WithHandles(func(handles handlesTable) {
		v := handle.New(valueHandle, uuid.Short(0x2A37))
		v.Variant = handle.CharacteristicValue
		handles.Set(valueHandle, v)
	})

	tr1 := newRecordingTransport()
	client1 := device.New(0, device.IpcApplication, tr1, hat.NewBlockAllocator())
	client1.Forward = func(buf []byte) { r.Route(client1, buf) }
	reg.Add(client1)
	rng1 := client1.HAT.Reserve(pid)

	tr2 := newRecordingTransport()
	client2 := device.New(0, device.IpcApplication, tr2, hat.NewBlockAllocator())
	client2.Forward = func(buf []byte) { r.Route(client2, buf) }
	reg.Add(client2)
	rng2 := client2.HAT.Reserve(pid)

	peripheral.WithHandles(func(handles handlesTable) {
		v, _ := handles.Get(valueHandle)
		v.Subscribe(client1.ID)
		v.Subscribe(client2.ID)
	})

	peripheral.Receive(att.PackWriteReq(att.OpHandleNotify, valueHandle, []byte{0x2A}))

	resp1 := tr1.awaitResponse(t)
	h1, v1, err := att.ParseWriteReq(resp1)
	require.NoError(t, err)
	assert.Equal(t, byte(att.OpHandleNotify), resp1[0])
	assert.Equal(t, rng1.Start+valueHandle, h1)
	assert.Equal(t, []byte{0x2A}, v1)

	resp2 := tr2.awaitResponse(t)
	h2, _, err := att.ParseWriteReq(resp2)
	require.NoError(t, err)
	assert.Equal(t, rng2.Start+valueHandle, h2)
}

func TestRouteIndicateRepliesHandleCnfUpstream(t *testing.T) {
	reg := registry.New(nil)
	r := New(reg, access.AllowAll{}, nil)

	peripheralTr := newRecordingTransport()
	peripheral := device.New(0, device.LEPeripheral, peripheralTr, hat.NewSingleAllocator(0))
	peripheral.Forward = func(buf []byte) { r.Route(peripheral, buf) }
	peripheral.SetEndpoint(true)
	pid := reg.Add(peripheral)

	const valueHandle = uint16(20)
	peripheral.WithHandles(func(handles handlesTable) {
		v := handle.New(valueHandle, uuid.Short(0x2A37))
		v.Variant = handle.CharacteristicValue
		handles.Set(valueHandle, v)
	})

	subTr := newRecordingTransport()
	subscriber := device.New(0, device.IpcApplication, subTr, hat.NewBlockAllocator())
	subscriber.Forward = func(buf []byte) { r.Route(subscriber, buf) }
	reg.Add(subscriber)
	subscriber.HAT.Reserve(pid)

	peripheral.WithHandles(func(handles handlesTable) {
		v, _ := handles.Get(valueHandle)
		v.Subscribe(subscriber.ID)
	})

	peripheral.Receive(att.PackWriteReq(att.OpHandleInd, valueHandle, []byte{0x01}))

	cnf := peripheralTr.awaitResponse(t)
	assert.Equal(t, byte(att.OpHandleCnf), cnf[0])
}

func TestRouteReadByGroupServesFromCacheWithoutForwarding(t *testing.T) {
	reg, _, client, tr := setup(t)

	forwarded := 0
	peripheral := newPeripheral(0, func(req []byte) []byte {
		forwarded++
		return nil
	})
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	const svcHandle, svcEnd = uint16(1), uint16(5)
	peripheral.WithHandles(func(handles handlesTable) {
		h := handle.New(svcHandle, intgatt.PrimaryServiceUUID)
		h.Variant = handle.PrimaryService
		h.EndGroupHandle = svcEnd
		h.Cache.Infinite = true
		h.Cache.Set(uuid.Short(0x180D).Bytes())
		handles.Set(svcHandle, h)
	})

	req := att.PackTypeReq(att.OpReadByGroupReq, att.HandleRange{Start: 1, End: 0xffff}, intgatt.PrimaryServiceUUID)
	client.Receive(req)

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpReadByGroupResp), resp[0])
	assert.Equal(t, 0, forwarded, "read-by-group must be served from the destination's cache, not forwarded")

	gotHandle := uint16(resp[2]) | uint16(resp[3])<<8
	gotEnd := uint16(resp[4]) | uint16(resp[5])<<8
	assert.Equal(t, rng.Start+svcHandle, gotHandle)
	assert.Equal(t, rng.Start+svcEnd, gotEnd)
}

func TestRouteReadByGroupOmitsAttributeDeniedByAccessControl(t *testing.T) {
	reg := registry.New(nil)
	denyOne := denyHandleController{denyNative: 1}
	r := New(reg, denyOne, nil)

	tr := newRecordingTransport()
	client := device.New(0, device.IpcApplication, tr, hat.NewBlockAllocator())
	client.Forward = func(buf []byte) { r.Route(client, buf) }
	reg.Add(client)

	peripheral := newPeripheral(0, func(req []byte) []byte { return nil })
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	const deniedHandle, allowedHandle, svcEnd = uint16(1), uint16(3), uint16(5)
	peripheral.WithHandles(func(handles handlesTable) {
		denied := handle.New(deniedHandle, intgatt.PrimaryServiceUUID)
		denied.Variant = handle.PrimaryService
		denied.EndGroupHandle = 2
		denied.Cache.Infinite = true
		denied.Cache.Set(uuid.Short(0x180D).Bytes())
		handles.Set(deniedHandle, denied)

		allowed := handle.New(allowedHandle, intgatt.PrimaryServiceUUID)
		allowed.Variant = handle.PrimaryService
		allowed.EndGroupHandle = svcEnd
		allowed.Cache.Infinite = true
		allowed.Cache.Set(uuid.Short(0x180F).Bytes())
		handles.Set(allowedHandle, allowed)
	})

	req := att.PackTypeReq(att.OpReadByGroupReq, att.HandleRange{Start: 1, End: 0xffff}, intgatt.PrimaryServiceUUID)
	client.Receive(req)

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpReadByGroupResp), resp[0])
	elemLen := int(resp[1])
	require.Equal(t, 1, (len(resp)-2)/elemLen, "the denied attribute must be omitted, not the whole response")
	gotHandle := uint16(resp[2]) | uint16(resp[3])<<8
	assert.Equal(t, rng.Start+allowedHandle, gotHandle)
}

// denyHandleController denies exactly one native attribute handle and
// allows everything else, for exercising per-attribute access control
// in a discovery response.
type denyHandleController struct {
	denyNative uint16
}

func (d denyHandleController) Allow(client, peripheral handle.DeviceID, attHandle uint16, op access.Operation) bool {
	return attHandle != d.denyNative
}

func TestRouteReadByTypeTranslatesEmbeddedValueHandle(t *testing.T) {
	reg, _, client, tr := setup(t)

	const charHandle, valueHandle = uint16(8), uint16(9)
	peripheral := newPeripheral(0, func(req []byte) []byte {
		elem := make([]byte, 0, 5)
		elem = append(elem, byte(charHandle), 0)
		elem = append(elem, byte(intgatt.PropRead))
		elem = append(elem, byte(valueHandle), 0)
		elem = append(elem, intgatt.CharacteristicUUID.Bytes()...)
		return append([]byte{byte(att.OpReadByTypeResp), byte(len(elem))}, elem...)
	})
	pid := reg.Add(peripheral)
	rng := client.HAT.Reserve(pid)

	peripheral.WithHandles(func(handles handlesTable) {
		ch := handle.New(charHandle, intgatt.CharacteristicUUID)
		ch.Variant = handle.Characteristic
		ch.ValueHandle = valueHandle
		ch.Props = intgatt.PropRead
		handles.Set(charHandle, ch)
	})

	req := att.PackTypeReq(att.OpReadByTypeReq, att.HandleRange{Start: rng.Start + charHandle, End: rng.Start + 0xff}, intgatt.CharacteristicUUID)
	client.Receive(req)

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpReadByTypeResp), resp[0])
	elemLen := int(resp[1])
	elem := resp[2 : 2+elemLen]
	gotDecl := uint16(elem[0]) | uint16(elem[1])<<8
	gotValueHandle := uint16(elem[3]) | uint16(elem[4])<<8
	assert.Equal(t, rng.Start+charHandle, gotDecl)
	assert.Equal(t, rng.Start+valueHandle, gotValueHandle, "the characteristic declaration's embedded value handle must be translated into client coordinates too")
}

// denyAllController refuses every access check.
type denyAllController struct{}

func (denyAllController) Allow(client, peripheral handle.DeviceID, attHandle uint16, op access.Operation) bool {
	return false
}

func TestRouteReadByTypeServesInternalDeviceFromCacheWithNoAccessCheck(t *testing.T) {
	reg := registry.New(nil)
	r := New(reg, denyAllController{}, nil)

	tr := newRecordingTransport()
	client := device.New(0, device.IpcApplication, tr, hat.NewBlockAllocator())
	client.Forward = func(buf []byte) { r.Route(client, buf) }
	reg.Add(client)

	internalTr := &echoTransport{}
	internal := device.New(0, device.BeetleInternal, internalTr, hat.NewBlockAllocator())
	internalTr.owner = internal
	reg.Add(internal)

	const nameHandle = uint16(3)
	internal.WithHandles(func(handles handlesTable) {
		h := handle.New(nameHandle, intgatt.DeviceNameUUID)
		h.Cache.Infinite = true
		h.Cache.Set([]byte("beetle-gateway"))
		handles.Set(nameHandle, h)
	})

	req := att.PackTypeReq(att.OpReadByTypeReq, att.HandleRange{Start: nameHandle, End: 0xff}, intgatt.DeviceNameUUID)
	client.Receive(req)

	resp := tr.awaitResponse(t)
	require.Equal(t, byte(att.OpReadByTypeResp), resp[0])
	elemLen := int(resp[1])
	assert.Equal(t, "beetle-gateway", string(resp[4:2+elemLen]))
}
