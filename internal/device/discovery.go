package device

import (
	"fmt"

	"github.com/beetle-gw/beetle/internal/att"
	intgatt "github.com/beetle-gw/beetle/internal/gatt"
	hdl "github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Discoverer populates a freshly connected device's handles table.
// Start takes one as a parameter rather than hardcoding the walk below
// so that devices whose handles are known statically (the internal
// device, test fixtures) can skip the wire round trips entirely.
type Discoverer interface {
	Discover(d *Device) (name string, handles *orderedmap.OrderedMap[uint16, *hdl.Handle], err error)
}

// GATTDiscoverer performs the standard GATT discovery walk over a
// freshly connected peripheral (spec.md §4.5): primary services by
// read-by-group, characteristics per service by read-by-type,
// descriptors per characteristic by find-info, and the GAP device
// name by a single read-by-type. It is the Go shape of the source's
// discovery state machine, flattened into straight-line blocking
// calls since each Device already serializes its own transactions.
type GATTDiscoverer struct{}

func (GATTDiscoverer) Discover(d *Device) (string, *orderedmap.OrderedMap[uint16, *hdl.Handle], error) {
	handles := orderedmap.New[uint16, *hdl.Handle]()

	if err := discoverServices(d, handles); err != nil {
		return "", nil, err
	}
	if err := discoverCharacteristics(d, handles); err != nil {
		return "", nil, err
	}
	if err := discoverDescriptors(d, handles); err != nil {
		return "", nil, err
	}
	patchEndGroupHandles(handles)

	name := readDeviceName(d)
	return name, handles, nil
}

type svcDecl struct {
	declHandle uint16
	endHandle  uint16
	uuid       uuid.UUID
}

// discoverServices walks Read By Group Type Request/Response pairs
// over the full handle space, one primary-service declaration per
// group, until the peripheral reports Attribute Not Found (meaning
// the walk reached the end of the table; spec.md §4.2).
func discoverServices(d *Device, handles *orderedmap.OrderedMap[uint16, *hdl.Handle]) error {
	start := uint16(1)
	for start != 0 {
		req := att.PackTypeReq(att.OpReadByGroupReq, att.HandleRange{Start: start, End: 0xffff}, intgatt.PrimaryServiceUUID)
		resp, err := d.WriteTransactionBlocking(req)
		if err != nil {
			return err
		}
		if len(resp) == 0 {
			return fmt.Errorf("device: empty read-by-group response")
		}
		if att.Opcode(resp[0]) == att.OpError {
			_, _, ecode, _ := att.ParseError(resp)
			if ecode == att.ECodeAttrNotFound {
				break
			}
			return fmt.Errorf("device: read-by-group error 0x%02x", ecode)
		}
		if len(resp) < 2 {
			return fmt.Errorf("device: malformed read-by-group response")
		}
		elemLen := int(resp[1])
		if elemLen < 4 {
			return fmt.Errorf("device: invalid read-by-group element length")
		}
		body := resp[2:]
		last := uint16(0)
		for len(body) >= elemLen {
			declHandle := le16(body[0:2])
			endHandle := le16(body[2:4])
			u := uuid.New(body[4:elemLen])

			h := hdl.New(declHandle, intgatt.PrimaryServiceUUID)
			h.Variant = hdl.PrimaryService
			h.EndGroupHandle = endHandle
			h.Cache.Infinite = true
			h.Cache.Set(u.Bytes())
			handles.Set(declHandle, h)

			last = endHandle
			body = body[elemLen:]
		}
		if last == 0xffff || last == 0 {
			break
		}
		start = last + 1
	}
	return nil
}

// discoverCharacteristics runs a Read By Type Request for the
// characteristic-declaration UUID within each discovered service's
// group range, registering a Characteristic handle plus a paired
// CharacteristicValue handle (spec.md §3: "ValueHandle names the
// paired value handle").
func discoverCharacteristics(d *Device, handles *orderedmap.OrderedMap[uint16, *hdl.Handle]) error {
	for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
		svc := pair.Value
		if svc.Variant != hdl.PrimaryService {
			continue
		}
		start := svc.N + 1
		end := svc.EndGroupHandle
		if end < start {
			continue
		}
		for start <= end {
			req := att.PackTypeReq(att.OpReadByTypeReq, att.HandleRange{Start: start, End: end}, intgatt.CharacteristicUUID)
			resp, err := d.WriteTransactionBlocking(req)
			if err != nil {
				return err
			}
			if len(resp) == 0 {
				return fmt.Errorf("device: empty read-by-type response")
			}
			if att.Opcode(resp[0]) == att.OpError {
				_, _, ecode, _ := att.ParseError(resp)
				if ecode == att.ECodeAttrNotFound {
					break
				}
				return fmt.Errorf("device: read-by-type error 0x%02x", ecode)
			}
			if len(resp) < 2 {
				return fmt.Errorf("device: malformed read-by-type response")
			}
			elemLen := int(resp[1])
			if elemLen < 5 {
				return fmt.Errorf("device: invalid characteristic element length")
			}
			body := resp[2:]
			last := uint16(0)
			for len(body) >= elemLen {
				declHandle := le16(body[0:2])
				props := body[2]
				valueHandle := le16(body[3:5])
				u := uuid.New(body[5:elemLen])

				ch := hdl.New(declHandle, intgatt.CharacteristicUUID)
				ch.Variant = hdl.Characteristic
				ch.ServiceHandle = svc.N
				ch.Props = props
				ch.ValueHandle = valueHandle
				ch.Cache.Infinite = true
				declValue := append([]byte{props}, appendUint16(valueHandle)...)
				declValue = append(declValue, u.Bytes()...)
				ch.Cache.Set(declValue)
				handles.Set(declHandle, ch)

				val := hdl.New(valueHandle, u)
				val.Variant = hdl.CharacteristicValue
				val.ServiceHandle = svc.N
				val.CharHandle = declHandle
				val.Props = props
				handles.Set(valueHandle, val)

				last = declHandle
				body = body[elemLen:]
			}
			if last == 0 {
				break
			}
			start = last + 1
		}
	}
	return nil
}

// discoverDescriptors finds any descriptor attributes — principally
// the Client Characteristic Configuration Descriptor — lying between
// a characteristic value handle and the end of its enclosing service,
// via Find Information Request.
func discoverDescriptors(d *Device, handles *orderedmap.OrderedMap[uint16, *hdl.Handle]) error {
	for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
		ch := pair.Value
		if ch.Variant != hdl.Characteristic {
			continue
		}
		if ch.Props&(intgatt.PropNotify|intgatt.PropIndicate) == 0 {
			continue
		}
		svc, ok := handles.Get(ch.ServiceHandle)
		if !ok {
			continue
		}
		start := ch.ValueHandle + 1
		end := svc.EndGroupHandle
		if end < start {
			continue
		}
		req := att.PackFindInfoReq(att.HandleRange{Start: start, End: end})
		resp, err := d.WriteTransactionBlocking(req)
		if err != nil {
			return err
		}
		if len(resp) < 2 || att.Opcode(resp[0]) == att.OpError {
			continue
		}
		format := resp[1]
		elemLen := 4
		if format == 2 {
			elemLen = 18
		}
		body := resp[2:]
		for len(body) >= elemLen {
			declHandle := le16(body[0:2])
			u := uuid.New(body[2:elemLen])
			if uuid.Equal(u, intgatt.ClientCharCfgUUID) {
				cccd := hdl.New(declHandle, intgatt.ClientCharCfgUUID)
				cccd.Variant = hdl.ClientCharCfg
				cccd.ServiceHandle = ch.ServiceHandle
				cccd.CharHandle = ch.N
				cccd.Cache.Set([]byte{0, 0})
				handles.Set(declHandle, cccd)
			}
			body = body[elemLen:]
		}
	}
	return nil
}

// patchEndGroupHandles fixes up the final service's EndGroupHandle if
// the peripheral reported 0xffff, clamping it to the highest handle
// actually discovered (spec.md §9 defensive note: never trust a
// peripheral-declared range past what discovery itself found).
func patchEndGroupHandles(handles *orderedmap.OrderedMap[uint16, *hdl.Handle]) {
	var highest uint16
	for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.N > highest {
			highest = pair.Value.N
		}
	}
	for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Variant == hdl.PrimaryService && pair.Value.EndGroupHandle > highest {
			pair.Value.EndGroupHandle = highest
		}
	}
}

// readDeviceName issues a single Read By Type Request for the GAP
// device name characteristic across the full handle space and returns
// its value, or "" if the peripheral has none.
func readDeviceName(d *Device) string {
	req := att.PackTypeReq(att.OpReadByTypeReq, att.HandleRange{Start: 1, End: 0xffff}, intgatt.DeviceNameUUID)
	resp, err := d.WriteTransactionBlocking(req)
	if err != nil || len(resp) < 2 || att.Opcode(resp[0]) != att.OpReadByTypeResp {
		return ""
	}
	elemLen := int(resp[1])
	if elemLen < 2 || len(resp) < 2+elemLen {
		return ""
	}
	return string(resp[4 : 2+elemLen])
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func appendUint16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
