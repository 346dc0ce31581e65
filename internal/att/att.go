// Package att implements the wire-level Attribute Protocol (ATT) opcodes,
// error codes, and PDU packing/parsing used by the Bluetooth 4.x GATT
// stack. It has no knowledge of handles, devices, or routing; it only
// knows how to turn well-formed byte slices into typed requests and
// responses and back.
package att

import (
	"encoding/binary"
	"errors"

	"github.com/beetle-gw/beetle/internal/uuid"
)

// Opcode identifies an ATT PDU's operation.
type Opcode byte

// ATT opcodes, Bluetooth 4.x Vol 3 Part F.
const (
	OpError           Opcode = 0x01
	OpMTUReq          Opcode = 0x02
	OpMTUResp         Opcode = 0x03
	OpFindInfoReq     Opcode = 0x04
	OpFindInfoResp    Opcode = 0x05
	OpFindByTypeReq   Opcode = 0x06
	OpFindByTypeResp  Opcode = 0x07
	OpReadByTypeReq   Opcode = 0x08
	OpReadByTypeResp  Opcode = 0x09
	OpReadReq         Opcode = 0x0a
	OpReadResp        Opcode = 0x0b
	OpReadBlobReq     Opcode = 0x0c
	OpReadBlobResp    Opcode = 0x0d
	OpReadMultiReq    Opcode = 0x0e
	OpReadMultiResp   Opcode = 0x0f
	OpReadByGroupReq  Opcode = 0x10
	OpReadByGroupResp Opcode = 0x11
	OpWriteReq        Opcode = 0x12
	OpWriteResp       Opcode = 0x13
	OpPrepWriteReq    Opcode = 0x16
	OpPrepWriteResp   Opcode = 0x17
	OpExecWriteReq    Opcode = 0x18
	OpExecWriteResp   Opcode = 0x19
	OpHandleNotify    Opcode = 0x1b
	OpHandleInd       Opcode = 0x1d
	OpHandleCnf       Opcode = 0x1e
	OpWriteCmd        Opcode = 0x52
	OpSignedWriteCmd  Opcode = 0xd2
)

// ECode is an ATT error code, sent in the status byte of an Error Response.
type ECode byte

const (
	ECodeSuccess         ECode = 0x00
	ECodeInvalidHandle   ECode = 0x01
	ECodeReadNotPerm     ECode = 0x02
	ECodeWriteNotPerm    ECode = 0x03
	ECodeInvalidPDU      ECode = 0x04
	ECodeAuthentication  ECode = 0x05
	ECodeReqNotSupp      ECode = 0x06
	ECodeInvalidOffset   ECode = 0x07
	ECodeAuthorization   ECode = 0x08
	ECodePrepQueueFull   ECode = 0x09
	ECodeAttrNotFound    ECode = 0x0a
	ECodeAttrNotLong     ECode = 0x0b
	ECodeInsuffEncKeySz  ECode = 0x0c
	ECodeInvalAttrValLen ECode = 0x0d
	ECodeUnlikely        ECode = 0x0e
	ECodeInsuffEnc       ECode = 0x0f
	ECodeUnsuppGrpType   ECode = 0x10
	ECodeInsuffResources ECode = 0x11
	// ECodeIO is the original gateway's non-standard extension code for
	// a malformed request the router rejects before it ever reaches a
	// peripheral (e.g. a CCCD write of the wrong length) rather than an
	// error a real attribute server would itself generate.
	ECodeIO ECode = 0x03
	// ECodeAborted is Beetle-specific: it is never sent by a real
	// peripheral, but is synthesized locally to unwind a transaction
	// whose device has torn down. It reuses the spec's reserved 0xFF.
	ECodeAborted ECode = 0xff
)

// RespFor maps an ATT request opcode to its corresponding response
// opcode, for the subset of opcodes that solicit a response at all.
var RespFor = map[Opcode]Opcode{
	OpMTUReq:         OpMTUResp,
	OpFindInfoReq:    OpFindInfoResp,
	OpFindByTypeReq:  OpFindByTypeResp,
	OpReadByTypeReq:  OpReadByTypeResp,
	OpReadReq:        OpReadResp,
	OpReadBlobReq:    OpReadBlobResp,
	OpReadMultiReq:   OpReadMultiResp,
	OpReadByGroupReq: OpReadByGroupResp,
	OpWriteReq:       OpWriteResp,
	OpPrepWriteReq:   OpPrepWriteResp,
	OpExecWriteReq:   OpExecWriteResp,
}

// IsResponse reports whether op is a PDU that completes an outstanding
// transaction: either a response proper (an odd opcode that isn't a
// server-initiated notification/indication) or a handle confirmation.
func IsResponse(op Opcode) bool {
	if op == OpHandleCnf {
		return true
	}
	if op == OpHandleNotify || op == OpHandleInd {
		return false
	}
	return op&0x01 == 1
}

var ErrInvalidPDU = errors.New("att: invalid pdu")

// PackError packs a 5-byte Error Response: opcode 0x01, the opcode that
// caused the error, the attribute handle involved, and the status code.
func PackError(reqOp Opcode, handle uint16, ecode ECode) []byte {
	b := make([]byte, 5)
	b[0] = byte(OpError)
	b[1] = byte(reqOp)
	binary.LittleEndian.PutUint16(b[2:4], handle)
	b[4] = byte(ecode)
	return b
}

// ParseError parses a 5-byte Error Response.
func ParseError(b []byte) (reqOp Opcode, handle uint16, ecode ECode, err error) {
	if len(b) != 5 {
		return 0, 0, 0, ErrInvalidPDU
	}
	return Opcode(b[1]), binary.LittleEndian.Uint16(b[2:4]), ECode(b[4]), nil
}

// HandleRange is an inclusive [Start, End] attribute handle range, as
// carried by most ATT discovery requests.
type HandleRange struct {
	Start, End uint16
}

// PackFindInfoReq packs a Find Information Request.
func PackFindInfoReq(r HandleRange) []byte {
	b := make([]byte, 5)
	b[0] = byte(OpFindInfoReq)
	binary.LittleEndian.PutUint16(b[1:3], r.Start)
	binary.LittleEndian.PutUint16(b[3:5], r.End)
	return b
}

// ParseFindInfoReq parses a Find Information Request (5 bytes).
func ParseFindInfoReq(b []byte) (HandleRange, error) {
	if len(b) != 5 {
		return HandleRange{}, ErrInvalidPDU
	}
	return HandleRange{
		Start: binary.LittleEndian.Uint16(b[1:3]),
		End:   binary.LittleEndian.Uint16(b[3:5]),
	}, nil
}

// PackFindByTypeReq packs a Find By Type Value Request.
func PackFindByTypeReq(r HandleRange, attType uuid.UUID, value []byte) []byte {
	b := make([]byte, 7+len(value))
	b[0] = byte(OpFindByTypeReq)
	binary.LittleEndian.PutUint16(b[1:3], r.Start)
	binary.LittleEndian.PutUint16(b[3:5], r.End)
	copy(b[5:7], attType.Bytes())
	copy(b[7:], value)
	return b
}

// ParseFindByTypeReq parses a Find By Type Value Request. It requires
// a short (16-bit) attribute type, per the ATT wire format.
func ParseFindByTypeReq(b []byte) (r HandleRange, attType uuid.UUID, value []byte, err error) {
	if len(b) < 7 {
		return HandleRange{}, uuid.UUID{}, nil, ErrInvalidPDU
	}
	r = HandleRange{
		Start: binary.LittleEndian.Uint16(b[1:3]),
		End:   binary.LittleEndian.Uint16(b[3:5]),
	}
	attType = uuid.New(b[5:7])
	value = append([]byte(nil), b[7:]...)
	return r, attType, value, nil
}

// PackTypeReq packs the common shape shared by Read By Type and Read
// By Group Type requests: a handle range plus a 2- or 16-byte type.
func PackTypeReq(op Opcode, r HandleRange, attType uuid.UUID) []byte {
	tb := attType.Bytes()
	b := make([]byte, 5+len(tb))
	b[0] = byte(op)
	binary.LittleEndian.PutUint16(b[1:3], r.Start)
	binary.LittleEndian.PutUint16(b[3:5], r.End)
	copy(b[5:], tb)
	return b
}

// ParseTypeReq parses the common Read By Type / Read By Group Type
// request shape: a 7-byte PDU (16-bit type) or a 21-byte PDU (128-bit
// type), per spec.md §4.2's length validation rule.
func ParseTypeReq(b []byte) (r HandleRange, attType uuid.UUID, err error) {
	if len(b) != 7 && len(b) != 21 {
		return HandleRange{}, uuid.UUID{}, ErrInvalidPDU
	}
	r = HandleRange{
		Start: binary.LittleEndian.Uint16(b[1:3]),
		End:   binary.LittleEndian.Uint16(b[3:5]),
	}
	return r, uuid.New(b[5:]), nil
}

// PackReadReq packs a Read Request or Read Blob Request.
func PackReadReq(op Opcode, handle uint16, offset uint16) []byte {
	if op == OpReadBlobReq {
		b := make([]byte, 5)
		b[0] = byte(op)
		binary.LittleEndian.PutUint16(b[1:3], handle)
		binary.LittleEndian.PutUint16(b[3:5], offset)
		return b
	}
	b := make([]byte, 3)
	b[0] = byte(op)
	binary.LittleEndian.PutUint16(b[1:3], handle)
	return b
}

// ParseReadReq parses a Read Request (3 bytes) or Read Blob Request
// (5 bytes).
func ParseReadReq(op Opcode, b []byte) (handle uint16, offset uint16, err error) {
	switch op {
	case OpReadReq:
		if len(b) != 3 {
			return 0, 0, ErrInvalidPDU
		}
		return binary.LittleEndian.Uint16(b[1:3]), 0, nil
	case OpReadBlobReq:
		if len(b) != 5 {
			return 0, 0, ErrInvalidPDU
		}
		return binary.LittleEndian.Uint16(b[1:3]), binary.LittleEndian.Uint16(b[3:5]), nil
	default:
		return 0, 0, ErrInvalidPDU
	}
}

// PackWriteReq packs a Write Request, Write Command, or Handle Value
// Notification/Indication, all of which share the "opcode, handle,
// value" shape.
func PackWriteReq(op Opcode, handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = byte(op)
	binary.LittleEndian.PutUint16(b[1:3], handle)
	copy(b[3:], value)
	return b
}

// ParseWriteReq parses the "opcode, handle, value" PDU shape.
func ParseWriteReq(b []byte) (handle uint16, value []byte, err error) {
	if len(b) < 3 {
		return 0, nil, ErrInvalidPDU
	}
	return binary.LittleEndian.Uint16(b[1:3]), append([]byte(nil), b[3:]...), nil
}

// PackMTUReq packs an Exchange MTU Request.
func PackMTUReq(mtu uint16) []byte {
	b := make([]byte, 3)
	b[0] = byte(OpMTUReq)
	binary.LittleEndian.PutUint16(b[1:3], mtu)
	return b
}

// ParseMTUReq parses an Exchange MTU Request.
func ParseMTUReq(b []byte) (mtu uint16, err error) {
	if len(b) != 3 {
		return 0, ErrInvalidPDU
	}
	return binary.LittleEndian.Uint16(b[1:3]), nil
}

// PackMTUResp packs an Exchange MTU Response.
func PackMTUResp(mtu uint16) []byte {
	b := make([]byte, 3)
	b[0] = byte(OpMTUResp)
	binary.LittleEndian.PutUint16(b[1:3], mtu)
	return b
}
