// Package uuid implements the 128-bit UUID value used throughout the BLE
// attribute protocol, including the canonical short-form compression
// defined by the Bluetooth base UUID.
package uuid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Len is the length, in bytes, of a canonical (long-form) UUID.
const Len = 16

// baseSuffix is the low 12 bytes of the Bluetooth base UUID,
// 00000000-0000-1000-8000-00805F9B34FB, stored little-endian to match
// UUID's internal byte order (see reverse). In a 16-byte UUID the
// 16-bit short form sits in bytes 12-13 and bytes 14-15 are zero.
var baseSuffix = [12]byte{0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00}

// UUID is a canonical 128-bit Bluetooth UUID. The zero value is not a
// valid UUID; construct one with New, Short, or Parse.
//
// Internally, bytes are stored little-endian (reversed from the
// big-endian string/wire representation), matching the convention the
// teacher package uses for its UUID type.
type UUID struct {
	b []byte
}

// reverse returns a reversed copy of b.
func reverse(b []byte) []byte {
	n := len(b)
	out := make([]byte, n)
	for i, c := range b {
		out[n-1-i] = c
	}
	return out
}

// Short constructs a UUID from its 16-bit short form, e.g. 0x2A00.
func Short(v uint16) UUID {
	b := make([]byte, 2)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	return UUID{b: b}
}

// New constructs a canonical UUID from raw bytes. b may be 2 bytes
// (short form) or 16 bytes (long form), given in little-endian
// (reversed wire) order, matching the teacher's UUID{[]byte} literal
// convention. New panics if len(b) is neither 2 nor 16.
func New(b []byte) UUID {
	switch len(b) {
	case 2, Len:
		cp := make([]byte, len(b))
		copy(cp, b)
		return UUID{b: cp}
	default:
		panic(fmt.Sprintf("uuid: invalid length %d", len(b)))
	}
}

// Parse parses a hex string, with or without dashes, of 4 or 32 hex
// digits, in the conventional big-endian (wire) byte order, e.g.
// "2A00" or "0000180d-0000-1000-8000-00805f9b34fb".
func Parse(s string) (UUID, error) {
	s = stripDashes(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, fmt.Errorf("uuid: %w", err)
	}
	switch len(raw) {
	case 2, Len:
		return UUID{b: reverse(raw)}, nil
	default:
		return UUID{}, fmt.Errorf("uuid: invalid hex length %d, want 4 or 32 hex digits", len(s))
	}
}

func stripDashes(s string) string {
	var buf bytes.Buffer
	buf.Grow(len(s))
	for _, c := range s {
		if c != '-' {
			buf.WriteRune(c)
		}
	}
	return buf.String()
}

// Len returns the length, in bytes, of u: 2 for a short-form value
// still held uncompanded, 16 otherwise.
func (u UUID) Len() int { return len(u.b) }

// IsShort reports whether u's canonical 128-bit expansion matches the
// Bluetooth base UUID, i.e. whether it can be represented in 16 bits.
// A UUID constructed via Short is trivially short; a 16-byte UUID is
// short iff its low 12 bytes equal the Bluetooth base UUID suffix and
// its top 2 bytes are zero; bytes 12-13 (the short form) are
// unconstrained.
func (u UUID) IsShort() bool {
	if len(u.b) == 2 {
		return true
	}
	return bytes.Equal(u.b[:12], baseSuffix[:]) && u.b[14] == 0 && u.b[15] == 0
}

// Short16 returns the 16-bit short form of u. It panics if !u.IsShort().
func (u UUID) Short16() uint16 {
	if !u.IsShort() {
		panic("uuid: Short16 called on a non-short UUID")
	}
	if len(u.b) == 2 {
		return uint16(u.b[0]) | uint16(u.b[1])<<8
	}
	return uint16(u.b[12]) | uint16(u.b[13])<<8
}

// Expand returns the canonical 16-byte expansion of u, compounding the
// Bluetooth base UUID onto a short-form value if necessary.
func (u UUID) Expand() UUID {
	if len(u.b) == Len {
		return u
	}
	b := make([]byte, Len)
	copy(b[:12], baseSuffix[:])
	copy(b[12:14], u.b)
	return UUID{b: b}
}

// Bytes returns the little-endian (reversed wire) byte representation
// of u, matching the on-wire transmission order once written MSB-last.
func (u UUID) Bytes() []byte {
	cp := make([]byte, len(u.b))
	copy(cp, u.b)
	return cp
}

// Equal reports whether u and v denote the same attribute UUID,
// comparing their canonical (expanded) forms byte-lexicographically.
func Equal(u, v UUID) bool {
	return bytes.Equal(u.Expand().b, v.Expand().b)
}

// Compare returns -1, 0, or 1 according to whether u's canonical form
// is less than, equal to, or greater than v's, byte-lexicographically.
func Compare(u, v UUID) int {
	return bytes.Compare(u.Expand().b, v.Expand().b)
}

// String renders u in conventional big-endian dashed hex form.
func (u UUID) String() string {
	be := reverse(u.Expand().b)
	h := hex.EncodeToString(be)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
