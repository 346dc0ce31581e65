package att

import (
	"encoding/binary"

	"github.com/beetle-gw/beetle/internal/uuid"
)

// Writer assembles a PDU response one fixed-size "chunk" (attribute
// data entry) at a time, refusing to exceed a fixed MTU. Discovery-walk
// responses (find-info, find-by-type, read-by-group, read-by-type) are
// built from a run of same-shaped chunks; the first chunk that would
// overflow the MTU is rolled back and the PDU is sent as-is.
//
// Usage: write any fixed header bytes, then for each entry call Chunk,
// write the entry's fields, and call Commit; stop appending once
// Commit returns false.
type Writer struct {
	mtu   uint16
	buf   []byte
	mark  int
	inChk bool
}

// NewWriter returns a Writer bounded to mtu bytes.
func NewWriter(mtu uint16) *Writer {
	return &Writer{mtu: mtu}
}

// Chunk begins a speculative write. It panics if called while another
// chunk is already open.
func (w *Writer) Chunk() {
	if w.inChk {
		panic("att: Chunk called while a chunk is already open")
	}
	w.mark = len(w.buf)
	w.inChk = true
}

// Commit accepts the bytes written since Chunk if they fit within the
// MTU, or rolls them back and returns false otherwise. It panics if
// called without an open chunk.
func (w *Writer) Commit() bool {
	if !w.inChk {
		panic("att: Commit called without an open chunk")
	}
	w.inChk = false
	if len(w.buf) > int(w.mtu) {
		w.buf = w.buf[:w.mark]
		return false
	}
	return true
}

// WriteByte appends a single byte, truncating (and returning false)
// if doing so would exceed the MTU outside of a chunk.
func (w *Writer) WriteByte(b byte) bool {
	if !w.inChk && len(w.buf)+1 > int(w.mtu) {
		return false
	}
	w.buf = append(w.buf, b)
	return true
}

// WriteUint16 appends a little-endian uint16, returning false if doing
// so would exceed the MTU outside of a chunk.
func (w *Writer) WriteUint16(v uint16) bool {
	if !w.inChk && len(w.buf)+2 > int(w.mtu) {
		return false
	}
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	w.buf = append(w.buf, b...)
	return true
}

// WriteUUID appends u's raw bytes (2 or 16 of them).
func (w *Writer) WriteUUID(u uuid.UUID) bool {
	return w.Write(u.Bytes())
}

// Write appends b, truncating (and returning false) if doing so would
// exceed the MTU outside of a chunk. Inside a chunk the bytes are
// always appended and Commit decides whether they stay.
func (w *Writer) Write(b []byte) bool {
	if !w.inChk && len(w.buf)+len(b) > int(w.mtu) {
		return false
	}
	w.buf = append(w.buf, b...)
	return true
}

// Len returns the number of bytes written so far (including any
// currently-open, uncommitted chunk).
func (w *Writer) Len() int { return len(w.buf) }

// Remaining returns how many more bytes may be written before hitting
// the MTU.
func (w *Writer) Remaining() int { return int(w.mtu) - len(w.buf) }

// Bytes returns the assembled PDU.
func (w *Writer) Bytes() []byte { return w.buf }
