package transport

import (
	"bufio"
	"bytes"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// NotifyBuffer decouples a transport's read goroutine from whatever is
// draining notifications, so a slow or stalled dispatch path can't
// block the socket read loop. Framed PDUs are pushed in and popped out
// in order; a push against a full ring drops the newest PDU rather
// than blocking the writer, the same overwrite-avoidance tradeoff
// srgg-blecli/internal/ptyio makes for its read/write rings.
type NotifyBuffer struct {
	mu     sync.Mutex
	ring   *ringbuffer.RingBuffer
	framer Framer
	reader *bufio.Reader

	dropped uint64
}

// NewNotifyBuffer allocates a ring of capacity bytes. framer decides
// how pushed PDUs are delimited inside the ring; ByteStreamFramer is
// the right choice for any byte-stream transport.
func NewNotifyBuffer(capacity int, framer Framer) *NotifyBuffer {
	ring := ringbuffer.New(capacity)
	return &NotifyBuffer{
		ring:   ring,
		framer: framer,
		reader: bufio.NewReader(ring),
	}
}

// Push frames and enqueues pdu. It returns false without blocking if
// the ring has no room, incrementing Dropped. The frame is built in a
// scratch buffer first and written to the ring in one call so a
// too-large push never leaves a half-written frame behind for Pop to
// choke on.
func (b *NotifyBuffer) Push(pdu []byte) bool {
	var framed bytes.Buffer
	if err := b.framer.WriteFrame(&framed, pdu); err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ring.Write(framed.Bytes()); err != nil {
		b.dropped++
		return false
	}
	return true
}

// Pop removes and returns the oldest buffered PDU, or (nil, false) if
// the ring is currently empty.
func (b *NotifyBuffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.framer.ReadFrame(b.reader)
	if err != nil {
		return nil, false
	}
	return buf, true
}

// Dropped reports how many PDUs have been discarded because the ring
// was full when Push was called.
func (b *NotifyBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
