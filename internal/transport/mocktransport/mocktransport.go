// Package mocktransport provides a builder-style fake device.Transport
// that answers ATT requests with canned responses, the way
// srgg-blecli/internal/testutils/peripheral_device_builder.go programs
// a fake peripheral's GATT profile fluently instead of hand-writing
// byte slices at every test call site. It exists so spec.md §8's
// end-to-end scenarios can be driven against a *device.Device without
// a real socket.
package mocktransport

import (
	"sync"

	"github.com/beetle-gw/beetle/internal/att"
)

// Matcher decides whether a request PDU should receive a given canned
// response. Most tests use ForOpcode or ForHandle; any custom
// func(req []byte) bool passed to On covers anything more specific a
// scenario needs.
type Matcher func(req []byte) bool

// ForOpcode matches any request whose first byte is op.
func ForOpcode(op att.Opcode) Matcher {
	return func(req []byte) bool {
		return len(req) > 0 && att.Opcode(req[0]) == op
	}
}

// ForHandle matches a Read/Write/Read-Blob request addressing handle h,
// leaving the opcode unconstrained.
func ForHandle(h uint16) Matcher {
	return func(req []byte) bool {
		if len(req) < 3 {
			return false
		}
		got := uint16(req[1]) | uint16(req[2])<<8
		return got == h
	}
}

type rule struct {
	match   Matcher
	respond func(req []byte) []byte
}

// Mock is a canned-response device.Transport. Build it with New and
// chain On/OnHandle/OnOpcode calls; every Write is matched against the
// rules in the order they were added, first match wins. Use SetOwner to
// attach it to a *device.Device before Write calls can deliver
// responses back through Device.Receive.
type Mock struct {
	mu    sync.Mutex
	rules []rule

	owner interface{ Receive([]byte) }

	Sent [][]byte // every request this mock has observed, in order
}

// New returns an empty Mock with no canned responses configured.
func New() *Mock {
	return &Mock{}
}

// SetOwner wires the device that owns this transport so Write can
// deliver a matched response back via Receive. Tests construct the
// transport before the device that embeds it, so this is set after
// device.New rather than passed into New.
func (m *Mock) SetOwner(owner interface{ Receive([]byte) }) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner = owner
}

// On registers a canned response for any request Matcher matches.
// Returns m for chaining.
func (m *Mock) On(match Matcher, respond func(req []byte) []byte) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{match: match, respond: respond})
	return m
}

// OnOpcode is shorthand for On(ForOpcode(op), ...) returning a fixed
// response regardless of request contents.
func (m *Mock) OnOpcode(op att.Opcode, resp []byte) *Mock {
	return m.On(ForOpcode(op), func([]byte) []byte { return resp })
}

// OnHandle is shorthand for On(ForHandle(h), ...) returning a fixed
// response regardless of request contents.
func (m *Mock) OnHandle(h uint16, resp []byte) *Mock {
	return m.On(ForHandle(h), func([]byte) []byte { return resp })
}

// Write implements device.Transport. It records req, finds the first
// matching rule, and if one matches, delivers the canned response back
// through the owning device's Receive as if it arrived over the wire.
func (m *Mock) Write(req []byte) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, append([]byte(nil), req...))
	var resp []byte
	for _, r := range m.rules {
		if r.match(req) {
			resp = r.respond(req)
			break
		}
	}
	owner := m.owner
	m.mu.Unlock()

	if resp != nil && owner != nil {
		go owner.Receive(resp)
	}
	return nil
}

// Notify delivers value as an unsolicited Handle Value Notification on
// handle h, simulating a peripheral-initiated push rather than a
// reply to a prior Write.
func (m *Mock) Notify(h uint16, value []byte) {
	m.mu.Lock()
	owner := m.owner
	m.mu.Unlock()
	if owner == nil {
		return
	}
	pdu := append([]byte{byte(att.OpHandleNotify), byte(h), byte(h >> 8)}, value...)
	go owner.Receive(pdu)
}
