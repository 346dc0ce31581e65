// Package device implements the virtual-device abstraction (spec.md
// §4.5): MTU negotiation, the single-outstanding-transaction queue,
// GATT discovery on connect, and the subscription/unsubscribe
// protocol's per-device half.
package device

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beetle-gw/beetle/internal/att"
	"github.com/beetle-gw/beetle/internal/hat"
	hdl "github.com/beetle-gw/beetle/internal/handle"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	beetlesync "github.com/beetle-gw/beetle/internal/sync"
)

// Type distinguishes the router-observable device kinds (spec.md §6).
// The router only ever switches on this tag and two transport-ish
// methods, replacing the teacher's dynamic_cast-equivalent with a
// plain enum, per spec.md §9.
type Type int

const (
	Unknown Type = iota
	BeetleInternal
	LEPeripheral
	TcpClient
	IpcApplication
	TcpClientProxy
	TcpServerProxy
)

func (t Type) String() string {
	switch t {
	case BeetleInternal:
		return "BeetleInternal"
	case LEPeripheral:
		return "LEPeripheral"
	case TcpClient:
		return "TcpClient"
	case IpcApplication:
		return "IpcApplication"
	case TcpClientProxy:
		return "TcpClientProxy"
	case TcpServerProxy:
		return "TcpServerProxy"
	default:
		return "Unknown"
	}
}

// DefaultMTU is the ATT default LE MTU (23 bytes); the gateway never
// negotiates a peer up past this (spec.md §4.5).
const DefaultMTU = 23

var (
	ErrStopped         = errors.New("device: stopped")
	ErrAlreadyStarted  = errors.New("device: already started")
	ErrDiscoveryFailed = errors.New("device: discovery failed")
)

type pendingTxn struct {
	buf     []byte
	cb      func(resp []byte, err error)
	sentAt  time.Time
}

// Device is a single virtual device: a per-connection object speaking
// ATT over a Transport, in either or both of its two roles — as a
// server (its own handles table, discovered or statically built) and
// as a client (its HAT, mapping its view of the handle space onto
// peer devices).
type Device struct {
	ID   hdl.DeviceID
	Type Type

	nameMu sync.Mutex
	name   string

	transport Transport
	countdown *beetlesync.Countdown

	mtu        uint32 // atomic
	stopped    atomic.Bool
	started    bool
	startedMu  sync.Mutex
	isEndpoint bool

	txnMu     sync.Mutex
	current   *pendingTxn
	pending   []*pendingTxn

	handlesMu sync.Mutex
	handles   *orderedmap.OrderedMap[uint16, *hdl.Handle]

	HAT hat.HAT

	// Forward is invoked for every inbound PDU that is neither an MTU
	// negotiation nor a response to an outstanding transaction —
	// i.e. every PDU the router needs to see (spec.md §4.6's "hands
	// the PDU to the router").
	Forward func(buf []byte)
}

// New constructs a Device. h must not be nil for devices that act as
// a client of other devices; devices that are pure servers (e.g. the
// internal device) may pass a no-op HAT.
func New(id hdl.DeviceID, typ Type, transport Transport, h hat.HAT) *Device {
	d := &Device{
		ID:        id,
		Type:      typ,
		transport: transport,
		countdown: beetlesync.NewCountdown(),
		handles:   orderedmap.New[uint16, *hdl.Handle](),
		HAT:       h,
	}
	atomic.StoreUint32(&d.mtu, DefaultMTU)
	return d
}

// Name returns the device's display name.
func (d *Device) Name() string {
	d.nameMu.Lock()
	defer d.nameMu.Unlock()
	return d.name
}

// SetName sets the device's display name if it is not already set.
func (d *Device) SetName(name string) {
	d.nameMu.Lock()
	defer d.nameMu.Unlock()
	if d.name == "" {
		d.name = name
	}
}

// MTU returns the current negotiated peer MTU (floor DefaultMTU).
func (d *Device) MTU() uint16 {
	return uint16(atomic.LoadUint32(&d.mtu))
}

// IsStopped reports whether the device has been torn down.
func (d *Device) IsStopped() bool { return d.stopped.Load() }

// IsEndpoint reports whether this device terminates the ATT session
// locally (an application or peripheral) as opposed to proxying to
// another gateway.
func (d *Device) IsEndpoint() bool { return d.isEndpoint }

// SetEndpoint marks whether this device is a session endpoint.
func (d *Device) SetEndpoint(v bool) { d.isEndpoint = v }

// Handles returns the device's own GATT table (its server role).
// Callers must not retain the returned map across calls that mutate
// handles; WithHandles should be used instead for read-modify-write
// sequences that need a consistent view.
func (d *Device) Handles() *orderedmap.OrderedMap[uint16, *hdl.Handle] {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	return d.handles
}

// WithHandles runs fn with the handles-table lock held, matching the
// lock-hierarchy position "device.handles_mutex" in spec.md §5. The
// source's handles lock is re-entrant because router response
// closures re-enter it; here the router is instead structured (per
// spec.md §9) to unlock before forwarding and re-lock only on the
// response, so a plain (non-reentrant) mutex suffices.
func (d *Device) WithHandles(fn func(handles *orderedmap.OrderedMap[uint16, *hdl.Handle])) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	fn(d.handles)
}

// setHandles replaces the handles table wholesale, used by discovery
// and by Stop (which clears it).
func (d *Device) setHandles(m *orderedmap.OrderedMap[uint16, *hdl.Handle]) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	d.handles = m
}

// Countdown exposes the device's write-quiescence counter so that a
// transport's teardown path can wait for in-flight writers to finish
// before closing its socket (spec.md §5).
func (d *Device) Countdown() *beetlesync.Countdown { return d.countdown }

// Start performs transport-specific startup, runs GATT discovery to
// populate the handles table, sets the device name from the discovery
// result if not already set, and notifies onStarted (the registry's
// updateDevice hook). Calling Start twice is a programming error.
func (d *Device) Start(discover Discoverer, onStarted func()) error {
	d.startedMu.Lock()
	if d.started {
		d.startedMu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.startedMu.Unlock()

	if starter, ok := d.transport.(Starter); ok {
		if err := starter.Start(); err != nil {
			return err
		}
	}

	if discover != nil {
		name, handles, err := discover.Discover(d)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
		}
		d.setHandles(handles)
		d.SetName(name)
	}

	if onStarted != nil {
		onStarted()
	}
	return nil
}

// StartND ("no discovery") performs transport startup but skips GATT
// discovery, giving the device an empty handles table and the
// placeholder name "<unknown>" if none was already set.
func (d *Device) StartND(onStarted func()) error {
	d.startedMu.Lock()
	if d.started {
		d.startedMu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.startedMu.Unlock()

	if starter, ok := d.transport.(Starter); ok {
		if err := starter.Start(); err != nil {
			return err
		}
	}
	d.SetName("<unknown>")
	if onStarted != nil {
		onStarted()
	}
	return nil
}

// Stop tears the device down: it is idempotent (only the first caller
// performs any work), aborts the current and every pending
// transaction with an ABORTED error PDU, and clears the handles table.
func (d *Device) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}

	d.txnMu.Lock()
	cur := d.current
	pend := d.pending
	d.current = nil
	d.pending = nil
	d.txnMu.Unlock()

	abort := att.PackError(0, 0, att.ECodeAborted)
	if cur != nil {
		d.countdown.Decrement()
		cur.cb(abort, ErrStopped)
	}
	for _, p := range pend {
		p.cb(abort, ErrStopped)
	}

	d.setHandles(orderedmap.New[uint16, *hdl.Handle]())

	if closer, ok := d.transport.(Closer); ok {
		_ = closer.Close()
	}
}

// WriteCommand sends buf with no reply expected (ATT Command).
func (d *Device) WriteCommand(buf []byte) error {
	if d.IsStopped() {
		return ErrStopped
	}
	return d.write(buf)
}

// WriteResponse sends buf as a reply to a peer-initiated request.
func (d *Device) WriteResponse(buf []byte) error {
	if d.IsStopped() {
		return ErrStopped
	}
	return d.write(buf)
}

func (d *Device) write(buf []byte) error {
	_ = d.countdown.Increment()
	defer d.countdown.Decrement()
	return d.transport.Write(buf)
}

// WriteTransaction enqueues buf as a new outstanding request; cb is
// invoked exactly once, either when the matching response PDU arrives
// (see Receive) or when the device is torn down (with an ABORTED
// error PDU). If no transaction is currently outstanding, buf is sent
// immediately; otherwise it is queued FIFO behind the current one
// (spec.md §4.5, §5: "exactly one outstanding request at a time").
func (d *Device) WriteTransaction(buf []byte, cb func(resp []byte, err error)) error {
	if d.IsStopped() {
		cb(att.PackError(0, 0, att.ECodeAborted), ErrStopped)
		return ErrStopped
	}

	txn := &pendingTxn{buf: buf, cb: cb}

	d.txnMu.Lock()
	if d.current == nil {
		d.current = txn
		txn.sentAt = time.Now()
		d.txnMu.Unlock()
		_ = d.countdown.Increment()
		if err := d.transport.Write(buf); err != nil {
			d.completeCurrent(nil, err)
			return err
		}
		return nil
	}
	d.pending = append(d.pending, txn)
	d.txnMu.Unlock()
	return nil
}

// WriteTransactionBlocking is a synchronous wrapper over
// WriteTransaction using a semaphore, for callers (chiefly GATT
// discovery) that need the response before proceeding.
func (d *Device) WriteTransactionBlocking(buf []byte) ([]byte, error) {
	sem := beetlesync.NewSemaphore(0)
	var resp []byte
	var rerr error
	err := d.WriteTransaction(buf, func(r []byte, e error) {
		resp, rerr = r, e
		sem.Notify()
	})
	if err != nil {
		return nil, err
	}
	sem.Wait()
	return resp, rerr
}

// completeCurrent dispatches the current transaction's callback,
// promotes the next pending transaction (if any) to current and sends
// it, and decrements the write-quiescence countdown. The callback
// itself runs outside txnMu, per spec.md §4.5.
func (d *Device) completeCurrent(resp []byte, err error) {
	d.txnMu.Lock()
	finished := d.current
	d.countdown.Decrement()
	if finished == nil {
		d.txnMu.Unlock()
		return
	}
	d.current = nil
	if len(d.pending) > 0 {
		next := d.pending[0]
		d.pending = d.pending[1:]
		d.current = next
		next.sentAt = time.Now()
		d.txnMu.Unlock()
		_ = d.countdown.Increment()
		if werr := d.transport.Write(next.buf); werr != nil {
			d.completeCurrent(nil, werr)
		}
	} else {
		d.txnMu.Unlock()
	}
	finished.cb(resp, err)
}

// Receive handles an inbound PDU from the peer: MTU negotiation,
// response-to-transaction matching, and otherwise handing the PDU to
// Forward (the router). It is the Go analogue of the source's
// readHandler.
func (d *Device) Receive(buf []byte) {
	if d.IsStopped() || len(buf) == 0 {
		return
	}
	op := att.Opcode(buf[0])

	if op == att.OpMTUReq {
		d.handleMTUReq(buf)
		return
	}

	if att.IsResponse(op) {
		d.completeCurrent(buf, nil)
		return
	}

	if d.Forward != nil {
		d.Forward(buf)
	}
}

func (d *Device) handleMTUReq(buf []byte) {
	// The gateway's MTU never leaves [DefaultMTU, DefaultMTU]: it
	// floors a too-small request at the ATT minimum and never
	// negotiates a peer up past it either (spec.md §4.5 getMTU():
	// "floor 23"), so it always replies with its own fixed default
	// regardless of what the peer asked for.
	atomic.StoreUint32(&d.mtu, uint32(DefaultMTU))
	_ = d.write(att.PackMTUResp(DefaultMTU))
}
