package device

// Transport is the per-connection write primitive a virtual device is
// built on (spec.md §9 "composition over inheritance": base state —
// transaction queue, MTU, handles — is common, transports contribute
// write(buf) and an optional connect-time hook). Concrete transports
// (L2CAP, TCP+TLS, UNIX seqpacket) are out of scope for the core
// (spec.md §1); internal/transport/mocktransport provides a
// byte-buffer-backed implementation used by tests and by the internal
// device.
type Transport interface {
	// Write sends buf as a single ATT PDU with no inherent framing
	// decisions left to the caller (length-prefixing, if the
	// transport needs it, happens below this interface).
	Write(buf []byte) error
}

// Starter is implemented by transports that need connection-time setup
// (e.g. accepting an L2CAP channel) before discovery can run. Not every
// transport needs this, hence a separate optional interface rather
// than a required method.
type Starter interface {
	Start() error
}

// Closer is implemented by transports that hold an OS resource that
// must be released on device teardown.
type Closer interface {
	Close() error
}
