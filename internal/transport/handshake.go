package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Handshake is the plaintext key-value block spec.md §6 has each side
// of a remote-gateway TCP+TLS connection exchange before ATT traffic
// begins: a 4-byte big-endian length, then "key SP value LF" lines.
type Handshake struct {
	Gateway string // name of the peer gateway; absent when the initiator is an end application
	Device  string // remote device id the initiator wishes to proxy
	Client  string // name of an end application, only set when Gateway is empty
	Server  bool   // true: the accepting side should run full GATT discovery

	// TTL is carried unvalidated per original_source's TCPServerProxy
	// reconnect-backoff key; no backoff logic reads it here, it is only
	// round-tripped for a future autoconnect layer (out of scope).
	TTL string
}

func (h Handshake) Encode() []byte {
	var body bytes.Buffer
	if h.Gateway != "" {
		fmt.Fprintf(&body, "gateway %s\n", h.Gateway)
	}
	if h.Device != "" {
		fmt.Fprintf(&body, "device %s\n", h.Device)
	}
	if h.Client != "" {
		fmt.Fprintf(&body, "client %s\n", h.Client)
	}
	if h.Server {
		fmt.Fprintf(&body, "server true\n")
	}
	if h.TTL != "" {
		fmt.Fprintf(&body, "ttl %s\n", h.TTL)
	}

	out := make([]byte, 4, 4+body.Len())
	binary.BigEndian.PutUint32(out, uint32(body.Len()))
	return append(out, body.Bytes()...)
}

// WriteHandshake writes h's encoded form to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Encode())
	return err
}

// ReadHandshake reads a length-prefixed key-value block from r and
// parses it into a Handshake. Unrecognized keys are ignored rather
// than rejected, matching a protocol meant to tolerate future keys
// added by a newer peer.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Handshake{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Handshake{}, err
	}

	var h Handshake
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "gateway":
			h.Gateway = value
		case "device":
			h.Device = value
		case "client":
			h.Client = value
		case "server":
			h.Server = value == "true"
		case "ttl":
			h.TTL = value
		}
	}
	return h, scanner.Err()
}
