// Command beetled is the gateway process entrypoint: it wires a
// registry, router, access controller, and the Beetle-internal
// simulated device together, mirroring the shape of the teacher's
// examples/server.go (build options, register lifecycle handlers,
// block). Concrete socket listeners (TCP+TLS, UNIX seqpacket) are out
// of SPEC_FULL.md's core, so this attaches a mocktransport-backed demo
// peripheral and client in their place, giving the wiring something
// real to route without a socket.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/beetle-gw/beetle/internal/access"
	"github.com/beetle-gw/beetle/internal/att"
	"github.com/beetle-gw/beetle/internal/config"
	"github.com/beetle-gw/beetle/internal/device"
	"github.com/beetle-gw/beetle/internal/handle"
	"github.com/beetle-gw/beetle/internal/hat"
	"github.com/beetle-gw/beetle/internal/internaldevice"
	"github.com/beetle-gw/beetle/internal/logging"
	"github.com/beetle-gw/beetle/internal/registry"
	"github.com/beetle-gw/beetle/internal/router"
	"github.com/beetle-gw/beetle/internal/transport/mocktransport"
	"github.com/sirupsen/logrus"
)

var (
	name     = flag.String("name", "beetle-gw", "gateway name advertised in GAP and remote handshakes")
	tcpAddr  = flag.String("tcp", ":3395", "TCP+TLS listen address (wiring placeholder; no socket is opened)")
	unixAddr = flag.String("unix", "", "UNIX-seqpacket listen path (wiring placeholder; no socket is opened)")
	debug    = flag.Bool("debug", false, "enable debug-level logging")
)

func main() {
	flag.Parse()

	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}
	logger := logging.New(logging.Options{Level: level})

	cfg, err := config.New(
		config.WithGatewayName(*name),
		config.WithTCPAddr(*tcpAddr),
		config.WithUnixAddr(*unixAddr),
	)
	if err != nil {
		log.Fatalf("beetled: invalid configuration: %v", err)
	}

	reg := registry.New(logging.Component(logger, "registry"))

	control := access.NewCached(access.AllowAll{})
	control.WireRegistry(reg)

	r := router.New(reg, control, logging.Component(logger, "router"))

	internal := internaldevice.New(cfg.GatewayName, reg.Len)
	reg.Add(internal)

	reg.On(registry.OnConnect, func(d *device.Device) {
		logging.Component(logger, "beetled").WithField("device_id", d.ID).Info("device connected")
	})
	reg.On(registry.OnDisconnect, func(d *device.Device) {
		logging.Component(logger, "beetled").WithField("device_id", d.ID).Info("device disconnected")
	})

	attachDemo(reg, r, cfg)

	logging.Component(logger, "beetled").WithFields(logrus.Fields{
		"tcp":  cfg.TCPAddr,
		"unix": cfg.UnixAddr,
	}).Info("beetled wiring ready (no socket listeners in this build)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

// attachDemo registers one mocktransport-backed peripheral and one
// client routed through r, the way examples/server.go wires an
// in-process demo service rather than a production topology. It gives
// the gateway something to forward PDUs to and from without a real
// socket or BLE radio.
func attachDemo(reg *registry.Registry, r *router.Router, cfg config.Config) {
	var allocator func(handle.DeviceID) hat.HAT
	switch cfg.HATMode {
	case config.HATModeSingle:
		allocator = func(id handle.DeviceID) hat.HAT { return hat.NewSingleAllocator(id) }
	default:
		allocator = func(handle.DeviceID) hat.HAT { return hat.NewBlockAllocator() }
	}

	peripheralTr := mocktransport.New()
	peripheralTr.OnHandle(3, append([]byte{byte(att.OpReadResp)}, []byte("demo-peripheral")...))
	peripheral := device.New(handle.NullDeviceID, device.LEPeripheral, peripheralTr, allocator(handle.NullDeviceID))
	peripheralTr.SetOwner(peripheral)
	peripheral.SetEndpoint(true)
	peripheralID := reg.Add(peripheral)

	clientTr := mocktransport.New()
	client := device.New(handle.NullDeviceID, device.IpcApplication, clientTr, allocator(handle.NullDeviceID))
	clientTr.SetOwner(client)
	client.Forward = func(buf []byte) { r.Route(client, buf) }
	reg.Add(client)

	client.HAT.Reserve(peripheralID)
}
