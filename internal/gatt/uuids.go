// Package gatt holds the well-known GATT-layer UUID constants shared
// by discovery (internal/device), routing (internal/router), and the
// simulated internal device (internal/internaldevice). These mirror
// the teacher package's const.go declarations (gatAttrGAPUUID et al.),
// generalized from that package's peripheral-only role to Beetle's
// router/discovery role.
package gatt

import "github.com/beetle-gw/beetle/internal/uuid"

var (
	GAPServiceUUID  = uuid.Short(0x1800)
	GATTServiceUUID = uuid.Short(0x1801)

	PrimaryServiceUUID   = uuid.Short(0x2800)
	SecondaryServiceUUID = uuid.Short(0x2801)
	IncludeUUID          = uuid.Short(0x2802)
	CharacteristicUUID   = uuid.Short(0x2803)

	ClientCharCfgUUID = uuid.Short(0x2902)
	ServerCharCfgUUID = uuid.Short(0x2903)

	DeviceNameUUID     = uuid.Short(0x2A00)
	AppearanceUUID     = uuid.Short(0x2A01)
	ServiceChangedUUID = uuid.Short(0x2A05)
)

// Characteristic property flags, Bluetooth 4.x Vol 3 Part G §3.3.1.1.
const (
	PropBroadcast   uint8 = 1 << 0
	PropRead        uint8 = 1 << 1
	PropWriteNR     uint8 = 1 << 2
	PropWrite       uint8 = 1 << 3
	PropNotify      uint8 = 1 << 4
	PropIndicate    uint8 = 1 << 5
	PropAuthSignedW uint8 = 1 << 6
	PropExtended    uint8 = 1 << 7
)

// CCCD payload values written to enable notifications/indications.
const (
	CCCDDisable    uint16 = 0x0000
	CCCDNotify     uint16 = 0x0001
	CCCDIndicate   uint16 = 0x0002
)
