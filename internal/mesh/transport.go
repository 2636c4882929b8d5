package mesh

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by calls made while no link to the radio is up.
	ErrNotConnected = errors.New("mesh transport not connected")
	// ErrConnectionLost is returned when the link drops while a call is in flight.
	ErrConnectionLost = errors.New("mesh connection lost")
)

// RawPacket is a received packet as the transport delivers it: a loosely
// structured record with optional keys (from, to, rxTime, hopStart, decoded...).
type RawPacket map[string]any

// RawNode is one entry of the transport's node table.
type RawNode map[string]any

// EventKind distinguishes the notifications a transport pushes.
type EventKind int

const (
	EventPacket EventKind = iota + 1
	EventConnectionLost
)

// Event is pushed by the transport as packets arrive or the link drops.
type Event struct {
	Kind   EventKind
	Packet RawPacket
}

// Metadata describes the attached radio's firmware and capabilities.
type Metadata struct {
	FirmwareVersion    string `json:"firmware_version"`
	DeviceStateVersion int    `json:"device_state_version"`
	CanShutdown        bool   `json:"can_shutdown"`
	HasWifi            bool   `json:"has_wifi"`
	HasBluetooth       bool   `json:"has_bluetooth"`
	HasEthernet        bool   `json:"has_ethernet"`
}

// LocalNode is the radio the dashboard is attached to.
type LocalNode struct {
	Num      uint32    `json:"num"`
	Node     RawNode   `json:"node"`
	Metadata *Metadata `json:"metadata"`
	Role     *int      `json:"role"`
}

// Channel is one channel slot of the attached radio. PSK is hex encoded.
type Channel struct {
	Index           int    `json:"index"`
	Role            int    `json:"role"`
	Name            string `json:"name"`
	PSK             string `json:"psk"`
	UplinkEnabled   bool   `json:"uplink_enabled"`
	DownlinkEnabled bool   `json:"downlink_enabled"`
}

// NodeSource provides the full node table.
type NodeSource interface {
	Nodes(ctx context.Context) (map[string]RawNode, error)
}

// Device is the command surface of the attached radio.
type Device interface {
	LocalNode(ctx context.Context) (LocalNode, error)
	Channels(ctx context.Context) ([]Channel, error)
	SendText(ctx context.Context, text string, dest uint32, channel int) error
	SendTraceRoute(ctx context.Context, dest uint32, hopLimit, channel int) error
	ReadConfig(ctx context.Context, section string) (map[string]any, error)
	WriteConfig(ctx context.Context, section string, values map[string]any) error
	WriteChannel(ctx context.Context, ch Channel) error
	Reboot(ctx context.Context) error
}

// Transport is a full connection to one radio.
type Transport interface {
	NodeSource
	Device
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Events() <-chan Event
	Close() error
}
