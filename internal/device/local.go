package device

import (
	"context"
	"strings"

	"meshmon/internal/directory"
	"meshmon/internal/mesh"
	"meshmon/internal/model"
)

const (
	ConnSerial = "Serial"
	ConnTCP    = "TCP/IP"
)

// LocalInfo describes the attached radio.
type LocalInfo struct {
	ID              string         `json:"id"`
	LongName        string         `json:"long_name"`
	ShortName       string         `json:"short_name"`
	HwModel         string         `json:"hw_model"`
	Role            int            `json:"role"`
	RoleName        string         `json:"role_name"`
	ConnectionType  string         `json:"connection_type"`
	Address         string         `json:"address"`
	Metadata        *mesh.Metadata `json:"metadata,omitempty"`
	BatteryLevel    *float64       `json:"battery_level,omitempty"`
	Voltage         *float64       `json:"voltage,omitempty"`
	UptimeSeconds   *int64         `json:"uptime_seconds,omitempty"`
	FormattedUptime string         `json:"formatted_uptime,omitempty"`
	Latitude        *float64       `json:"latitude,omitempty"`
	Longitude       *float64       `json:"longitude,omitempty"`
	Altitude        *float64       `json:"altitude,omitempty"`
	NodeCount       int            `json:"node_count"`
	Channels        []ChannelView  `json:"channels"`
}

// ConnectionType classifies a radio address.
func ConnectionType(address string) string {
	if strings.HasPrefix(address, "/") {
		return ConnSerial
	}
	return ConnTCP
}

// LocalNode collects identity, firmware, metrics and channels of the
// attached radio.
func (s *Service) LocalNode(ctx context.Context) (LocalInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ln, err := s.dev.LocalNode(ctx)
	if err != nil {
		return LocalInfo{}, err
	}
	id := mesh.FormatNodeID(ln.Num)
	node := mesh.DecodeNode(id, ln.Node)

	info := LocalInfo{
		ID:             id,
		LongName:       node.LongName,
		ShortName:      node.ShortName,
		HwModel:        node.HwModel,
		ConnectionType: ConnectionType(s.address),
		Address:        s.address,
		Metadata:       ln.Metadata,
		BatteryLevel:   node.Metrics.BatteryLevel,
		Voltage:        node.Metrics.Voltage,
		UptimeSeconds:  node.Metrics.UptimeSeconds,
		Latitude:       node.Position.Latitude,
		Longitude:      node.Position.Longitude,
		Altitude:       node.Position.Altitude,
		Channels:       []ChannelView{},
	}
	if info.UptimeSeconds != nil {
		info.FormattedUptime = directory.FormatUptime(*info.UptimeSeconds)
	}

	info.Role = localRole(ctx, s.dev, ln, node)
	info.RoleName = DeviceRoles.Name(info.Role)

	if s.dir != nil {
		info.NodeCount = s.dir.Len()
	}
	if chans, err := s.dev.Channels(ctx); err == nil {
		for _, ch := range chans {
			if ch.Role == 0 {
				continue
			}
			info.Channels = append(info.Channels, channelView(ch))
		}
	}
	return info, nil
}

// localRole prefers the device config, then the role the radio reported,
// then the role name in its node entry.
func localRole(ctx context.Context, dev mesh.Device, ln mesh.LocalNode, node model.Node) int {
	if cfg, err := dev.ReadConfig(ctx, "device"); err == nil {
		if v, ok := toInt(cfg["role"]); ok {
			return v
		}
	}
	if ln.Role != nil {
		return *ln.Role
	}
	if v, ok := DeviceRoles.Value(node.Role); ok {
		return v
	}
	return 0
}
