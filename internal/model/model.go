package model

import "time"

// Application tags carried in a decoded packet's portnum field, plus the two
// synthetic tags assigned when no tag is present.
const (
	PortText       = "TEXT_MESSAGE_APP"
	PortTelemetry  = "TELEMETRY_APP"
	PortPosition   = "POSITION_APP"
	PortNodeInfo   = "NODEINFO_APP"
	PortTraceroute = "TRACEROUTE_APP"
	PortEncrypted  = "ENCRYPTED_MSG"
	PortUnknown    = "UNKNOWN_APP"
)

// Position is a reported location. Fields are nil when the reporter left them out.
type Position struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
}

// Valid reports whether both coordinates are present.
func (p Position) Valid() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// DeviceMetrics is the last device telemetry snapshot of a node.
type DeviceMetrics struct {
	Voltage            *float64
	BatteryLevel       *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
	UptimeSeconds      *int64
}

// Node is one mesh participant as seen in a directory snapshot.
type Node struct {
	ID        string // canonical "!xxxxxxxx"
	Num       uint32
	LongName  string
	ShortName string
	HwModel   string
	Role      string
	PublicKey string
	Position  Position
	Metrics   DeviceMetrics
	HopsAway  *int
	LastHeard time.Time // zero when never heard
}

// Telemetry is the subset of a telemetry payload the dashboard reports on.
type Telemetry struct {
	UptimeSeconds *int64
	Temperature   *float64
}

// User is a node identity announcement.
type User struct {
	ID        string
	LongName  string
	ShortName string
	HwModel   string
	Role      string
}

// Decoded is the application payload of a packet.
type Decoded struct {
	PortNum   string
	Text      string
	Telemetry *Telemetry
	Position  *Position
	User      *User
	Route     []uint32 // intermediate hops of a route trace, in order
}

// Packet is one inbound mesh packet after the transport adapter has mapped
// the raw record into typed fields.
type Packet struct {
	ID        uint32
	From      *uint32
	To        *uint32
	RxTime    *int64
	HopStart  *int
	HopLimit  *int
	RxRSSI    *int
	Channel   *int
	Encrypted bool
	Decoded   *Decoded
}

// MessageEntry is one chat message in the message history.
type MessageEntry struct {
	RowID    string `yaml:"row_id" json:"row_id"`
	Time     string `yaml:"time" json:"datetime"`
	FromID   string `yaml:"from_id" json:"from_id"`
	FromName string `yaml:"from_name" json:"from"`
	To       string `yaml:"to" json:"to"`
	Channel  string `yaml:"channel" json:"channel"`
	Text     string `yaml:"text" json:"message"`
}

// PacketEntry is one row of the packet feed.
type PacketEntry struct {
	RowID    string `yaml:"row_id" json:"row_id"`
	Time     string `yaml:"time" json:"datetime"`
	FromID   string `yaml:"from_id" json:"from_id"`
	FromName string `yaml:"from_name" json:"node"`
	Hops     int    `yaml:"hops" json:"hops"`
	Signal   string `yaml:"signal" json:"rssi"`
	Kind     string `yaml:"kind" json:"type"`
	Summary  string `yaml:"summary" json:"information"`
}

// Counter labels, in display order. Total is always first.
const (
	CountTotal     = "Total"
	CountText      = "Text"
	CountTelemetry = "Telemetry"
	CountPosition  = "Position"
	CountNodeInfo  = "NodeInfo"
	CountOther     = "Other"
)

// CounterLabels lists the counter columns in display order.
var CounterLabels = []string{CountTotal, CountText, CountTelemetry, CountPosition, CountNodeInfo, CountOther}

// TimeLayout is the display format for every timestamp the dashboard shows.
const TimeLayout = "2006-01-02 15:04:05"
