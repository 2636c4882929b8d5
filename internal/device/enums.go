package device

import "fmt"

// Enum is an ordered value/name table for one configuration field.
type Enum []EnumValue

type EnumValue struct {
	Value int
	Name  string
}

// Option is one choice offered to the configuration UI.
type Option struct {
	Value    int    `json:"value"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// Name returns the label for v, or "Unknown (v)".
func (e Enum) Name(v int) string {
	for _, ev := range e {
		if ev.Value == v {
			return ev.Name
		}
	}
	return fmt.Sprintf("Unknown (%d)", v)
}

// Value looks up a label.
func (e Enum) Value(name string) (int, bool) {
	for _, ev := range e {
		if ev.Name == name {
			return ev.Value, true
		}
	}
	return 0, false
}

// Options lists every value with the current one marked.
func (e Enum) Options(current int) []Option {
	out := make([]Option, 0, len(e))
	for _, ev := range e {
		out = append(out, Option{Value: ev.Value, Name: ev.Name, Selected: ev.Value == current})
	}
	return out
}

func names(list ...string) Enum {
	e := make(Enum, len(list))
	for i, n := range list {
		e[i] = EnumValue{Value: i, Name: n}
	}
	return e
}

var (
	DeviceRoles = names("CLIENT", "CLIENT_MUTE", "ROUTER", "ROUTER_CLIENT", "REPEATER", "TRACKER",
		"SENSOR", "TAK", "CLIENT_HIDDEN", "LOST_AND_FOUND", "TAK_TRACKER", "ROUTER_LATE")
	RebroadcastModes = names("ALL", "ALL_SKIP_DECODING", "LOCAL_ONLY", "KNOWN_ONLY", "NONE", "CORE_PORTNUMS_ONLY")
	Regions          = names("UNSET", "US", "EU_433", "EU_868", "CN", "JP", "ANZ", "KR", "TW", "RU", "IN",
		"NZ_865", "TH", "LORA_24", "UA_433", "UA_868", "MY_433", "MY_919", "SG_923", "PH_433", "PH_868", "PH_915")
	ModemPresets = names("LONG_FAST", "LONG_SLOW", "VERY_LONG_SLOW", "MEDIUM_SLOW", "MEDIUM_FAST",
		"SHORT_SLOW", "SHORT_FAST", "LONG_MODERATE", "SHORT_TURBO")
	GPSModes       = names("DISABLED", "ENABLED", "NOT_PRESENT")
	GPSFormats     = names("DEC", "DMS", "UTM", "MGRS", "OLC", "OSGR")
	DisplayUnits   = names("METRIC", "IMPERIAL")
	DisplayModes   = names("DEFAULT", "TWOCOLOR", "INVERTED", "COLOR")
	BluetoothModes = names("RANDOM_PIN", "FIXED_PIN", "NO_PIN")
	AddressModes   = names("DHCP", "STATIC")
	SerialModes    = names("DEFAULT", "SIMPLE", "PROTO", "TEXTMSG", "NMEA", "CALTOPO", "WS85", "VE_DIRECT")
	SerialBauds    = names("BAUD_DEFAULT", "BAUD_110", "BAUD_300", "BAUD_600", "BAUD_1200", "BAUD_2400",
		"BAUD_4800", "BAUD_9600", "BAUD_19200", "BAUD_38400", "BAUD_57600", "BAUD_115200",
		"BAUD_230400", "BAUD_460800", "BAUD_576000", "BAUD_921600")
	ChannelRoles = names("DISABLED", "PRIMARY", "SECONDARY")
)

// Sections lists every configuration section in display order.
var Sections = []string{
	"device", "lora", "position", "power", "network", "display", "bluetooth", "security",
	"mqtt", "serial", "telemetry", "store_forward", "external_notification", "range_test",
	"neighbor_info", "detection_sensor", "audio", "remote_hardware", "ambient_lighting",
	"paxcounter", "canned_message",
}

// enumFields names the enum-typed fields of each section.
var enumFields = map[string]map[string]Enum{
	"device":    {"role": DeviceRoles, "rebroadcast_mode": RebroadcastModes},
	"lora":      {"region": Regions, "modem_preset": ModemPresets},
	"position":  {"gps_mode": GPSModes},
	"network":   {"address_mode": AddressModes},
	"display":   {"gps_format": GPSFormats, "units": DisplayUnits, "displaymode": DisplayModes},
	"bluetooth": {"mode": BluetoothModes},
	"serial":    {"baud": SerialBauds, "mode": SerialModes},
}

// secretFields are shown masked and never echoed back to the radio.
var secretFields = map[string][]string{
	"network": {"wifi_psk"},
	"mqtt":    {"password"},
}

// hiddenFields are removed from reads entirely.
var hiddenFields = map[string][]string{
	"security": {"private_key", "admin_key", "public_key"},
}

const secretMask = "********"

// KnownSection reports whether the radio has a configuration section by that name.
func KnownSection(section string) bool {
	for _, s := range Sections {
		if s == section {
			return true
		}
	}
	return false
}
