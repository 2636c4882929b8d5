package mesh

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// BroadcastNum is the reserved destination meaning "deliver to all nodes".
	BroadcastNum uint32 = 0xffffffff
	// BroadcastLabel is the display label for BroadcastNum.
	BroadcastLabel = "^all"

	// DefaultBridgePort is where the radio bridge listens when the address
	// names no port.
	DefaultBridgePort = "4410"
	// radioAPIPort is the radio's native protobuf TCP API.
	radioAPIPort = "4403"
)

// ErrRadioPort is returned for addresses that point at the radio's own
// protobuf API instead of a bridge.
var ErrRadioPort = errors.New("port " + radioAPIPort + " is the radio's protobuf API; point the address at a meshmon bridge")

// FormatNodeID renders a node number in canonical "!xxxxxxxx" form.
func FormatNodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID accepts "!abcd1234", "abcd1234" or "0xabcd1234". Node ids are
// always hexadecimal on the wire and in the UI.
func ParseNodeID(value string) (uint32, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "!")
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	if v == "" {
		return 0, fmt.Errorf("empty node id %q", value)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", value)
	}
	return uint32(n), nil
}

// DestinationLabel maps a recipient number to its display label.
func DestinationLabel(to uint32) string {
	if to == BroadcastNum {
		return BroadcastLabel
	}
	return FormatNodeID(to)
}

// BridgeDialAddr maps a configured radio address to the bridge's TCP
// address. A serial device path is served by a bridge on the local host.
func BridgeDialAddr(address string) (string, error) {
	a := strings.TrimSpace(address)
	if strings.HasPrefix(a, "/") || a == "" {
		return net.JoinHostPort("127.0.0.1", DefaultBridgePort), nil
	}
	if _, port, err := net.SplitHostPort(a); err == nil {
		if port == radioAPIPort {
			return "", fmt.Errorf("%s: %w", a, ErrRadioPort)
		}
		return a, nil
	}
	return net.JoinHostPort(strings.Trim(a, "[]"), DefaultBridgePort), nil
}
