package mesh

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"meshmon/internal/model"
)

// ErrEmptyPacket is returned by DecodePacket for a nil record.
var ErrEmptyPacket = errors.New("empty packet record")

// DecodePacket maps a raw packet record into a typed packet. Missing or
// mistyped fields are left unset; only an absent record is an error.
func DecodePacket(raw RawPacket) (model.Packet, error) {
	if raw == nil {
		return model.Packet{}, ErrEmptyPacket
	}

	var p model.Packet
	if v, ok := asUint32(raw["id"]); ok {
		p.ID = v
	}
	p.From = nodeNumField(raw, "from", "fromId")
	p.To = nodeNumField(raw, "to", "toId")
	if v, ok := asInt64(raw["rxTime"]); ok {
		p.RxTime = &v
	}
	p.HopStart = intPtr(raw["hopStart"])
	p.HopLimit = intPtr(raw["hopLimit"])
	p.RxRSSI = intPtr(raw["rxRssi"])
	p.Channel = intPtr(raw["channel"])
	p.Encrypted = truthy(raw["encrypted"])

	if dec, ok := raw["decoded"].(map[string]any); ok {
		p.Decoded = decodePayload(dec)
	}
	return p, nil
}

func decodePayload(dec map[string]any) *model.Decoded {
	out := &model.Decoded{}
	out.PortNum, _ = asString(dec["portnum"])
	out.Text, _ = asString(dec["text"])

	if tel, ok := dec["telemetry"].(map[string]any); ok {
		t := &model.Telemetry{}
		if dm, ok := tel["deviceMetrics"].(map[string]any); ok {
			if v, ok := asInt64(dm["uptimeSeconds"]); ok {
				t.UptimeSeconds = &v
			}
		}
		if v, ok := asFloat(tel["temperature"]); ok {
			t.Temperature = &v
		} else if env, ok := tel["environmentMetrics"].(map[string]any); ok {
			if v, ok := asFloat(env["temperature"]); ok {
				t.Temperature = &v
			}
		}
		out.Telemetry = t
	}

	if pos, ok := dec["position"].(map[string]any); ok {
		p := decodePosition(pos)
		out.Position = &p
	}

	if user, ok := dec["user"].(map[string]any); ok {
		u := decodeUser(user)
		out.User = &u
	}

	if tr, ok := dec["traceroute"].(map[string]any); ok {
		if route, ok := tr["route"].([]any); ok {
			for _, hop := range route {
				if n, ok := asUint32(hop); ok {
					out.Route = append(out.Route, n)
				}
			}
		}
	}
	return out
}

// DecodeNode maps one node-table record into a directory entry.
func DecodeNode(id string, raw RawNode) model.Node {
	n := model.Node{ID: id}
	if num, err := ParseNodeID(id); err == nil {
		n.Num = num
	}
	if num, ok := asUint32(raw["num"]); ok {
		n.Num = num
		if n.ID == "" {
			n.ID = FormatNodeID(num)
		}
	}

	if user, ok := raw["user"].(map[string]any); ok {
		u := decodeUser(user)
		n.LongName = u.LongName
		n.ShortName = u.ShortName
		n.HwModel = u.HwModel
		n.Role = u.Role
		n.PublicKey, _ = asString(user["publicKey"])
	}
	if pk, ok := asString(raw["publicKey"]); ok && pk != "" {
		n.PublicKey = pk
	}
	if pos, ok := raw["position"].(map[string]any); ok {
		n.Position = decodePosition(pos)
	}
	if dm, ok := raw["deviceMetrics"].(map[string]any); ok {
		n.Metrics.Voltage = floatPtr(dm["voltage"])
		n.Metrics.BatteryLevel = floatPtr(dm["batteryLevel"])
		n.Metrics.ChannelUtilization = floatPtr(dm["channelUtilization"])
		n.Metrics.AirUtilTx = floatPtr(dm["airUtilTx"])
		if v, ok := asInt64(dm["uptimeSeconds"]); ok {
			n.Metrics.UptimeSeconds = &v
		}
	}
	n.HopsAway = intPtr(raw["hopsAway"])
	if v, ok := asInt64(raw["lastHeard"]); ok && v > 0 {
		n.LastHeard = time.Unix(v, 0)
	}
	return n
}

func decodePosition(pos map[string]any) model.Position {
	var p model.Position
	p.Latitude = floatPtr(pos["latitude"])
	if p.Latitude == nil {
		if v, ok := asInt64(pos["latitudeI"]); ok {
			f := float64(v) * 1e-7
			p.Latitude = &f
		}
	}
	p.Longitude = floatPtr(pos["longitude"])
	if p.Longitude == nil {
		if v, ok := asInt64(pos["longitudeI"]); ok {
			f := float64(v) * 1e-7
			p.Longitude = &f
		}
	}
	p.Altitude = floatPtr(pos["altitude"])
	return p
}

func decodeUser(user map[string]any) model.User {
	var u model.User
	u.ID, _ = asString(user["id"])
	u.LongName, _ = asString(user["longName"])
	u.ShortName, _ = asString(user["shortName"])
	u.HwModel, _ = asString(user["hwModel"])
	u.Role, _ = asString(user["role"])
	return u
}

func nodeNumField(raw RawPacket, numKey, idKey string) *uint32 {
	if v, ok := asUint32(raw[numKey]); ok {
		return &v
	}
	if s, ok := asString(raw[idKey]); ok && s != "" {
		if v, err := ParseNodeID(s); err == nil {
			return &v
		}
	}
	return nil
}

func intPtr(v any) *int {
	n, ok := asInt64(v)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

func floatPtr(v any) *float64 {
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case float32:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asUint32(v any) (uint32, bool) {
	n, ok := asInt64(v)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// truthy mirrors how the radio library marks undecodable packets: either a
// boolean flag or the still-encrypted payload itself.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case nil:
		return false
	default:
		n, ok := asInt64(t)
		return ok && n != 0
	}
}
