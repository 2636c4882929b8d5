package classify

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"meshmon/internal/directory"
	"meshmon/internal/mesh"
	"meshmon/internal/model"
)

// Feed icons shown in the packet table's type column.
const (
	IconText        = "Text"
	IconUptime      = "🕑"
	IconTemperature = "🌡"
	IconPosition    = "📍"
	IconNodeInfo    = "ⓘ"
	IconTraceroute  = "TR"
	IconOther       = "-"

	EncryptedPlaceholder = "*** ENCRYPTED TEXT ***"

	// Feed previews of chat text are cut to this many characters.
	previewLen = 32

	channelDM      = "DM"
	channelPrimary = "Pri"
)

func (c *Classifier) dispatch(ctx context.Context, ev event) error {
	switch ev.category {
	case model.PortText, model.PortEncrypted:
		return c.handleText(ctx, ev)
	case model.PortTelemetry:
		c.handleTelemetry(ev)
	case model.PortPosition:
		c.handlePosition(ev)
	case model.PortNodeInfo:
		c.handleNodeInfo(ev)
	case model.PortTraceroute:
		return c.handleTraceroute(ctx, ev)
	default:
		c.handleOther(ev)
	}
	return nil
}

func (c *Classifier) addPacket(ev event, kind, summary string) {
	signal := ""
	if ev.pkt.RxRSSI != nil {
		signal = strconv.Itoa(*ev.pkt.RxRSSI)
	}
	c.hist.AddPacket(model.PacketEntry{
		Time:     ev.stamp,
		FromID:   ev.fromID,
		FromName: ev.fromName,
		Hops:     ev.hops,
		Signal:   signal,
		Kind:     kind,
		Summary:  summary,
	})
}

func (c *Classifier) handleOther(ev event) {
	c.addPacket(ev, IconOther, ev.category)
}

func (c *Classifier) handleText(ctx context.Context, ev event) error {
	text := EncryptedPlaceholder
	if ev.category == model.PortText && ev.pkt.Decoded != nil {
		text = ev.pkt.Decoded.Text
	}

	to := ev.toLabel
	if ev.pkt.To != nil && *ev.pkt.To != mesh.BroadcastNum {
		name, err := c.nameOf(ctx, *ev.pkt.To)
		if err != nil {
			return err
		}
		to = name
	}

	c.hist.AddMessage(model.MessageEntry{
		Time:     ev.stamp,
		FromID:   ev.fromID,
		FromName: ev.fromName,
		To:       to,
		Channel:  c.destination(ev),
		Text:     text,
	})
	c.addPacket(ev, IconText, truncate(text, previewLen))
	return nil
}

// destination labels where a text went: DM for a directed message, else the
// channel's name when known, else the primary channel.
func (c *Classifier) destination(ev event) string {
	if ev.toLabel != mesh.BroadcastLabel {
		return channelDM
	}
	if ch := ev.pkt.Channel; ch != nil {
		if name, ok := c.channelName(*ch); ok {
			return name
		}
	}
	return channelPrimary
}

func (c *Classifier) handleTelemetry(ev event) {
	var tel *model.Telemetry
	if ev.pkt.Decoded != nil {
		tel = ev.pkt.Decoded.Telemetry
	}
	switch {
	case tel != nil && tel.UptimeSeconds != nil && *tel.UptimeSeconds > 0:
		c.addPacket(ev, IconUptime, directory.FormatUptime(*tel.UptimeSeconds)+" uptime")
	case tel != nil && tel.Temperature != nil:
		c.addPacket(ev, IconTemperature, strconv.FormatFloat(*tel.Temperature, 'f', -1, 64)+"°C")
	default:
		c.handleOther(ev)
	}
}

func (c *Classifier) handlePosition(ev event) {
	var pos model.Position
	if ev.pkt.Decoded != nil && ev.pkt.Decoded.Position != nil {
		pos = *ev.pkt.Decoded.Position
	}
	c.addPacket(ev, IconPosition, PositionSummary(pos, c.home))
}

// PositionSummary renders "(lat, lon, altm) Nkm" with the distance from home
// when both positions are known.
func PositionSummary(pos, home model.Position) string {
	lat, lon := 0.0, 0.0
	if pos.Latitude != nil {
		lat = *pos.Latitude
	}
	if pos.Longitude != nil {
		lon = *pos.Longitude
	}
	alt := "?"
	if pos.Altitude != nil {
		alt = strconv.FormatFloat(*pos.Altitude, 'f', -1, 64)
	}
	summary := fmt.Sprintf("(%7.4f, %7.4f, %sm)", lat, lon, alt)
	if km, ok := directory.DistanceKm(pos, home); ok {
		summary += fmt.Sprintf(" %dkm", int(math.Round(km)))
	}
	return summary
}

func (c *Classifier) handleNodeInfo(ev event) {
	hw, role := "?", ""
	if ev.pkt.Decoded != nil && ev.pkt.Decoded.User != nil {
		u := ev.pkt.Decoded.User
		if u.HwModel != "" {
			hw = u.HwModel
		}
		if u.Role != "" {
			role = "as " + u.Role
		}
	}
	c.addPacket(ev, IconNodeInfo, strings.TrimSpace(hw+" "+role))
}

// handleTraceroute lists the path destination, intermediate hops, origin.
func (c *Classifier) handleTraceroute(ctx context.Context, ev event) error {
	var hops []uint32
	if ev.pkt.To != nil {
		hops = append(hops, *ev.pkt.To)
	}
	if ev.pkt.Decoded != nil {
		hops = append(hops, ev.pkt.Decoded.Route...)
	}
	hops = append(hops, *ev.pkt.From)

	names := make([]string, 0, len(hops))
	for _, hop := range hops {
		name, err := c.nameOf(ctx, hop)
		if err != nil {
			return err
		}
		names = append(names, name)
	}
	c.addPacket(ev, IconTraceroute, "Routing: "+strings.Join(names, "→"))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
