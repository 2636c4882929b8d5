// Package device wraps the attached radio's command surface: configuration
// sections, channels, messaging, trace routes and reboot.
package device

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"meshmon/internal/mesh"
	"meshmon/internal/model"
)

const (
	DefaultTimeout = 30 * time.Second

	// Trace routes use at least this hop budget, and never more than maxHopLimit.
	minHopLimit = 4
	maxHopLimit = 7

	TraceRouteFailed = "Trace Route Failed"

	noteConfigLost = "Config sent, connection lost (device may have auto-rebooted)"
	noteRebooting  = "Node is rebooting..."
	noteRebootLost = "Node is rebooting (connection lost as expected)..."
)

var (
	// ErrUnknownSection is returned for a configuration section name the
	// radio does not have.
	ErrUnknownSection = errors.New("unknown config section")
	// ErrInvalidChannel is returned for an out-of-range channel index.
	ErrInvalidChannel = errors.New("invalid channel index")
)

// Result is the outcome of one configuration command.
type Result struct {
	Success        bool           `json:"success"`
	Config         map[string]any `json:"config,omitempty"`
	Channels       []ChannelView  `json:"channels,omitempty"`
	RebootRequired *bool          `json:"reboot_required,omitempty"`
	Message        string         `json:"message,omitempty"`
	Note           string         `json:"note,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

func boolp(v bool) *bool { return &v }

// ChannelView is one channel slot as the configuration UI shows it.
type ChannelView struct {
	Index           int      `json:"index"`
	Role            int      `json:"role"`
	RoleName        string   `json:"role_name"`
	RoleOptions     []Option `json:"role_options"`
	Name            string   `json:"name"`
	PSK             string   `json:"psk"`
	PSKBits         int      `json:"psk_bits"`
	UplinkEnabled   bool     `json:"uplink_enabled"`
	DownlinkEnabled bool     `json:"downlink_enabled"`
}

// ChannelUpdate carries the fields to change on one channel; nil fields are
// left as they are.
type ChannelUpdate struct {
	Role            *int    `json:"role,omitempty"`
	Name            *string `json:"name,omitempty"`
	PSK             *string `json:"psk,omitempty"`
	UplinkEnabled   *bool   `json:"uplink_enabled,omitempty"`
	DownlinkEnabled *bool   `json:"downlink_enabled,omitempty"`
}

// NodeLookup finds directory entries; directory.Cache satisfies it.
type NodeLookup interface {
	Lookup(ctx context.Context, id string) (model.Node, error)
	Len() int
}

// Config wires a Service.
type Config struct {
	Device    mesh.Device
	Directory NodeLookup
	Notifier  *Notifier
	// Address is the radio address as configured; a leading "/" means a
	// serial device.
	Address string
	Timeout time.Duration
}

// Service runs commands against the attached radio.
type Service struct {
	dev     mesh.Device
	dir     NodeLookup
	notes   *Notifier
	address string
	timeout time.Duration

	wg sync.WaitGroup
}

func New(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	return &Service{
		dev:     cfg.Device,
		dir:     cfg.Directory,
		notes:   cfg.Notifier,
		address: cfg.Address,
		timeout: cfg.Timeout,
	}
}

// Notifier returns the mailbox background commands report to.
func (s *Service) Notifier() *Notifier {
	return s.notes
}

// Wait blocks until background commands have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ReadSection reads one configuration section and decorates its enum fields
// with names and options.
func (s *Service) ReadSection(ctx context.Context, section string) Result {
	if !KnownSection(section) {
		return failure(fmt.Errorf("%w: %s", ErrUnknownSection, section))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cfg, err := s.dev.ReadConfig(ctx, section)
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Config: decorate(section, cfg)}
}

// ReadAll reads every section. A failing section is reported in place.
func (s *Service) ReadAll(ctx context.Context) Result {
	out := make(map[string]any, len(Sections))
	for _, section := range Sections {
		out[section] = s.ReadSection(ctx, section)
	}
	return Result{Success: true, Config: out}
}

// WriteSection writes new values for one section. Derived fields and masked
// secrets are not sent; enum names are translated to values.
func (s *Service) WriteSection(ctx context.Context, section string, values map[string]any) Result {
	if !KnownSection(section) {
		return failure(fmt.Errorf("%w: %s", ErrUnknownSection, section))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	clean := sanitize(section, values)
	if err := s.dev.WriteConfig(ctx, section, clean); err != nil {
		if connectionDropped(err) {
			log.Printf("config write section=%s: connection lost: %v", section, err)
			return Result{Success: true, RebootRequired: boolp(true), Note: noteConfigLost}
		}
		return failure(err)
	}
	return Result{Success: true, RebootRequired: boolp(true)}
}

// Channels lists every channel slot.
func (s *Service) Channels(ctx context.Context) Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chans, err := s.dev.Channels(ctx)
	if err != nil {
		return failure(err)
	}
	views := make([]ChannelView, 0, len(chans))
	for _, ch := range chans {
		views = append(views, channelView(ch))
	}
	return Result{Success: true, Channels: views}
}

func channelView(ch mesh.Channel) ChannelView {
	bits := 0
	if raw, err := hex.DecodeString(ch.PSK); err == nil {
		bits = 8 * len(raw)
	}
	roleName := "UNKNOWN"
	if ch.Role >= 0 && ch.Role < len(ChannelRoles) {
		roleName = ChannelRoles[ch.Role].Name
	}
	return ChannelView{
		Index:           ch.Index,
		Role:            ch.Role,
		RoleName:        roleName,
		RoleOptions:     ChannelRoles.Options(ch.Role),
		Name:            ch.Name,
		PSK:             ch.PSK,
		PSKBits:         bits,
		UplinkEnabled:   ch.UplinkEnabled,
		DownlinkEnabled: ch.DownlinkEnabled,
	}
}

// WriteChannel applies an update to one channel slot.
func (s *Service) WriteChannel(ctx context.Context, index int, upd ChannelUpdate) Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chans, err := s.dev.Channels(ctx)
	if err != nil {
		return failure(err)
	}
	if index < 0 || index >= len(chans) {
		return failure(fmt.Errorf("%w: %d", ErrInvalidChannel, index))
	}
	ch := chans[index]
	ch.Index = index
	if upd.Role != nil {
		if *upd.Role < 0 || *upd.Role >= len(ChannelRoles) {
			return failure(fmt.Errorf("invalid channel role: %d", *upd.Role))
		}
		ch.Role = *upd.Role
	}
	if upd.Name != nil {
		ch.Name = *upd.Name
	}
	if upd.PSK != nil && *upd.PSK != "" {
		if _, err := hex.DecodeString(*upd.PSK); err != nil {
			return failure(fmt.Errorf("invalid psk: %w", err))
		}
		ch.PSK = strings.ToLower(*upd.PSK)
	}
	if upd.UplinkEnabled != nil {
		ch.UplinkEnabled = *upd.UplinkEnabled
	}
	if upd.DownlinkEnabled != nil {
		ch.DownlinkEnabled = *upd.DownlinkEnabled
	}

	if err := s.dev.WriteChannel(ctx, ch); err != nil {
		return failure(err)
	}
	return Result{Success: true, RebootRequired: boolp(false)}
}

// Reboot asks the radio to restart. A dropped link is the expected outcome.
func (s *Service) Reboot(ctx context.Context) Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log.Printf("reboot requested")
	if err := s.dev.Reboot(ctx); err != nil {
		if connectionDropped(err) {
			log.Printf("reboot: connection lost as expected: %v", err)
			return Result{Success: true, Message: noteRebootLost}
		}
		log.Printf("reboot failed: %v", err)
		return failure(err)
	}
	return Result{Success: true, Message: noteRebooting}
}

// SendDirect sends a text to one node.
func (s *Service) SendDirect(ctx context.Context, nodeID, text string) error {
	dest, err := mesh.ParseNodeID(nodeID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.dev.SendText(ctx, text, dest, 0)
}

// SendChannel broadcasts a text on a channel index.
func (s *Service) SendChannel(ctx context.Context, index int, text string) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, index)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.dev.SendText(ctx, text, mesh.BroadcastNum, index)
}

// HopLimit picks the trace-route hop budget for a node hopsAway hops out.
func HopLimit(hopsAway *int) int {
	limit := minHopLimit
	if hopsAway != nil && *hopsAway+1 > limit {
		limit = *hopsAway + 1
	}
	if limit > maxHopLimit {
		limit = maxHopLimit
	}
	return limit
}

// TraceRoute starts a route trace to nodeID in the background and returns the
// hop limit used. Failure is reported through the notifier.
func (s *Service) TraceRoute(ctx context.Context, nodeID string) (int, error) {
	dest, err := mesh.ParseNodeID(nodeID)
	if err != nil {
		return 0, err
	}
	var hopsAway *int
	if s.dir != nil {
		if n, err := s.dir.Lookup(ctx, mesh.FormatNodeID(dest)); err == nil {
			hopsAway = n.HopsAway
		}
	}
	limit := HopLimit(hopsAway)
	log.Printf("trace route dest=%s hop_limit=%d", mesh.FormatNodeID(dest), limit)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := s.withTimeout(context.Background())
		defer cancel()
		if err := s.dev.SendTraceRoute(bg, dest, limit, 0); err != nil {
			log.Printf("trace route dest=%s failed: %v", mesh.FormatNodeID(dest), err)
			s.notes.Post(TraceRouteFailed)
		}
	}()
	return limit, nil
}

// connectionDropped reports errors that mean the radio closed the link,
// which config writes and reboots routinely cause.
func connectionDropped(err error) bool {
	return errors.Is(err, mesh.ErrConnectionLost) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

func decorate(section string, cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg)+4)
	for k, v := range cfg {
		out[k] = v
	}
	for _, field := range hiddenFields[section] {
		delete(out, field)
	}
	for _, field := range secretFields[section] {
		if v, ok := out[field]; ok {
			if str, _ := v.(string); str != "" {
				out[field] = secretMask
			} else {
				out[field] = ""
			}
		}
	}
	for field, enum := range enumFields[section] {
		v, ok := toInt(out[field])
		if !ok {
			v = 0
			out[field] = 0
		}
		out[field+"_name"] = enum.Name(v)
		out[field+"_options"] = enum.Options(v)
	}
	return out
}

func sanitize(section string, values map[string]any) map[string]any {
	enums := enumFields[section]
	out := make(map[string]any, len(values))
	for k, v := range values {
		if strings.HasSuffix(k, "_name") || strings.HasSuffix(k, "_options") {
			if _, isEnum := enums[strings.TrimSuffix(strings.TrimSuffix(k, "_name"), "_options")]; isEnum {
				continue
			}
		}
		if str, ok := v.(string); ok && str == secretMask {
			continue
		}
		if enum, ok := enums[k]; ok {
			if str, ok := v.(string); ok {
				if n, found := enum.Value(str); found {
					v = n
				}
			}
		}
		out[k] = v
	}
	return out
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
