// Package classify turns raw mesh packets into counters, message rows and
// packet-feed rows.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"meshmon/internal/directory"
	"meshmon/internal/mesh"
	"meshmon/internal/model"
)

// DefaultLookupTimeout bounds one directory lookup made while classifying.
const DefaultLookupTimeout = 30 * time.Second

// Stage names the processing step a packet failed in.
type Stage string

const (
	StageLog     Stage = "log"
	StageDecode  Stage = "decode"
	StageResolve Stage = "resolve"
	StageHandle  Stage = "handle"
)

// StageError is returned by Handle for any per-packet failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Resolver maps node numbers to directory entries. It returns
// directory.ErrNotFound for unknown nodes.
type Resolver interface {
	LookupNum(ctx context.Context, num uint32) (model.Node, error)
}

// Recorder receives the classified output.
type Recorder interface {
	AddCount(label string)
	AddMessage(model.MessageEntry)
	AddPacket(model.PacketEntry)
}

// RawLogger records every packet before it is classified.
type RawLogger interface {
	AppendPacket(stamp string, record any) error
}

// Config wires a Classifier to its collaborators.
type Config struct {
	Directory Resolver
	History   Recorder
	PacketLog RawLogger
	Home      model.Position
	// LookupTimeout bounds each directory lookup; zero means
	// DefaultLookupTimeout.
	LookupTimeout time.Duration
}

// Classifier processes one packet at a time; it is safe for concurrent use.
type Classifier struct {
	dir  Resolver
	hist Recorder
	plog RawLogger
	home model.Position
	now  func() time.Time

	lookupTimeout time.Duration

	localNum   atomic.Uint32
	localKnown atomic.Bool

	chMu     sync.RWMutex
	channels map[int]string
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return &Classifier{
		dir:           cfg.Directory,
		hist:          cfg.History,
		plog:          cfg.PacketLog,
		home:          cfg.Home,
		now:           time.Now,
		lookupTimeout: cfg.LookupTimeout,
	}
}

// SetLocalNode records the attached radio's node number so its own telemetry
// can be ignored.
func (c *Classifier) SetLocalNode(num uint32) {
	c.localNum.Store(num)
	c.localKnown.Store(true)
}

// SetChannelNames replaces the channel index to name table used for message
// destinations.
func (c *Classifier) SetChannelNames(names map[int]string) {
	cp := make(map[int]string, len(names))
	for k, v := range names {
		cp[k] = v
	}
	c.chMu.Lock()
	c.channels = cp
	c.chMu.Unlock()
}

func (c *Classifier) channelName(index int) (string, bool) {
	c.chMu.RLock()
	defer c.chMu.RUnlock()
	name, ok := c.channels[index]
	return name, ok && name != ""
}

// event is a packet with its derived display fields.
type event struct {
	pkt      model.Packet
	stamp    string
	fromID   string
	toLabel  string
	category string
	hops     int
	fromName string
}

// Handle classifies one packet and records the result. The raw record is
// written to the packet log before anything else can fail.
func (c *Classifier) Handle(ctx context.Context, raw mesh.RawPacket) error {
	pkt, decodeErr := mesh.DecodePacket(raw)

	ev := event{
		pkt:      pkt,
		stamp:    c.stamp(pkt.RxTime),
		category: Category(pkt),
		hops:     Hops(pkt),
	}
	if pkt.From != nil {
		ev.fromID = mesh.FormatNodeID(*pkt.From)
	}
	if pkt.To != nil {
		ev.toLabel = mesh.DestinationLabel(*pkt.To)
	}

	if c.plog != nil {
		if err := c.plog.AppendPacket(ev.stamp, raw); err != nil {
			return &StageError{Stage: StageLog, Err: err}
		}
	}
	if decodeErr != nil {
		return &StageError{Stage: StageDecode, Err: decodeErr}
	}

	if ev.category == model.PortTelemetry && pkt.From != nil && c.localKnown.Load() && *pkt.From == c.localNum.Load() {
		return nil
	}

	c.hist.AddCount(CounterLabel(ev.category))

	if pkt.From == nil {
		return nil
	}
	node, found, err := c.resolve(ctx, *pkt.From)
	if err != nil {
		return &StageError{Stage: StageResolve, Err: err}
	}
	ev.fromName = ev.fromID
	if found && node.LongName != "" {
		ev.fromName = node.LongName
	}

	if err := c.dispatch(ctx, ev); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		return &StageError{Stage: StageHandle, Err: err}
	}
	return nil
}

func (c *Classifier) stamp(rxTime *int64) string {
	if rxTime != nil {
		return time.Unix(*rxTime, 0).Local().Format(model.TimeLayout)
	}
	return c.now().Format(model.TimeLayout)
}

// resolve looks a node up; a miss is not an error.
func (c *Classifier) resolve(ctx context.Context, num uint32) (model.Node, bool, error) {
	if c.dir == nil {
		return model.Node{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	node, err := c.dir.LookupNum(ctx, num)
	switch {
	case err == nil:
		return node, true, nil
	case errors.Is(err, directory.ErrNotFound):
		return model.Node{}, false, nil
	default:
		return model.Node{}, false, err
	}
}

// nameOf returns the node's long name, or its address when unknown.
func (c *Classifier) nameOf(ctx context.Context, num uint32) (string, error) {
	node, found, err := c.resolve(ctx, num)
	if err != nil {
		return "", &StageError{Stage: StageResolve, Err: err}
	}
	if found && node.LongName != "" {
		return node.LongName, nil
	}
	return mesh.FormatNodeID(num), nil
}

// Category returns the packet's application tag, or the encrypted/unknown
// tag when it carries none.
func Category(p model.Packet) string {
	if p.Decoded != nil && p.Decoded.PortNum != "" {
		return p.Decoded.PortNum
	}
	if p.Encrypted {
		return model.PortEncrypted
	}
	return model.PortUnknown
}

// Hops returns hopStart-hopLimit, hopStart alone when the limit is missing,
// or -1 when undetermined.
func Hops(p model.Packet) int {
	switch {
	case p.HopStart != nil && p.HopLimit != nil:
		return *p.HopStart - *p.HopLimit
	case p.HopStart != nil:
		return *p.HopStart
	default:
		return -1
	}
}

// CounterLabel maps a category tag to its counter column.
func CounterLabel(category string) string {
	switch category {
	case model.PortText:
		return model.CountText
	case model.PortTelemetry:
		return model.CountTelemetry
	case model.PortPosition:
		return model.CountPosition
	case model.PortNodeInfo:
		return model.CountNodeInfo
	default:
		return model.CountOther
	}
}
