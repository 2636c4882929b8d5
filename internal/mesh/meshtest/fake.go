// Package meshtest provides an in-memory mesh.Transport for tests.
package meshtest

import (
	"context"
	"sync"

	"meshmon/internal/mesh"
)

// SentText records one SendText call.
type SentText struct {
	Text    string
	Dest    uint32
	Channel int
}

// TraceRoute records one SendTraceRoute call.
type TraceRoute struct {
	Dest     uint32
	HopLimit int
	Channel  int
}

// Fake is a scriptable transport. Set the exported fields before use; the
// *Err fields make the matching call fail.
type Fake struct {
	mu sync.Mutex

	NodeTable map[string]mesh.RawNode
	Local     mesh.LocalNode
	Chans     []mesh.Channel
	Configs   map[string]map[string]any

	ConnectErr   error
	ReconnectErr error
	NodesErr     error
	SendErr      error
	TraceErr     error
	ReadErr      error
	WriteErr     error
	ChannelErr   error
	RebootErr    error

	// Stall makes node, local-node and channel queries wait for their
	// context to end, like a link that accepts requests and never answers.
	Stall bool

	Connects   int
	Reconnects int
	Texts      []SentText
	Traces     []TraceRoute
	Writes     map[string]map[string]any
	ChanWrites []mesh.Channel
	Reboots    int

	events chan mesh.Event
	closed bool
}

var _ mesh.Transport = (*Fake)(nil)

// New returns a fake with an empty node table.
func New() *Fake {
	return &Fake{
		NodeTable: map[string]mesh.RawNode{},
		Configs:   map[string]map[string]any{},
		Writes:    map[string]map[string]any{},
		events:    make(chan mesh.Event, 64),
	}
}

// Push delivers an event to the listener side.
func (f *Fake) Push(ev mesh.Event) {
	f.events <- ev
}

// PushPacket delivers a packet event.
func (f *Fake) PushPacket(raw mesh.RawPacket) {
	f.Push(mesh.Event{Kind: mesh.EventPacket, Packet: raw})
}

func (f *Fake) Events() <-chan mesh.Event { return f.events }

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects++
	return f.ConnectErr
}

func (f *Fake) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reconnects++
	return f.ReconnectErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *Fake) stall(ctx context.Context) error {
	f.mu.Lock()
	stall := f.Stall
	f.mu.Unlock()
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *Fake) Nodes(ctx context.Context) (map[string]mesh.RawNode, error) {
	if err := f.stall(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NodesErr != nil {
		return nil, f.NodesErr
	}
	out := make(map[string]mesh.RawNode, len(f.NodeTable))
	for k, v := range f.NodeTable {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) LocalNode(ctx context.Context) (mesh.LocalNode, error) {
	if err := f.stall(ctx); err != nil {
		return mesh.LocalNode{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Local, nil
}

func (f *Fake) Channels(ctx context.Context) ([]mesh.Channel, error) {
	if err := f.stall(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChannelErr != nil {
		return nil, f.ChannelErr
	}
	return append([]mesh.Channel(nil), f.Chans...), nil
}

func (f *Fake) SendText(ctx context.Context, text string, dest uint32, channel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Texts = append(f.Texts, SentText{Text: text, Dest: dest, Channel: channel})
	return nil
}

func (f *Fake) SendTraceRoute(ctx context.Context, dest uint32, hopLimit, channel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Traces = append(f.Traces, TraceRoute{Dest: dest, HopLimit: hopLimit, Channel: channel})
	return f.TraceErr
}

func (f *Fake) ReadConfig(ctx context.Context, section string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	cfg := make(map[string]any, len(f.Configs[section]))
	for k, v := range f.Configs[section] {
		cfg[k] = v
	}
	return cfg, nil
}

func (f *Fake) WriteConfig(ctx context.Context, section string, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes[section] = values
	return f.WriteErr
}

func (f *Fake) WriteChannel(ctx context.Context, ch mesh.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChannelErr != nil {
		return f.ChannelErr
	}
	f.ChanWrites = append(f.ChanWrites, ch)
	return nil
}

func (f *Fake) Reboot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reboots++
	return f.RebootErr
}

// Snapshot helpers for assertions from other goroutines.

func (f *Fake) SentTexts() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentText(nil), f.Texts...)
}

func (f *Fake) SentTraces() []TraceRoute {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TraceRoute(nil), f.Traces...)
}

func (f *Fake) ReconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reconnects
}
