package mesh

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BridgeProtocol is the protocol a bridge must announce in its hello reply.
const BridgeProtocol = "meshmon-bridge/1"

const (
	bridgeEventBuffer = 256
	bridgeMaxFrame    = 4 << 20

	// DefaultCallTimeout bounds one request to the bridge.
	DefaultCallTimeout = 30 * time.Second

	// A failed Reconnect schedules another link-loss signal with doubling
	// delay, at most maxRelinks times in a row.
	maxRelinks     = 8
	maxRelinkDelay = 5 * time.Minute

	// Error code a bridge reports when the radio dropped the link mid-command.
	codeConnectionReset = "connection_reset"
)

// RemoteError is a failure reported by the bridge for one request.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Is lets callers treat a bridge-reported reset like a local one.
func (e *RemoteError) Is(target error) bool {
	return target == ErrConnectionLost && e.Code == codeConnectionReset
}

// frame is one line of the bridge protocol. Requests carry id/method/params,
// responses carry id/result or id/error, pushed events carry event.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Event  string          `json:"event,omitempty"`
	Packet RawPacket       `json:"packet,omitempty"`

	lost bool
}

// Bridge is a Transport that talks newline-delimited JSON over TCP to a
// bridge process owning the radio link.
type Bridge struct {
	addr        string
	retryDelay  time.Duration
	dialTimeout time.Duration
	callTimeout time.Duration
	maxRelinks  int
	events      chan Event

	mu      sync.Mutex
	conn    net.Conn
	pending map[string]chan frame
	closed  bool
	relinks int

	// writeMu keeps request lines from interleaving on the socket.
	writeMu sync.Mutex
}

var _ Transport = (*Bridge)(nil)

// NewBridge creates an unconnected bridge transport for addr (host:port).
func NewBridge(addr string, retryDelay time.Duration) *Bridge {
	return &Bridge{
		addr:        addr,
		retryDelay:  retryDelay,
		dialTimeout: 10 * time.Second,
		callTimeout: DefaultCallTimeout,
		maxRelinks:  maxRelinks,
		events:      make(chan Event, bridgeEventBuffer),
		pending:     make(map[string]chan frame),
	}
}

// SetCallTimeout changes the deadline applied to every request; d <= 0 keeps
// the current one.
func (b *Bridge) SetCallTimeout(d time.Duration) {
	if d > 0 {
		b.callTimeout = d
	}
}

// Events returns the channel packets and link-loss notifications arrive on.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Connect dials the bridge, starts reading frames and checks the hello reply.
func (b *Bridge) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: b.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.addr, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	}
	old := b.conn
	b.conn = conn
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go b.readLoop(conn)

	var hello struct {
		Protocol string `json:"protocol"`
	}
	if err := b.call(ctx, "hello", nil, &hello); err != nil {
		b.dropConn()
		return fmt.Errorf("bridge %s handshake: %w", b.addr, err)
	}
	if hello.Protocol != BridgeProtocol {
		b.dropConn()
		return fmt.Errorf("bridge %s speaks %q, want %q", b.addr, hello.Protocol, BridgeProtocol)
	}

	b.mu.Lock()
	b.relinks = 0
	b.mu.Unlock()
	return nil
}

// Reconnect drops the current link and dials again. When the dial fails a
// new connection-lost event is scheduled with a doubling delay, so whoever
// reconnects on that signal gets another attempt; after maxRelinks failures
// in a row no further signal is scheduled.
func (b *Bridge) Reconnect(ctx context.Context) error {
	b.dropConn()
	err := b.Connect(ctx)
	if err == nil {
		return nil
	}

	b.mu.Lock()
	b.relinks++
	attempt := b.relinks
	b.mu.Unlock()
	if attempt > b.maxRelinks {
		log.Printf("bridge: reconnect failed attempt=%d; giving up until the bridge drops a live link", attempt)
		return err
	}

	delay := relinkDelay(b.retryDelay, attempt)
	log.Printf("bridge: reconnect failed attempt=%d; self-scheduling link-loss signal in %s", attempt, delay)
	time.AfterFunc(delay, func() {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			b.emit(Event{Kind: EventConnectionLost})
		}
	})
	return err
}

// relinkDelay doubles base for each failed attempt, capped at maxRelinkDelay.
func relinkDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt && d < maxRelinkDelay; i++ {
		d *= 2
	}
	if d > maxRelinkDelay {
		d = maxRelinkDelay
	}
	return d
}

// Close shuts the link down for good.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.failPendingLocked()
	b.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *Bridge) Nodes(ctx context.Context) (map[string]RawNode, error) {
	var out map[string]RawNode
	if err := b.call(ctx, "nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) LocalNode(ctx context.Context) (LocalNode, error) {
	var out LocalNode
	err := b.call(ctx, "local_node", nil, &out)
	return out, err
}

func (b *Bridge) Channels(ctx context.Context) ([]Channel, error) {
	var out []Channel
	if err := b.call(ctx, "channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) SendText(ctx context.Context, text string, dest uint32, channel int) error {
	return b.call(ctx, "send_text", map[string]any{
		"text":          text,
		"destination":   dest,
		"channel_index": channel,
	}, nil)
}

func (b *Bridge) SendTraceRoute(ctx context.Context, dest uint32, hopLimit, channel int) error {
	return b.call(ctx, "send_traceroute", map[string]any{
		"destination":   dest,
		"hop_limit":     hopLimit,
		"channel_index": channel,
	}, nil)
}

func (b *Bridge) ReadConfig(ctx context.Context, section string) (map[string]any, error) {
	var out map[string]any
	if err := b.call(ctx, "get_config", map[string]any{"section": section}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) WriteConfig(ctx context.Context, section string, values map[string]any) error {
	return b.call(ctx, "set_config", map[string]any{"section": section, "values": values}, nil)
}

func (b *Bridge) WriteChannel(ctx context.Context, ch Channel) error {
	return b.call(ctx, "set_channel", ch, nil)
}

func (b *Bridge) Reboot(ctx context.Context) error {
	return b.call(ctx, "reboot", nil, nil)
}

func (b *Bridge) call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	id := uuid.NewString()
	reply := make(chan frame, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	}
	b.pending[id] = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	payload, err := json.Marshal(frame{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	payload = append(payload, '\n')

	b.writeMu.Lock()
	_, err = conn.Write(payload)
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case resp := <-reply:
		if resp.lost {
			return fmt.Errorf("%s: %w", method, ErrConnectionLost)
		}
		if resp.Error != "" || resp.Code != "" {
			return &RemoteError{Method: method, Code: resp.Code, Message: resp.Error}
		}
		if out == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(resp.Result))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (b *Bridge) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), bridgeMaxFrame)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f frame
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&f); err != nil {
			log.Printf("bridge: skip bad frame: %v", err)
			continue
		}
		switch {
		case f.Event == "packet":
			b.emit(Event{Kind: EventPacket, Packet: f.Packet})
		case f.Event == "connection_lost":
			b.emit(Event{Kind: EventConnectionLost})
		case f.ID != "":
			b.resolve(f)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Printf("bridge: read failed: %v", err)
	}

	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
		b.failPendingLocked()
	}
	closed := b.closed
	b.mu.Unlock()

	if current && !closed {
		conn.Close()
		b.emit(Event{Kind: EventConnectionLost})
	}
}

func (b *Bridge) resolve(f frame) {
	b.mu.Lock()
	reply, ok := b.pending[f.ID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- f:
	default:
	}
}

func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		log.Printf("bridge: event buffer full, dropped kind=%d", ev.Kind)
	}
}

func (b *Bridge) dropConn() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.failPendingLocked()
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (b *Bridge) failPendingLocked() {
	for id, reply := range b.pending {
		select {
		case reply <- frame{ID: id, lost: true}:
		default:
		}
	}
}
