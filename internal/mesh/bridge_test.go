package mesh

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeBridge accepts connections, answers hello itself and every other
// request with reply. A nil reply leaves the request unanswered.
type fakeBridge struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeBridge(t *testing.T, reply func(req map[string]any) map[string]any) *fakeBridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	fb := &fakeBridge{ln: ln, conns: make(chan net.Conn, 4)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fb.conns <- conn
			go func() {
				scanner := bufio.NewScanner(conn)
				enc := json.NewEncoder(conn)
				for scanner.Scan() {
					var req map[string]any
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					var resp map[string]any
					if req["method"] == "hello" {
						resp = map[string]any{"result": map[string]any{"protocol": BridgeProtocol}}
					} else if resp = reply(req); resp == nil {
						continue
					}
					resp["id"] = req["id"]
					if err := enc.Encode(resp); err != nil {
						return
					}
				}
			}()
		}
	}()
	return fb
}

func (fb *fakeBridge) addr() string { return fb.ln.Addr().String() }

func (fb *fakeBridge) conn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-fb.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func nextEvent(t *testing.T, b *Bridge) Event {
	t.Helper()
	select {
	case ev := <-b.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestBridge_CallBeforeConnect(t *testing.T) {
	t.Parallel()

	b := NewBridge("127.0.0.1:1", time.Millisecond)
	if _, err := b.Nodes(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
}

func TestBridge_RequestResponse(t *testing.T) {
	t.Parallel()

	var gotMethod string
	fb := newFakeBridge(t, func(req map[string]any) map[string]any {
		gotMethod, _ = req["method"].(string)
		switch gotMethod {
		case "nodes":
			return map[string]any{"result": map[string]any{
				"!00000001": map[string]any{"num": 1, "user": map[string]any{"longName": "Alpha"}},
			}}
		case "reboot":
			return map[string]any{"error": "link reset", "code": "connection_reset"}
		default:
			return map[string]any{"error": "unsupported"}
		}
	})

	b := NewBridge(fb.addr(), time.Millisecond)
	defer b.Close()
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	nodes, err := b.Nodes(ctx)
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	n := DecodeNode("!00000001", nodes["!00000001"])
	if n.Num != 1 || n.LongName != "Alpha" {
		t.Fatalf("node=%+v", n)
	}

	err = b.Reboot(ctx)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("reboot err=%v", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Method != "reboot" {
		t.Fatalf("remote=%+v", remote)
	}

	if _, err := b.ReadConfig(ctx, "lora"); err == nil || errors.Is(err, ErrConnectionLost) {
		t.Fatalf("read err=%v", err)
	}
}

func TestBridge_PushedEventsAndLinkLoss(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge(t, func(req map[string]any) map[string]any { return map[string]any{} })
	b := NewBridge(fb.addr(), time.Millisecond)
	defer b.Close()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := fb.conn(t)

	_, _ = server.Write([]byte(`{"event":"packet","packet":{"from":305419896,"decoded":{"portnum":"TEXT_MESSAGE_APP","text":"hi"}}}` + "\n"))
	ev := nextEvent(t, b)
	if ev.Kind != EventPacket {
		t.Fatalf("kind=%d", ev.Kind)
	}
	p, err := DecodePacket(ev.Packet)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if p.From == nil || *p.From != 0x12345678 || p.Decoded == nil || p.Decoded.Text != "hi" {
		t.Fatalf("packet=%+v", p)
	}

	_, _ = server.Write([]byte("not json\n"))
	server.Close()
	if ev := nextEvent(t, b); ev.Kind != EventConnectionLost {
		t.Fatalf("kind=%d", ev.Kind)
	}
	if _, err := b.Channels(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}

	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if err := b.SendText(context.Background(), "hello", BroadcastNum, 0); err != nil {
		t.Fatalf("SendText after reconnect: %v", err)
	}
}

func TestBridge_FailedReconnectReschedulesLinkLoss(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	b := NewBridge(addr, 10*time.Millisecond)
	defer b.Close()
	if err := b.Reconnect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if ev := nextEvent(t, b); ev.Kind != EventConnectionLost {
		t.Fatalf("kind=%d", ev.Kind)
	}
}

func TestBridge_SilentPeerFailsHandshake(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	b := NewBridge(ln.Addr().String(), time.Millisecond)
	b.SetCallTimeout(50 * time.Millisecond)
	defer b.Close()
	err = b.Connect(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if _, err := b.Nodes(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("nodes err=%v", err)
	}
}

func TestBridge_WrongProtocolRejected(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req map[string]any
			_ = json.Unmarshal(scanner.Bytes(), &req)
			_ = json.NewEncoder(conn).Encode(map[string]any{"id": req["id"], "result": map[string]any{"protocol": "other/2"}})
		}
	}()

	b := NewBridge(ln.Addr().String(), time.Millisecond)
	defer b.Close()
	if err := b.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "other/2") {
		t.Fatalf("err=%v", err)
	}
}

func TestBridge_UnansweredCallTimesOut(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge(t, func(req map[string]any) map[string]any { return nil })
	b := NewBridge(fb.addr(), time.Millisecond)
	b.SetCallTimeout(50 * time.Millisecond)
	defer b.Close()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.Nodes(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Nodes still blocked")
	}
}

func TestBridge_ReconnectSignalsAreCapped(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	b := NewBridge(addr, time.Millisecond)
	b.maxRelinks = 2
	defer b.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := b.Reconnect(ctx); err == nil {
			t.Fatalf("expected dial error")
		}
		if ev := nextEvent(t, b); ev.Kind != EventConnectionLost {
			t.Fatalf("kind=%d", ev.Kind)
		}
	}
	if err := b.Reconnect(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event after cap: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelinkDelay(t *testing.T) {
	t.Parallel()

	if got := relinkDelay(time.Second, 1); got != time.Second {
		t.Fatalf("attempt 1=%s", got)
	}
	if got := relinkDelay(time.Second, 4); got != 8*time.Second {
		t.Fatalf("attempt 4=%s", got)
	}
	if got := relinkDelay(time.Minute, 8); got != maxRelinkDelay {
		t.Fatalf("capped=%s", got)
	}
	if got := relinkDelay(0, 1); got != time.Second {
		t.Fatalf("zero base=%s", got)
	}
}
