// Package listener attaches to the radio and feeds its packets through the
// classifier until the context ends.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"meshmon/internal/classify"
	"meshmon/internal/mesh"
)

const (
	DefaultRetries        = 4
	DefaultRetryDelay     = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// ErrConnectExhausted is returned by Start when every connect attempt failed.
var ErrConnectExhausted = errors.New("mesh connect retries exhausted")

// Handler processes one raw packet; classify.Classifier satisfies it.
type Handler interface {
	Handle(ctx context.Context, raw mesh.RawPacket) error
	SetLocalNode(num uint32)
	SetChannelNames(names map[int]string)
}

// PacketLog is the diagnostic log; packetlog.Log satisfies it.
type PacketLog interface {
	Reset() error
	AppendError(stage string, err error, record any) error
}

// Refresher warms the node directory after a (re)connect.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

// Config wires a Listener.
type Config struct {
	Transport  mesh.Transport
	Handler    Handler
	PacketLog  PacketLog // optional
	Directory  Refresher // optional
	ResetLog   bool
	Retries    int
	RetryDelay time.Duration
	// CommandTimeout bounds each query sent to the radio after a connect.
	CommandTimeout time.Duration
}

// Listener owns the connection lifecycle and the event loop.
type Listener struct {
	tr         mesh.Transport
	handler    Handler
	plog       PacketLog
	dir        Refresher
	resetLog   bool
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
}

func New(cfg Config) *Listener {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Listener{
		tr:         cfg.Transport,
		handler:    cfg.Handler,
		plog:       cfg.PacketLog,
		dir:        cfg.Directory,
		resetLog:   cfg.ResetLog,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.CommandTimeout,
	}
}

// Start connects to the radio, retrying with a fixed delay, then resets the
// packet log and learns the local node and channel names.
func (l *Listener) Start(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= l.retries; attempt++ {
		if err = l.tr.Connect(ctx); err == nil {
			break
		}
		if attempt == l.retries {
			return fmt.Errorf("%w after %d attempts: %v", ErrConnectExhausted, attempt, err)
		}
		log.Printf("connect attempt=%d failed: %v; retrying in %s", attempt, err, l.retryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	if l.resetLog && l.plog != nil {
		if err := l.plog.Reset(); err != nil {
			log.Printf("packet log reset failed: %v", err)
		}
	}
	l.learnLocal(ctx)
	log.Printf("listener initialized")
	return nil
}

// learnLocal tells the handler which node is ours and what the channels are
// called. Failures leave the previous values in place.
func (l *Listener) learnLocal(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, l.timeout)
	ln, err := l.tr.LocalNode(qctx)
	cancel()
	if err != nil {
		log.Printf("local node lookup failed: %v", err)
	} else {
		l.handler.SetLocalNode(ln.Num)
		node := mesh.DecodeNode(mesh.FormatNodeID(ln.Num), ln.Node)
		log.Printf("connected node=%s name=%q short=%q hw=%s", node.ID, node.LongName, node.ShortName, node.HwModel)
	}

	qctx, cancel = context.WithTimeout(ctx, l.timeout)
	chans, err := l.tr.Channels(qctx)
	cancel()
	if err != nil {
		log.Printf("channel lookup failed: %v", err)
	} else {
		names := make(map[int]string, len(chans))
		for _, ch := range chans {
			if ch.Role == 0 {
				continue
			}
			names[ch.Index] = ch.Name
		}
		l.handler.SetChannelNames(names)
		idx := make([]int, 0, len(names))
		for i := range names {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			log.Printf("channel index=%d name=%q", i, names[i])
		}
	}

	if l.dir != nil {
		qctx, cancel = context.WithTimeout(ctx, l.timeout)
		err := l.dir.Refresh(qctx, true)
		cancel()
		if err != nil {
			log.Printf("directory refresh failed: %v", err)
		}
	}
}

// Run processes events one at a time until ctx is cancelled or the
// transport closes its event channel. A failing packet never stops the loop.
func (l *Listener) Run(ctx context.Context) error {
	events := l.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case mesh.EventPacket:
				l.handle(ctx, ev.Packet)
			case mesh.EventConnectionLost:
				l.reconnect(ctx)
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, raw mesh.RawPacket) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(&classify.StageError{Stage: classify.StageHandle, Err: fmt.Errorf("panic: %v", r)}, raw)
		}
	}()
	if err := l.handler.Handle(ctx, raw); err != nil {
		l.fail(err, raw)
	}
}

func (l *Listener) fail(err error, raw mesh.RawPacket) {
	stage := "unknown"
	var se *classify.StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}
	log.Printf("packet failed stage=%s err=%v", stage, err)
	if l.plog == nil || stage == string(classify.StageLog) {
		return
	}
	if lerr := l.plog.AppendError(stage, err, raw); lerr != nil {
		log.Printf("packet log append failed: %v", lerr)
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	log.Printf("disconnected from mesh")
	if err := l.tr.Reconnect(ctx); err != nil {
		log.Printf("reconnect failed: %v", err)
		return
	}
	log.Printf("reconnected to mesh")
	l.learnLocal(ctx)
}
