// Package packetlog writes the plain-text diagnostic log of every received
// packet and every processing failure.
package packetlog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"meshmon/internal/model"
)

const DefaultPath = "packetlog.txt"

// Log appends one line per packet or error. It is safe for concurrent use;
// each line is written with a single write under the lock.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a log writing to path. Nothing is opened until the first write.
func New(path string) *Log {
	if path == "" {
		path = DefaultPath
	}
	return &Log{path: path, now: time.Now}
}

// Reset truncates the log and writes the initialization marker.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := l.now().Format(model.TimeLayout) + ": Initialized\n"
	if err := os.WriteFile(l.path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("reset packet log: %w", err)
	}
	return nil
}

// AppendPacket records one raw packet under the given display timestamp.
func (l *Log) AppendPacket(stamp string, record any) error {
	return l.append(stamp + ":" + escape(render(record)))
}

// AppendError records a processing failure together with the offending record.
func (l *Log) AppendError(stage string, err error, record any) error {
	stamp := l.now().Format(model.TimeLayout)
	line := fmt.Sprintf("%s:ERROR stage=%s err=%s record=%s", stamp, stage, escape(err.Error()), escape(render(record)))
	return l.append(line)
}

func (l *Log) append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open packet log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write packet log: %w", err)
	}
	return f.Close()
}

func render(record any) string {
	if s, ok := record.(string); ok {
		return s
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf("%v", record)
	}
	return string(data)
}

// escape keeps a record on one line.
func escape(s string) string {
	s = strings.ReplaceAll(s, "\r", `\r`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
