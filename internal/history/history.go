package history

import (
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"meshmon/internal/model"
)

const DefaultCapacity = 1024

// Snapshot is the persisted image of a Store. Entries are most recent first.
type Snapshot struct {
	Counts   map[string]int       `yaml:"counts" json:"counts"`
	Messages []model.MessageEntry `yaml:"messages" json:"messages"`
	Packets  []model.PacketEntry  `yaml:"packets" json:"packets"`
}

// Saver persists a snapshot after each mutation.
type Saver interface {
	Save(Snapshot) error
}

// Counters is the counter table as the dashboard renders it.
type Counters struct {
	Columns []string `json:"columns"`
	Values  []int    `json:"values"`
}

// Get returns the value of one column, or 0.
func (c Counters) Get(label string) int {
	for i, col := range c.Columns {
		if col == label {
			return c.Values[i]
		}
	}
	return 0
}

// Store holds the message log, packet feed and per-category counters.
type Store struct {
	mu       sync.Mutex
	counts   map[string]int
	messages *ring[model.MessageEntry]
	packets  *ring[model.PacketEntry]
	saver    Saver
}

// New creates a store whose two logs hold at most capacity entries each.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		counts:   newCounts(),
		messages: newRing[model.MessageEntry](capacity),
		packets:  newRing[model.PacketEntry](capacity),
	}
}

func newCounts() map[string]int {
	counts := make(map[string]int, len(model.CounterLabels))
	for _, label := range model.CounterLabels {
		counts[label] = 0
	}
	return counts
}

// SetSaver enables persistence. Pass nil to disable it.
func (s *Store) SetSaver(saver Saver) {
	s.mu.Lock()
	s.saver = saver
	s.mu.Unlock()
}

// Capacity reports the per-log capacity.
func (s *Store) Capacity() int {
	return s.messages.capacity()
}

// Restore seeds the store from a persisted snapshot. Entries beyond capacity
// are dropped from the old end. Total is recomputed from the categories.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts = newCounts()
	total := 0
	for label, v := range snap.Counts {
		if label == model.CountTotal || v < 0 {
			continue
		}
		s.counts[label] = v
		total += v
	}
	s.counts[model.CountTotal] = total

	s.messages = newRing[model.MessageEntry](s.messages.capacity())
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		s.messages.push(snap.Messages[i])
	}
	s.packets = newRing[model.PacketEntry](s.packets.capacity())
	for i := len(snap.Packets) - 1; i >= 0; i-- {
		s.packets.push(snap.Packets[i])
	}
}

// AddCount bumps one category counter and Total.
func (s *Store) AddCount(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[label]++
	s.counts[model.CountTotal]++
	s.saveLocked()
}

// AddMessage inserts a chat message at the head of the message log.
func (s *Store) AddMessage(e model.MessageEntry) {
	if e.RowID == "" {
		e.RowID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages.push(e)
	s.saveLocked()
}

// AddPacket inserts a row at the head of the packet feed.
func (s *Store) AddPacket(e model.PacketEntry) {
	if e.RowID == "" {
		e.RowID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets.push(e)
	s.saveLocked()
}

// Messages returns up to limit messages, newest first. limit <= 0 returns all.
func (s *Store) Messages(limit int) []model.MessageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.newest(limit)
}

// Packets returns up to limit packet rows, newest first. limit <= 0 returns all.
func (s *Store) Packets(limit int) []model.PacketEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets.newest(limit)
}

// Counters returns the counter table: the standard labels in display order,
// then any other labels alphabetically.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Counters{}
	seen := make(map[string]bool, len(s.counts))
	for _, label := range model.CounterLabels {
		out.Columns = append(out.Columns, label)
		out.Values = append(out.Values, s.counts[label])
		seen[label] = true
	}
	var extra []string
	for label := range s.counts {
		if !seen[label] {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	for _, label := range extra {
		out.Columns = append(out.Columns, label)
		out.Values = append(out.Values, s.counts[label])
	}
	return out
}

// Snapshot copies the full store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return Snapshot{
		Counts:   counts,
		Messages: s.messages.newest(0),
		Packets:  s.packets.newest(0),
	}
}

func (s *Store) saveLocked() {
	if s.saver == nil {
		return
	}
	if err := s.saver.Save(s.snapshotLocked()); err != nil {
		log.Printf("history save failed: %v", err)
	}
}
