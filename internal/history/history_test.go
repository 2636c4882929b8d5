package history

import (
	"errors"
	"fmt"
	"testing"

	"meshmon/internal/model"
)

func TestAddMessage_EvictsOldest(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		s := New(n)
		total := 3*n + 1
		for i := 0; i < total; i++ {
			s.AddMessage(model.MessageEntry{Text: fmt.Sprint(i)})
		}
		got := s.Messages(0)
		if len(got) != n {
			t.Fatalf("cap=%d len=%d", n, len(got))
		}
		for i, e := range got {
			want := fmt.Sprint(total - 1 - i)
			if e.Text != want {
				t.Fatalf("cap=%d idx=%d text=%s want %s", n, i, e.Text, want)
			}
		}
	}
}

func TestPackets_LimitDoesNotMutate(t *testing.T) {
	t.Parallel()

	s := New(4)
	for i := 0; i < 3; i++ {
		s.AddPacket(model.PacketEntry{Summary: fmt.Sprint(i)})
	}
	top := s.Packets(2)
	if len(top) != 2 || top[0].Summary != "2" || top[1].Summary != "1" {
		t.Fatalf("top=%+v", top)
	}
	if len(s.Packets(0)) != 3 {
		t.Fatalf("store mutated by read")
	}
	if top[0].RowID == "" || top[0].RowID == top[1].RowID {
		t.Fatalf("row ids=%q,%q", top[0].RowID, top[1].RowID)
	}
}

func TestCounters_TotalIsSum(t *testing.T) {
	t.Parallel()

	s := New(8)
	s.AddCount(model.CountText)
	s.AddCount(model.CountText)
	s.AddCount(model.CountOther)
	s.AddCount("Custom")

	c := s.Counters()
	if c.Columns[0] != model.CountTotal {
		t.Fatalf("columns=%v", c.Columns)
	}
	if c.Get(model.CountTotal) != 4 || c.Get(model.CountText) != 2 || c.Get("Custom") != 1 {
		t.Fatalf("counters=%+v", c)
	}
	if c.Columns[len(c.Columns)-1] != "Custom" {
		t.Fatalf("extra column not last: %v", c.Columns)
	}
}

type recordSaver struct {
	saves []Snapshot
	err   error
}

func (r *recordSaver) Save(s Snapshot) error {
	r.saves = append(r.saves, s)
	return r.err
}

func TestSaver_CalledOnEveryMutation(t *testing.T) {
	t.Parallel()

	rec := &recordSaver{err: errors.New("disk full")}
	s := New(2)
	s.SetSaver(rec)
	s.AddCount(model.CountText)
	s.AddMessage(model.MessageEntry{Text: "hi"})
	s.AddPacket(model.PacketEntry{Summary: "hi"})
	_ = s.Messages(0)

	if len(rec.saves) != 3 {
		t.Fatalf("saves=%d", len(rec.saves))
	}
	last := rec.saves[2]
	if last.Counts[model.CountTotal] != 1 || len(last.Messages) != 1 || len(last.Packets) != 1 {
		t.Fatalf("last=%+v", last)
	}
}

func TestRestore_TrimsAndRecomputesTotal(t *testing.T) {
	t.Parallel()

	s := New(2)
	s.Restore(Snapshot{
		Counts: map[string]int{model.CountTotal: 99, model.CountText: 3, model.CountPosition: 2},
		Messages: []model.MessageEntry{
			{Text: "newest"}, {Text: "middle"}, {Text: "oldest"},
		},
	})
	if got := s.Counters().Get(model.CountTotal); got != 5 {
		t.Fatalf("total=%d", got)
	}
	msgs := s.Messages(0)
	if len(msgs) != 2 || msgs[0].Text != "newest" || msgs[1].Text != "middle" {
		t.Fatalf("msgs=%+v", msgs)
	}
	s.AddMessage(model.MessageEntry{Text: "later"})
	msgs = s.Messages(0)
	if msgs[0].Text != "later" || msgs[1].Text != "newest" {
		t.Fatalf("after add=%+v", msgs)
	}
}
