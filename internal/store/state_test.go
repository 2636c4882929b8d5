package store

import (
	"os"
	"path/filepath"
	"testing"

	"meshmon/internal/history"
	"meshmon/internal/model"
)

func sampleSnapshot() history.Snapshot {
	return history.Snapshot{
		Counts: map[string]int{model.CountTotal: 2, model.CountText: 1, model.CountOther: 1},
		Messages: []model.MessageEntry{
			{RowID: "m2", Time: "2024-05-01 12:00:01", FromID: "!00000002", FromName: "Bravo", To: "^all", Channel: "Pri", Text: "second"},
			{RowID: "m1", Time: "2024-05-01 12:00:00", FromID: "!00000001", FromName: "Alpha", To: "^all", Channel: "Pri", Text: "first"},
		},
		Packets: []model.PacketEntry{
			{RowID: "p1", Time: "2024-05-01 12:00:01", FromID: "!00000002", FromName: "Bravo", Hops: -1, Signal: "", Kind: "-", Summary: "UNKNOWN_APP"},
		},
	}
}

func checkSnapshot(t *testing.T, got *history.Snapshot) {
	t.Helper()
	if got == nil {
		t.Fatalf("snapshot is nil")
	}
	if got.Counts[model.CountTotal] != 2 || got.Counts[model.CountText] != 1 {
		t.Fatalf("counts=%v", got.Counts)
	}
	if len(got.Messages) != 2 || got.Messages[0].Text != "second" || got.Messages[1].FromName != "Alpha" {
		t.Fatalf("messages=%+v", got.Messages)
	}
	if len(got.Packets) != 1 || got.Packets[0].Hops != -1 || got.Packets[0].Summary != "UNKNOWN_APP" {
		t.Fatalf("packets=%+v", got.Packets)
	}
}

func TestYAMLFile_MissingFile_ReturnsNil(t *testing.T) {
	t.Parallel()

	f := NewYAMLFile(filepath.Join(t.TempDir(), "state.yaml"))
	snap, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatalf("snap=%+v", snap)
	}
}

func TestYAMLFile_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.yaml")
	f := NewYAMLFile(path)
	if err := f.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %d entries", len(entries))
	}

	got, err := NewYAMLFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkSnapshot(t, got)
}

func TestYAMLFile_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("counts: [\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewYAMLFile(path).Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	empty, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if empty != nil {
		t.Fatalf("empty=%+v", empty)
	}

	first := sampleSnapshot()
	first.Messages = append(first.Messages, model.MessageEntry{RowID: "m0", Text: "dropped later"})
	if err := db.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := db.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkSnapshot(t, got)
}

func TestOpen_Backends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, err := Open(BackendSQLite, filepath.Join(dir, "s.db"))
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	p.Close()
	if _, ok := p.(*SQLite); !ok {
		t.Fatalf("type=%T", p)
	}
	p, err = Open("", filepath.Join(dir, "s.yaml"))
	if err != nil {
		t.Fatalf("Open yaml: %v", err)
	}
	if _, ok := p.(*YAMLFile); !ok {
		t.Fatalf("type=%T", p)
	}
	if _, err := Open("postgres", ""); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestYAMLFile_SavesThroughHistoryStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")
	h := history.New(4)
	h.SetSaver(NewYAMLFile(path))
	h.AddCount(model.CountText)
	h.AddMessage(model.MessageEntry{Text: "persisted"})

	snap, err := NewYAMLFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored := history.New(4)
	restored.Restore(*snap)
	if restored.Counters().Get(model.CountTotal) != 1 {
		t.Fatalf("total=%d", restored.Counters().Get(model.CountTotal))
	}
	if msgs := restored.Messages(0); len(msgs) != 1 || msgs[0].Text != "persisted" {
		t.Fatalf("msgs=%+v", msgs)
	}
}
