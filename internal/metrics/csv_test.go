package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meshmon/internal/model"
)

func TestAppendCSV_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "packets.csv")

	p1 := model.PacketEntry{Time: "2024-05-01 12:00:00", FromID: "!00000001", Hops: 1, Kind: "Text", Summary: "hi"}
	p2 := model.PacketEntry{Time: "2024-05-01 12:00:05", FromID: "!00000002", Hops: -1, Kind: "-", Summary: "UNKNOWN_APP"}

	if err := AppendCSV(path, []model.PacketEntry{p1}); err != nil {
		t.Fatalf("AppendCSV #1: %v", err)
	}
	if err := AppendCSV(path, []model.PacketEntry{p2}); err != nil {
		t.Fatalf("AppendCSV #2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "datetime,") {
		t.Fatalf("missing header: %q", lines[0])
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 || items[1].Hops != -1 || items[0].Summary != "hi" {
		t.Fatalf("items=%+v", items)
	}
}

func TestWriteCSV_QuotesSummaries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rows := []model.PacketEntry{{Time: "2024-05-01 12:00:00", FromName: "Base, North", Hops: 2, Signal: "-91", Kind: "TR", Summary: "Routing: a→b"}}
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	got, err := readCSV(&buf)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(got) != 1 || got[0].FromName != "Base, North" || got[0].Summary != "Routing: a→b" || got[0].Signal != "-91" {
		t.Fatalf("got=%+v", got)
	}
}

func TestReadCSV_RejectsShortRecord(t *testing.T) {
	t.Parallel()

	if _, err := readCSV(strings.NewReader("a,b\n")); err == nil {
		t.Fatalf("expected error")
	}
}
