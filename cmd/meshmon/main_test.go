package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"meshmon/internal/config"
	"meshmon/internal/history"
	"meshmon/internal/model"
	"meshmon/internal/store"
)

func TestOverrideServe_FlagsWin(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	cfg.Device.Address = "10.0.0.1"

	overrideServe(&cfg, "/dev/ttyUSB0", "0.0.0.0:5000", true, false)
	if cfg.Device.Address != "/dev/ttyUSB0" || cfg.Web.Listen != "0.0.0.0:5000" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.Web.OpenBrowser || cfg.Web.HTTPLogging {
		t.Fatalf("web=%+v", cfg.Web)
	}

	overrideServe(&cfg, "", "", false, false)
	if cfg.Device.Address != "/dev/ttyUSB0" || !cfg.Web.OpenBrowser {
		t.Fatalf("empty overrides changed cfg: %+v", cfg)
	}
}

func TestWriteYAML_ShowsDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	var buf bytes.Buffer
	if err := writeYAML(&buf, cfg); err != nil {
		t.Fatalf("writeYAML: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "capacity: 1024") || !strings.Contains(out, "127.0.0.1:0") {
		t.Fatalf("yaml=%s", out)
	}
}

func TestOpenPersistence_RestoresAndSaves(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.yaml")
	p := config.PersistenceConfig{Enabled: true, Backend: store.BackendYAML, Path: path}

	first := history.New(4)
	persister, err := openPersistence(p, first)
	if err != nil {
		t.Fatalf("openPersistence: %v", err)
	}
	first.AddCount(model.CountText)
	first.AddMessage(model.MessageEntry{Text: "kept"})
	_ = persister.Close()

	second := history.New(4)
	persister, err = openPersistence(p, second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer persister.Close()
	msgs := second.Messages(0)
	if len(msgs) != 1 || msgs[0].Text != "kept" || second.Counters().Get(model.CountTotal) != 1 {
		t.Fatalf("restored messages=%+v counters=%+v", msgs, second.Counters())
	}
}
