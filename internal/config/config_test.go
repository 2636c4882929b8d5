package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Device: DeviceConfig{Address: "192.168.5.51"}}
	ApplyDefaults(&cfg)

	if cfg.Device.ConnectRetries != DefaultConnectRetries || cfg.Device.RetryDelay() != 5*time.Second {
		t.Fatalf("device defaults=%+v", cfg.Device)
	}
	if cfg.History.Capacity != DefaultHistoryCapacity || cfg.History.PacketLogPath != DefaultPacketLogPath {
		t.Fatalf("history defaults=%+v", cfg.History)
	}
	if cfg.History.ResetPacketLog == nil || !*cfg.History.ResetPacketLog {
		t.Fatalf("reset_packet_log default not true")
	}
	if cfg.Directory.RefreshInterval() != 300*time.Second {
		t.Fatalf("refresh=%v", cfg.Directory.RefreshInterval())
	}
	if cfg.Persistence.Enabled || cfg.Persistence.Backend != "yaml" || cfg.Persistence.Path != DefaultYAMLStatePath {
		t.Fatalf("persistence defaults=%+v", cfg.Persistence)
	}

	sq := Config{Persistence: PersistenceConfig{Backend: "sqlite"}}
	ApplyDefaults(&sq)
	if sq.Persistence.Path != DefaultSQLiteStatePath {
		t.Fatalf("sqlite path=%s", sq.Persistence.Path)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected missing address error")
	}

	cfg.Device.Address = "192.168.5.51"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	lat := 45.0
	cfg.Position.MyLatitude = &lat
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected half-set position error")
	}
	lon := -222.0
	cfg.Position.MyLongitude = &lon
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected longitude range error")
	}

	cfg.Position = PositionConfig{}
	cfg.Persistence.Backend = "csv"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected backend error")
	}
}

func TestSave_Load_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "meshmon.yaml")
	lat, lon := 45.0, -122.0
	cfg := Config{
		Device:   DeviceConfig{Address: "/dev/ttyUSB0"},
		Position: PositionConfig{MyLatitude: &lat, MyLongitude: &lon},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	home := got.Position.Home()
	if !home.Valid() || *home.Latitude != 45.0 || *home.Longitude != -122.0 {
		t.Fatalf("home=%+v", home)
	}
	if got.Device.Address != "/dev/ttyUSB0" || got.Web.Listen != DefaultListen {
		t.Fatalf("cfg=%+v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLatitude, "10.5")
	t.Setenv(EnvLongitude, "-20.25")
	t.Setenv(EnvDevice, "10.0.0.9:4410")

	cfg := Config{}
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Device.Address != "10.0.0.9:4410" {
		t.Fatalf("address=%s", cfg.Device.Address)
	}
	if cfg.Position.MyLatitude == nil || *cfg.Position.MyLatitude != 10.5 || *cfg.Position.MyLongitude != -20.25 {
		t.Fatalf("position=%+v", cfg.Position)
	}

	t.Setenv(EnvLatitude, "north")
	if err := ApplyEnv(&cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
