package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"meshmon/internal/addrutil"
	"meshmon/internal/api"
	"meshmon/internal/classify"
	"meshmon/internal/config"
	"meshmon/internal/device"
	"meshmon/internal/directory"
	"meshmon/internal/execx"
	"meshmon/internal/history"
	"meshmon/internal/listener"
	"meshmon/internal/mesh"
	"meshmon/internal/metrics"
	"meshmon/internal/packetlog"
	"meshmon/internal/store"
	"meshmon/internal/web"
)

const usage = `meshmon - local dashboard for one mesh radio

Usage:
  meshmon serve [--config <path>] [--device <addr>] [--listen <addr>] [--open] [--http-log]
  meshmon status --server <addr>
  meshmon nodes --server <addr>
  meshmon messages --server <addr> [--rows 20]
  meshmon stats --server <addr> [--window 5m] | --file <packets.csv>
  meshmon traceroute --server <addr> --id <node>
  meshmon send --server <addr> --message <text> (--id <node> | --channel <index>)
  meshmon reboot --server <addr>
  meshmon export csv --server <addr> --out <file> [--append]
  meshmon config show [--config <path>]
  meshmon config init --config <path>

--server defaults to $MESHMON_SERVER.

serve talks to a radio bridge, not to the radio itself: a process that owns
the serial or TCP link to the node and speaks newline-delimited JSON to
meshmon on port 4410 (see package internal/mesh for the protocol). --device
names the bridge ("host", "host:port"); a serial path such as /dev/ttyUSB0
means a bridge on 127.0.0.1:4410. Port 4403, the radio's own protobuf API,
is refused.
`

const envServer = "MESHMON_SERVER"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "nodes":
		handleNodes(os.Args[2:])
	case "messages":
		handleMessages(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "traceroute":
		handleTraceRoute(os.Args[2:])
	case "send":
		handleSend(os.Args[2:])
	case "reboot":
		handleReboot(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	deviceAddr := fs.String("device", "", "radio address override (host[:port] or /dev path)")
	listen := fs.String("listen", "", "dashboard listen address override")
	open := fs.Bool("open", false, "open the dashboard in a browser")
	httpLog := fs.Bool("http-log", false, "log every HTTP request")
	_ = fs.Parse(args)

	cfg, err := effectiveConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideServe(&cfg, *deviceAddr, *listen, *open, *httpLog)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	bridgeAddr, err := mesh.BridgeDialAddr(cfg.Device.Address)
	if err != nil {
		fatal(err)
	}
	tr := mesh.NewBridge(bridgeAddr, cfg.Device.RetryDelay())
	tr.SetCallTimeout(cfg.Device.CommandTimeout())
	defer tr.Close()

	home := cfg.Position.Home()
	dir := directory.New(tr, cfg.Directory.RefreshInterval(), home)

	hist := history.New(cfg.History.Capacity)
	if cfg.Persistence.Enabled {
		persister, err := openPersistence(cfg.Persistence, hist)
		if err != nil {
			fatal(err)
		}
		defer persister.Close()
	}

	plog := packetlog.New(cfg.History.PacketLogPath)
	cls := classify.New(classify.Config{
		Directory:     dir,
		History:       hist,
		PacketLog:     plog,
		Home:          home,
		LookupTimeout: cfg.Device.CommandTimeout(),
	})
	dev := device.New(device.Config{
		Device:    tr,
		Directory: dir,
		Address:   cfg.Device.Address,
		Timeout:   cfg.Device.CommandTimeout(),
	})

	log.Printf("initializing mesh at %s", cfg.Device.Address)
	lst := listener.New(listener.Config{
		Transport:      tr,
		Handler:        cls,
		PacketLog:      plog,
		Directory:      dir,
		ResetLog:       *cfg.History.ResetPacketLog,
		Retries:        cfg.Device.ConnectRetries,
		RetryDelay:     cfg.Device.RetryDelay(),
		CommandTimeout: cfg.Device.CommandTimeout(),
	})
	if err := lst.Start(ctx); err != nil {
		fatal(err)
	}

	srv, err := web.New(web.Config{Directory: dir, History: hist, Device: dev, HTTPLogging: cfg.Web.HTTPLogging})
	if err != nil {
		fatal(err)
	}
	ln, err := addrutil.Listen(cfg.Web.Listen)
	if err != nil {
		fatal(err)
	}
	url := addrutil.DashboardURL(ln.Addr())
	fmt.Fprintf(os.Stdout, "dashboard at %s\n", url)
	if cfg.Web.OpenBrowser {
		if err := execx.OpenBrowser(execx.NewOSRunner(nil, nil), url); err != nil {
			log.Printf("browser launch failed: %v", err)
		}
	}

	errc := make(chan error, 2)
	go func() { errc <- lst.Run(ctx) }()
	go func() { errc <- srv.Serve(ctx, ln) }()

	err = <-errc
	cancel()
	<-errc
	dev.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// openPersistence restores hist from the configured backend and saves every
// later change there.
func openPersistence(p config.PersistenceConfig, hist *history.Store) (store.Persister, error) {
	persister, err := store.Open(p.Backend, p.Path)
	if err != nil {
		return nil, err
	}
	snap, err := persister.Load()
	if err != nil {
		persister.Close()
		return nil, fmt.Errorf("load state %s: %w", p.Path, err)
	}
	if snap != nil {
		hist.Restore(*snap)
		log.Printf("restored state path=%s messages=%d packets=%d", p.Path, len(snap.Messages), len(snap.Packets))
	}
	hist.SetSaver(persister)
	return persister, nil
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	_ = fs.Parse(args)

	client := newClient(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		fatal(err)
	}
	info, err := client.LocalNode(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "server=%s started=%s nodes=%d packets=%d\n", health.Status, health.StartedAt, health.Nodes, health.Packets)
	fmt.Fprintf(os.Stdout, "node=%s name=%q short=%q hw=%s role=%s\n", info.ID, info.LongName, info.ShortName, info.HwModel, info.RoleName)
	fmt.Fprintf(os.Stdout, "connection=%s address=%s\n", info.ConnectionType, info.Address)
	if info.Metadata != nil {
		fmt.Fprintf(os.Stdout, "firmware=%s\n", info.Metadata.FirmwareVersion)
	}
	if info.FormattedUptime != "" {
		fmt.Fprintf(os.Stdout, "uptime=%s\n", info.FormattedUptime)
	}
	for _, ch := range info.Channels {
		fmt.Fprintf(os.Stdout, "channel %d %-12s %-9s psk_bits=%d\n", ch.Index, ch.Name, ch.RoleName, ch.PSKBits)
	}
}

func handleNodes(args []string) {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	resp, err := newClient(*server).Nodes(ctx)
	if err != nil {
		fatal(err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHOPS\tHW\tDISTANCE\tLAST HEARD")
	for _, n := range resp.Nodes {
		hops := "-"
		if n.HopsAway != nil {
			hops = fmt.Sprint(*n.HopsAway)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", n.ID, n.Name, hops, n.HwModel, n.Distance, n.LastHeard)
	}
	_ = tw.Flush()
}

func handleMessages(args []string) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	rows := fs.Int("rows", 20, "number of rows")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	resp, err := newClient(*server).Updates(ctx, *rows)
	if err != nil {
		fatal(err)
	}

	for i, col := range resp.Summary.Columns {
		fmt.Fprintf(os.Stdout, "%s=%d ", col, resp.Summary.Values[i])
	}
	fmt.Fprintln(os.Stdout)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFROM\tTO\tCHANNEL\tMESSAGE")
	for _, m := range resp.Messages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Time, m.FromName, m.To, m.Channel, m.Text)
	}
	_ = tw.Flush()
	if resp.Flash != nil {
		fmt.Fprintf(os.Stdout, "note: %s\n", *resp.Flash)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	window := fs.String("window", config.DefaultStatsWindow, "time window")
	file := fs.String("file", "", "summarize an exported CSV instead of a live server")
	_ = fs.Parse(args)

	var summary metrics.Summary
	if *file != "" {
		d, err := time.ParseDuration(*window)
		if err != nil {
			fatal(err)
		}
		items, err := metrics.ReadCSV(*file)
		if err != nil {
			fatal(err)
		}
		summary = metrics.Summarize(items, time.Now().Add(-d))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		resp, err := newClient(*server).Stats(ctx, *window)
		if err != nil {
			fatal(err)
		}
		summary = resp.Summary
	}

	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no packets in window")
		return
	}
	fmt.Fprintf(os.Stdout, "packets=%d senders=%d from=%s to=%s\n", summary.Count, summary.DistinctSenders, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "hops avg=%.2f max=%d\n", summary.AvgHops, summary.MaxHops)
	fmt.Fprintf(os.Stdout, "rssi avg=%.1f p95=%.1f min=%.1f\n", summary.AvgRSSI, summary.P95RSSI, summary.MinRSSI)
	for kind, n := range summary.ByType {
		fmt.Fprintf(os.Stdout, "type %s=%d\n", kind, n)
	}
}

func handleTraceRoute(args []string) {
	fs := flag.NewFlagSet("traceroute", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	id := fs.String("id", "", "node id (!xxxxxxxx)")
	_ = fs.Parse(args)

	if *id == "" {
		fatal(errors.New("--id is required"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	resp, err := newClient(*server).TraceRoute(ctx, *id)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "%s hop_limit=%d\n", resp.Message, resp.HopLimit)
}

func handleSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	id := fs.String("id", "", "destination node id for a direct message")
	channel := fs.Int("channel", -1, "channel index for a channel message")
	message := fs.String("message", "", "text to send")
	_ = fs.Parse(args)

	if strings.TrimSpace(*message) == "" {
		fatal(errors.New("--message is required"))
	}
	if (*id == "") == (*channel < 0) {
		fatal(errors.New("exactly one of --id or --channel is required"))
	}

	client := newClient(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	var (
		resp api.MessageResponse
		err  error
	)
	if *id != "" {
		resp, err = client.SendDM(ctx, *id, *message)
	} else {
		resp, err = client.SendChannel(ctx, *channel, *message)
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, resp.Message)
}

func handleReboot(args []string) {
	fs := flag.NewFlagSet("reboot", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	res, err := newClient(*server).Reboot(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, res.Message)
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	server := fs.String("server", os.Getenv(envServer), "dashboard address")
	out := fs.String("out", "", "output file")
	appendRows := fs.Bool("append", false, "append to an existing CSV instead of replacing it")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	client := newClient(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if *appendRows {
		resp, err := client.Updates(ctx, 0)
		if err != nil {
			fatal(err)
		}
		if err := metrics.AppendCSV(*out, resp.Packets); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "appended %d rows to %s\n", len(resp.Packets), *out)
		return
	}

	f, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	if err := client.ExportCSV(ctx, f); err != nil {
		f.Close()
		fatal(err)
	}
	if err := f.Close(); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %s\n", *out)
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "config subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "show":
		fs := flag.NewFlagSet("config show", flag.ExitOnError)
		configPath := fs.String("config", "", "path to YAML config")
		_ = fs.Parse(args[1:])

		cfg, err := effectiveConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		if err := writeYAML(os.Stdout, cfg); err != nil {
			fatal(err)
		}
	case "init":
		fs := flag.NewFlagSet("config init", flag.ExitOnError)
		configPath := fs.String("config", "", "path to YAML config")
		deviceAddr := fs.String("device", "", "radio address")
		_ = fs.Parse(args[1:])

		if *configPath == "" {
			fatal(errors.New("--config is required"))
		}
		if _, err := os.Stat(*configPath); err == nil {
			fatal(fmt.Errorf("config already exists: %s", *configPath))
		}
		cfg := config.Config{}
		cfg.Device.Address = *deviceAddr
		if err := config.Save(*configPath, cfg); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", args[0])
		os.Exit(2)
	}
}

// effectiveConfig loads the file (if any), fills defaults and applies the
// environment overrides.
func effectiveConfig(path string) (config.Config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}
	config.ApplyDefaults(&cfg)
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func overrideServe(cfg *config.Config, deviceAddr, listen string, open, httpLog bool) {
	if deviceAddr != "" {
		cfg.Device.Address = deviceAddr
	}
	if listen != "" {
		cfg.Web.Listen = listen
	}
	if open {
		cfg.Web.OpenBrowser = true
	}
	if httpLog {
		cfg.Web.HTTPLogging = true
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newClient(server string) *api.Client {
	if strings.TrimSpace(server) == "" {
		fatal(fmt.Errorf("--server is required (or set %s)", envServer))
	}
	return api.NewClient(addrutil.BaseURL(server))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
