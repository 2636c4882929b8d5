// Package web serves the dashboard pages and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meshmon/internal/api"
	"meshmon/internal/device"
	"meshmon/internal/directory"
	"meshmon/internal/history"
	"meshmon/internal/mesh"
	"meshmon/internal/metrics"
	"meshmon/internal/model"
)

// DefaultStatsWindow is used by /api/stats when no window is given.
const DefaultStatsWindow = 5 * time.Minute

//go:embed templates/*.html
var templateFS embed.FS

// Config wires a Server.
type Config struct {
	Directory   *directory.Cache
	History     *history.Store
	Device      *device.Service
	HTTPLogging bool
}

// Server provides the dashboard HTTP surface.
type Server struct {
	dir     *directory.Cache
	hist    *history.Store
	dev     *device.Service
	logging bool
	pages   *template.Template
	started time.Time
	now     func() time.Time
}

// New constructs a server and parses the page templates.
func New(cfg Config) (*Server, error) {
	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		dir:     cfg.Directory,
		hist:    cfg.History,
		dev:     cfg.Device,
		logging: cfg.HTTPLogging,
		pages:   pages,
		started: time.Now(),
		now:     time.Now,
	}, nil
}

// Handler returns the routed handler, wrapped with request logging when
// enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/updates", s.handleUpdates)
	mux.HandleFunc("/api/nodes", s.handleNodes)
	mux.HandleFunc("/api/details", s.handleDetails)
	mux.HandleFunc("/api/traceroute", s.handleTraceRoute)
	mux.HandleFunc("/api/dm", s.handleDM)
	mux.HandleFunc("/api/sendchannel", s.handleSendChannel)
	mux.HandleFunc("/api/localnode", s.handleLocalNode)
	mux.HandleFunc("/api/config", s.handleConfigAll)
	mux.HandleFunc("/api/config/all", s.handleConfigAll)
	mux.HandleFunc("/api/config/channels", s.handleChannels)
	mux.HandleFunc("/api/config/channel/{index}", s.handleWriteChannel)
	mux.HandleFunc("/api/config/reboot", s.handleReboot)
	mux.HandleFunc("/api/config/{section}", s.handleSection)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/export.csv", s.handleExportCSV)

	if !s.logging {
		return mux
	}
	return logRequests(mux)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("dashboard listening on %s", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type indexPage struct {
	Name         string
	Voltage      *float64
	BatteryLevel *float64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := indexPage{Name: "meshmon"}
	info, err := s.dev.LocalNode(r.Context())
	if err != nil {
		log.Printf("index: local node: %v", err)
	} else {
		page.Name = info.LongName
		if info.ShortName != "" {
			page.Name += " (" + info.ShortName + ")"
		}
		page.Voltage = info.Voltage
		page.BatteryLevel = info.BatteryLevel
	}
	s.render(w, "index.html", page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		Nodes:     s.dir.Len(),
		Packets:   s.hist.Counters().Get(model.CountTotal),
		StartedAt: s.started.Format(model.TimeLayout),
	})
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := r.URL.Query().Get("rowmax")
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "rowmax required")
		return
	}
	rowmax, err := strconv.Atoi(raw)
	if err != nil || rowmax < 0 {
		writeJSONError(w, http.StatusBadRequest, "rowmax must be a non-negative integer")
		return
	}

	resp := api.UpdatesResponse{
		Summary:  s.hist.Counters(),
		Messages: s.hist.Messages(rowmax),
		Packets:  s.hist.Packets(rowmax),
	}
	if note, ok := s.dev.Notifier().Drain(); ok {
		resp.Flash = &note
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rows, err := s.dir.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.NodesResponse{Nodes: rows})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := nodeParam(w, r)
	if !ok {
		return
	}

	detail, err := s.dir.Detail(r.Context(), id)
	if errors.Is(err, directory.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "node "+id+" not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "error fetching details: "+err.Error())
		return
	}
	if wantJSON(r) {
		writeJSON(w, http.StatusOK, detail)
		return
	}
	s.render(w, "details.html", detail)
}

func (s *Server) handleTraceRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := nodeParam(w, r)
	if !ok {
		return
	}
	limit, err := s.dev.TraceRoute(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.TraceRouteResponse{Message: "Trace Route sent.", HopLimit: limit})
}

func (s *Server) handleDM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := nodeParam(w, r)
	if !ok {
		return
	}
	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message required")
		return
	}
	if err := s.dev.SendDirect(r.Context(), id, message); err != nil {
		log.Printf("dm to=%s failed: %v", id, err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Message sent to " + id})
}

func (s *Server) handleSendChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "id required")
		return
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeJSONError(w, http.StatusBadRequest, "id must be a channel index")
		return
	}
	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message required")
		return
	}
	if err := s.dev.SendChannel(r.Context(), index, message); err != nil {
		log.Printf("channel send index=%d failed: %v", index, err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Message sent on channel " + raw})
}

func (s *Server) handleLocalNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	info, err := s.dev.LocalNode(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	if wantJSON(r) {
		writeJSON(w, http.StatusOK, info)
		return
	}
	s.render(w, "localnode.html", info)
}

func (s *Server) handleConfigAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeResult(w, s.dev.ReadAll(r.Context()))
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeResult(w, s.dev.Channels(r.Context()))
}

func (s *Server) handleWriteChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid channel index")
		return
	}
	var upd device.ChannelUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, s.dev.WriteChannel(r.Context(), index, upd))
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeResult(w, s.dev.Reboot(r.Context()))
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if !device.KnownSection(section) {
		writeJSONError(w, http.StatusNotFound, "unknown config section: "+section)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeResult(w, s.dev.ReadSection(r.Context(), section))
	case http.MethodPost:
		var values map[string]any
		if err := decodeJSON(r, &values); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeResult(w, s.dev.WriteSection(r.Context(), section, values))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	window := DefaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	summary := metrics.Summarize(s.hist.Packets(0), s.now().Add(-window))
	writeJSON(w, http.StatusOK, api.StatsResponse{Window: window.String(), Summary: summary})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="packets.csv"`)
	if err := metrics.WriteCSV(w, s.hist.Packets(0)); err != nil {
		log.Printf("csv export failed: %v", err)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("render %s: %v", name, err)
	}
}

// nodeParam reads the id query parameter and canonicalizes it to "!xxxxxxxx".
func nodeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required 'id' parameter")
		return "", false
	}
	num, err := mesh.ParseNodeID(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return mesh.FormatNodeID(num), true
}

func wantJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "json"
}

func writeResult(w http.ResponseWriter, res device.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("http method=%s path=%s status=%d duration=%s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
