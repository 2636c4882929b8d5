package api

import (
	"meshmon/internal/directory"
	"meshmon/internal/history"
	"meshmon/internal/metrics"
	"meshmon/internal/model"
)

// UpdatesResponse is the dashboard poll payload. Flash is nil when no note is
// pending.
type UpdatesResponse struct {
	Summary  history.Counters     `json:"summary"`
	Messages []model.MessageEntry `json:"messages"`
	Packets  []model.PacketEntry  `json:"packets"`
	Flash    *string              `json:"flash"`
}

// HealthResponse reports whether the server is up and what it has seen.
type HealthResponse struct {
	Status    string `json:"status"`
	Nodes     int    `json:"nodes"`
	Packets   int    `json:"packets"`
	StartedAt string `json:"started_at"`
}

// NodesResponse lists directory rows, most recently heard first.
type NodesResponse struct {
	Nodes []directory.Row `json:"nodes"`
}

// MessageResponse acknowledges a command with a human-readable line.
type MessageResponse struct {
	Message string `json:"message"`
}

// TraceRouteResponse acknowledges a trace route that was started.
type TraceRouteResponse struct {
	Message  string `json:"message"`
	HopLimit int    `json:"hop_limit"`
}

// StatsResponse is the traffic summary over a trailing window.
type StatsResponse struct {
	Window string `json:"window"`
	metrics.Summary
}
