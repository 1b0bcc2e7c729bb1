// Package health serves the liveness and readiness endpoints on the
// optional metrics listener.
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; reports the downstream fleet and returns
//     200 only while every discovered server is still connected.
//
// Readiness is defined entirely by the registry snapshot: there is no
// dependency to probe beyond the child processes the chainer itself spawned,
// so checks are in-memory reads rather than timed network calls. An empty
// registry is ready — degraded mode is a supported steady state, not a
// failure.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/localSummer/mcp-tool-chainer/internal/registry"
)

// Handler serves /healthz and /readyz from a registry snapshot function.
// Safe for concurrent use.
type Handler struct {
	snapshot func() map[string]registry.ServerStatus
}

// New creates a [Handler] reading fleet state through snapshot, typically
// [registry.Registry.Snapshot].
func New(snapshot func() map[string]registry.ServerStatus) *Handler {
	return &Handler{snapshot: snapshot}
}

// fleetReport is the JSON response body for /readyz.
type fleetReport struct {
	Status      string                `json:"status"`
	Downstreams map[string]downstream `json:"downstreams,omitempty"`
}

// downstream is the per-server slice of a fleet report.
type downstream struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Tools   int    `json:"tools"`
	Status  string `json:"status"`
}

// Healthz is a liveness probe that always returns 200 OK. A process that
// can serve HTTP is alive; whether its fleet is usable is Readyz's question.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fleetReport{Status: "ok"})
}

// Readyz reports every discovered downstream and returns 503 when any of
// them has lost its transport.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	report := fleetReport{
		Status:      "ok",
		Downstreams: make(map[string]downstream),
	}
	status := http.StatusOK

	for key, s := range h.snapshot() {
		d := downstream{
			Name:    s.Name,
			Version: s.Version,
			Tools:   s.Tools,
			Status:  "connected",
		}
		if !s.Connected {
			d.Status = "disconnected"
			report.Status = "fail"
			status = http.StatusServiceUnavailable
		}
		report.Downstreams[key] = d
	}

	writeJSON(w, status, report)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
