package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// healthzResponse reports CPU/memory (via gopsutil), ledger DB
// reachability, broker reachability, and process uptime.
type healthzResponse struct {
	Status       string  `json:"status"`
	UptimeSec    float64 `json:"uptime_seconds"`
	DBOk         bool    `json:"db_ok"`
	BrokerOk     bool    `json:"broker_ok"`
	BrokerPingMs float64 `json:"broker_ping_ms,omitempty"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsedPct   float64 `json:"mem_used_percent"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok", UptimeSec: time.Since(s.cfg.StartedAt).Seconds()}

	if err := s.cfg.LedgerDB.QuickCheck(r.Context()); err != nil {
		resp.DBOk = false
		resp.Status = "degraded"
	} else {
		resp.DBOk = true
	}

	if ping, err := s.cfg.Broker.Ping(r.Context()); err != nil {
		resp.BrokerOk = false
		resp.Status = "degraded"
	} else {
		resp.BrokerOk = true
		resp.BrokerPingMs = float64(ping.Latency.Microseconds()) / 1000.0
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = memStat.UsedPercent
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleReplicationEvent(w http.ResponseWriter, r *http.Request) {
	masterOrderID := chi.URLParam(r, "masterOrderID")
	event, err := s.cfg.Metrics.Get(r.Context(), masterOrderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "replication event not found"})
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleRecentMetrics(w http.ResponseWriter, r *http.Request) {
	recent, err := s.cfg.Metrics.Recent(r.Context(), recentMetricsLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

// recentMetricsLimit bounds the /metrics/replication listing so the
// dashboard query stays cheap regardless of total event volume.
const recentMetricsLimit = 50

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
