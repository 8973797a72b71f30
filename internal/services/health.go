package services

import (
	"net/http"
	"time"
)

// HealthResponse is the liveness body
type HealthResponse struct {
	Status     string  `json:"status"`
	Uptime     float64 `json:"uptime_seconds"`
	Database   string  `json:"database"`
	Detector   string  `json:"detector,omitempty"`
	Cameras    int     `json:"cameras"`
	ActiveLive int     `json:"active_pipelines"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Uptime:   s.clock.Since(s.startedAt).Round(time.Second).Seconds(),
		Database: "ok",
	}
	status := http.StatusOK

	if err := s.db.Ping(); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.detector != nil {
		resp.Detector = "ok"
		if !s.detector.IsHealthy() {
			// Detector outages leave stored data readable
			resp.Status = "degraded"
			resp.Detector = s.detector.Name() + " unavailable"
		}
	}
	if s.cameras != nil {
		resp.Cameras = len(s.cameras.ListCameras())
	}
	if s.pipelines != nil {
		resp.ActiveLive = len(s.pipelines.ActiveCameras())
	}

	encode(r.Context(), w, status, resp)
}
