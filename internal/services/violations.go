package services

import (
	"net/http"
	"os"
	"strconv"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
)

const defaultListLimit = 100

// Violation is the API shape of a stored violation
type Violation struct {
	ID             int64     `json:"id"`
	Timestamp      string    `json:"timestamp"`
	ViolationType  string    `json:"violation_type"`
	Category       string    `json:"category"`
	Priority       int       `json:"priority"`
	VehicleID      string    `json:"vehicle_id"`
	Location       string    `json:"location"`
	GPSCoords      string    `json:"gps_coords"`
	CameraID       string    `json:"camera_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Frame          int       `json:"frame"`
	Confidence     float64   `json:"confidence"`
	BBox           []float64 `json:"bbox,omitempty"`
	EstimatedSpeed float64   `json:"estimated_speed,omitempty"`
	HasImage       bool      `json:"has_image"`
}

func toViolation(v *database.ViolationRecord) *Violation {
	cat := engine.Category(v.Category)
	if cat == "" {
		cat = engine.CategoryOf(v.ViolationType)
	}
	return &Violation{
		ID:             v.ID,
		Timestamp:      v.Timestamp,
		ViolationType:  v.ViolationType,
		Category:       string(cat),
		Priority:       cat.Priority(),
		VehicleID:      v.VehicleID,
		Location:       v.Location,
		GPSCoords:      v.GPSCoords,
		CameraID:       v.CameraID,
		SessionID:      v.SessionID,
		Frame:          v.Frame,
		Confidence:     v.Confidence,
		BBox:           v.BBox,
		EstimatedSpeed: v.EstimatedSpeed,
		HasImage:       v.ImagePath != "",
	}
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	q := r.URL.Query()
	records, err := s.db.ListViolations(database.ViolationFilter{
		CameraID:  q.Get("camera_id"),
		SessionID: q.Get("session_id"),
		Category:  q.Get("category"),
		Limit:     limit,
	})
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	out := make([]*Violation, len(records))
	for i, v := range records {
		out[i] = toViolation(v)
	}
	encode(ctx, w, http.StatusOK, out)
}

func (s *Server) violationByPath(r *http.Request) (*database.ViolationRecord, error) {
	id, err := strconv.ParseInt(s.pathVar(r, "id"), 10, 64)
	if err != nil {
		return nil, badRequest("invalid violation id")
	}
	return s.db.GetViolation(id)
}

func (s *Server) getViolation(w http.ResponseWriter, r *http.Request) {
	v, err := s.violationByPath(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	encode(r.Context(), w, http.StatusOK, toViolation(v))
}

func (s *Server) violationImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := s.violationByPath(r)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if v.ImagePath == "" {
		encode(ctx, w, http.StatusNotFound, map[string]string{"error": "violation has no evidence image"})
		return
	}

	f, err := os.Open(v.ImagePath)
	if err != nil {
		encode(ctx, w, http.StatusNotFound, map[string]string{"error": "evidence image missing"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
