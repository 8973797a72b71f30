package services

import (
	"net/http"
	"time"

	"trafficeye/internal/camera"
	"trafficeye/internal/database"
)

// Session is the API shape of a processing session
type Session struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Source     string     `json:"source"`
	Profile    string     `json:"profile"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Active     bool       `json:"active"`
	Frames     int        `json:"frames"`
	Violations int        `json:"violations"`
}

func toSession(s *database.SessionRecord) *Session {
	return &Session{
		ID:         s.ID,
		Kind:       s.Kind,
		Source:     s.Source,
		Profile:    s.Profile,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Active:     s.Active(),
		Frames:     s.Frames,
		Violations: s.Violations,
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	records, err := s.db.ListSessions(limit)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	out := make([]*Session, len(records))
	for i, rec := range records {
		out[i] = toSession(rec)
	}
	encode(ctx, w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetSession(s.pathVar(r, "id"))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	encode(r.Context(), w, http.StatusOK, toSession(rec))
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.pathVar(r, "id")
	rec, err := s.db.GetSession(id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if !rec.Active() {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": "session already ended"})
		return
	}
	if s.pipelines == nil {
		s.fail(ctx, w, badRequest("no live pipelines are configured"))
		return
	}
	if err := s.pipelines.StopSession(id); err != nil {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	s.markStoppedCameras()

	if rec, err = s.db.GetSession(id); err != nil {
		s.fail(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, toSession(rec))
}

// markStoppedCameras sets cameras without a running pipeline back to inactive
func (s *Server) markStoppedCameras() {
	if s.cameras == nil || s.pipelines == nil {
		return
	}
	running := make(map[string]bool)
	for _, id := range s.pipelines.ActiveCameras() {
		running[id] = true
	}
	for _, cam := range s.cameras.ListCameras() {
		if !running[cam.ID] && cam.Status != camera.StatusInactive {
			s.cameras.SetStatus(cam.ID, camera.StatusInactive)
		}
	}
}

// clearSession deletes a finished session with its violations and evidence
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.pathVar(r, "id")
	rec, err := s.db.GetSession(id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if rec.Active() {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": "stop the session before clearing it"})
		return
	}
	n, err := s.db.ClearSession(id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, map[string]int{"violations_removed": n})
}
