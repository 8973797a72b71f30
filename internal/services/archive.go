package services

import (
	"net/http"
	"path/filepath"
	"time"

	"trafficeye/internal/database"
)

// ArchiveResponse describes one database archive
type ArchiveResponse struct {
	Name       string    `json:"name"`
	Violations int       `json:"violations"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := s.db.Archive(s.archiveDir, s.clock.Now())
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.logger.Printf("archived database to %s", path)
	encode(ctx, w, http.StatusCreated, map[string]string{"name": filepath.Base(path)})
}

func (s *Server) listArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := database.ListArchives(s.archiveDir)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	out := make([]ArchiveResponse, len(archives))
	for i, a := range archives {
		out[i] = ArchiveResponse{Name: a.Name, Violations: a.Violations, Size: a.Size, CreatedAt: a.ModTime}
	}
	encode(r.Context(), w, http.StatusOK, out)
}
