// Package services implements the HTTP API over goa's muxer and encoders.
package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"

	"trafficeye/internal/auth"
	"trafficeye/internal/camera"
	"trafficeye/internal/database"
	"trafficeye/internal/pipeline"
	"trafficeye/internal/timeutil"
)

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Name() string
	IsHealthy() bool
}

// Options wires the API to its collaborators. Pipelines and Detector may be nil.
type Options struct {
	DB            *database.Database
	Cameras       *camera.Manager
	Pipelines     pipeline.PipelineManager
	Detector      HealthChecker
	Authenticator *auth.Authenticator
	ArchiveDir    string
	Clock         timeutil.Clock
	Logger        *log.Logger
}

// Server holds the API handlers
type Server struct {
	db         *database.Database
	cameras    *camera.Manager
	pipelines  pipeline.PipelineManager
	detector   HealthChecker
	auth       *auth.Authenticator
	archiveDir string
	clock      timeutil.Clock
	logger     *log.Logger
	startedAt  time.Time
	mux        goahttp.Muxer

	// Mounts lists every mounted route as "VERB pattern"
	Mounts []string
}

// New creates the API server
func New(opts Options) *Server {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		db:         opts.DB,
		cameras:    opts.Cameras,
		pipelines:  opts.Pipelines,
		detector:   opts.Detector,
		auth:       opts.Authenticator,
		archiveDir: opts.ArchiveDir,
		clock:      clock,
		logger:     logger,
		startedAt:  clock.Now(),
	}
}

// Mount registers every API route on mux
func (s *Server) Mount(mux goahttp.Muxer) {
	s.mux = mux
	s.handle("GET", "/healthz", s.healthz)
	s.handle("POST", "/api/auth/login", s.login)

	s.handle("GET", "/api/violations", s.listViolations)
	s.handle("GET", "/api/violations/{id}", s.getViolation)
	s.handle("GET", "/api/violations/{id}/image", s.violationImage)
	s.handle("GET", "/api/stats", s.stats)

	s.handle("GET", "/api/sessions", s.listSessions)
	s.handle("GET", "/api/sessions/{id}", s.getSession)
	s.handle("POST", "/api/sessions/{id}/stop", s.stopSession)
	s.handle("DELETE", "/api/sessions/{id}", s.clearSession)

	s.handle("GET", "/api/cameras", s.listCameras)
	s.handle("POST", "/api/cameras", s.createCamera)
	s.handle("GET", "/api/cameras/{id}", s.getCamera)
	s.handle("DELETE", "/api/cameras/{id}", s.deleteCamera)
	s.handle("POST", "/api/cameras/{id}/start", s.startCamera)
	s.handle("POST", "/api/cameras/{id}/stop", s.stopCamera)
	s.handle("GET", "/api/cameras/{id}/snapshot", s.cameraSnapshot)

	s.handle("POST", "/api/archive", s.archive)
	s.handle("GET", "/api/archives", s.listArchives)
}

func (s *Server) handle(verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, verb+" "+pattern)
}

func (s *Server) pathVar(r *http.Request, name string) string {
	return s.mux.Vars(r)[name]
}

// apiError carries an HTTP status with a client message
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error { return &apiError{status: http.StatusBadRequest, msg: msg} }

func statusOf(err error) int {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae.status
	case errors.Is(err, database.ErrViolationNotFound),
		errors.Is(err, database.ErrSessionNotFound),
		errors.Is(err, database.ErrCameraNotFound):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrDeviceNotFound):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// encode writes v with goa's content negotiation
func encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if v != nil {
		_ = enc.Encode(v)
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Printf("ERROR: %v", err)
		msg = "internal error"
	}
	encode(ctx, w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name + ": " + v)
	}
	return n, nil
}
