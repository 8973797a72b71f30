package services

import (
	"net/http"
	"time"

	"trafficeye/internal/camera"
	"trafficeye/internal/pipeline"
)

// CameraInfo is a camera with its live pipeline statistics
type CameraInfo struct {
	*camera.Camera
	Pipeline *pipeline.PipelineStats `json:"pipeline,omitempty"`
}

// CreateCameraRequest is the body of POST /api/cameras
type CreateCameraRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Device     string `json:"device"`
	Location   string `json:"location"`
	GPSCoords  string `json:"gps_coords"`
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
}

// StartCameraRequest optionally overrides sampling for one run
type StartCameraRequest struct {
	Mode             *string `json:"mode,omitempty"`
	SkipFrames       *int    `json:"skip_frames,omitempty"`
	ScheduleInterval *string `json:"schedule_interval,omitempty"`
	Profile          *string `json:"profile,omitempty"`
}

func (s *Server) cameraInfo(cam *camera.Camera) *CameraInfo {
	info := &CameraInfo{Camera: cam}
	if s.pipelines != nil {
		info.Pipeline = s.pipelines.GetStats(cam.ID)
	}
	return info
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	cams := s.cameras.ListCameras()
	out := make([]*CameraInfo, len(cams))
	for i, cam := range cams {
		out[i] = s.cameraInfo(cam)
	}
	encode(r.Context(), w, http.StatusOK, out)
}

func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateCameraRequest
	if err := decode(r, &req); err != nil {
		s.fail(ctx, w, err)
		return
	}
	if _, err := s.cameras.GetCamera(req.ID); req.ID != "" && err == nil {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": "camera already exists"})
		return
	}

	cam, err := s.cameras.AddCamera(&camera.Camera{
		ID:         req.ID,
		Name:       req.Name,
		Device:     req.Device,
		Location:   req.Location,
		GPSCoords:  req.GPSCoords,
		Resolution: req.Resolution,
		FPS:        req.FPS,
	})
	if err != nil {
		if statusOf(err) == http.StatusInternalServerError {
			err = badRequest(err.Error())
		}
		s.fail(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusCreated, s.cameraInfo(cam))
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameras.GetCamera(s.pathVar(r, "id"))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	encode(r.Context(), w, http.StatusOK, s.cameraInfo(cam))
}

func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.pathVar(r, "id")
	if s.pipelines != nil && s.pipelines.GetStats(id) != nil {
		if err := s.pipelines.StopCamera(id); err != nil {
			s.fail(ctx, w, err)
			return
		}
	}
	if err := s.cameras.RemoveCamera(id); err != nil {
		s.fail(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.pipelines == nil {
		s.fail(ctx, w, badRequest("no live pipelines are configured"))
		return
	}
	cam, err := s.cameras.GetCamera(s.pathVar(r, "id"))
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	if s.pipelines.GetStats(cam.ID) != nil {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": "camera is already running"})
		return
	}

	var req StartCameraRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			s.fail(ctx, w, err)
			return
		}
	}
	cfg, err := req.pipelineConfig()
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	sessionID, err := s.pipelines.StartCamera(cam.Spec(cfg))
	if err != nil {
		s.cameras.SetStatus(cam.ID, camera.StatusError)
		s.fail(ctx, w, badRequest(err.Error()))
		return
	}
	s.cameras.SetStatus(cam.ID, camera.StatusActive)

	encode(ctx, w, http.StatusOK, map[string]string{"camera_id": cam.ID, "session_id": sessionID})
}

func (req *StartCameraRequest) pipelineConfig() (*pipeline.CameraPipelineConfig, error) {
	if req.Mode == nil && req.SkipFrames == nil && req.ScheduleInterval == nil && req.Profile == nil {
		return nil, nil
	}
	cfg := &pipeline.CameraPipelineConfig{
		SkipFrames: req.SkipFrames,
		Profile:    req.Profile,
	}
	if req.Mode != nil {
		mode := pipeline.SamplingMode(*req.Mode)
		cfg.Mode = &mode
	}
	if req.ScheduleInterval != nil {
		d, err := time.ParseDuration(*req.ScheduleInterval)
		if err != nil {
			return nil, badRequest("invalid schedule_interval: " + *req.ScheduleInterval)
		}
		cfg.ScheduleInterval = &d
	}
	return cfg, nil
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := s.pathVar(r, "id")
	if _, err := s.cameras.GetCamera(id); err != nil {
		s.fail(ctx, w, err)
		return
	}
	if s.pipelines == nil || s.pipelines.GetStats(id) == nil {
		encode(ctx, w, http.StatusConflict, map[string]string{"error": "camera is not running"})
		return
	}
	if err := s.pipelines.StopCamera(id); err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.cameras.SetStatus(id, camera.StatusInactive)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cameraSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.cameras.Snapshot(r.Context(), s.pathVar(r, "id"))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}
