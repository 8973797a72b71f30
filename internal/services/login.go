package services

import (
	"errors"
	"net/http"

	"trafficeye/internal/auth"
)

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.auth == nil || !s.auth.IsEnabled() {
		s.fail(ctx, w, badRequest(auth.ErrAuthDisabled.Error()))
		return
	}

	var req LoginRequest
	if err := decode(r, &req); err != nil {
		s.fail(ctx, w, err)
		return
	}

	token, exp, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Printf("failed login for %q from %s", req.Username, r.RemoteAddr)
		}
		s.fail(ctx, w, err)
		return
	}
	encode(ctx, w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp})
}
