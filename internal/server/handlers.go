package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

type loginRequest struct {
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type loginResponse struct {
	CSRFToken string `json:"csrf_token"`
}

type commandRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.hub.AgentCount(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.auth.IsRateLimited(ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.auth.CheckPassword(req.Password) || !s.auth.CheckTOTP(req.TOTPCode) {
		s.log.Warn().Str("ip", ip).Msg("failed login attempt")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session, err := s.auth.CreateSession()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.auth.ResetRateLimit(ip)
	s.auth.SetSessionCookie(w, session)
	writeJSON(w, http.StatusOK, loginResponse{CSRFToken: session.CSRFToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session := sessionFromContext(r.Context()); session != nil {
		_ = s.auth.DeleteSession(session.ID)
	}
	s.auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleAgents returns the derived view of the whole fleet.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetAll())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind != protocol.CommandCheck && req.Kind != protocol.CommandRestart {
		writeError(w, http.StatusBadRequest, "unknown command kind")
		return
	}

	if err := s.router.Dispatch(hostname, req.Kind); err != nil {
		if errors.Is(err, ErrTargetUnknown) {
			writeError(w, http.StatusNotFound, "unknown agent")
			return
		}
		s.log.Error().Err(err).Str("hostname", hostname).Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	if err := s.registry.Delete(hostname); err != nil {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades a connection. Agents authenticate with a
// bearer token and speak the fleet codec; everything else needs a
// dashboard session and speaks plaintext JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	kind := kindDashboard
	codec := s.plainCodec

	if token := bearerToken(r); token != "" {
		if !s.auth.ValidateAgentToken(token) {
			writeError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}
		kind = kindAgent
		codec = s.fleetCodec
	} else {
		if _, err := s.auth.GetSessionFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.hub.Serve(s.hub.NewClient(conn, kind, codec))
}

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Agents send no Origin header. Browsers do, and must
			// match the allow list when one is configured.
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			for _, allowed := range s.cfg.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
