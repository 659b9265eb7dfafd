package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/protocol"
)

type navigateRequest struct {
	Page string `json:"page"`
}

type signInRequest struct {
	PrincipalID string `json:"principalId"`
	DisplayName string `json:"displayName"`
}

type signInResponse struct {
	Principal protocol.Principal `json:"principal"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

type readyResponse struct {
	Ready  bool   `json:"ready"`
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statePayload())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Page == "" {
		writeError(w, http.StatusBadRequest, "page is required")
		return
	}

	nav := s.navigator()
	if nav == nil {
		writeError(w, http.StatusServiceUnavailable, "navigation not ready")
		return
	}

	// Navigation is asynchronous; the shell observes the outcome over /ws.
	nav.Navigate(req.Page)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	nav := s.navigator()
	if nav == nil {
		writeError(w, http.StatusServiceUnavailable, "navigation not ready")
		return
	}

	nav.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	timeout := s.defaultWait
	if raw := r.URL.Query().Get("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 || ms > protocol.MaxWaitTimeoutMs {
			writeError(w, http.StatusBadRequest, "timeoutMs must be between 1 and "+strconv.Itoa(protocol.MaxWaitTimeoutMs))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ready := s.gate.WaitUntilReady(r.Context(), timeout)
	writeJSON(w, http.StatusOK, readyResponse{
		Ready:  ready,
		Status: string(s.gate.Status()),
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.PrincipalID == "" {
		writeError(w, http.StatusBadRequest, "principalId is required")
		return
	}

	sess, err := s.auth.SignIn(req.PrincipalID, req.DisplayName)
	if err != nil {
		s.logger.Error("sign-in failed", zap.String("principal", req.PrincipalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, signInResponse{
		Principal: protocol.Principal{ID: sess.Principal.ID, DisplayName: sess.Principal.DisplayName},
		Token:     sess.Credential,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.auth.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auth.Events())
}
