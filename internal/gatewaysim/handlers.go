// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package gatewaysim

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/push"
)

type contextKey int

const householdKey contextKey = iota

type apiResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(apiResponse{Status: "success", Data: data})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logging.Error().Err(err).Int("status", status).Msg(message)
	}
	body, _ := json.Marshal(apiResponse{Status: "error", Message: message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondStoreError maps store errors to statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ErrInvalidState):
		respondError(w, http.StatusConflict, strings.TrimSuffix(err.Error(), ": "+ErrInvalidState.Error()), err)
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authenticate accepts the configured static token or a signed session
// token and stores the session's household in the request context.
func (s *Simulator) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logRequest(r)
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		var householdID string
		if s.cfg.Token != "" && token == s.cfg.Token {
			householdID = s.store.HouseholdID()
		} else {
			claims, err := s.tokens.Validate(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Session expired, please log in again", err)
				return
			}
			householdID = claims.HouseholdID
		}

		ctx := context.WithValue(r.Context(), householdKey, householdID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionHousehold(r *http.Request) string {
	id, _ := r.Context().Value(householdKey).(string)
	return id
}

// ownHousehold rejects sessions of another household.
func (s *Simulator) ownHousehold(w http.ResponseWriter, r *http.Request) bool {
	if sessionHousehold(r) != s.store.HouseholdID() {
		respondError(w, http.StatusForbidden, "Not a member of this household", nil)
		return false
	}
	return true
}

func (s *Simulator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"healthy":      true,
		"push_clients": s.hub.ClientCount(),
	})
}

type loginRequest struct {
	HouseholdID string `json:"householdId"`
	MemberID    string `json:"memberId"`
}

type loginResponse struct {
	Token       string `json:"token"`
	HouseholdID string `json:"householdId"`
}

func (s *Simulator) handleLogin(w http.ResponseWriter, r *http.Request) {
	logRequest(r)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.HouseholdID != s.store.HouseholdID() {
		respondError(w, http.StatusUnauthorized, "Unknown household", nil)
		return
	}
	if _, err := s.store.Member(req.MemberID); err != nil {
		respondError(w, http.StatusUnauthorized, "Unknown member", nil)
		return
	}

	token, err := s.tokens.Issue(req.HouseholdID, req.MemberID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{Token: token, HouseholdID: req.HouseholdID})
}

func (s *Simulator) handleHousehold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != sessionHousehold(r) {
		respondError(w, http.StatusForbidden, "Not a member of this household", nil)
		return
	}
	h, err := s.store.Household(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Simulator) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !s.ownHousehold(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, s.store.Tasks())
}

func (s *Simulator) handleMembers(w http.ResponseWriter, r *http.Request) {
	if !s.ownHousehold(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, s.store.Members())
}

func (s *Simulator) handleMember(w http.ResponseWriter, r *http.Request) {
	if !s.ownHousehold(w, r) {
		return
	}
	m, err := s.store.Member(chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleTransition applies a task action and broadcasts the new task state.
func (s *Simulator) handleTransition(w http.ResponseWriter, r *http.Request) {
	if !s.ownHousehold(w, r) {
		return
	}
	t, mu, err := s.store.Transition(chi.URLParam(r, "id"), chi.URLParam(r, "action"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if err := s.EmitTaskUpdated(s.store.HouseholdID(), t, mu); err != nil {
		logging.Warn().Err(err).Str("task_id", t.ID).Msg("Failed to broadcast task update")
	}
	respondJSON(w, http.StatusOK, t)
}

// handleSocket upgrades to the websocket push feed of the session household.
func (s *Simulator) handleSocket(w http.ResponseWriter, r *http.Request) {
	householdID := r.URL.Query().Get("householdId")
	if householdID == "" || householdID != sessionHousehold(r) {
		respondError(w, http.StatusForbidden, "Not a member of this household", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Push upgrade failed")
		return
	}
	newClient(s.hub, conn, householdID).start()
}

type emitRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleEmit pushes an arbitrary frame to the session household.
func (s *Simulator) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := s.Emit(sessionHousehold(r), push.Frame{Type: req.Type, Data: req.Data}); err != nil {
		respondError(w, http.StatusBadGateway, "Failed to publish frame", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
