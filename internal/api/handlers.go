package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// readyHandler handles GET /ready by pinging the store.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultReadyTimeout)
	defer cancel()

	if err := s.st.Ping(ctx); err != nil {
		slog.Warn("Server.readyHandler: store not ready", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Store not ready"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ready", nil))
}

// latestProjectHandler handles GET /users/{userID}/project
func (s *Server) latestProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	project, err := s.st.LatestProjectForUser(r.Context(), userID)
	if err != nil {
		writeStoreError(w, "latestProjectHandler", err)
		return
	}
	if project == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("No project for user"))
		return
	}
	slog.Debug("Server.latestProjectHandler succeeded", "user_id", userID, "project_id", project.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(project))
}

// listProjectsHandler handles GET /users/{userID}/projects
func (s *Server) listProjectsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	projects, err := s.st.ListProjectsForUser(r.Context(), userID)
	if err != nil {
		writeStoreError(w, "listProjectsHandler", err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	slog.Debug("Server.listProjectsHandler succeeded", "user_id", userID, "count", len(projects))
	writeJSONResponse(w, http.StatusOK, models.Success(projects))
}

// turnsHandler handles GET /users/{userID}/turns?limit=N and returns turns newest first.
func (s *Server) turnsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxTurnsLimit {
			writeJSONResponse(w, http.StatusBadRequest, errorResponse("limit must be an integer between 1 and "+strconv.Itoa(MaxTurnsLimit)))
			return
		}
		limit = n
	}

	turns, err := s.st.RecentTurnsForUser(r.Context(), userID, limit)
	if err != nil {
		writeStoreError(w, "turnsHandler", err)
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	slog.Debug("Server.turnsHandler succeeded", "user_id", userID, "limit", limit, "count", len(turns))
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse("user id is required"))
		return "", false
	}
	return userID, true
}
