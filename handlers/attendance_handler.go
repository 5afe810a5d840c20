package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gymStreakAPI/middleware"
	"gymStreakAPI/services"
)

type AttendanceHandler struct {
	orchestrator *services.AttendanceOrchestrator
	projector    *services.QueryProjector
	access       *AccessPolicy
	logger       *zap.Logger
}

func NewAttendanceHandler(
	orchestrator *services.AttendanceOrchestrator,
	projector *services.QueryProjector,
	access *AccessPolicy,
	logger *zap.Logger,
) *AttendanceHandler {
	return &AttendanceHandler{
		orchestrator: orchestrator,
		projector:    projector,
		access:       access,
		logger:       logger,
	}
}

type submitBatchRequest struct {
	Day     string                `json:"day"`
	Entries []services.BatchEntry `json:"entries"`
}

type correctEntryRequest struct {
	Status string `json:"status"`
}

// SubmitBatch handles POST /api/v1/attendance/{gymId}. Per-athlete failures
// are reported inside a 200 response.
func (h *AttendanceHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	gymID := mux.Vars(r)["gymId"]

	var req submitBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	if _, err := h.access.GymStaff(ctx, gymID, requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	result, err := h.orchestrator.SubmitBatch(ctx, gymID, req.Day, req.Entries, requesterID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetGymDay handles GET /api/v1/attendance/{gymId}/{day}.
func (h *AttendanceHandler) GetGymDay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	vars := mux.Vars(r)

	if _, err := h.access.GymStaff(ctx, vars["gymId"], requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	view, err := h.projector.GymDay(ctx, vars["gymId"], vars["day"])
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// CorrectEntry handles PATCH /api/v1/attendance/{gymId}/{day}/{athleteId}.
func (h *AttendanceHandler) CorrectEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	vars := mux.Vars(r)

	var req correctEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	if _, err := h.access.GymStaff(ctx, vars["gymId"], requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	delta, err := h.orchestrator.SubmitOne(ctx, vars["gymId"], vars["day"], vars["athleteId"], req.Status, requesterID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, delta)
}

// PurgeEntry handles DELETE /api/v1/attendance/{gymId}/{day}/{athleteId}.
// Admins only.
func (h *AttendanceHandler) PurgeEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	vars := mux.Vars(r)

	if err := h.access.GymAdmin(ctx, vars["gymId"], requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	if err := h.orchestrator.Purge(ctx, vars["gymId"], vars["day"], vars["athleteId"], requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
