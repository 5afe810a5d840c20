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

type StreakHandler struct {
	projector *services.QueryProjector
	history   *services.HistoryRecorder
	access    *AccessPolicy
	logger    *zap.Logger
}

func NewStreakHandler(projector *services.QueryProjector, history *services.HistoryRecorder, access *AccessPolicy, logger *zap.Logger) *StreakHandler {
	return &StreakHandler{
		projector: projector,
		history:   history,
		access:    access,
		logger:    logger,
	}
}

type closeHistoryRequest struct {
	Reason string `json:"reason"`
}

func (h *StreakHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	athleteID := mux.Vars(r)["athleteId"]

	if err := h.access.StreakReader(ctx, athleteID, requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	view, err := h.projector.AthleteStreak(ctx, athleteID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *StreakHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	athleteID := mux.Vars(r)["athleteId"]

	if err := h.access.StreakReader(ctx, athleteID, requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	view, err := h.projector.AthleteHistory(ctx, athleteID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// CloseHistory ends the athlete's open run without touching the streak.
// The body is optional.
func (h *StreakHandler) CloseHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	requesterID, ok := middleware.GetRequesterID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	athleteID := mux.Vars(r)["athleteId"]

	var req closeHistoryRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithServiceError(w, h.logger, err)
			return
		}
	}

	if err := h.access.AthleteAdmin(ctx, athleteID, requesterID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	entry, err := h.history.CloseOpen(ctx, athleteID, req.Reason)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("streak history closed",
		zap.String("athlete_id", athleteID),
		zap.String("requester_id", requesterID),
	)
	respondWithJSON(w, http.StatusOK, services.NewHistoryRow(entry))
}
