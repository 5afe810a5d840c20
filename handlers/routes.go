package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterAPIRoutes mounts the authenticated endpoints on api, which is
// expected to be the /api/v1 subrouter.
func RegisterAPIRoutes(api *mux.Router, attendance *AttendanceHandler, streaks *StreakHandler) {
	api.HandleFunc("/attendance/{gymId}", attendance.SubmitBatch).Methods(http.MethodPost)
	api.HandleFunc("/attendance/{gymId}/{day}", attendance.GetGymDay).Methods(http.MethodGet)
	api.HandleFunc("/attendance/{gymId}/{day}/{athleteId}", attendance.CorrectEntry).Methods(http.MethodPatch)
	api.HandleFunc("/attendance/{gymId}/{day}/{athleteId}", attendance.PurgeEntry).Methods(http.MethodDelete)

	api.HandleFunc("/users/{athleteId}/streak", streaks.GetStreak).Methods(http.MethodGet)
	api.HandleFunc("/users/{athleteId}/streak/history", streaks.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{athleteId}/streak/history/close", streaks.CloseHistory).Methods(http.MethodPost)
}
