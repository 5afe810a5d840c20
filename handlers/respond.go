package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps an error kind to its status. Only internal
// failures are logged; their detail never reaches the client.
func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, errors.NotValid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.NotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.Forbidden):
		respondWithError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, errors.AlreadyExists):
		respondWithError(w, http.StatusConflict, "Conflicting concurrent update, retry the request")
	default:
		logger.Error("request failed", zap.Error(err), zap.String("trace", errors.ErrorStack(err)))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		return errors.NewNotValid(err, "request body")
	}
	return nil
}
