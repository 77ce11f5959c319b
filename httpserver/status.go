package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/artifact-repository-backend/api"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/ruteri/artifact-repository-backend/metrics"
)

// StatusCode maps an error of the storage taxonomy to its HTTP status.
// Unclassified errors are treated as backend failures.
func StatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrPolicyDenied):
		return http.StatusMethodNotAllowed
	case errors.Is(err, interfaces.ErrCapacityExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, interfaces.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the client-facing reason of err. The cause is only logged.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := StatusCode(err)
	response := api.ErrorResponse{
		Error: interfaces.ReasonOf(err),
		Kind:  metrics.KindLabel(interfaces.KindOf(err)),
	}
	if status == http.StatusRequestEntityTooLarge {
		response.Error = "upload exceeds the maximum size"
	}
	if status >= http.StatusInternalServerError && status != http.StatusInsufficientStorage {
		log.Error("Request failed", "err", err)
	}
	writeJSON(w, log, status, response)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
