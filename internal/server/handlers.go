package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// Version is reported by /health.
const Version = "1.0.0"

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"service": "eigenrisk",
	}

	if s.container != nil && s.container.CalculationsDB != nil {
		if err := s.container.CalculationsDB.QuickCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("Calculations database failed quick check")
			response["status"] = "degraded"
			response["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response, s.log)
			return
		}
	}

	writeJSON(w, http.StatusOK, response, s.log)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
