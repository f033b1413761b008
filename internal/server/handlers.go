package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports healthy when every database answers a ping
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "allocator",
	}

	for _, db := range s.systemHandlers.dbs {
		if err := db.QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Str("db", db.Name()).Msg("Health check failed")
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			break
		}
	}

	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
