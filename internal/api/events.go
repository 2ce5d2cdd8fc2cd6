package api

import (
	"net/http"
	"strconv"

	"github.com/relaykvm/relaykvm-core/internal/journal"
)

// handleListEvents returns streamer lifecycle events from the journal.
//
// Query parameters:
//   - type: filter by event type (e.g. "process_exited")
//   - source: filter by source ("supervisor", "api", "mqtt")
//   - limit: maximum results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "event journal is not available")
		return
	}

	filter := journal.Filter{
		Type:   r.URL.Query().Get("type"),
		Source: r.URL.Query().Get("source"),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
