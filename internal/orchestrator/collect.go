package orchestrator

import (
	"net/http"
	"strconv"

	"github.com/optiinfra/optiinfra/internal/collector"
)

// handleTriggerCollection runs an on-demand collection. With async_mode
// the response carries only the history id.
func (s *Server) handleTriggerCollection(w http.ResponseWriter, r *http.Request) {
	var req collector.TriggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.scheduler.Trigger(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if req.AsyncMode {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.store.ListCollections(r.Context(), customerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": records})
}

// handleGetCollection returns one history row; async triggers poll it
// for their terminal status.
func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.store.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
