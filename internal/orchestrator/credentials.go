package orchestrator

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, apperrors.Newf(apperrors.KindValidation, "orchestrator",
			"invalid %s %q", name, mux.Vars(r)[name])
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Newf(apperrors.KindValidation, "orchestrator",
			"invalid %s %q", name, raw)
	}
	return id, nil
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var customer relational.Customer
	if err := decodeJSON(r, &customer); err != nil {
		writeError(w, err)
		return
	}
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if err := s.store.CreateCustomer(r.Context(), &customer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	customer, err := s.store.GetCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// handleCreateCredential stores a credential; the response row never
// carries the payload.
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentials.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CustomerID == uuid.Nil {
		writeError(w, apperrors.New(apperrors.KindValidation, "orchestrator", "customer_id is required"))
		return
	}

	row, err := s.creds.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.creds.ListByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": rows})
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	row, err := s.creds.GetRow(r.Context(), customerID, mux.Vars(r)["provider"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Payload  map[string]string  `json:"payload"`
		Metadata relational.JSONMap `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, apperrors.New(apperrors.KindValidation, "orchestrator", "payload is required"))
		return
	}

	if err := s.creds.Update(r.Context(), id, req.Payload, req.Metadata); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	provider := mux.Vars(r)["provider"]
	if err := s.creds.Delete(r.Context(), customerID, provider); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
