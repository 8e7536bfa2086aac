package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error kind to an HTTP status and emits the
// standard {error, detail} body.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	writeJSON(w, status, map[string]string{
		"error":  http.StatusText(status),
		"detail": err.Error(),
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "orchestrator", "decode request body")
	}
	return nil
}
