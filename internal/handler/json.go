package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return oops.Code(errutil.CodeBadRequest).Public("invalid JSON").Wrap(err)
	}
	return nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, oops.Code(errutil.CodeBadRequest).
			Public("invalid "+name).
			With(name, r.PathValue(name)).
			Wrap(err)
	}
	return id, nil
}

type messageResponse struct {
	Message string `json:"message"`
}
