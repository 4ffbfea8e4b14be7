package gateway

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON marshals v with the given status. Marshal failures degrade to
// a plain 500; by then headers may be gone, so just log.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("gateway: marshal response: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps the error taxonomy onto HTTP statuses. Quota failures
// additionally carry the projected usage in headers so clients can size
// their retry.
func writeError(w http.ResponseWriter, err error) {
	var (
		quotaErr  *errs.QuotaExceededError
		quorumErr *errs.QuorumError
		degraded  *errs.DegradedError
		capacity  *errs.CapacityError
	)
	switch {
	case errs.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.As(err, &quotaErr):
		w.Header().Set("X-Quota-Used", fmt.Sprintf("%d", quotaErr.Used))
		w.Header().Set("X-Quota-Limit", fmt.Sprintf("%d", quotaErr.Limit))
		writeJSON(w, http.StatusInsufficientStorage, errorBody{Error: quotaErr.Error()})
	case errors.As(err, &quorumErr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: quorumErr.Error()})
	case errors.As(err, &degraded):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: degraded.Error()})
	case errors.As(err, &capacity):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: capacity.Error()})
	case errors.Is(err, errs.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, meta.ErrBucketExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		log.Printf("gateway: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
