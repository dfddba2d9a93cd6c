package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// requestError carries a decode failure already shaped for the wire:
// handlers forward it via writeRequestError without re-mapping.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func writeRequestError(w http.ResponseWriter, err *requestError) {
	writeError(w, err.status, err.code, err.msg)
}

// decodeJSON reads exactly one JSON value into dst, bounded by maxBytes and
// with unknown fields rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) *requestError {
	if r.Body == nil {
		return &requestError{status: http.StatusBadRequest, code: "empty_body", msg: "request body required"}
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, code: "body_too_large", msg: "request body too large"}
		}
		return &requestError{status: http.StatusBadRequest, code: "invalid_json", msg: "invalid request body"}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &requestError{status: http.StatusBadRequest, code: "invalid_json", msg: "unexpected data after JSON body"}
	}
	return nil
}
