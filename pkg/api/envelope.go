package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lnmt-project/lnmt/pkg/util"
)

// envelope is the wire shape of every response: {data, error?}.
type envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// respondErr classifies err into the stable HTTP code set. The body
// carries the fine-grained code from the domain error when present.
func respondErr(w http.ResponseWriter, err error) {
	status, class := classify(err)
	code := util.Code(err)
	if code == "internal" {
		code = class
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log, not the response.
		msg = "internal error"
		util.Errorf("api internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &apiError{Code: code, Message: msg}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, util.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, util.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, util.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, util.ErrAlreadyExists), errors.Is(err, util.ErrPolicyViolation):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decode unmarshals a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return util.InvalidInputf("bad_body", "decoding request body: %v", err)
	}
	return nil
}
