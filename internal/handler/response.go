// internal/handler/response.go
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/drip-campaign-backend/internal/errors"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

// UserIDHeader carries the authenticated tenant id, set by the gateway.
const UserIDHeader = "X-User-ID"

var (
	errMissingUser = errors.New("missing or invalid " + UserIDHeader + " header")
	errBadID       = errors.New("invalid id")
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string         `json:"error"`
	Code  appErrors.Code `json:"code,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch appErrors.CodeOf(err) {
	case appErrors.CodeCampaignNotFound:
		return http.StatusNotFound
	case appErrors.CodeCampaignRunning:
		return http.StatusConflict
	case appErrors.CodeInvalidStepIDs, appErrors.CodeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error writes err as an ErrorBody. Errors without a code are logged and
// reported as a generic 500 so driver messages do not leak.
func Error(w http.ResponseWriter, log *logger.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "error", err)
		JSON(w, status, ErrorBody{Error: "internal server error"})
		return
	}
	JSON(w, status, ErrorBody{Error: err.Error(), Code: appErrors.CodeOf(err)})
}

// BadRequest writes a 400 with a VALIDATION_FAILED code.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: msg, Code: appErrors.CodeValidation})
}

// UserID reads the caller's tenant id from the request header.
func UserID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingUser
	}
	return id, nil
}

// RequireUser writes a 401 and returns false when the caller is unknown.
func RequireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := UserID(r)
	if err != nil {
		JSON(w, http.StatusUnauthorized, ErrorBody{Error: err.Error()})
		return 0, false
	}
	return id, true
}

// IDParam parses a positive integer chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v interface{}) error {
	return strict(json.NewDecoder(r.Body), v)
}

// DecodeBytes is Decode for a body that was already read.
func DecodeBytes(data []byte, v interface{}) error {
	return strict(json.NewDecoder(bytes.NewReader(data)), v)
}

func strict(dec *json.Decoder, v interface{}) error {
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
