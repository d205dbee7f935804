package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Oudwins/clipq/internals/schemas"
)

type JsonResponseStatus string

const (
	JsonResponseStatusSuccess JsonResponseStatus = "success"
	JsonResponseStatusFailed  JsonResponseStatus = "failed"
)

type JsonResponseErrorCode string

const (
	JsonResponseErrorCodeInvalidJson      JsonResponseErrorCode = "invalid_json"
	JsonResponseErrorCodeValidationFailed JsonResponseErrorCode = "validation_failed"
	JsonResponseErroCodeInternal          JsonResponseErrorCode = "internal"
	JsonResponseErrorCodeNotFound         JsonResponseErrorCode = "not_found"
	JsonResponseErrorCodeNotReady         JsonResponseErrorCode = "not_ready"
	JsonResponseErrorCodeArtifactMissing  JsonResponseErrorCode = "artifact_missing"
)

type ErrorResponse struct {
	Status  JsonResponseStatus    `json:"status"`
	Code    JsonResponseErrorCode `json:"code"`
	Message string                `json:"message"`
	Errors  map[string][]string   `json:"errors,omitempty"`
}

func JsonResponseError(code JsonResponseErrorCode, message string, errors map[string][]string) *ErrorResponse {
	return &ErrorResponse{
		Status:  JsonResponseStatusFailed,
		Code:    code,
		Message: message,
		Errors:  errors,
	}
}

type RenderOption = func(w http.ResponseWriter, r *http.Request)

type Renderer struct {
}

func (r *Renderer) Status(status int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

var Render = Renderer{}

func RenderJSON(w http.ResponseWriter, r *http.Request, payload any, opts ...RenderOption) {
	w.Header().Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(w, r)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// RenderTaskError maps engine errors onto status codes. ArtifactMissing is
// checked first because it also matches OperationFailed.
func RenderTaskError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, schemas.ErrArtifactMissing):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeArtifactMissing, "artifact is no longer available", nil), Render.Status(http.StatusGone))
	case errors.Is(err, schemas.ErrNotFound):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "task not found", nil), Render.Status(http.StatusNotFound))
	case errors.Is(err, schemas.ErrNotReady):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotReady, "task is still running", nil), Render.Status(http.StatusConflict))
	default:
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, fallback, nil), Render.Status(http.StatusInternalServerError))
	}
}
