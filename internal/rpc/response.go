package rpc

import (
	"net/http"

	"github.com/Joseda-hg/imon/internal/model"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the uniform reply body. Code is the HTTP status to send it
// with.
type Response struct {
	Code    int            `json:"-"`
	Status  string         `json:"status"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Field   string         `json:"field,omitempty"`
}

func OK(data map[string]any) Response {
	return Response{Code: http.StatusOK, Status: StatusOK, Data: data}
}

// FromError converts err to an error response. Unknown errors become 500
// without exposing their text.
func FromError(err error) Response {
	resp := Response{Code: http.StatusInternalServerError, Status: StatusError, Message: "internal error"}

	e, ok := model.AsError(err)
	if !ok {
		return resp
	}

	resp.Field = e.Field
	switch e.Kind {
	case model.KindRecordNotFound:
		resp.Code = http.StatusNotFound
		resp.Message = "Invalid credentials"
	case model.KindMalformedKey:
		resp.Code = http.StatusBadRequest
		resp.Message = "malformed key"
		resp.Field = "key"
	case model.KindRoleMismatch:
		resp.Code = http.StatusBadRequest
		resp.Message = messageOr(e, "role mismatch")
	case model.KindUnprocessable:
		resp.Code = http.StatusUnprocessableEntity
		resp.Message = messageOr(e, "unprocessable entity")
	case model.KindStoreUnavailable:
		resp.Code = http.StatusServiceUnavailable
		resp.Message = "store unavailable"
	}
	return resp
}

func messageOr(e *model.Error, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}
