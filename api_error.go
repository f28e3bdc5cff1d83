// Package keyquota is the HTTP toolkit of the keyquota service: response
// state handled by the Handler middleware, structured API errors, request
// binding, API key and bearer token authentication, and the Quota metering
// middleware.
//
// Handlers record their outcome with SetResponse or SetError and the
// Handler middleware writes it once the chain returns:
//
//	r.Use(keyquota.Handler(keyquota.WithCanonlog()))
//	r.Get("/v1/keys/{value}", func(w http.ResponseWriter, r *http.Request) {
//		key, err := qc.Keys.Retrieve(r.Context(), chi.URLParam(r, "value"))
//		if err != nil {
//			keyquota.Fail(r, err)
//			return
//		}
//		keyquota.SetResponse(r, http.StatusOK, key)
//	})
package keyquota

import (
	"errors"
	"net/http"

	"github.com/nhalm/keyquota/quota"
)

// APIError represents a structured API error response.
type APIError struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Param   string       `json:"param,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Status  int          `json:"-"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithParam returns a copy of the error with a custom message and parameter.
func (e *APIError) WithParam(message, param string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	dup.Param = param
	return &dup
}

// Predefined sentinel errors
var (
	ErrBadRequest         = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized       = &APIError{Type: "auth_error", Code: "unauthorized", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden          = &APIError{Type: "auth_error", Code: "forbidden", Message: "Forbidden", Status: http.StatusForbidden}
	ErrNotFound           = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed   = &APIError{Type: "request_error", Code: "method_not_allowed", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrConflict           = &APIError{Type: "request_error", Code: "conflict", Message: "Conflict", Status: http.StatusConflict}
	ErrPayloadTooLarge    = &APIError{Type: "request_error", Code: "payload_too_large", Message: "Payload too large", Status: http.StatusRequestEntityTooLarge}
	ErrQuotaExceeded      = &APIError{Type: "rate_limit_error", Code: "quota_exceeded", Message: "Quota exceeded", Status: http.StatusTooManyRequests}
	ErrInternal           = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrServiceUnavailable = &APIError{Type: "request_error", Code: "service_unavailable", Message: "Service unavailable", Status: http.StatusServiceUnavailable}
)

// NewValidationError creates a validation error with multiple field errors.
func NewValidationError(errors []FieldError) *APIError {
	return &APIError{
		Type:    "validation_error",
		Code:    "invalid_request",
		Message: "Validation failed",
		Errors:  errors,
		Status:  http.StatusBadRequest,
	}
}

// FromError converts err into an APIError. A *quota.Error keeps its code and
// message and gets the status of its kind; an *APIError is returned as is;
// anything else becomes ErrInternal.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var qerr *quota.Error
	if !errors.As(err, &qerr) {
		return ErrInternal
	}

	out := &APIError{Code: qerr.Code, Message: qerr.Error()}
	if out.Code == "" {
		out.Code = string(qerr.Kind)
	}
	switch qerr.Kind {
	case quota.KindKeyNotFound, quota.KindPlanNotFound:
		out.Type, out.Status = "not_found", http.StatusNotFound
	case quota.KindKeyAlreadyExists, quota.KindPlanAlreadyExists, quota.KindPlanInUse:
		out.Type, out.Status = "request_error", http.StatusConflict
	case quota.KindInvalidArgument, quota.KindMetadataInvalid:
		out.Type, out.Status = "validation_error", http.StatusBadRequest
	case quota.KindStoreUnavailable:
		return ErrServiceUnavailable.With(out.Message)
	default:
		return ErrInternal
	}
	return out
}
