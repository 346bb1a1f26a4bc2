// Package http exposes the billing engine as a JSON API.
//
// This file implements a small builder for JSON responses and the mapping
// from domain errors to status codes and stable error codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fatura/internal/core"
	"fatura/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse creates an error response with a stable code and a human
// readable message.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: code, Message: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "BadRequest", message)
}

func NotFoundError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, code, message)
}

func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "InternalError", "internal error")
}

// errorCodes maps domain errors that carry their own status and code.
// Everything else falls back to its class.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{core.ErrInsufficientLimit, http.StatusPaymentRequired, "InsufficientLimit"},
	{core.ErrCompetencyPaidLocked, http.StatusConflict, "CompetencyPaidLocked"},
	{core.ErrCycleNotClosed, http.StatusConflict, "CycleNotClosed"},
	{core.ErrAlreadyPaid, http.StatusConflict, "AlreadyPaid"},
	{core.ErrCardHasOpenCharges, http.StatusConflict, "CardHasOpenCharges"},
	{core.ErrKindChangeBlocked, http.StatusConflict, "KindChangeBlocked"},
	{core.ErrVersionConflict, http.StatusConflict, "VersionConflict"},
	{core.ErrCycleImmutable, http.StatusUnprocessableEntity, "CycleImmutable"},
	{core.ErrInvalidCard, http.StatusUnprocessableEntity, "InvalidCard"},
	{core.ErrInvalidInstallments, http.StatusUnprocessableEntity, "InvalidInstallments"},
	{core.ErrInvalidAmount, http.StatusUnprocessableEntity, "InvalidAmount"},
	{core.ErrInvalidDate, http.StatusUnprocessableEntity, "InvalidDate"},
	{core.ErrInvalidCompetency, http.StatusUnprocessableEntity, "InvalidCompetency"},
	{core.ErrInvalidMethod, http.StatusUnprocessableEntity, "InvalidMethod"},
	{core.ErrCardNotFound, http.StatusNotFound, "CardNotFound"},
	{core.ErrChargeNotFound, http.StatusNotFound, "ChargeNotFound"},
}

// errorResponseFor translates err into a response. Internal errors are
// logged here and never leak their text to the client.
func errorResponseFor(ctx context.Context, err error) *JSONResponseBuilder {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ErrorResponse(ec.status, ec.code, err.Error())
		}
	}

	switch core.Classify(err) {
	case core.ClassValidation:
		return ErrorResponse(http.StatusUnprocessableEntity, "ValidationFailed", err.Error())
	case core.ClassConflict:
		return ErrorResponse(http.StatusConflict, "Conflict", err.Error())
	case core.ClassNotFound:
		return NotFoundError("NotFound", err.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorResponse(http.StatusServiceUnavailable, "Unavailable", "request cancelled or timed out")
	}

	log.FromContext(ctx).ErrorContext(ctx, "Request failed",
		log.FieldError, err,
		log.FieldErrorClass, core.ClassInternal)
	return InternalServerError()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponseFor(r.Context(), err).Write(w)
}
