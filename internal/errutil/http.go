package errutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

type mapping struct {
	status  int
	message string
}

var mappings = map[string]mapping{
	CodeNotFound:          {http.StatusNotFound, "not found"},
	CodeUserNotFound:      {http.StatusNotFound, "user not found"},
	CodeDuplicateIdentity: {http.StatusUnprocessableEntity, "email already registered"},
	CodeValidation:        {http.StatusUnprocessableEntity, "invalid request"},
	CodeBadRequest:        {http.StatusBadRequest, "bad request"},
	CodeInvalidCode:       {http.StatusBadRequest, "invalid code"},
	CodeIntegrity:         {http.StatusBadRequest, "ticket failed verification"},
	CodeTooManyAttempts:   {http.StatusTooManyRequests, "too many attempts"},
	CodeInvalidCredential: {http.StatusUnauthorized, "invalid credentials"},
	CodeUnauthorized:      {http.StatusUnauthorized, "unauthorized"},
	CodeTokenInvalid:      {http.StatusUnauthorized, "unauthorized"},
	CodeTokenExpired:      {http.StatusUnauthorized, "unauthorized"},
	CodeForbidden:         {http.StatusForbidden, "forbidden"},
	CodeConflict:          {http.StatusConflict, "conflict"},
	CodeDependency:        {http.StatusInternalServerError, "upstream service failed"},
	CodeConfiguration:     {http.StatusInternalServerError, "internal error"},
	CodeInternal:          {http.StatusInternalServerError, "internal error"},
}

// Code returns the oops code carried by err, or CodeInternal.
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			if s := fmt.Sprint(code); s != "" {
				return s
			}
		}
	}
	return CodeInternal
}

// Status returns the HTTP status, lower-case machine code and client-safe
// message for err. Unknown errors become 500 "internal".
func Status(err error) (int, string, string) {
	code := Code(err)
	m, ok := mappings[code]
	if !ok {
		code = CodeInternal
		m = mappings[CodeInternal]
	}

	msg := m.message
	if m.status < http.StatusInternalServerError {
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Public() != "" {
			msg = oopsErr.Public()
		}
	}
	return m.status, strings.ToLower(code), msg
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes err as a JSON error response. Server-side failures are
// logged with their full context.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code, msg := Status(err)
	if status >= http.StatusInternalServerError && logger != nil {
		LogError(logger, "request failed", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: code})
}
