// Package errutil maps coded errors onto log records and HTTP responses.
package errutil

// Error codes carried by oops errors across the service.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	CodeInvalidCredential = "INVALID_CREDENTIAL"
	CodeInvalidCode       = "INVALID_CODE"
	CodeTooManyAttempts   = "TOO_MANY_ATTEMPTS"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeForbidden         = "FORBIDDEN"
	CodeValidation        = "VALIDATION"
	CodeBadRequest        = "BAD_REQUEST"
	CodeConfiguration     = "CONFIGURATION"
	CodeDependency        = "DEPENDENCY"
	CodeIntegrity         = "INTEGRITY"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL"
)
