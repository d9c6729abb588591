package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed provider failure carrying the HTTP-like status code the
// provider answered with. The orchestrator routes on the code: 401/403 mark
// the token, 404 marks the entity.
type Error struct {
	Backend string
	Code    int
	What    string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Code == http.StatusNotFound:
		return fmt.Sprintf("%s cannot be found on %s", e.What, e.Backend)
	case e.Code == http.StatusUnauthorized:
		return fmt.Sprintf("%s cannot be accessed on %s: unauthorized access", e.What, e.Backend)
	case e.Code == http.StatusForbidden:
		return fmt.Sprintf("%s cannot be accessed on %s: %s", e.What, e.Backend, orDefault(e.Message, "access forbidden"))
	case e.Code >= 500:
		return fmt.Sprintf("%s cannot be accessed because %s encountered an internal error: %s", e.What, e.Backend, orDefault(e.Message, "(no more info)"))
	case e.Code >= 400:
		return fmt.Sprintf("%s cannot be accessed on %s: %s", e.What, e.Backend, orDefault(e.Message, http.StatusText(e.Code)))
	default:
		return fmt.Sprintf("an error prevented the request on %s: %s", e.Backend, orDefault(e.Message, "undefined error"))
	}
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// MakeError builds a typed error for a provider status code.
func MakeError(backendName string, code int, what, message string) *Error {
	return &Error{
		Backend: backendName,
		Code:    code,
		What:    what,
		Message: message,
	}
}

// CodeOf extracts the provider status code from an error chain, 0 when the
// error is not a backend error.
func CodeOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return 0
}

func IsNotFound(err error) bool {
	return CodeOf(err) == http.StatusNotFound
}

func IsUnauthorized(err error) bool {
	return CodeOf(err) == http.StatusUnauthorized
}

func IsForbidden(err error) bool {
	return CodeOf(err) == http.StatusForbidden
}
