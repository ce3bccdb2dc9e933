// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ErrBadRequest marks malformed or incomplete request input.
var ErrBadRequest = errors.New("bad request")

// Status returns the response status and problem title of err.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, shared.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, shared.ErrModificationBlocked):
		return http.StatusConflict, "Modification Blocked"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, "Precondition Failed"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps ledger error kinds to RFC7807 responses. Internal
// errors are reported without detail.
func RespondError(w http.ResponseWriter, err error) {
	status, title := Status(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, title, detail)
}
