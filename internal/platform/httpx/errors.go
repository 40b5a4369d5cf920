// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type problemMapping struct {
	target error
	status int
	title  string
}

var mappings = []problemMapping{
	{shared.ErrImbalancedVoucher, http.StatusUnprocessableEntity, "Imbalanced Voucher"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{shared.ErrSlabNotFound, http.StatusNotFound, "Slab Not Found"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrDuplicateRule, http.StatusConflict, "Duplicate Rule"},
	{shared.ErrSessionConflict, http.StatusConflict, "Session Conflict"},
	{shared.ErrStateTransition, http.StatusConflict, "Invalid State Transition"},
	{shared.ErrConcurrentModification, http.StatusConflict, "Concurrent Modification"},
	{shared.ErrSessionClosed, http.StatusLocked, "Session Closed"},
	{shared.ErrNoOpenSession, http.StatusLocked, "No Open Session"},
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			Problem(w, m.status, m.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// StatusFor returns the HTTP status RespondError would use.
func StatusFor(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
