package httpx

import (
	"net/http"
	"strconv"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Caller headers set by the upstream gateway.
const (
	HeaderUserID         = "X-User-ID"
	HeaderBranchID       = "X-Branch-ID"
	HeaderAllowBackdated = "X-Allow-Backdated"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// CallerMiddleware reads caller headers into the request context.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, errUser := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		branchID, errBranch := strconv.ParseInt(r.Header.Get(HeaderBranchID), 10, 64)
		if errUser == nil && errBranch == nil && userID > 0 && branchID > 0 {
			backdated, _ := strconv.ParseBool(r.Header.Get(HeaderAllowBackdated))
			r = r.WithContext(shared.ContextWithCaller(r.Context(), shared.Caller{
				UserID:         userID,
				BranchID:       branchID,
				AllowBackdated: backdated,
			}))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCaller returns the caller or a validation error.
func RequireCaller(r *http.Request) (shared.Caller, error) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		return shared.Caller{}, shared.Invalid("caller identity headers required")
	}
	return caller, nil
}
