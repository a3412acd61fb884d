package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chembl/delayedjobs/pkg/token"
)

const (
	// JobKeyHeader carries the per-job callback token.
	JobKeyHeader = "X-Job-Key"
	// AdminKeyHeader carries the admin session token.
	AdminKeyHeader = "X-Admin-Key"
)

// JobAuth requires a job token valid for the jobID route param. A missing
// header is 403; a present but invalid or wrongly-scoped token is 401.
func JobAuth(signer *token.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(JobKeyHeader)
			if raw == "" {
				WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "missing "+JobKeyHeader)
				return
			}
			jobID := chi.URLParam(r, "jobID")
			if err := signer.VerifyJobToken(raw, jobID); err != nil {
				WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid job token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuth requires a valid admin token. Same 403/401 split as JobAuth.
func AdminAuth(signer *token.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(AdminKeyHeader)
			if raw == "" {
				WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "missing "+AdminKeyHeader)
				return
			}
			if err := signer.VerifyAdminToken(raw); err != nil {
				WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
