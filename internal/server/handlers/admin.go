package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/apperrors"
)

// AdminLogin exchanges Basic credentials for an admin token. The stored
// password is the sha256 hex of the configured cleartext; comparison is
// constant-time.
func (h *Handlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		h.respondWithError(w, r, fmt.Errorf("basic auth required: %w", apperrors.ErrUnauthorized))
		return
	}

	sum := sha256.Sum256([]byte(password))
	passwordHash := hex.EncodeToString(sum[:])

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(passwordHash), []byte(h.cfg.AdminPasswordHash)) == 1
	if !userOK || !passOK {
		h.respondWithError(w, r, fmt.Errorf("bad admin credentials: %w", apperrors.ErrUnauthorized))
		return
	}

	tok, err := h.signer.AdminToken()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

// DeleteAllJobsByType removes every job of the form's job_type together
// with its directories.
func (h *Handlers) DeleteAllJobsByType(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondWithError(w, r, fmt.Errorf("parse form: %w", err))
		return
	}
	jobType := strings.TrimSpace(r.PostFormValue("job_type"))
	if jobType == "" {
		badRequest(w, r, "job_type is required")
		return
	}

	count, err := h.reg.DeleteAllByType(r.Context(), jobType)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.log.Info("deleted jobs by type",
		zap.String("job_type", jobType), zap.Int("count", count))
	writeJSON(w, http.StatusOK, map[string]any{
		"operation_result": fmt.Sprintf("deleted %d jobs of type %s", count, jobType),
	})
}

// DeleteOutputFilesForJob clears one job's output rows and its output
// directory contents. The job row itself survives; a later submission with
// the same identity will see the outputs missing and re-dispatch.
func (h *Handlers) DeleteOutputFilesForJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.reg.GetByID(r.Context(), jobID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	count, err := h.reg.Store().DeleteOutputFiles(r.Context(), job.ID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(job.OutputDirPath) != "" {
		if err := os.RemoveAll(job.OutputDirPath); err != nil {
			h.log.Warn("failed to remove output directory",
				zap.String("job_id", job.ID),
				zap.String("dir", job.OutputDirPath),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation_result": fmt.Sprintf("deleted %d output files of job %s", count, job.ID),
	})
}

// DeleteExpired runs the expiry sweep once.
func (h *Handlers) DeleteExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.reg.DeleteAllExpired(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.log.Info("expiry sweep finished", zap.Int("deleted", count))
	writeJSON(w, http.StatusOK, map[string]any{
		"result": fmt.Sprintf("deleted %d expired jobs", count),
	})
}
