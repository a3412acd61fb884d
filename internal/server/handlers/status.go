package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chembl/delayedjobs/internal/apperrors"
)

// GetStatus returns the public dict of one job.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.reg.GetByID(r.Context(), jobID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	dict, err := h.publicJobDict(r.Context(), job)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dict)
}

// PatchStatus is the worker callback: form fields progress (required,
// 0-100), status_log (appended), status_description (set verbatim).
// Token auth happens in middleware before this runs.
func (h *Handlers) PatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := r.ParseForm(); err != nil {
		h.respondWithError(w, r, fmt.Errorf("parse form: %w", err))
		return
	}
	rawProgress := strings.TrimSpace(r.PostFormValue("progress"))
	if rawProgress == "" {
		badRequest(w, r, "progress is required")
		return
	}
	progress, err := strconv.Atoi(rawProgress)
	if err != nil {
		badRequest(w, r, "progress must be an integer")
		return
	}

	job, err := h.reg.UpdateProgress(r.Context(), jobID, progress,
		r.PostFormValue("status_log"), r.PostFormValue("status_description"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	dict, err := h.publicJobDict(r.Context(), job)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dict)
}

// GetInput streams the recorded input file for (jobID, inputKey).
func (h *Handlers) GetInput(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	inputKey := chi.URLParam(r, "inputKey")

	record, err := h.reg.Store().GetInputFile(r.Context(), jobID, inputKey)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if _, err := os.Stat(record.InternalPath); err != nil {
		h.respondWithError(w, r, apperrors.NotFoundf("input file %s/%s", jobID, inputKey))
		return
	}

	name := filepath.Base(record.InternalPath)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, record.InternalPath)
}
