package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/apperrors"
	"github.com/chembl/delayedjobs/pkg/jobstore"
)

// SubmitStatistics relays per-search-type statistics for a finished job.
// The job must be FINISHED (412 otherwise); forwarding to the statistics
// service is fire-and-forget, so the response does not wait on it.
func (h *Handlers) SubmitStatistics(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	jobID := chi.URLParam(r, "jobID")

	job, err := h.reg.GetByID(r.Context(), jobID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if job.Status != jobstore.StatusFinished {
		h.respondWithError(w, r, fmt.Errorf(
			"statistics for job %s in state %s: %w", jobID, job.Status, apperrors.ErrPrecondition))
		return
	}

	if err := r.ParseForm(); err != nil {
		h.respondWithError(w, r, fmt.Errorf("parse form: %w", err))
		return
	}
	payload := map[string]any{
		"job_id":          jobID,
		"statistics_kind": kind,
	}
	for key, values := range r.PostForm {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}

	if h.cfg.StatisticsURL != "" {
		go h.forwardStatistics(payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operation_result": fmt.Sprintf("statistics saved for job %s", jobID),
	})
}

func (h *Handlers) forwardStatistics(payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("failed to encode statistics payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.statsClient.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.StatisticsURL, bytes.NewReader(body))
	if err != nil {
		h.log.Warn("failed to build statistics request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.statsClient.Do(req)
	if err != nil {
		h.log.Warn("statistics forward failed", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		h.log.Warn("statistics service rejected payload",
			zap.Int("status", resp.StatusCode))
	}
}
