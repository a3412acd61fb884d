package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/apperrors"
	"github.com/chembl/delayedjobs/internal/server/middleware"
	"github.com/chembl/delayedjobs/pkg/dispatch"
	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/registry"
	"github.com/chembl/delayedjobs/pkg/token"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// adaptError folds the domain packages' sentinels into the shared error
// kinds so one classifier serves every handler.
func adaptError(err error) error {
	switch {
	case errors.Is(err, registry.ErrJobNotFound), errors.Is(err, jobstore.ErrNotExist),
		errors.Is(err, dispatch.ErrUnknownJobType):
		return apperrors.NotFoundf("%v", err)
	case errors.Is(err, dispatch.ErrSubmissionFailed):
		return apperrors.Submissionf("%v", err)
	case errors.Is(err, token.ErrInvalidToken):
		return errors.Join(err, apperrors.ErrUnauthorized)
	default:
		return err
	}
}

// badRequest writes a 400 envelope for malformed client input.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", message)
}

// respondWithError classifies err and writes the JSON envelope. Internal
// errors are logged with their full chain; the envelope carries only the
// classified message.
func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	adapted := adaptError(err)
	status, code := apperrors.StatusFor(adapted)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	middleware.WriteError(w, r, status, code, adapted.Error())
}
