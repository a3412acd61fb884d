package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/dispatch"
)

// maxSubmitMemory bounds how much of a multipart body is held in memory
// before spilling to the request's own temp files.
const maxSubmitMemory = 32 << 20

// Submit accepts a multipart job submission for the jobType route param,
// spools uploads under the temp dir, and runs the submission pipeline. The
// response is {"job_id": <id>} whether the job is fresh or a cache hit.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")

	if err := r.ParseMultipartForm(maxSubmitMemory); err != nil {
		h.respondWithError(w, r, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	fields := make(map[string]string, len(r.MultipartForm.Value))
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}

	spoolDir := filepath.Join(h.cfg.JobsTmpDir, uuid.NewString())
	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		h.respondWithError(w, r, fmt.Errorf("create upload spool dir: %w", err))
		return
	}
	// Dispatch moves uploads into the job workspace; whatever is left in
	// the spool dir is scratch.
	defer func() {
		if err := os.RemoveAll(spoolDir); err != nil {
			h.log.Warn("failed to clean upload spool dir",
				zap.String("dir", spoolDir), zap.Error(err))
		}
	}()

	uploads, err := h.spoolUploads(r, spoolDir)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	jobID, err := h.pipe.Submit(r.Context(), jobType, fields, uploads)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// spoolUploads copies every multipart file part into spoolDir, one file
// per form field.
func (h *Handlers) spoolUploads(r *http.Request, spoolDir string) ([]dispatch.Upload, error) {
	var uploads []dispatch.Upload
	for key, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		header := headers[0]

		src, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", key, err)
		}

		filename := filepath.Base(header.Filename)
		if filename == "" || filename == "." {
			filename = key
		}
		destPath := filepath.Join(spoolDir, key+"_"+filename)
		dest, err := os.Create(destPath)
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("spool upload %s: %w", key, err)
		}
		_, err = io.Copy(dest, src)
		_ = src.Close()
		if closeErr := dest.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, fmt.Errorf("spool upload %s: %w", key, err)
		}

		uploads = append(uploads, dispatch.Upload{
			FieldKey: key,
			Filename: filename,
			TempPath: destPath,
		})
	}
	return uploads, nil
}
