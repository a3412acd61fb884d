package handlers

import (
	"context"
	"time"

	"github.com/chembl/delayedjobs/internal/config"
	"github.com/chembl/delayedjobs/pkg/jobstore"
)

// publicJobDict builds the client-facing representation of a job. The key
// set is part of the API contract and must not change shape between
// statuses; absent values render as null or empty collections.
func (h *Handlers) publicJobDict(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	outputs, err := h.reg.Store().ListOutputFiles(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	outputURLs := make([]string, 0, len(outputs))
	for _, f := range outputs {
		outputURLs = append(outputURLs, f.PublicURL)
	}

	inputs, err := h.reg.Store().ListInputFiles(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	inputURLs := make(map[string]string, len(inputs))
	for _, f := range inputs {
		inputURLs[f.FieldKey] = config.JoinURL(h.cfg.APIInitialURL, "status/inputs", job.ID, f.FieldKey)
	}

	return map[string]any{
		"id":                 job.ID,
		"type":               job.Type,
		"status":             string(job.Status),
		"status_log":         job.StatusLog,
		"status_description": job.StatusDescription,
		"progress":           job.Progress,
		"created_at":         fmtPublicTime(&job.CreatedAt),
		"started_at":         fmtPublicTime(job.StartedAt),
		"finished_at":        fmtPublicTime(job.FinishedAt),
		"raw_params":         job.RawParams,
		"expires_at":         fmtPublicTime(job.ExpiresAt),
		"api_initial_url":    h.cfg.APIInitialURL,
		"docker_image_url":   job.DockerImageURL,
		"timezone":           "UTC",
		"num_failures":       job.NumFailures,
		"output_files_urls":  outputURLs,
		"input_files_urls":   inputURLs,
	}, nil
}

// fmtPublicTime renders a timestamp for the public dict, nil as JSON null.
func fmtPublicTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
