package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chembl/delayedjobs/pkg/jobstore"
)

// runParamsFileName is the workspace file the worker container reads. Its
// shape is part of the worker contract and must stay bit-stable.
const runParamsFileName = "run_params.yml"

type runParams struct {
	JobID                string            `yaml:"job_id"`
	JobToken             string            `yaml:"job_token"`
	Inputs               map[string]string `yaml:"inputs"`
	OutputDir            string            `yaml:"output_dir"`
	StatusUpdateEndpoint statusEndpoint    `yaml:"status_update_endpoint"`
	JobParams            map[string]any    `yaml:"job_params"`
}

type statusEndpoint struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method"`
}

// writeRunParams renders <runDir>/run_params.yml and returns its path.
func (p *Pipeline) writeRunParams(job *jobstore.Job, inputs map[string]string) (string, error) {
	jobToken, err := p.signer.JobToken(job.ID)
	if err != nil {
		return "", err
	}

	var jobParams map[string]any
	if err := json.Unmarshal([]byte(job.RawParams), &jobParams); err != nil {
		return "", fmt.Errorf("decode raw params of %s: %w", job.ID, err)
	}

	params := runParams{
		JobID:     job.ID,
		JobToken:  jobToken,
		Inputs:    inputs,
		OutputDir: job.OutputDirPath,
		StatusUpdateEndpoint: statusEndpoint{
			URL:    p.cfg.StatusUpdateBase + "/" + job.ID,
			Method: "PATCH",
		},
		JobParams: jobParams,
	}

	encoded, err := yaml.Marshal(&params)
	if err != nil {
		return "", fmt.Errorf("marshal run params: %w", err)
	}

	path := filepath.Join(job.RunDirPath, runParamsFileName)
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return "", fmt.Errorf("write run params: %w", err)
	}
	return path, nil
}
