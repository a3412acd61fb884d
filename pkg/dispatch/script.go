package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/jobstore"
)

// ErrSubmissionFailed marks any failure between workspace preparation and
// cluster acknowledgement. The job row stays in CREATED; the next
// submission attempts again.
var ErrSubmissionFailed = errors.New("job submission failed")

const (
	submitScriptName       = "submit_job.sh"
	requirementsScriptName = "requirements.sh"
	submissionOutName      = "submission.out"
	submissionErrName      = "submission.err"

	// requirementsDefault is the sentinel a requirements script prints
	// when the job needs no extra cluster-submit flags.
	requirementsDefault = "DEFAULT"
)

// lsfJobIDPattern matches the cluster's acknowledgement line, e.g.
// "Job <12345> is submitted to default queue <normal>."
var lsfJobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

type submitScriptData struct {
	JobID                        string
	LSFUser                      string
	LSFHost                      string
	RunParamsFile                string
	DockerImageURL               string
	SetDockerRegistryCredentials string
	RunDir                       string
	ResourcesParams              string
}

// dispatch runs the full dispatch sequence of a job chosen for submission.
func (p *Pipeline) dispatch(ctx context.Context, job *jobstore.Job, typeCfg JobType, uploads []Upload) error {
	job.RunDirPath = filepath.Join(p.cfg.JobsRunDir, job.ID)
	job.OutputDirPath = filepath.Join(p.cfg.JobsOutputDir, job.ID)
	for _, dir := range []string{job.RunDirPath, job.OutputDirPath} {
		if err := wipeAndRecreate(dir); err != nil {
			return fmt.Errorf("%w: prepare workspace: %v", ErrSubmissionFailed, err)
		}
	}
	job.LSFHost = p.cfg.LSFHost
	if err := p.reg.Store().UpdateJob(ctx, job); err != nil {
		return err
	}

	inputs, err := persistInputs(job.RunDirPath, uploads)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	for field, path := range inputs {
		err := p.reg.Store().AddInputFile(ctx, jobstore.InputFile{
			JobID:        job.ID,
			FieldKey:     field,
			InternalPath: path,
		})
		if err != nil {
			return err
		}
	}

	runParamsPath, err := p.writeRunParams(job, inputs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	resources, err := p.runRequirementsScript(job, typeCfg, runParamsPath)
	if err != nil {
		return err
	}
	job.RequirementsParams = resources

	scriptPath, err := p.renderSubmitScript(job, runParamsPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if err := p.reg.Store().UpdateJob(ctx, job); err != nil {
		return err
	}

	if !p.cfg.RunJobs {
		p.log.Info("dry-run mode, skipping cluster submission",
			zap.String("job_id", job.ID))
		job.Status = jobstore.StatusQueued
		return p.reg.Store().UpdateJob(ctx, job)
	}

	lsfJobID, err := p.executeSubmitScript(ctx, job, scriptPath)
	if err != nil {
		return err
	}

	job.LSFJobID = lsfJobID
	job.Status = jobstore.StatusQueued
	if err := p.reg.Store().UpdateJob(ctx, job); err != nil {
		return err
	}

	p.log.Info("job dispatched to cluster",
		zap.String("job_id", job.ID),
		zap.Int64("lsf_job_id", lsfJobID),
		zap.String("lsf_host", job.LSFHost))
	return nil
}

// runRequirementsScript executes the job type's optional requirements hook
// with the run-params path as its single argument. Its stdout is either
// the DEFAULT sentinel or the extra cluster-submit flags string.
func (p *Pipeline) runRequirementsScript(job *jobstore.Job, typeCfg JobType, runParamsPath string) (string, error) {
	if strings.TrimSpace(typeCfg.RequirementsScript) == "" {
		return "", nil
	}

	src, err := os.ReadFile(typeCfg.RequirementsScript)
	if err != nil {
		return "", fmt.Errorf("%w: read requirements script: %v", ErrSubmissionFailed, err)
	}
	scriptPath := filepath.Join(job.RunDirPath, requirementsScriptName)
	if err := os.WriteFile(scriptPath, src, 0755); err != nil {
		return "", fmt.Errorf("%w: stage requirements script: %v", ErrSubmissionFailed, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(scriptPath, runParamsPath)
	cmd.Dir = job.RunDirPath
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.log.Error("requirements script failed",
			zap.String("job_id", job.ID),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return "", fmt.Errorf("%w: requirements script: %v", ErrSubmissionFailed, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == requirementsDefault {
		return "", nil
	}
	return out, nil
}

// renderSubmitScript materialises <runDir>/submit_job.sh from the embedded
// template and marks it executable.
func (p *Pipeline) renderSubmitScript(job *jobstore.Job, runParamsPath string) (string, error) {
	tmpl, err := template.New(submitScriptName).Parse(submitScriptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse submit script template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, submitScriptData{
		JobID:                        job.ID,
		LSFUser:                      p.cfg.LSFUser,
		LSFHost:                      p.cfg.LSFHost,
		RunParamsFile:                runParamsPath,
		DockerImageURL:               job.DockerImageURL,
		SetDockerRegistryCredentials: p.cfg.SetDockerRegistryCredentials,
		RunDir:                       job.RunDirPath,
		ResourcesParams:              job.RequirementsParams,
	})
	if err != nil {
		return "", fmt.Errorf("render submit script: %w", err)
	}

	path := filepath.Join(job.RunDirPath, submitScriptName)
	if err := os.WriteFile(path, buf.Bytes(), 0755); err != nil {
		return "", fmt.Errorf("write submit script: %w", err)
	}
	return path, nil
}

// executeSubmitScript runs the rendered script, capturing stdout/stderr to
// submission.out/submission.err beside it, and parses the cluster job id
// from the acknowledgement line.
func (p *Pipeline) executeSubmitScript(ctx context.Context, job *jobstore.Job, scriptPath string) (int64, error) {
	outFile, err := os.Create(filepath.Join(job.RunDirPath, submissionOutName))
	if err != nil {
		return 0, fmt.Errorf("%w: create submission.out: %v", ErrSubmissionFailed, err)
	}
	defer func() { _ = outFile.Close() }()
	errFile, err := os.Create(filepath.Join(job.RunDirPath, submissionErrName))
	if err != nil {
		return 0, fmt.Errorf("%w: create submission.err: %v", ErrSubmissionFailed, err)
	}
	defer func() { _ = errFile.Close() }()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, scriptPath, p.cfg.IDRSAFile)
	cmd.Dir = job.RunDirPath
	cmd.Stdout = io.MultiWriter(outFile, &stdout)
	cmd.Stderr = errFile

	if err := cmd.Run(); err != nil {
		p.log.Error("cluster submission failed",
			zap.String("job_id", job.ID),
			zap.String("script", scriptPath),
			zap.Error(err))
		return 0, fmt.Errorf("%w: submit script: %v", ErrSubmissionFailed, err)
	}

	match := lsfJobIDPattern.FindStringSubmatch(stdout.String())
	if match == nil {
		return 0, fmt.Errorf("%w: no cluster job id in submission output", ErrSubmissionFailed)
	}
	lsfJobID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse cluster job id %q: %v", ErrSubmissionFailed, match[1], err)
	}
	return lsfJobID, nil
}
