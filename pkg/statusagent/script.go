package statusagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"
)

const (
	statusScriptName = "check_status.sh"

	// Sentinels wrapping the remote command's stdout. Everything outside
	// them (ssh banners, motd noise) is discarded.
	sentinelStart  = "START_REMOTE_SSH"
	sentinelFinish = "FINISH_REMOTE_SSH"
)

type statusScriptData struct {
	LSFUser   string
	LSFHost   string
	LSFJobIDs string
}

// bjobsOutput mirrors the cluster's `bjobs -json` response shape.
type bjobsOutput struct {
	Records []bjobsRecord `json:"RECORDS"`
}

type bjobsRecord struct {
	JobID      string `json:"JOBID"`
	Stat       string `json:"STAT"`
	StartTime  string `json:"START_TIME"`
	FinishTime string `json:"FINISH_TIME"`
}

// runStatusScript renders the status script for the given cluster job ids,
// executes it, and parses the sentinel-wrapped JSON from its stdout.
//
// A non-zero exit persists the captured stdout/stderr beside the script
// and surfaces a (non-fatal) error; the loop retries next interval.
func (a *Agent) runStatusScript(ctx context.Context, ids []int64) ([]bjobsRecord, error) {
	if err := os.MkdirAll(a.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("create status agent work dir: %w", err)
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = strconv.FormatInt(id, 10)
	}

	tmpl, err := template.New(statusScriptName).Parse(statusScriptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse status script template: %w", err)
	}
	var rendered bytes.Buffer
	err = tmpl.Execute(&rendered, statusScriptData{
		LSFUser:   a.cfg.LSFUser,
		LSFHost:   a.cfg.LSFHost,
		LSFJobIDs: strings.Join(idStrs, " "),
	})
	if err != nil {
		return nil, fmt.Errorf("render status script: %w", err)
	}

	scriptPath := filepath.Join(a.cfg.WorkDir, statusScriptName)
	if err := os.WriteFile(scriptPath, rendered.Bytes(), 0755); err != nil {
		return nil, fmt.Errorf("write status script: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, scriptPath, a.cfg.IDRSAFile)
	cmd.Dir = a.cfg.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.WriteFile(filepath.Join(a.cfg.WorkDir, "agent.out"), stdout.Bytes(), 0644)
		_ = os.WriteFile(filepath.Join(a.cfg.WorkDir, "agent.err"), stderr.Bytes(), 0644)
		a.log.Warn("status script exited non-zero",
			zap.String("script", scriptPath),
			zap.Error(err))
		return nil, fmt.Errorf("status script: %w", err)
	}

	payload, err := extractSentinelPayload(stdout.String())
	if err != nil {
		return nil, err
	}
	return parseBjobsOutput(payload)
}

// extractSentinelPayload returns the text between the START/FINISH remote
// ssh markers.
func extractSentinelPayload(out string) (string, error) {
	start := strings.Index(out, sentinelStart)
	if start < 0 {
		return "", fmt.Errorf("status output missing %s marker", sentinelStart)
	}
	rest := out[start+len(sentinelStart):]
	finish := strings.Index(rest, sentinelFinish)
	if finish < 0 {
		return "", fmt.Errorf("status output missing %s marker", sentinelFinish)
	}
	return strings.TrimSpace(rest[:finish]), nil
}

func parseBjobsOutput(payload string) ([]bjobsRecord, error) {
	var out bjobsOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("parse bjobs output: %w", err)
	}
	return out.Records, nil
}
