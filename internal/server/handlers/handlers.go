// Package handlers implements the HTTP operations: job submission, status
// and progress, input download, admin maintenance, and statistics relay.
package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/dispatch"
	"github.com/chembl/delayedjobs/pkg/registry"
	"github.com/chembl/delayedjobs/pkg/token"
)

// Config is the slice of run configuration the handlers need.
type Config struct {
	// APIInitialURL is the public prefix of this API
	// (server_public_host + base_path), echoed in job dicts and used to
	// build input download URLs.
	APIInitialURL string

	// JobsTmpDir receives spooled multipart uploads before dispatch moves
	// them into the job workspace.
	JobsTmpDir string

	AdminUsername     string
	AdminPasswordHash string

	// StatisticsURL receives fire-and-forget job statistics POSTs. Empty
	// disables forwarding.
	StatisticsURL     string
	StatisticsTimeout time.Duration
}

// Handlers carries the dependencies shared by all HTTP operations.
type Handlers struct {
	cfg    Config
	reg    *registry.Registry
	pipe   *dispatch.Pipeline
	signer *token.Signer
	log    *zap.Logger

	statsClient *http.Client
}

func New(cfg Config, reg *registry.Registry, pipe *dispatch.Pipeline, signer *token.Signer, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.StatisticsTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{
		cfg:         cfg,
		reg:         reg,
		pipe:        pipe,
		signer:      signer,
		log:         log,
		statsClient: &http.Client{Timeout: timeout},
	}
}
