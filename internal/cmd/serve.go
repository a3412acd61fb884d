package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/config"
	"github.com/chembl/delayedjobs/internal/observability"
	"github.com/chembl/delayedjobs/internal/server"
	"github.com/chembl/delayedjobs/internal/server/handlers"
	"github.com/chembl/delayedjobs/pkg/dispatch"
	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/lockcache"
	"github.com/chembl/delayedjobs/pkg/registry"
	"github.com/chembl/delayedjobs/pkg/statusagent"
	"github.com/chembl/delayedjobs/pkg/token"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the status agent",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}
	log := observability.ServerLogger

	store, err := jobstore.Open(ctx, cfg.Database.URI)
	if err != nil {
		log.Error("failed to open job store", zap.Error(err))
		return err
	}
	defer func() { _ = store.Close() }()

	reg := registry.New(store, log)
	signer := token.NewSigner(cfg.ServerSecretKey)

	cache, err := buildLockCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	locker := lockcache.NewLocker(cache)

	pipe := dispatch.NewPipeline(dispatchConfig(cfg), reg, signer, log)

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("job_store", handlers.CheckerFunc(store.Ping))

	h := handlers.New(handlers.Config{
		APIInitialURL:     config.JoinURL(cfg.ServerPublicHost, cfg.BasePath),
		JobsTmpDir:        cfg.JobsTmpDir,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: cfg.AdminPasswordHash,
		StatisticsURL:     cfg.Statistics.URL,
		StatisticsTimeout: time.Duration(cfg.Statistics.TimeoutSeconds) * time.Second,
	}, reg, pipe, signer, log)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, cfg.BasePath, h, health, signer,
		server.RateLimits{
			AdminLogin:     cfg.RateLimit.AdminLogin,
			JobSubmission:  cfg.RateLimit.JobSubmission,
			ProgressUpdate: cfg.RateLimit.ProgressUpdate,
		}, log)

	agentCtx, stopAgent := context.WithCancel(ctx)
	defer stopAgent()
	agentDone := make(chan struct{})
	if cfg.RunStatusScript {
		agent := statusagent.New(statusagent.Config{
			LSFUser:           cfg.LSF.User,
			LSFHost:           cfg.LSF.Host,
			IDRSAFile:         cfg.LSF.IDRSAFile,
			WorkDir:           filepath.Join(cfg.JobsTmpDir, "status_agent"),
			OutputsPublicBase: config.JoinURL(cfg.ServerPublicHost, cfg.BasePath, cfg.OutputsBasePath),
			IgnoreGlobs:       cfg.Outputs.IgnoreGlobs,
			LockValidity:      cfg.StatusAgent.LockValidity(),
			SleepTime:         cfg.StatusAgent.SleepTime(),
		}, reg, locker, log)
		go func() {
			defer close(agentDone)
			_ = agent.Run(agentCtx)
		}()
	} else {
		close(agentDone)
		log.Info("status agent disabled by configuration")
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		stopAgent()
		<-agentDone
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	stopAgent()
	<-agentDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}

// buildLockCache selects redis when configured, the in-process cache
// otherwise. Single-replica deployments do not need redis.
func buildLockCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (lockcache.Cache, error) {
	if cfg.LockCache.RedisAddr == "" {
		log.Info("using in-process lock cache")
		return lockcache.NewMemory(), nil
	}
	cache, err := lockcache.NewRedis(ctx, lockcache.RedisConfig{
		Addr:     cfg.LockCache.RedisAddr,
		Password: cfg.LockCache.RedisPassword,
		DB:       cfg.LockCache.RedisDB,
	})
	if err != nil {
		log.Error("failed to connect lock cache", zap.Error(err))
		return nil, err
	}
	log.Info("using redis lock cache", zap.String("addr", cfg.LockCache.RedisAddr))
	return cache, nil
}

// dispatchConfig projects the run configuration onto the pipeline's slice.
func dispatchConfig(cfg *config.Config) dispatch.Config {
	jobTypes := make(map[string]dispatch.JobType, len(cfg.JobTypes))
	for name, jt := range cfg.JobTypes {
		jobTypes[name] = dispatch.JobType{
			DockerImageURL:     jt.DockerImageURL,
			RequirementsScript: jt.RequirementsScript,
		}
	}
	return dispatch.Config{
		JobsRunDir:                   cfg.JobsRunDir,
		JobsOutputDir:                cfg.JobsOutputDir,
		LSFUser:                      cfg.LSF.User,
		LSFHost:                      cfg.LSF.Host,
		IDRSAFile:                    cfg.LSF.IDRSAFile,
		RunJobs:                      cfg.RunJobs,
		StatusUpdateBase:             config.JoinURL(cfg.StatusUpdateHost, cfg.BasePath, "status"),
		SetDockerRegistryCredentials: cfg.SetDockerRegistryCredentials,
		JobTypes:                     jobTypes,
	}
}
