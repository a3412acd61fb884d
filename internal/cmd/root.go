// Package cmd wires the cobra command tree: serve, sweep, version.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chembl/delayedjobs/internal/config"
	"github.com/chembl/delayedjobs/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "delayedjobs",
	Short: "Delayed-job orchestrator for a remote batch cluster",
	Long: `delayedjobs accepts long-running computation requests, deduplicates
them by content-addressed identity, dispatches them to a remote batch
cluster over ssh, tracks their lifecycle, and serves progress and results
until expiry.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo receives the ldflags-injected build identity from main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Path to config file (default $CONFIG_FILE_PATH, then ./config.yml)")
}

// Execute runs the command tree with a signal-cancelled context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfigAndLogging is the shared startup step of every command that
// touches the system.
func loadConfigAndLogging() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := observability.Init(cfg.Logging.Level, cfg.RunEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}
