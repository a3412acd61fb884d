package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/observability"
	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/registry"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired jobs and their directories, then exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}
	log := observability.CLILogger

	store, err := jobstore.Open(ctx, cfg.Database.URI)
	if err != nil {
		log.Error("failed to open job store", zap.Error(err))
		return err
	}
	defer func() { _ = store.Close() }()

	count, err := registry.New(store, log).DeleteAllExpired(ctx)
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return err
	}

	fmt.Printf("deleted %d expired jobs\n", count)
	return nil
}
