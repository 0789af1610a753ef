package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromefleet/internal/logger"
)

// daemonCmd runs the background jobs without a UI, for hosts where the
// fleet is launched by other tooling.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background jobs until interrupted",
	Long:  "Reconcile launch locks and refresh the proxy pool on a schedule until SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		sched, err := appInstance.Scheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		log := logger.WithComponent("daemon")
		log.Info().Strs("sources", appInstance.Sources.Sources()).
			Dur("pool_interval", appInstance.Config.Sources.RefreshInterval).
			Msg("daemon started")

		<-ctx.Done()
		log.Info().Msg("shutting down")
		return sched.Stop()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
