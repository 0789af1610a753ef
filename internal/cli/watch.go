package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chromefleet/internal/app"
	"chromefleet/internal/launcher"
	"chromefleet/internal/storage"
	"chromefleet/internal/storage/models"
	"chromefleet/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"tui"},
	Short:   "Open the live fleet status board",
	Long: `Open the full-screen status board. Background jobs (lock reconcile,
pool refresh) run while the board is open. Browsers launched from the
board keep running after it closes; their relays do not.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sched, err := appInstance.Scheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()

		p := tui.NewProgram(&boardBackend{app: appInstance})
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

// boardBackend adapts the application context to the status board.
type boardBackend struct {
	app *app.App
}

func (b *boardBackend) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return b.app.Storage.GetAllProfiles(ctx, storage.ProfileFilter{})
}

func (b *boardBackend) ListProxies(ctx context.Context) ([]tui.ProxyRow, error) {
	catalog, err := b.app.Pool.ReadCatalog()
	if err != nil {
		return nil, err
	}
	rows := make([]tui.ProxyRow, len(catalog))
	for i, ep := range catalog {
		rows[i] = tui.ProxyRow{Endpoint: ep}
		if outcome, ok := b.app.Pool.Cached(ep); ok {
			rows[i].Outcome = &outcome
		}
	}
	return rows, nil
}

func (b *boardBackend) LaunchProfile(ctx context.Context, profileID string) (*launcher.Result, error) {
	return b.app.LaunchProfile(ctx, profileID, app.LaunchOptions{})
}

func (b *boardBackend) ReleaseLock(ctx context.Context, profileID string) (bool, error) {
	p, err := b.app.Storage.GetProfile(ctx, profileID)
	if err != nil {
		return false, err
	}
	return releaseLock(ctx, p)
}

func (b *boardBackend) RefreshStatuses(ctx context.Context) (int, error) {
	return b.app.RefreshStatuses(ctx)
}

func (b *boardBackend) ActiveRelays() []string {
	return b.app.Relays.Active()
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
