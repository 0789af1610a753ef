package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chromefleet/internal/storage/models"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and release launch locks",
}

var lockStatusCmd = &cobra.Command{
	Use:               "status <profile>",
	Short:             "Show the lock of a profile",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(context.Background(), args[0])
		if err != nil {
			return err
		}

		lk := appInstance.Locks.ForDir(appInstance.Launcher.ProfileDir(p.ID))
		field("Lock file", lk.Path())
		if _, err := os.Stat(lk.Path()); os.IsNotExist(err) {
			field("State", dimStyle.Render("free"))
			return nil
		}

		rec, held := lk.Held()
		if rec.PID > 0 {
			field("PID", rec.PID)
		}
		if rec.Timestamp > 0 {
			sec := int64(rec.Timestamp)
			field("Since", time.Unix(sec, 0).Local().Format("2006-01-02 15:04:05"))
		}
		if held {
			field("State", okStyle.Render("held by a live browser"))
		} else {
			field("State", warnStyle.Render("stale (release with: chromefleet lock release)"))
		}
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:               "release <profile>",
	Short:             "Remove a stale lock",
	Long:              "Remove the lock of a profile whose browser is no longer running. Live locks are never removed.",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := resolveProfile(ctx, args[0])
		if err != nil {
			return err
		}

		released, err := releaseLock(ctx, p)
		if err != nil {
			return err
		}
		if released {
			fmt.Printf("Released stale lock of %s\n", p.Name)
		} else {
			fmt.Printf("%s holds no stale lock\n", p.Name)
		}
		return nil
	},
}

// releaseLock removes a dead browser's lock and launch artifacts and resets
// the profile status.
// It reports false when there was nothing to release or the browser is
// still alive.
func releaseLock(ctx context.Context, p *models.Profile) (bool, error) {
	lk := appInstance.Locks.ForDir(appInstance.Launcher.ProfileDir(p.ID))
	if _, held := lk.Held(); held {
		return false, nil
	}
	released, err := lk.ReleaseIfDead()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	if _, err := appInstance.Launcher.ReclaimArtifacts(p.ID); err != nil {
		return released, fmt.Errorf("failed to remove launch artifacts: %w", err)
	}
	if released || p.Status == models.StatusRunning {
		if err := appInstance.Storage.SetProfileStatus(ctx, p.ID, models.StatusOffline); err != nil {
			return released, err
		}
	}
	return released, nil
}

func init() {
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd)
	rootCmd.AddCommand(lockCmd)
}
