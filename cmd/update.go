package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chalmers-revere/cloudrec/internal/logging"
	"github.com/chalmers-revere/cloudrec/internal/updater"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var (
		repository string
		prerelease bool
		check      bool
		rollback   bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the cloudrec binary from GitHub releases",
		Long: `Checks the GitHub releases of the configured repository for a newer
version and replaces the running binary in place. The previous binary is
kept as a backup and can be restored with --rollback.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("updater")

			svc, err := updater.NewService(&updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				logger.Error("Failed to create updater", "error", err)
				os.Exit(1)
			}
			if !svc.IsEnabled() {
				logger.Error("Updates are disabled", "reason", svc.DisabledReason())
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if rollback {
				if err := svc.Rollback(ctx); err != nil {
					logger.Error("Rollback failed", "error", err)
					os.Exit(1)
				}
				fmt.Println("Restored the previous binary from backup")
				return
			}

			info, err := svc.CheckForUpdate(ctx)
			if err != nil {
				logger.Error("Update check failed", "error", err)
				os.Exit(1)
			}
			if !info.UpdateAvailable {
				fmt.Printf("cloudrec %s is up to date\n", info.CurrentVersion)
				return
			}
			fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
			fmt.Printf("  published: %s\n", info.PublishedAt.Format(time.RFC3339))
			fmt.Printf("  release:   %s\n", info.ReleaseURL)
			if check {
				return
			}

			if err := svc.ApplyUpdate(ctx); err != nil {
				logger.Error("Update failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("Updated to %s, restart the recorder to pick it up\n", info.LatestVersion)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "chalmers-revere/cloudrec", "GitHub repository slug to update from")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prerelease versions")
	cmd.Flags().BoolVar(&check, "check", false, "Only check for an update, do not apply it")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the previous binary from backup")
	return cmd
}
