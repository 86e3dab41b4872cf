// Package storage implements commands for inspecting and cleaning the
// recorded clip directory.
package storage

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/recording"
)

// Command creates the storage command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and clean up recorded clips",
	}

	storageCmd.AddCommand(
		listCommand(settings),
		statsCommand(settings),
		cleanupCommand(settings),
	)
	return storageCmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded clips",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := recording.NewStorage(settings.Recording.OutputPath, settings.Recording.Format)
			if err != nil {
				return err
			}
			clips, err := store.List()
			if err != nil {
				return err
			}
			for _, clip := range clips {
				fmt.Printf("%s\t%d bytes\t%s\n", clip.Name, clip.Size, clip.ModTime.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("%d clips\n", len(clips))
			return nil
		},
	}
}

func statsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show clip directory statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := recording.NewStorage(settings.Recording.OutputPath, settings.Recording.Format)
			if err != nil {
				return err
			}
			stats, err := store.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("clips: %d\ntotal size: %d bytes\n", stats.ClipCount, stats.TotalBytes)
			if !stats.OldestClip.IsZero() {
				fmt.Printf("oldest clip: %s\n", stats.OldestClip.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func cleanupCommand(settings *conf.Settings) *cobra.Command {
	var days int
	var dryRun bool

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove clips older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				days = settings.Recording.RetentionDays
			}
			store, err := recording.NewStorage(settings.Recording.OutputPath, settings.Recording.Format)
			if err != nil {
				return err
			}
			removed, err := store.Cleanup(days, dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("would remove %d clips older than %d days\n", removed, days)
			} else {
				fmt.Printf("removed %d clips older than %d days\n", removed, days)
			}
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&days, "days", 0, "retention period in days (default from config)")
	cleanupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	return cleanupCmd
}
