// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tablecap/tablecap-go/cmd/device"
	"github.com/tablecap/tablecap-go/cmd/realtime"
	"github.com/tablecap/tablecap-go/cmd/storage"
	"github.com/tablecap/tablecap-go/internal/conf"
)

// RootCommand creates the root command with all subcommands attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tablecap",
		Short: "Poker table hand capture and recording automation",
		Long: `TableCap reconciles the deterministic table feed with the AI video
analyzer, detects automation failures, and drives the recording device
so broadcast-worthy hands are captured as clips without operator
intervention.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		realtime.Command(settings),
		device.Command(settings),
		storage.Command(settings),
	)

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "enable debug logging")

	return rootCmd
}
