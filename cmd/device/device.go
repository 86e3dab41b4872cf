// Package device implements one-shot commands against the recording
// device HTTP API, for rigging checks before a session.
package device

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/vmix"
)

// Command creates the device command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Control and inspect the recording device",
	}

	deviceCmd.AddCommand(
		stateCommand(settings),
		recordCommand(settings),
		clipCommand(settings),
		replayCommand(settings),
	)
	return deviceCmd
}

func stateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the device recording and streaming state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := vmix.NewClient(settings.Device, nil)
			state, err := client.State(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("recording: %v", state.Recording)
			if state.Recording {
				fmt.Printf(" (%s)", state.RecordingDuration)
			}
			fmt.Printf("\nstreaming: %v\n", state.Streaming)
			for _, input := range state.Inputs {
				fmt.Printf("input %d: %s [%s]\n", input.Number, input.Title, input.State)
			}
			return nil
		},
	}
}

func recordCommand(settings *conf.Settings) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Start or stop the device's main recording",
	}

	recordCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the main recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return vmix.NewClient(settings.Device, nil).StartRecording(cmd.Context())
		},
	})
	recordCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the main recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return vmix.NewClient(settings.Device, nil).StopRecording(cmd.Context())
		},
	})
	recordCmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Toggle the main recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return vmix.NewClient(settings.Device, nil).ToggleRecording(cmd.Context())
		},
	})
	return recordCmd
}

func clipCommand(settings *conf.Settings) *cobra.Command {
	var seconds int

	clipCmd := &cobra.Command{
		Use:   "clip",
		Short: "Capture the trailing seconds of the live replay buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := vmix.NewClient(settings.Device, nil)
			controller := vmix.NewReplayController(settings.Device, client)
			if err := controller.MarkInOutLive(cmd.Context(), seconds); err != nil {
				return err
			}
			fmt.Printf("captured last %d seconds\n", seconds)
			return nil
		},
	}
	clipCmd.Flags().IntVarP(&seconds, "seconds", "s", 30, "seconds of buffer to capture")
	return clipCmd
}

func replayCommand(settings *conf.Settings) *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Control replay event playback",
	}

	replayCmd.AddCommand(&cobra.Command{
		Use:   "play",
		Short: "Play the last captured replay event",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := vmix.NewClient(settings.Device, nil)
			return vmix.NewReplayController(settings.Device, client).PlayLastEvent(cmd.Context())
		},
	})
	replayCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop replay event playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := vmix.NewClient(settings.Device, nil)
			return vmix.NewReplayController(settings.Device, client).StopEvents(cmd.Context())
		},
	})
	return replayCmd
}
