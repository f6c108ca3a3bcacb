package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func LoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Stop autoboot and leave the device at its bootloader prompt",
		Long: "Login waits for the device's autoboot countdown, interrupts it and verifies the\n" +
			"bootloader prompt is reachable. Power-cycle the device after starting the command.\n" +
			"Use --resume to probe a device that is already sitting at its prompt.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := getProfile(cmd)
			if err != nil {
				return err
			}

			session, err := openSession(cmd.Context(), cmd, profile)
			if err != nil {
				return err
			}
			defer session.Close()

			fmt.Printf("Device is at its bootloader prompt (profile '%s').\n", profile.Name)
			return nil
		},
	}

	addSessionFlags(cmd)
	return cmd
}
