package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/ubflash/ubflash/uboot"
)

func MonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "monitor",
		Short:        "Print the device's console output",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := cmd.Flags().GetString("port")
			if err != nil {
				return err
			}
			if port, err = CheckPort(port); err != nil {
				return err
			}
			baud, err := cmd.Flags().GetUint("baud")
			if err != nil {
				return err
			}

			fmt.Printf("Starting serial monitor of port '%s' ...\n", port)
			dev, err := serialOpen(port, &serial.Mode{BaudRate: int(baud)})
			if err != nil {
				return err
			}
			defer dev.Close()

			// The framer keeps in-place countdown banners and progress
			// lines readable where a plain line scanner would stall.
			framer := uboot.NewFramer(dev)
			for {
				frag, err := framer.Next()
				if errors.Is(err, uboot.ErrFramingOverflow) {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if frag.Partial {
					fmt.Printf("%s\r", frag.Text)
				} else {
					fmt.Println(frag.Text)
				}
			}
		},
	}

	cmd.Flags().StringP("port", "p", ConfiguredPort(), "port to monitor")
	cmd.Flags().Uint("baud", 115200, "the baud rate for serial monitoring")
	return cmd
}
