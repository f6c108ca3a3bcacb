package commands

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/firmware"
	"github.com/ubflash/ubflash/netif"
	"github.com/ubflash/ubflash/tftp"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <image>",
		Short: "Serve a firmware image over TFTP for one transfer",
		Long: "Serve runs the TFTP side of a recovery on its own, for devices being driven by\n" +
			"hand over a terminal. The image is served once under its bare filename; requests\n" +
			"for any other file are refused.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceFlag, err := cmd.Flags().GetString("device")
			if err != nil {
				return err
			}
			deadline, err := cmd.Flags().GetDuration("deadline")
			if err != nil {
				return err
			}
			port, err := cmd.Flags().GetInt("tftp-port")
			if err != nil {
				return err
			}

			img, err := firmware.Open(args[0])
			if err != nil {
				return err
			}

			deviceIP := net.ParseIP(deviceFlag)
			if deviceIP == nil {
				return fmt.Errorf("'%s' is not a valid device IP address", deviceFlag)
			}
			candidates, err := netif.Interfaces()
			if err != nil {
				return err
			}
			host, err := netif.Select(candidates, deviceIP)
			if err != nil {
				return err
			}
			if err := netif.ValidateDeviceIP(deviceIP, host); err != nil {
				return err
			}

			log := GetLogger(cmd.Context())
			coordinator := tftp.New(img.Name(), func() (io.ReadCloser, int64, error) {
				rc, err := img.Reader()
				if err != nil {
					return nil, 0, err
				}
				return rc, img.Size(), nil
			}, tftp.WithTimeout(deadline), tftp.WithLogger(log))

			addr := fmt.Sprintf("%s:%d", host.IP, port)
			fmt.Printf("Serving %s on %s, run on the device:\n", img.Name(), addr)
			fmt.Printf("  setenv ipaddr %s; setenv serverip %s\n", deviceIP, host.IP)
			fmt.Printf("  tftpboot 0x82000000 %s\n", img.Name())

			result, err := coordinator.Serve(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Printf("Transfer complete, served %d bytes.\n", result.Bytes)
			return nil
		},
	}

	cmd.Flags().StringP("device", "d", "", "IP address the device will use")
	cmd.Flags().Duration("deadline", 10*time.Minute, "how long to wait for the transfer")
	cmd.Flags().Int("tftp-port", 69, "UDP port to serve TFTP on")
	cmd.MarkFlagRequired("device")
	return cmd
}
