package commands

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/firmware"
	"github.com/ubflash/ubflash/netif"
	"github.com/ubflash/ubflash/plan"
)

func VerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Transfer a firmware image to the device and check its checksum",
		Long: "Verify runs the recovery sequence up to the flash rewrite: it serves the image\n" +
			"over TFTP into device RAM and compares the bootloader's crc32 of the RAM copy\n" +
			"against the image on disk. The flash is never touched, so this is a safe dry\n" +
			"run of the serial link, the network path and the image itself.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := getProfile(cmd)
			if err != nil {
				return err
			}

			deviceFlag, err := cmd.Flags().GetString("device")
			if err != nil {
				return err
			}
			deviceIP := net.ParseIP(deviceFlag)
			if deviceIP == nil {
				return fmt.Errorf("'%s' is not a valid device IP address", deviceFlag)
			}

			loadAddr, err := addrFlag(cmd, "load")
			if err != nil {
				return err
			}
			deadline, err := cmd.Flags().GetDuration("deadline")
			if err != nil {
				return err
			}

			img, err := firmware.Open(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			log := GetLogger(ctx)

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

			session, err := openSession(ctx, cmd, profile)
			if err != nil {
				return err
			}
			defer session.Close()

			p := plan.Plan{
				Name:  "verify " + img.Name(),
				Steps: stagingSteps(profile, img, deviceIP, host.IP, loadAddr, deadline),
			}

			orchestrator := plan.NewOrchestrator(session,
				plan.WithDeviceIP(deviceIP),
				plan.WithLogger(log),
				plan.WithTransferFactory(progressFactory(log)),
			)
			if _, err := orchestrator.Execute(ctx, p); err != nil {
				return err
			}

			sum, err := img.CRC32()
			if err != nil {
				return err
			}
			fmt.Printf("Checksum of %s matches on the device: 0x%08x (%d bytes).\n", img.Name(), sum, img.Size())
			return nil
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().StringP("device", "d", "", "IP address the device will use during the transfer")
	cmd.Flags().String("load", "0x82000000", "RAM address the image is fetched to")
	cmd.Flags().Duration("deadline", 2*time.Minute, "how long to wait for the device to fetch the image")
	cmd.MarkFlagRequired("device")
	return cmd
}
