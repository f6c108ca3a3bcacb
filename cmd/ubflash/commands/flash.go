package commands

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/firmware"
	"github.com/ubflash/ubflash/netif"
	"github.com/ubflash/ubflash/plan"
	"github.com/ubflash/ubflash/tftp"
	"github.com/ubflash/ubflash/uboot"
)

func FlashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash <image>",
		Short: "Recover a device by flashing a firmware image through its bootloader",
		Long: "Flash interrupts the device's autoboot, points it at this host, serves the image\n" +
			"over TFTP into device RAM, verifies the transferred bytes with the bootloader's\n" +
			"crc32 command and only then erases and rewrites the flash. The flash is never\n" +
			"touched unless the checksum of the RAM copy matches the image on disk.",
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
			flashBase, err := addrFlag(cmd, "base")
			if err != nil {
				return err
			}
			deadline, err := cmd.Flags().GetDuration("deadline")
			if err != nil {
				return err
			}
			kind, err := cmd.Flags().GetString("kind")
			if err != nil {
				return err
			}
			if kind != "spi" && kind != "nand" {
				return fmt.Errorf("--kind must be spi or nand, not '%s'", kind)
			}
			reset, err := cmd.Flags().GetBool("reset")
			if err != nil {
				return err
			}

			img, err := firmware.Open(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			log := GetLogger(ctx)

			// Resolve reachability before touching the serial line, so an
			// unroutable device address fails fast.
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

			flashKind := uboot.FlashSPI
			if kind == "nand" {
				flashKind = uboot.FlashNAND
			}
			if flashKind == uboot.FlashSPI {
				if err := probeFlash(cmd, session, profile, img); err != nil {
					return err
				}
			}

			p := recoveryPlan(profile, img, deviceIP, host.IP, loadAddr, flashBase, flashKind, deadline, reset)

			orchestrator := plan.NewOrchestrator(session,
				plan.WithDeviceIP(deviceIP),
				plan.WithLogger(log),
				plan.WithTransferFactory(progressFactory(log)),
			)
			if _, err := orchestrator.Execute(ctx, p); err != nil {
				return err
			}

			fmt.Printf("Successfully flashed %s (%d bytes).\n", img.Name(), img.Size())
			return nil
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().StringP("device", "d", "", "IP address the device will use during recovery")
	cmd.Flags().String("load", "0x82000000", "RAM address the image is fetched to")
	cmd.Flags().String("base", "0x0", "flash offset the image is written at")
	cmd.Flags().String("kind", "spi", "flash kind to write (spi or nand)")
	cmd.Flags().Duration("deadline", 2*time.Minute, "how long to wait for the device to fetch the image")
	cmd.Flags().Bool("reset", true, "reset the device after flashing")
	cmd.MarkFlagRequired("device")
	return cmd
}

func addrFlag(cmd *cobra.Command, name string) (uint64, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return 0, err
	}
	addr, err := uboot.ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

// probeFlash checks that the image fits the device's flash chip.
func probeFlash(cmd *cobra.Command, session *uboot.Session, profile uboot.Profile, img *firmware.Image) error {
	resp, err := session.Run(cmd.Context(), profile.Command("sf probe 0", uboot.ShapeFlashInfo).
		WithTimeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("probing flash: %w", err)
	}
	report, ok := resp.(uboot.FlashReport)
	if !ok {
		return fmt.Errorf("flash probe produced %T; pass --kind to skip probing", resp)
	}
	if report.Info.Size > 0 && uint64(img.Size()) > uint64(report.Info.Size) {
		return fmt.Errorf("image is %d bytes but the flash chip only holds %d", img.Size(), report.Info.Size)
	}
	log := GetLogger(cmd.Context())
	log.Info().Stringer("flash", &report.Info).Msg("probed flash chip")
	return nil
}

// stagingSteps builds the shared front of every plan: point the device at
// this host, fetch the image into RAM and verify the transferred bytes.
func stagingSteps(profile uboot.Profile, img *firmware.Image, device, host net.IP, loadAddr uint64, deadline time.Duration) []plan.Step {
	return []plan.Step{
		&plan.CommandStep{
			Command: profile.Command(fmt.Sprintf("setenv ipaddr %s", device), uboot.ShapePrompt),
			Retry:   plan.StepPolicy{Retries: 2, Fatal: true},
		},
		&plan.CommandStep{
			Command: profile.Command(fmt.Sprintf("setenv serverip %s", host), uboot.ShapePrompt),
			Retry:   plan.StepPolicy{Retries: 2, Fatal: true},
		},
		&plan.TransferStep{
			Filename: img.Name(),
			Image:    img,
			Command: profile.Command(fmt.Sprintf("tftpboot 0x%x %s", loadAddr, img.Name()), uboot.ShapeTFTP).
				WithTimeout(deadline + 10*time.Second),
			Deadline: deadline,
			Retry:    plan.StepPolicy{Retries: 3, Backoff: 2 * time.Second, Fatal: true},
		},
		&plan.VerifyStep{
			Command: profile.Command(fmt.Sprintf("crc32 0x%x 0x%x", loadAddr, uint64(img.Size())), uboot.ShapeCRC32).
				WithTimeout(30 * time.Second),
			Image: img,
			Retry: plan.StepPolicy{Retries: 2, Fatal: true},
		},
	}
}

// recoveryPlan builds the canonical recovery sequence: environment setup,
// the TFTP transfer, checksum verification and the flash rewrite.
func recoveryPlan(profile uboot.Profile, img *firmware.Image, device, host net.IP, loadAddr, flashBase uint64, kind uboot.FlashKind, deadline time.Duration, reset bool) plan.Plan {
	size := uint64(img.Size())
	erase, write := flashCommands(kind, loadAddr, flashBase, size)

	steps := append(stagingSteps(profile, img, device, host, loadAddr, deadline),
		&plan.CommandStep{
			Label:   "erase flash",
			Command: profile.Command(erase, uboot.ShapeRaw).WithTimeout(3 * time.Minute),
			Retry:   plan.StepPolicy{Retries: 1, Fatal: true},
		},
		&plan.CommandStep{
			Label:   "write flash",
			Command: profile.Command(write, uboot.ShapeRaw).WithTimeout(3 * time.Minute),
			Retry:   plan.StepPolicy{Retries: 1, Fatal: true},
		},
	)

	if reset {
		// The device reboots without returning to a prompt, so the step
		// cannot be confirmed and must not abort the plan.
		steps = append(steps, &plan.CommandStep{
			Label:   "reset device",
			Command: profile.Command("reset", uboot.ShapeRaw).WithTimeout(2 * time.Second),
			Retry:   plan.StepPolicy{Retries: 1, Fatal: false},
		})
	}

	return plan.Plan{Name: "flash " + img.Name(), Steps: steps}
}

func flashCommands(kind uboot.FlashKind, loadAddr, flashBase, size uint64) (erase, write string) {
	if kind == uboot.FlashNAND {
		return fmt.Sprintf("nand erase 0x%x 0x%x", flashBase, size),
			fmt.Sprintf("nand write 0x%x 0x%x 0x%x", loadAddr, flashBase, size)
	}
	return fmt.Sprintf("sf erase 0x%x +0x%x", flashBase, size),
		fmt.Sprintf("sf write 0x%x 0x%x 0x%x", loadAddr, flashBase, size)
}

// progressFactory arms coordinators whose payload reads drive a progress
// bar on the terminal.
func progressFactory(log zerolog.Logger) plan.TransferFactory {
	return func(filename string, source tftp.Source, deadline time.Duration) plan.Transferrer {
		withBar := func() (io.ReadCloser, int64, error) {
			rc, size, err := source()
			if err != nil {
				return nil, 0, err
			}
			bar := pb.New64(size).Start()
			return &progressReader{r: bar.NewProxyReader(rc), rc: rc, bar: bar}, size, nil
		}
		return tftp.New(filename, withBar, tftp.WithTimeout(deadline), tftp.WithLogger(log))
	}
}

type progressReader struct {
	r   io.Reader
	rc  io.ReadCloser
	bar *pb.ProgressBar
}

func (p *progressReader) Read(buf []byte) (int, error) {
	return p.r.Read(buf)
}

func (p *progressReader) Close() error {
	p.bar.Finish()
	return p.rc.Close()
}
